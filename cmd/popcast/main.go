// Popcast CLI entry point.
//
// Demonstrates the full hand-off: a primary context playing a local IVF file
// opens a secondary context and streams the video to it over a peer
// connection, keeping play/pause mirrored between the two ends. By default
// both contexts run in this process over the loopback channel; with -role
// the contexts run in separate processes bridged by a WebSocket hub.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pterm/pterm"

	"github.com/popcast/popcast/internal/config"
	"github.com/popcast/popcast/internal/media"
	"github.com/popcast/popcast/internal/msgchan"
	"github.com/popcast/popcast/internal/role"
	"github.com/popcast/popcast/internal/status"
	"github.com/popcast/popcast/internal/window"
)

var version = "dev"

func main() {
	// Root context, cancelled on Ctrl+C.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	roleFlag := flag.String("role", "", "Run mode: empty (loopback demo), hub, initiator, or responder")
	configPath := flag.String("config", "", "Path to YAML config file")
	mediaFile := flag.String("media", "", "IVF file to play and share (overrides config)")
	hubAddr := flag.String("hubAddr", ":0", "Listen address for -role hub")
	id := flag.String("id", "", "Channel identity for hub modes")
	peer := flag.String("peer", "", "Counterpart channel identity for hub modes")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		status.EnableDebug()
	}

	pterm.Info.Println(fmt.Sprintf("Popcast v%s", version))
	pterm.Println()

	cfg, err := config.Load(*configPath)
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
	if *mediaFile != "" {
		cfg.Media.File = *mediaFile
	}

	rep := status.Log{}
	roleCfg := role.Config{
		SecondaryURL: "popcast://secondary",
		FallbackURL:  cfg.Media.FallbackURL,
		STUNServers:  cfg.Session.STUNServers,
		GraceWindow:  cfg.Session.GraceWindow,
		PollInterval: cfg.Session.PollInterval,
	}

	switch *roleFlag {
	case "":
		runLoopbackDemo(ctx, cfg, roleCfg, rep)
	case "hub":
		runHub(ctx, *hubAddr)
	case "responder":
		runHubResponder(ctx, cfg, roleCfg, rep, *id, *peer)
	case "initiator":
		runHubInitiator(ctx, cfg, roleCfg, rep, *id, *peer)
	default:
		pterm.Error.Println("invalid -role: must be empty, 'hub', 'initiator', or 'responder'")
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Loopback demo (both contexts in one process)
// ---------------------------------------------------------------------------

func runLoopbackDemo(ctx context.Context, cfg *config.Config, roleCfg role.Config, rep status.Reporter) {
	if cfg.Media.File == "" && !cfg.Media.Device {
		pterm.Error.Println("no media source: set -media or media.file/media.device in the config")
		os.Exit(1)
	}

	var capt media.Capturer
	var player media.Player
	if cfg.Media.Device {
		capt = &media.DeviceCapturer{}
		player = media.NewLogSink(rep)
	} else {
		src := media.NewFileSource(cfg.Media.File)
		capt, player = src, src
	}

	bus := msgchan.NewLoopbackBus()
	primaryID := uuid.NewString()
	adapter := msgchan.New(bus.Join(primaryID))

	opener := &loopbackOpener{bus: bus, primaryID: primaryID, rep: rep, cfg: roleCfg}
	initiator := role.NewInitiator(adapter, opener, capt, player, rep, roleCfg)

	if err := initiator.BeginSession(); err != nil {
		os.Exit(1)
	}
	defer initiator.CloseSession()

	for ctx.Err() == nil {
		choice, _ := pterm.DefaultInteractiveSelect.
			WithOptions([]string{
				"Toggle play/pause",
				"Reopen secondary context",
				"Close session",
				"Quit",
			}).
			WithDefaultText(fmt.Sprintf("Session open: %v | playback %s", initiator.SessionOpen(), initiator.Playback())).
			Show()

		switch {
		case strings.HasPrefix(choice, "Toggle"):
			if err := initiator.TogglePlayback(); err != nil {
				pterm.Error.Println(err)
			}
		case strings.HasPrefix(choice, "Reopen"):
			if err := initiator.BeginSession(); err != nil {
				pterm.Error.Println(err)
			}
		case strings.HasPrefix(choice, "Close"):
			if err := initiator.CloseSession(); err != nil {
				pterm.Error.Println(err)
			}
		default:
			return
		}
	}
}

// loopbackOpener spawns the secondary context inside this process: a
// Responder on its own bus endpoint, playing into a headless sink.
type loopbackOpener struct {
	bus       *msgchan.LoopbackBus
	primaryID string
	rep       status.Reporter
	cfg       role.Config
}

func (o *loopbackOpener) Open(url string) (window.Handle, error) {
	id := uuid.NewString()
	adapter := msgchan.New(o.bus.Join(id))
	adapter.SetPeer(o.primaryID)

	sink := media.NewLogSink(o.rep)
	responder := role.NewResponder(adapter, sink, &role.MemoryMarker{}, o.rep, o.cfg)
	responder.OnFallback(func(u string) {
		status.Reportf(o.rep, false, "secondary context loading %s directly", u)
	})

	w := &spawnedWindow{id: id, responder: responder, adapter: adapter, sink: sink}
	if err := responder.Mount(); err != nil {
		return nil, err
	}
	return w, nil
}

// spawnedWindow is the in-process stand-in for a secondary browsing context.
type spawnedWindow struct {
	id        string
	responder *role.Responder
	adapter   *msgchan.Adapter
	sink      *media.LogSink
	closed    atomic.Bool
}

func (w *spawnedWindow) ID() string   { return w.id }
func (w *spawnedWindow) Focus()       {}
func (w *spawnedWindow) Closed() bool { return w.closed.Load() }

func (w *spawnedWindow) Close() error {
	if w.closed.CompareAndSwap(false, true) {
		w.responder.Unload(false)
		pterm.Info.Println(fmt.Sprintf("secondary context received %d bytes of media", w.sink.ReceivedBytes()))
		return w.adapter.Close()
	}
	return nil
}

// ---------------------------------------------------------------------------
// Hub modes (contexts in separate processes)
// ---------------------------------------------------------------------------

func runHub(ctx context.Context, addr string) {
	hub := msgchan.NewHub()
	port, err := hub.Start(addr)
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
	defer hub.Close()

	pterm.Info.Println(fmt.Sprintf("channel hub listening on port %d (path /ws)", port))
	<-ctx.Done()
}

func runHubResponder(ctx context.Context, cfg *config.Config, roleCfg role.Config, rep status.Reporter, id, peer string) {
	if cfg.Channel.HubURL == "" || id == "" || peer == "" {
		pterm.Error.Println("responder mode needs channel.hub_url, -id and -peer")
		os.Exit(1)
	}

	ep, err := msgchan.DialHub(ctx, cfg.Channel.HubURL, id)
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
	adapter := msgchan.New(ep)
	adapter.SetPeer(peer)

	sink := media.NewLogSink(rep)
	marker := &role.FileMarker{Path: os.TempDir() + "/popcast-responder-" + id}
	responder := role.NewResponder(adapter, sink, marker, rep, roleCfg)
	responder.OnFallback(func(u string) {
		status.Reportf(rep, false, "loading %s directly", u)
	})

	if err := responder.Mount(); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}

	<-ctx.Done()
	responder.Unload(false)
}

func runHubInitiator(ctx context.Context, cfg *config.Config, roleCfg role.Config, rep status.Reporter, id, peer string) {
	if cfg.Channel.HubURL == "" || id == "" || peer == "" {
		pterm.Error.Println("initiator mode needs channel.hub_url, -id and -peer")
		os.Exit(1)
	}
	if cfg.Media.File == "" {
		pterm.Error.Println("no media source: set -media or media.file in the config")
		os.Exit(1)
	}

	ep, err := msgchan.DialHub(ctx, cfg.Channel.HubURL, id)
	if err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
	adapter := msgchan.New(ep)

	src := media.NewFileSource(cfg.Media.File)
	// The responder process is started by the operator; the opener only
	// models the already-open remote context.
	opener := &remoteOpener{peerID: peer}
	initiator := role.NewInitiator(adapter, opener, src, src, rep, roleCfg)

	if err := initiator.BeginSession(); err != nil {
		os.Exit(1)
	}

	<-ctx.Done()
	initiator.CloseSession()
}

// remoteOpener stands in for a platform that cannot spawn contexts itself:
// the remote responder process is assumed running, and liveness is observed
// only through its closed signal.
type remoteOpener struct {
	peerID string
}

func (o *remoteOpener) Open(url string) (window.Handle, error) {
	return &remoteWindow{id: o.peerID}, nil
}

type remoteWindow struct {
	id     string
	closed atomic.Bool
}

func (w *remoteWindow) ID() string   { return w.id }
func (w *remoteWindow) Focus()       {}
func (w *remoteWindow) Closed() bool { return w.closed.Load() }
func (w *remoteWindow) Close() error { w.closed.Store(true); return nil }
