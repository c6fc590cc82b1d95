package role

import (
	"os"
	"sync/atomic"
)

// ReloadMarker persists the "already loaded once" flag a responder context
// uses to tell a first mount from a reload.
type ReloadMarker interface {
	SeenBefore() bool
	MarkSeen()
}

// MemoryMarker is a process-local ReloadMarker. A fresh process always
// counts as a first load.
type MemoryMarker struct {
	seen atomic.Bool
}

func (m *MemoryMarker) SeenBefore() bool { return m.seen.Load() }
func (m *MemoryMarker) MarkSeen()        { m.seen.Store(true) }

// FileMarker persists the flag as a marker file, surviving the responder
// process itself, the closest a CLI context gets to session storage.
type FileMarker struct {
	Path string
}

func (m *FileMarker) SeenBefore() bool {
	_, err := os.Stat(m.Path)
	return err == nil
}

func (m *FileMarker) MarkSeen() {
	_ = os.WriteFile(m.Path, []byte{}, 0o644)
}
