package media

import (
	"fmt"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera" // registers the camera driver
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

const deviceBitRate = 500_000

// DeviceCapturer captures a live camera feed through pion/mediadevices,
// for hosts where the shared video is a device rather than a file.
type DeviceCapturer struct {
	Width  int // 0 leaves the driver's default
	Height int
}

// Capture acquires the device and returns its encoded tracks. Hosts without
// a usable camera or VP8 encoder surface as ErrCaptureUnsupported.
func (d *DeviceCapturer) Capture() (*Stream, error) {
	vp8Params, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureUnsupported, err)
	}
	vp8Params.BitRate = deviceBitRate

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vp8Params),
	)

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			if d.Width > 0 {
				c.Width = prop.Int(d.Width)
			}
			if d.Height > 0 {
				c.Height = prop.Int(d.Height)
			}
		},
		Codec: selector,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCaptureUnsupported, err)
	}

	deviceTracks := stream.GetTracks()
	tracks := make([]webrtc.TrackLocal, 0, len(deviceTracks))
	for _, t := range deviceTracks {
		tracks = append(tracks, t)
	}
	if len(tracks) == 0 {
		return nil, ErrNoTracks
	}

	return NewStream(tracks, func() {
		for _, t := range deviceTracks {
			_ = t.Close()
		}
	}), nil
}
