// Package portaudio drives a patchbay server from the default portaudio
// duplex stream. Physical capture and playback ports of the server map to
// the channels of the default input and output devices.
package portaudio

import (
	"fmt"

	"github.com/gordonklaus/portaudio"

	"github.com/dudk/fxchain/audio/patchbay"
)

// Driver represents portaudio stream which runs a patchbay server.
type Driver struct {
	server *patchbay.Server
	stream *portaudio.Stream
}

// Start initializes portaudio api, opens default stream with as many
// channels as the server has physical ports and starts it. Portaudio calls
// the server once per block on its own real-time thread.
func Start(s *patchbay.Server) (*Driver, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio initialize: %w", err)
	}
	d := &Driver{server: s}
	stream, err := portaudio.OpenDefaultStream(
		s.NumCapture(),
		s.NumPlayback(),
		float64(s.SampleRate()),
		int(s.BufferSize()),
		d.process,
	)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio open stream: %w", err)
	}
	if err = stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio start stream: %w", err)
	}
	d.stream = stream
	return d, nil
}

// process is portaudio callback with non-interleaved buffers.
func (d *Driver) process(in, out [][]float32) {
	d.server.Cycle(in, out)
}

// Close stops the stream and terminates portaudio structures.
func (d *Driver) Close() error {
	err := d.stream.Stop()
	if err != nil {
		return err
	}
	err = d.stream.Close()
	if err != nil {
		return err
	}
	return portaudio.Terminate()
}
