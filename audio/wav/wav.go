// Package wav drives a patchbay server offline: wav file channels feed the
// physical capture ports block by block and the physical playback ports are
// encoded into another wav file.
package wav

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/dudk/fxchain/audio/patchbay"
)

var (
	// ErrInvalidFile is returned when input is not a valid wav file.
	ErrInvalidFile = errors.New("wav is not valid")
	// ErrUnsupportedBitDepth is returned when unsupported bit depth is used.
	ErrUnsupportedBitDepth = errors.New("only 16, 24 and 32 bit depth is supported")
	// ErrSampleRate is returned when file and server sample rates differ.
	ErrSampleRate = errors.New("sample rate mismatch")
)

// Render decodes in, cycles the server once per block and encodes the
// playback channels to out with the bit depth of the input. Missing
// capture channels are silent, extra input channels are dropped. The last
// incomplete block is padded with silence and trimmed in the output. It
// returns the number of rendered frames.
func Render(s *patchbay.Server, in io.ReadSeeker, out io.WriteSeeker) (int, error) {
	decoder := wav.NewDecoder(in)
	if !decoder.IsValidFile() {
		return 0, ErrInvalidFile
	}
	if decoder.SampleRate != s.SampleRate() {
		return 0, fmt.Errorf("%w: file %d server %d", ErrSampleRate, decoder.SampleRate, s.SampleRate())
	}
	bitDepth := int(decoder.BitDepth)
	scale, err := fullScale(bitDepth)
	if err != nil {
		return 0, err
	}

	var (
		bufferSize  = int(s.BufferSize())
		format      = decoder.Format()
		numChannels = format.NumChannels
		numPlayback = s.NumPlayback()
		capture     = channels(s.NumCapture(), bufferSize)
		playback    = channels(numPlayback, bufferSize)
		ib          = &audio.IntBuffer{
			Format:         format,
			Data:           make([]int, bufferSize*numChannels),
			SourceBitDepth: bitDepth,
		}
		ob = &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: numPlayback,
				SampleRate:  format.SampleRate,
			},
			Data:           make([]int, bufferSize*numPlayback),
			SourceBitDepth: bitDepth,
		}
	)
	encoder := wav.NewEncoder(out, format.SampleRate, bitDepth, numPlayback, int(decoder.WavAudioFormat))

	rendered := 0
	for {
		n, err := decoder.PCMBuffer(ib)
		if err != nil && err != io.EOF {
			return rendered, fmt.Errorf("decode wav: %w", err)
		}
		if n == 0 {
			break
		}
		frames := n / numChannels
		for c := range capture {
			for i := range capture[c] {
				if c < numChannels && i < frames {
					capture[c][i] = float32(float64(ib.Data[i*numChannels+c]) / scale)
				} else {
					capture[c][i] = 0
				}
			}
		}

		s.Cycle(capture, playback)

		ob.Data = ob.Data[:frames*numPlayback]
		for i := 0; i < frames; i++ {
			for c := range playback {
				ob.Data[i*numPlayback+c] = toInt(playback[c][i], scale)
			}
		}
		if err := encoder.Write(ob); err != nil {
			return rendered, fmt.Errorf("encode wav: %w", err)
		}
		rendered += frames
	}
	if err := encoder.Close(); err != nil {
		return rendered, fmt.Errorf("close wav encoder: %w", err)
	}
	return rendered, nil
}

// SampleRate reads the sample rate from the header of in and rewinds it.
func SampleRate(in io.ReadSeeker) (uint32, error) {
	decoder := wav.NewDecoder(in)
	if !decoder.IsValidFile() {
		return 0, ErrInvalidFile
	}
	rate := decoder.SampleRate
	if _, err := in.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("rewind wav: %w", err)
	}
	return rate, nil
}

func channels(n, size int) [][]float32 {
	bufs := make([][]float32, n)
	for i := range bufs {
		bufs[i] = make([]float32, size)
	}
	return bufs
}

func fullScale(bitDepth int) (float64, error) {
	switch bitDepth {
	case 16:
		return math.MaxInt16, nil
	case 24:
		return 1<<23 - 1, nil
	case 32:
		return math.MaxInt32, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedBitDepth, bitDepth)
	}
}

func toInt(v float32, scale float64) int {
	switch {
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	return int(math.Round(float64(v) * scale))
}
