package audio

import (
	"os"
	"sync"
	"time"

	"github.com/go-audio/wav"

	apperr "github.com/lipschultz/hwinarion/internal/errors"
)

// File replays a WAV file as a frame sequence, for offline runs and tests.
// Unlike Microphone the sequence is finite: the channel closes with a nil Err
// at end of file.
type File struct {
	out  chan Frame
	done chan struct{}

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

// OpenFile decodes the WAV file at path and streams it in frames of
// framesPerBuffer sample groups. Timestamps are synthesized from the file's
// own timeline so downstream stages see capture-like pacing metadata (frames
// are delivered as fast as the consumer reads them).
func OpenFile(path string, framesPerBuffer int) (*File, error) {
	if framesPerBuffer <= 0 {
		framesPerBuffer = DefaultFramesPerBuffer
	}

	fh, err := os.Open(path)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeDeviceUnavailable, "open audio file %q", path)
	}

	dec := wav.NewDecoder(fh)
	if !dec.IsValidFile() {
		_ = fh.Close()
		return nil, apperr.Newf(apperr.CodeDeviceUnavailable, "%q is not a valid WAV file", path)
	}

	buf, err := dec.FullPCMBuffer()
	_ = fh.Close()
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeDeviceUnavailable, "decode %q", path)
	}

	rate := buf.Format.SampleRate
	channels := buf.Format.NumChannels
	samples := make([]int16, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = int16(v)
	}

	f := &File{
		out:  make(chan Frame, 8),
		done: make(chan struct{}),
	}
	go f.emit(samples, rate, channels, framesPerBuffer)
	return f, nil
}

func (f *File) emit(samples []int16, rate, channels, framesPerBuffer int) {
	defer close(f.out)

	chunk := framesPerBuffer * channels
	base := time.Now()
	var elapsed time.Duration

	for off := 0; off < len(samples); off += chunk {
		end := off + chunk
		if end > len(samples) {
			end = off + (len(samples)-off)/channels*channels
			if end == off {
				return
			}
		}
		frame := Frame{
			Samples:   samples[off:end],
			Rate:      rate,
			Channels:  channels,
			Timestamp: base.Add(elapsed),
		}
		elapsed += frame.Duration()

		select {
		case f.out <- frame:
		case <-f.done:
			return
		}
	}
}

// Frames implements Source.
func (f *File) Frames() <-chan Frame { return f.out }

// Err implements Source. Always nil: end of file is a clean end of input.
func (f *File) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Close implements Source.
func (f *File) Close() error {
	f.closeOnce.Do(func() { close(f.done) })
	return nil
}
