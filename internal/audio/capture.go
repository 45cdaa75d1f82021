package audio

import (
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"

	apperr "github.com/lipschultz/hwinarion/internal/errors"
)

// DefaultFramesPerBuffer is ~32ms at 16kHz, small enough for responsive
// voice activity detection.
const DefaultFramesPerBuffer = 512

// Microphone captures frames from one input device. It holds the exclusive OS
// device handle from Open until Close; the frame sequence is not restartable.
type Microphone struct {
	stream *portaudio.Stream
	device string

	out  chan Frame
	done chan struct{}

	mu        sync.Mutex
	err       error
	closeOnce sync.Once
}

// OpenMicrophone opens the input device matched by selector and starts
// capturing in the requested format. An empty selector picks the default
// input device; a numeric selector picks by index; anything else matches the
// device name case-insensitively.
func OpenMicrophone(selector string, format Format, framesPerBuffer int) (*Microphone, error) {
	if framesPerBuffer <= 0 {
		framesPerBuffer = DefaultFramesPerBuffer
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeDeviceUnavailable, "initialize audio host")
	}

	dev, err := findDevice(selector)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, err
	}

	buf := make([]int16, framesPerBuffer*format.Channels)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: format.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(format.SampleRate),
		FramesPerBuffer: framesPerBuffer,
	}

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, apperr.Wrapf(err, apperr.CodeDeviceUnavailable, "open device %q", dev.Name)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, apperr.Wrapf(err, apperr.CodeDeviceUnavailable, "start device %q", dev.Name)
	}

	m := &Microphone{
		stream: stream,
		device: dev.Name,
		out:    make(chan Frame, 8),
		done:   make(chan struct{}),
	}

	go m.readLoop(buf, format)

	slog.Info("microphone opened", "device", dev.Name, "format", format.String())
	return m, nil
}

// Device returns the resolved device name.
func (m *Microphone) Device() string { return m.device }

// Frames implements Source.
func (m *Microphone) Frames() <-chan Frame { return m.out }

// Err implements Source. Non-nil after the stream ends abnormally.
func (m *Microphone) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *Microphone) readLoop(buf []int16, format Format) {
	defer close(m.out)
	for {
		select {
		case <-m.done:
			return
		default:
		}

		if err := m.stream.Read(); err != nil {
			select {
			case <-m.done:
				// Read failed because Close tore the stream down.
			default:
				m.mu.Lock()
				m.err = apperr.Wrapf(err, apperr.CodeDeviceDisconnected, "capture interrupted on %q", m.device)
				m.mu.Unlock()
				slog.Warn("capture interrupted", "device", m.device, "error", err)
			}
			return
		}

		frame := Frame{
			Samples:   append([]int16(nil), buf...),
			Rate:      format.SampleRate,
			Channels:  format.Channels,
			Timestamp: time.Now(),
		}

		select {
		case m.out <- frame:
		case <-m.done:
			return
		}
	}
}

// Close implements Source. Safe to call from any path, including after a
// mid-stream failure.
func (m *Microphone) Close() error {
	m.closeOnce.Do(func() {
		close(m.done)
		_ = m.stream.Stop()
		_ = m.stream.Close()
		_ = portaudio.Terminate()
		slog.Info("microphone closed", "device", m.device)
	})
	return nil
}

// ListDevices returns the names of all input-capable devices, in index order.
func ListDevices() ([]string, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, apperr.Wrap(err, apperr.CodeDeviceUnavailable, "initialize audio host")
	}
	defer func() { _ = portaudio.Terminate() }()

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeDeviceUnavailable, "enumerate devices")
	}
	var names []string
	for _, dev := range devices {
		if dev.MaxInputChannels > 0 {
			names = append(names, dev.Name)
		}
	}
	return names, nil
}

func findDevice(selector string) (*portaudio.DeviceInfo, error) {
	if selector == "" {
		dev, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, apperr.Wrap(err, apperr.CodeDeviceUnavailable, "no default input device")
		}
		return dev, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeDeviceUnavailable, "enumerate devices")
	}

	if idx, ok := parseDeviceIndex(selector); ok {
		inputs := inputDevices(devices)
		if idx < 0 || idx >= len(inputs) {
			return nil, apperr.Newf(apperr.CodeDeviceUnavailable, "device index %d out of range (0..%d)", idx, len(inputs)-1)
		}
		return inputs[idx], nil
	}

	want := strings.ToLower(selector)
	for _, dev := range inputDevices(devices) {
		if strings.Contains(strings.ToLower(dev.Name), want) {
			return dev, nil
		}
	}
	return nil, apperr.Newf(apperr.CodeDeviceUnavailable, "no input device matching %q", selector)
}

func inputDevices(devices []*portaudio.DeviceInfo) []*portaudio.DeviceInfo {
	var inputs []*portaudio.DeviceInfo
	for _, dev := range devices {
		if dev.MaxInputChannels > 0 {
			inputs = append(inputs, dev)
		}
	}
	return inputs
}

// parseDeviceIndex interprets the selector as a numeric device index.
func parseDeviceIndex(selector string) (int, bool) {
	idx, err := strconv.Atoi(strings.TrimSpace(selector))
	if err != nil {
		return 0, false
	}
	return idx, true
}
