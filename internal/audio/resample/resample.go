// Package resample converts audio frames between the formats capture devices
// produce and the formats recognizers require. Conversion is a pure function
// of its inputs.
package resample

import (
	"github.com/lipschultz/hwinarion/internal/audio"
	apperr "github.com/lipschultz/hwinarion/internal/errors"
)

// Convert returns a frame matching the target format. The input frame is
// never mutated; when it already matches the target it is returned as-is.
//
// Channel policy: mono may be duplicated up to N channels and stereo may be
// downmixed to mono. Arbitrary channel remapping is out of scope and fails
// with UNSUPPORTED_CONVERSION, as does any bit depth other than 16.
func Convert(f audio.Frame, target audio.Format) (audio.Frame, error) {
	if !target.Valid() {
		return audio.Frame{}, apperr.Newf(apperr.CodeUnsupportedConversion, "invalid target format %s", target)
	}
	if target.BitDepth != 16 {
		return audio.Frame{}, apperr.Newf(apperr.CodeUnsupportedConversion, "bit depth %d not supported (16-bit only)", target.BitDepth)
	}
	if f.Format() == target {
		return f, nil
	}

	samples := f.Samples
	channels := f.Channels

	if channels != target.Channels {
		var err error
		samples, err = convertChannels(samples, channels, target.Channels)
		if err != nil {
			return audio.Frame{}, err
		}
		channels = target.Channels
	}

	if f.Rate != target.SampleRate {
		samples = convertRate(samples, channels, f.Rate, target.SampleRate)
	}

	out, err := audio.NewFrame(samples, target.SampleRate, target.Channels, f.Timestamp)
	if err != nil {
		return audio.Frame{}, apperr.Wrap(err, apperr.CodeUnsupportedConversion, "conversion produced malformed frame")
	}
	return out, nil
}

func convertChannels(samples []int16, from, to int) ([]int16, error) {
	switch {
	case from == 1:
		// Mono up-mix: duplicate the single channel.
		out := make([]int16, len(samples)*to)
		for i, s := range samples {
			for c := 0; c < to; c++ {
				out[i*to+c] = s
			}
		}
		return out, nil
	case from == 2 && to == 1:
		// Stereo downmix: average the pair.
		out := make([]int16, len(samples)/2)
		for i := range out {
			l := int32(samples[2*i])
			r := int32(samples[2*i+1])
			out[i] = int16((l + r) / 2)
		}
		return out, nil
	default:
		return nil, apperr.Newf(apperr.CodeUnsupportedConversion, "channel conversion %d -> %d not supported", from, to)
	}
}

// convertRate linearly interpolates each channel independently. Linear
// interpolation is adequate for speech fed to recognizers; it is not meant
// for playback fidelity.
func convertRate(samples []int16, channels, from, to int) []int16 {
	inCount := len(samples) / channels
	if inCount == 0 {
		return nil
	}
	outCount := int(int64(inCount) * int64(to) / int64(from))
	if outCount == 0 {
		outCount = 1
	}

	out := make([]int16, outCount*channels)
	ratio := float64(from) / float64(to)
	for i := 0; i < outCount; i++ {
		pos := float64(i) * ratio
		lo := int(pos)
		hi := lo + 1
		if hi >= inCount {
			hi = inCount - 1
		}
		frac := pos - float64(lo)
		for c := 0; c < channels; c++ {
			a := float64(samples[lo*channels+c])
			b := float64(samples[hi*channels+c])
			out[i*channels+c] = int16(a + (b-a)*frac)
		}
	}
	return out
}
