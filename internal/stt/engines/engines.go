// Package engines builds recognizers by name. It is the only package that
// knows every engine; callers pick one through configuration.
package engines

import (
	"fmt"
	"sort"

	apperr "github.com/lipschultz/hwinarion/internal/errors"
	"github.com/lipschultz/hwinarion/internal/stt"
	"github.com/lipschultz/hwinarion/internal/stt/coqui"
	"github.com/lipschultz/hwinarion/internal/stt/sphinx"
	"github.com/lipschultz/hwinarion/internal/stt/vosk"
	"github.com/lipschultz/hwinarion/internal/stt/whisper"
)

// Settings carries the per-engine knobs the factory needs. Fields irrelevant
// to the chosen engine are ignored.
type Settings struct {
	// ModelPath locates the acoustic model (vosk, whisper) or is passed
	// through to the client (coqui).
	ModelPath string

	// Command is the subprocess command line (pocketsphinx, coqui).
	Command string

	// SampleRate overrides the engine's default input rate.
	SampleRate int

	// Language for engines that take one (whisper).
	Language string

	// Vocabulary restricts recognition to the given phrases (vosk).
	Vocabulary []string
}

type builder func(Settings) (stt.Recognizer, error)

var registry = map[string]builder{
	"vosk": func(s Settings) (stt.Recognizer, error) {
		return vosk.New(s.ModelPath, vosk.Options{
			SampleRate: s.SampleRate,
			Vocabulary: s.Vocabulary,
		})
	},
	"whisper": func(s Settings) (stt.Recognizer, error) {
		return whisper.New(s.ModelPath, whisper.Options{Language: s.Language})
	},
	"pocketsphinx": func(s Settings) (stt.Recognizer, error) {
		return sphinx.New(s.Command, sphinx.Options{SampleRate: s.SampleRate})
	},
	"coqui": func(s Settings) (stt.Recognizer, error) {
		return coqui.New(s.Command, coqui.Options{
			SampleRate: s.SampleRate,
			ModelPath:  s.ModelPath,
		})
	},
}

// Open builds the named engine. Unknown names fail with ENGINE_UNAVAILABLE
// listing what is available.
func Open(name string, s Settings) (stt.Recognizer, error) {
	build, ok := registry[name]
	if !ok {
		return nil, apperr.Newf(apperr.CodeEngineUnavailable, "unknown engine %q (available: %v)", name, Names())
	}
	rec, err := build(s)
	if err != nil {
		return nil, fmt.Errorf("engine %s: %w", name, err)
	}
	return rec, nil
}

// Names lists the registered engines in stable order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
