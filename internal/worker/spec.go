package worker

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"vidforge/internal/domain"
)

// Spec fully describes one worker invocation. The worker is one-shot and
// non-interactive: everything it needs travels on Args and Env.
type Spec struct {
	Executable string
	Args       []string
	Env        []string
	Dir        string
}

// Validate checks the spec before launch.
func (s Spec) Validate() error {
	if strings.TrimSpace(s.Executable) == "" {
		return errors.New("worker: executable is required")
	}
	if len(s.Args) == 0 {
		return errors.New("worker: args must include the script path")
	}
	return nil
}

// Factory builds worker specs from configuration. The interpreter and script
// locations are injected here instead of being hard-coded at call sites.
type Factory struct {
	// PythonBin is the interpreter used to run the generation scripts.
	PythonBin string
	// ScriptsDir holds the worker scripts and is exported as PYTHONPATH.
	ScriptsDir string
	// WorkDir is the working directory for spawned workers.
	WorkDir string
}

const (
	generateScript = "video_generator.py"
	enhanceScript  = "audio_enhancer.py"
)

// Generation builds the spec for the primary pipeline worker. Argument order
// is part of the worker contract: script, domain key, product payload,
// generation id, free-text instructions, target language.
func (f *Factory) Generation(g *domain.Generation) (Spec, error) {
	if g == nil {
		return Spec{}, errors.New("worker: generation is required")
	}
	spec := Spec{
		Executable: f.PythonBin,
		Args: []string{
			f.scriptPath(generateScript),
			g.DomainKey,
			string(g.Product),
			g.ID,
			g.UserInput,
			LanguageName(g.Language),
		},
		Env: f.env(),
		Dir: f.WorkDir,
	}
	return spec, spec.Validate()
}

// Enhancement builds the spec for the secondary audio enhancement worker,
// which runs against an already produced final video.
func (f *Factory) Enhancement(g *domain.Generation) (Spec, error) {
	if g == nil {
		return Spec{}, errors.New("worker: generation is required")
	}
	if g.FinalVideo == "" {
		return Spec{}, domain.ErrNoFinalVideo
	}
	spec := Spec{
		Executable: f.PythonBin,
		Args: []string{
			f.scriptPath(enhanceScript),
			g.FinalVideo,
			g.ID,
		},
		Env: f.env(),
		Dir: f.WorkDir,
	}
	return spec, spec.Validate()
}

func (f *Factory) scriptPath(name string) string {
	dir := strings.TrimRight(f.ScriptsDir, "/")
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

func (f *Factory) env() []string {
	return append(os.Environ(), fmt.Sprintf("PYTHONPATH=%s", f.ScriptsDir))
}

// LanguageName renders the English display name the worker expects on argv.
// BCP 47 tags ("pt", "pt-BR") resolve through x/text; anything unparseable is
// assumed to already be a display name and passes through unchanged.
func LanguageName(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return tag
	}
	base, conf := parsed.Base()
	if conf == language.No {
		return tag
	}
	if name := display.English.Languages().Name(language.MustParse(base.String())); name != "" {
		return name
	}
	return tag
}
