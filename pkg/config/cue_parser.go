package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	cueyaml "cuelang.org/go/encoding/yaml"
	"gopkg.in/yaml.v3"
)

// configConstraints is unified with every CUE config. Fields stay open, so
// a file only has to set what it changes.
const configConstraints = `
server?: addr?: string & != ""
workflow?: {
	max_fix_retries?: int & >=0 & <=10
	max_steps?:       int & >=0
	max_turns?:       int & >=0
	core_workers?:    int & >=1
	max_workers?:     int & >=1
}
models?: [...{
	provider?:   "anthropic" | "openai" | "gemini"
	max_tokens?: int & >=0
}]
stores?: history_limit?: int & >=1
assets?: images_per_task?: int & >=1 & <=20
`

// ParsedConfig is the outcome of evaluating CUE sources. Config is nil when
// Errors is not empty.
type ParsedConfig struct {
	Config      *AppConfig        `json:"config,omitempty"`
	SourceFiles []string          `json:"source_files"`
	Errors      []ValidationError `json:"errors,omitempty"`
}

// Err folds Errors into one error, or returns nil.
func (pc *ParsedConfig) Err() error {
	if len(pc.Errors) == 0 {
		return nil
	}
	msgs := make([]string, len(pc.Errors))
	for i, e := range pc.Errors {
		msgs[i] = e.String()
	}
	return fmt.Errorf("config errors: %s", strings.Join(msgs, "; "))
}

// CUEParser evaluates CUE configuration. Top-level fields mirror the YAML
// layout (server, workflow, models, ...), so a CUE file can compute and
// constrain values the YAML form would hard-code.
type CUEParser struct {
	ctx         *cue.Context
	constraints cue.Value
}

func NewCUEParser() *CUEParser {
	ctx := cuecontext.New()
	return &CUEParser{ctx: ctx, constraints: ctx.CompileString(configConstraints, cue.Filename("constraints.cue"))}
}

// Parse unifies the given files and package directories. A missing source
// is an error; evaluation problems are reported in ParsedConfig.Errors.
func (cp *CUEParser) Parse(_ context.Context, sources []string) (*ParsedConfig, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no CUE sources given")
	}

	parsed := &ParsedConfig{}
	value := cp.constraints
	for _, src := range sources {
		info, err := os.Stat(src)
		if err != nil {
			return nil, fmt.Errorf("cue source %s: %w", src, err)
		}
		var (
			val   cue.Value
			files []string
		)
		if info.IsDir() {
			val, files, err = cp.compilePackage(src)
		} else {
			files = []string{src}
			val, err = cp.compileFile(src)
		}
		parsed.SourceFiles = append(parsed.SourceFiles, files...)
		if err != nil {
			parsed.Errors = append(parsed.Errors, cueErrors(err)...)
			continue
		}
		value = value.Unify(val)
	}
	if len(parsed.Errors) == 0 {
		cp.finish(parsed, value)
	}
	return parsed, nil
}

// ParseInline evaluates CUE source held in memory.
func (cp *CUEParser) ParseInline(_ context.Context, content string) (*ParsedConfig, error) {
	parsed := &ParsedConfig{SourceFiles: []string{"inline"}}
	val := cp.ctx.CompileString(content, cue.Filename("inline.cue"))
	if err := val.Err(); err != nil {
		parsed.Errors = cueErrors(err)
		return parsed, nil
	}
	cp.finish(parsed, cp.constraints.Unify(val))
	return parsed, nil
}

// finish checks the unified value is concrete and layers it over
// DefaultConfig. Decoding goes through YAML so durations can be written as
// "30s".
func (cp *CUEParser) finish(parsed *ParsedConfig, val cue.Value) {
	if err := val.Validate(cue.Concrete(true)); err != nil {
		parsed.Errors = cueErrors(err)
		return
	}
	out, err := cueyaml.Encode(val)
	if err == nil {
		cfg := DefaultConfig()
		if err = yaml.Unmarshal(out, cfg); err == nil {
			parsed.Config = cfg
			return
		}
	}
	parsed.Errors = []ValidationError{{Message: fmt.Sprintf("decode config: %v", err), Severity: "error"}}
}

func (cp *CUEParser) compilePackage(dir string) (cue.Value, []string, error) {
	insts := load.Instances([]string{dir}, nil)
	if len(insts) == 0 {
		return cue.Value{}, nil, fmt.Errorf("no CUE package in %s", dir)
	}
	inst := insts[0]
	if inst.Err != nil {
		return cue.Value{}, nil, inst.Err
	}
	var files []string
	for _, f := range inst.Files {
		if f.Filename != "" {
			files = append(files, f.Filename)
		}
	}
	val := cp.ctx.BuildInstance(inst)
	return val, files, val.Err()
}

func (cp *CUEParser) compileFile(path string) (cue.Value, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, err
	}
	val := cp.ctx.CompileBytes(src, cue.Filename(path))
	return val, val.Err()
}

// cueErrors flattens a CUE error list, keeping the first position of each.
func cueErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range errors.Errors(err) {
		ve := ValidationError{
			Path:     strings.Join(e.Path(), "."),
			Message:  errors.Details(e, nil),
			Severity: "error",
		}
		if pos := errors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error(), Severity: "error"})
	}
	return out
}
