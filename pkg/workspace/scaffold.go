package workspace

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/codemother/codemother/pkg/workflow"
)

//go:embed templates
var templates embed.FS

// Scaffolder creates new projects from the embedded templates.
type Scaffolder struct {
	layout Layout

	// sharedModules, when set, is a directory holding a prebuilt
	// node_modules that new projects link to instead of installing their own.
	sharedModules string
	logger        zerolog.Logger
}

// ScaffoldOption configures a Scaffolder.
type ScaffoldOption func(*Scaffolder)

// WithSharedModules links node_modules of new projects to dir/node_modules
// when it exists.
func WithSharedModules(dir string) ScaffoldOption {
	return func(s *Scaffolder) { s.sharedModules = dir }
}

// NewScaffolder creates a scaffolder writing under layout.
func NewScaffolder(layout Layout, opts ...ScaffoldOption) *Scaffolder {
	s := &Scaffolder{
		layout: layout,
		logger: log.With().Str("component", "workspace.scaffold").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TemplateFiles lists the template files of t, slash separated and sorted.
func TemplateFiles(t workflow.GenerationType) ([]string, error) {
	sub, err := templateFS(t)
	if err != nil {
		return nil, err
	}
	var files []string
	err = fs.WalkDir(sub, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, p)
		}
		return nil
	})
	return files, err
}

// ReadTemplate returns one template file of t, named slash separated.
func ReadTemplate(t workflow.GenerationType, name string) ([]byte, error) {
	sub, err := templateFS(t)
	if err != nil {
		return nil, err
	}
	return fs.ReadFile(sub, name)
}

func templateFS(t workflow.GenerationType) (fs.FS, error) {
	t = t.OrDefault()
	if !t.Valid() {
		return nil, fmt.Errorf("unknown generation type %q", t)
	}
	return fs.Sub(templates, path.Join("templates", string(t)))
}

// Scaffold copies the template of t into the project directory of appID. An
// existing directory is left untouched and created is false.
func (s *Scaffolder) Scaffold(t workflow.GenerationType, appID int64) (dir string, created bool, err error) {
	t = t.OrDefault()
	dir = s.layout.ProjectDir(t, appID)
	if isDir(dir) {
		s.logger.Debug().Str("dir", dir).Msg("project exists, skipping scaffold")
		return dir, false, nil
	}

	sub, err := templateFS(t)
	if err != nil {
		return "", false, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, fmt.Errorf("create project dir: %w", err)
	}

	err = fs.WalkDir(sub, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		target := filepath.Join(dir, filepath.FromSlash(p))
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		data, err := fs.ReadFile(sub, p)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, 0o644)
	})
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", false, fmt.Errorf("scaffold %s: %w", t, err)
	}

	if err := s.linkSharedModules(dir); err != nil {
		s.logger.Warn().Err(err).Str("dir", dir).Msg("failed to link shared node_modules")
	}

	s.logger.Info().Str("dir", dir).Str("type", string(t)).Msg("project scaffolded")
	return dir, true, nil
}

func (s *Scaffolder) linkSharedModules(dir string) error {
	if s.sharedModules == "" {
		return nil
	}
	src, err := filepath.Abs(filepath.Join(s.sharedModules, "node_modules"))
	if err != nil {
		return err
	}
	if !isDir(src) {
		return nil
	}
	return os.Symlink(src, filepath.Join(dir, "node_modules"))
}
