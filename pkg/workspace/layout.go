package workspace

import (
	"errors"
	"os"

	"github.com/codemother/codemother/pkg/workflow"
)

// generationTypes is the lookup order used by Find.
var generationTypes = []workflow.GenerationType{
	workflow.GenerationVue,
	workflow.GenerationLeetCode,
	workflow.GenerationInterview,
}

// Layout resolves project directories under one output root.
type Layout struct {
	Root string
}

// NewLayout creates a layout rooted at root.
func NewLayout(root string) Layout {
	return Layout{Root: root}
}

// ProjectDir returns the directory of a project, whether or not it exists.
func (l Layout) ProjectDir(t workflow.GenerationType, appID int64) string {
	return workflow.ProjectDir(l.Root, t, appID)
}

// Exists reports whether the project directory exists and is a directory.
func (l Layout) Exists(t workflow.GenerationType, appID int64) bool {
	return isDir(l.ProjectDir(t, appID))
}

// Find returns the first existing project of appID across all generation
// types.
func (l Layout) Find(appID int64) (string, workflow.GenerationType, bool) {
	if appID <= 0 {
		return "", "", false
	}
	for _, t := range generationTypes {
		if dir := l.ProjectDir(t, appID); isDir(dir) {
			return dir, t, true
		}
	}
	return "", "", false
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}

// ErrNoProject is returned when a project directory does not exist.
var ErrNoProject = errors.New("project directory does not exist")
