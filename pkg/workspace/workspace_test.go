package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/codemother/codemother/pkg/workflow"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLayoutFind(t *testing.T) {
	root := t.TempDir()
	l := NewLayout(root)

	if _, _, ok := l.Find(42); ok {
		t.Fatal("Find() on empty root reported a project")
	}
	if l.Exists(workflow.GenerationVue, 42) {
		t.Fatal("Exists() = true before creation")
	}

	dir := filepath.Join(root, "leetcode_project_42")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	got, typ, ok := l.Find(42)
	if !ok || got != dir || typ != workflow.GenerationLeetCode {
		t.Fatalf("Find() = (%q, %q, %v), want (%q, leetcode_project, true)", got, typ, ok, dir)
	}
	if _, _, ok := l.Find(0); ok {
		t.Error("Find(0) reported a project")
	}
}

func TestLayoutExistsIgnoresFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "vue_project_7"), "not a dir")
	if NewLayout(root).Exists(workflow.GenerationVue, 7) {
		t.Error("Exists() = true for a regular file")
	}
}

func TestScaffold(t *testing.T) {
	tests := []struct {
		typ  workflow.GenerationType
		want []string
	}{
		{"", []string{"index.html", "package.json", "src/main.js", "vite.config.js"}},
		{workflow.GenerationLeetCode, []string{"index.html", "package.json", "src/App.vue", "src/main.js", "vite.config.js"}},
		{workflow.GenerationInterview, []string{"index.html", "package.json", "src/App.vue", "src/main.js", "vite.config.js"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ.OrDefault()), func(t *testing.T) {
			root := t.TempDir()
			s := NewScaffolder(NewLayout(root))

			dir, created, err := s.Scaffold(tt.typ, 5)
			if err != nil {
				t.Fatalf("Scaffold() error = %v", err)
			}
			if !created {
				t.Fatal("Scaffold() created = false for a new project")
			}
			if dir != workflow.ProjectDir(root, tt.typ, 5) {
				t.Errorf("dir = %q", dir)
			}

			w, err := NewWalker()
			if err != nil {
				t.Fatal(err)
			}
			files, err := w.Files(dir)
			if err != nil {
				t.Fatal(err)
			}
			if strings.Join(files, ",") != strings.Join(tt.want, ",") {
				t.Errorf("files = %v, want %v", files, tt.want)
			}
		})
	}
}

func TestScaffoldSkipsExisting(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "vue_project_9")
	writeFile(t, filepath.Join(dir, "src", "App.vue"), "<template>mine</template>")

	got, created, err := NewScaffolder(NewLayout(root)).Scaffold(workflow.GenerationVue, 9)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("Scaffold() created = true for an existing project")
	}
	if got != dir {
		t.Errorf("dir = %q, want %q", got, dir)
	}
	if _, err := os.Stat(filepath.Join(dir, "package.json")); !os.IsNotExist(err) {
		t.Error("Scaffold() wrote template files into an existing project")
	}
}

func TestScaffoldUnknownType(t *testing.T) {
	_, _, err := NewScaffolder(NewLayout(t.TempDir())).Scaffold("react_project", 1)
	if err == nil {
		t.Fatal("Scaffold() with unknown type succeeded")
	}
}

func TestScaffoldLinksSharedModules(t *testing.T) {
	root := t.TempDir()
	shared := t.TempDir()
	writeFile(t, filepath.Join(shared, "node_modules", "vue", "package.json"), "{}")

	dir, _, err := NewScaffolder(NewLayout(root), WithSharedModules(shared)).Scaffold(workflow.GenerationVue, 3)
	if err != nil {
		t.Fatal(err)
	}
	fi, err := os.Lstat(filepath.Join(dir, "node_modules"))
	if err != nil {
		t.Fatalf("node_modules missing: %v", err)
	}
	if fi.Mode()&os.ModeSymlink == 0 {
		t.Error("node_modules is not a symlink")
	}
}

func TestTemplateFiles(t *testing.T) {
	files, err := TemplateFiles(workflow.GenerationVue)
	if err != nil {
		t.Fatal(err)
	}
	want := "index.html,package.json,src/main.js,vite.config.js"
	if got := strings.Join(files, ","); got != want {
		t.Errorf("TemplateFiles() = %s, want %s", got, want)
	}
	if _, err := TemplateFiles("html"); err == nil {
		t.Error("TemplateFiles(html) succeeded")
	}
}

func TestWalkerStructure(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "package.json"), "{}")
	writeFile(t, filepath.Join(dir, "src", "App.vue"), "")
	writeFile(t, filepath.Join(dir, "src", "pages", "Home.vue"), "")
	writeFile(t, filepath.Join(dir, "node_modules", "vue", "index.js"), "")
	writeFile(t, filepath.Join(dir, "dist", "index.html"), "")
	writeFile(t, filepath.Join(dir, ".git", "HEAD"), "")
	writeFile(t, filepath.Join(dir, "npm-debug.log"), "")
	writeFile(t, filepath.Join(dir, "yarn.lock"), "")

	w, err := NewWalker()
	if err != nil {
		t.Fatal(err)
	}
	got, err := w.Structure(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := "Project structure:\n- package.json\n- src/App.vue\n- src/pages/Home.vue\n"
	if got != want {
		t.Errorf("Structure() =\n%s\nwant\n%s", got, want)
	}
}

func TestWalkerExtraPatterns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "App.vue"), "")
	writeFile(t, filepath.Join(dir, "src", "assets", "big.png"), "")
	writeFile(t, filepath.Join(dir, "README.md"), "")

	w, err := NewWalker("src/assets/*", "*.md")
	if err != nil {
		t.Fatal(err)
	}
	files, err := w.Files(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 1 || files[0] != "src/App.vue" {
		t.Errorf("Files() = %v, want [src/App.vue]", files)
	}
}

func TestWalkerIgnored(t *testing.T) {
	w, err := NewWalker()
	if err != nil {
		t.Fatal(err)
	}
	tests := map[string]bool{
		"node_modules":     true,
		".git":             true,
		"app.log":          true,
		"src/.DS_Store":    true,
		"index.html":       false,
		"src/App.vue":      false,
		"src/log/index.js": false,
	}
	for rel, want := range tests {
		if got := w.Ignored(rel); got != want {
			t.Errorf("Ignored(%q) = %v, want %v", rel, got, want)
		}
	}
}

func TestWalkerEmptyAndMissing(t *testing.T) {
	w, err := NewWalker()
	if err != nil {
		t.Fatal(err)
	}

	got, err := w.Structure(t.TempDir())
	if err != nil || got != "" {
		t.Errorf("Structure(empty) = (%q, %v), want (\"\", nil)", got, err)
	}

	_, err = w.Structure(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, ErrNoProject) {
		t.Errorf("Structure(missing) error = %v, want ErrNoProject", err)
	}
}

func TestNewWalkerInvalidPattern(t *testing.T) {
	_, err := NewWalker("[")
	if !errors.Is(err, ErrInvalidPattern) {
		t.Errorf("NewWalker([) error = %v, want ErrInvalidPattern", err)
	}
}

func TestSnapshot(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "src", "App.vue"), "v1")
	writeFile(t, filepath.Join(dir, "node_modules", "vue", "index.js"), "")

	s := NewSnapshotter("", "")

	none, err := s.Snapshots(dir, 0)
	if err != nil || len(none) != 0 {
		t.Fatalf("Snapshots() before init = (%v, %v)", none, err)
	}

	first, err := s.Snapshot(dir, "generate")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if first == "" {
		t.Fatal("Snapshot() committed nothing")
	}

	again, err := s.Snapshot(dir, "noop")
	if err != nil {
		t.Fatal(err)
	}
	if again != "" {
		t.Errorf("Snapshot() on a clean tree = %q, want empty", again)
	}

	if err := os.Remove(filepath.Join(dir, "src", "App.vue")); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, "src", "Main.vue"), "v2")
	second, err := s.Snapshot(dir, "fix #1")
	if err != nil {
		t.Fatal(err)
	}
	if second == "" || second == first {
		t.Fatalf("second snapshot = %q", second)
	}

	snaps, err := s.Snapshots(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 2 {
		t.Fatalf("len(Snapshots()) = %d, want 2", len(snaps))
	}
	if snaps[0].Hash != second || snaps[0].Message != "fix #1" {
		t.Errorf("newest snapshot = %+v", snaps[0])
	}

	limited, err := s.Snapshots(dir, 1)
	if err != nil || len(limited) != 1 {
		t.Errorf("Snapshots(limit 1) = (%d, %v)", len(limited), err)
	}
}

func TestSnapshotMissingDir(t *testing.T) {
	_, err := NewSnapshotter("", "").Snapshot(filepath.Join(t.TempDir(), "nope"), "x")
	if !errors.Is(err, ErrNoProject) {
		t.Errorf("Snapshot(missing) error = %v, want ErrNoProject", err)
	}
}
