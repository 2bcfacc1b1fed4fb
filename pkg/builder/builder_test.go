package builder

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []string

	// results by joined args; missing entries succeed
	fail    map[string]string
	onBuild func(dir string)
}

func exitError(t *testing.T) error {
	t.Helper()
	err := exec.Command("sh", "-c", "exit 1").Run()
	if _, ok := err.(*exec.ExitError); !ok {
		t.Fatalf("could not produce an exit error: %v", err)
	}
	return err
}

func (f *fakeRunner) runner(t *testing.T) CommandRunner {
	exitErr := exitError(t)
	return func(ctx context.Context, dir, name string, args ...string) (string, string, error) {
		key := strings.Join(args, " ")
		f.mu.Lock()
		f.calls = append(f.calls, name+" "+key)
		f.mu.Unlock()
		if stderr, ok := f.fail[key]; ok {
			return "", stderr, exitErr
		}
		if key == "run build" && f.onBuild != nil {
			f.onBuild(dir)
		}
		return "ok", "", nil
	}
}

func newProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func makeDist(dir string) {
	_ = os.MkdirAll(filepath.Join(dir, "dist"), 0o755)
}

func TestBuildSuccess(t *testing.T) {
	dir := newProject(t)
	f := &fakeRunner{onBuild: makeDist}
	b := NewNpmBuilder(NpmConfig{Runner: f.runner(t)})

	res := b.Build(context.Background(), dir)
	if !res.Success {
		t.Fatalf("Build() failed: %s", res.ErrorSummary)
	}
	want := []string{"npm install", "npm run build"}
	if strings.Join(f.calls, ",") != strings.Join(want, ",") {
		t.Errorf("calls = %v, want %v", f.calls, want)
	}
}

func TestBuildSkipsInstallWithNodeModules(t *testing.T) {
	dir := newProject(t)
	if err := os.Mkdir(filepath.Join(dir, "node_modules"), 0o755); err != nil {
		t.Fatal(err)
	}
	f := &fakeRunner{onBuild: makeDist}
	res := NewNpmBuilder(NpmConfig{Runner: f.runner(t)}).Build(context.Background(), dir)
	if !res.Success {
		t.Fatalf("Build() failed: %s", res.ErrorSummary)
	}
	if len(f.calls) != 1 || f.calls[0] != "npm run build" {
		t.Errorf("calls = %v, want [npm run build]", f.calls)
	}
}

func TestBuildFailures(t *testing.T) {
	tests := []struct {
		name        string
		setup       func(t *testing.T) string
		fail        map[string]string
		onBuild     func(string)
		wantPrefix  string
		wantStderr  string
		wantNoCalls bool
	}{
		{
			name:        "missing directory",
			setup:       func(t *testing.T) string { return filepath.Join(t.TempDir(), "gone") },
			wantPrefix:  "project directory does not exist",
			wantNoCalls: true,
		},
		{
			name:        "missing package.json",
			setup:       func(t *testing.T) string { return t.TempDir() },
			wantPrefix:  "package.json does not exist",
			wantNoCalls: true,
		},
		{
			name:       "install fails",
			setup:      newProject,
			fail:       map[string]string{"install": "npm ERR! 404 Not Found\n"},
			wantPrefix: "npm install failed: npm ERR! 404 Not Found",
			wantStderr: "npm ERR! 404 Not Found\n",
		},
		{
			name:       "build fails",
			setup:      newProject,
			fail:       map[string]string{"run build": "[vite] Could not resolve ./pages/Home.vue\n"},
			wantPrefix: "npm run build failed: [vite] Could not resolve ./pages/Home.vue",
			wantStderr: "[vite] Could not resolve ./pages/Home.vue\n",
		},
		{
			name:       "build fails silently",
			setup:      newProject,
			fail:       map[string]string{"run build": ""},
			wantPrefix: "npm run build failed: unknown error",
		},
		{
			name:       "no dist",
			setup:      newProject,
			wantPrefix: "build finished but dist was not produced",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeRunner{fail: tt.fail, onBuild: tt.onBuild}
			res := NewNpmBuilder(NpmConfig{Runner: f.runner(t)}).Build(context.Background(), tt.setup(t))
			if res.Success {
				t.Fatal("Build() succeeded")
			}
			if !strings.HasPrefix(res.ErrorSummary, tt.wantPrefix) {
				t.Errorf("ErrorSummary = %q, want prefix %q", res.ErrorSummary, tt.wantPrefix)
			}
			if tt.wantStderr != "" && res.RawOutput() != tt.wantStderr {
				t.Errorf("RawOutput() = %q, want %q", res.RawOutput(), tt.wantStderr)
			}
			if tt.wantNoCalls && len(f.calls) != 0 {
				t.Errorf("ran commands %v", f.calls)
			}
		})
	}
}

func TestBuildTimeout(t *testing.T) {
	dir := newProject(t)
	if err := os.Mkdir(filepath.Join(dir, "node_modules"), 0o755); err != nil {
		t.Fatal(err)
	}
	runner := func(ctx context.Context, dir, name string, args ...string) (string, string, error) {
		<-ctx.Done()
		return "", "partial output", ctx.Err()
	}
	b := NewNpmBuilder(NpmConfig{Runner: runner, BuildTimeout: 20 * time.Millisecond})

	res := b.Build(context.Background(), dir)
	if res.Success {
		t.Fatal("Build() succeeded")
	}
	if !strings.Contains(res.ErrorSummary, "timed out after 20ms: npm run build") {
		t.Errorf("ErrorSummary = %q", res.ErrorSummary)
	}
}

func TestExecRunner(t *testing.T) {
	stdout, stderr, err := ExecRunner(context.Background(), t.TempDir(), "sh", "-c", "echo out; echo err >&2; exit 3")
	if stdout != "out\n" || stderr != "err\n" {
		t.Errorf("output = (%q, %q)", stdout, stderr)
	}
	exitErr, ok := err.(*exec.ExitError)
	if !ok || exitErr.ExitCode() != 3 {
		t.Errorf("err = %v, want exit status 3", err)
	}
}

func TestErrorSummary(t *testing.T) {
	if got := ErrorSummary("  \n"); got != "unknown error" {
		t.Errorf("ErrorSummary(blank) = %q", got)
	}
	if got := ErrorSummary("  boom \n"); got != "boom" {
		t.Errorf("ErrorSummary() = %q", got)
	}

	long := strings.Repeat("a", 3000) + strings.Repeat("b", ErrorSummaryMaxLength)
	got := ErrorSummary(long)
	if len(got) != ErrorSummaryMaxLength || strings.Contains(got, "a") {
		t.Errorf("ErrorSummary(long) kept %d bytes, want the last %d", len(got), ErrorSummaryMaxLength)
	}
}

func TestPrebuild(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "_shared_node_modules")
	var calls int
	runner := func(ctx context.Context, d, name string, args ...string) (string, string, error) {
		calls++
		return "", "", os.Mkdir(filepath.Join(d, "node_modules"), 0o755)
	}
	b := NewNpmBuilder(NpmConfig{Runner: runner})

	if err := b.Prebuild(context.Background(), dir, []byte(`{"name":"x"}`)); err != nil {
		t.Fatalf("Prebuild() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil || string(data) != `{"name":"x"}` {
		t.Errorf("package.json = (%q, %v)", data, err)
	}
	if err := b.Prebuild(context.Background(), dir, nil); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("npm install ran %d times, want 1", calls)
	}
}
