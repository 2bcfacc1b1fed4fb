package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Tool is something the model can call.
type Tool interface {
	Spec() ToolSpec
	Call(ctx context.Context, args json.RawMessage) (string, error)
}

// Toolbox dispatches tool calls by name.
type Toolbox struct {
	tools map[string]Tool
	order []string
}

// NewToolbox creates a toolbox. Later tools replace earlier ones of the same
// name.
func NewToolbox(tools ...Tool) *Toolbox {
	tb := &Toolbox{tools: make(map[string]Tool)}
	for _, t := range tools {
		tb.Add(t)
	}
	return tb
}

// Add registers t.
func (tb *Toolbox) Add(t Tool) {
	name := t.Spec().Name
	if _, exists := tb.tools[name]; !exists {
		tb.order = append(tb.order, name)
	}
	tb.tools[name] = t
}

// Specs lists the registered tools in registration order.
func (tb *Toolbox) Specs() []ToolSpec {
	specs := make([]ToolSpec, 0, len(tb.order))
	for _, name := range tb.order {
		specs = append(specs, tb.tools[name].Spec())
	}
	return specs
}

// Execute runs call. Failures are returned as result text so the model can
// react to them.
func (tb *Toolbox) Execute(ctx context.Context, call ToolCall) string {
	t, ok := tb.tools[call.Name]
	if !ok {
		return fmt.Sprintf("Error: unknown tool %q", call.Name)
	}
	args := json.RawMessage(call.Arguments)
	if len(strings.TrimSpace(call.Arguments)) == 0 {
		args = json.RawMessage("{}")
	}
	result, err := t.Call(ctx, args)
	if err != nil {
		return "Error: " + err.Error()
	}
	return result
}

// FileGuard vets file changes before a tool performs them.
type FileGuard interface {
	CheckFileChange(ctx context.Context, action, relPath string) error
}

// FileTools are the project file tools, confined to one directory.
type FileTools struct {
	root  string
	guard FileGuard
}

// NewFileTools creates file tools rooted at root. guard may be nil.
func NewFileTools(root string, guard FileGuard) *FileTools {
	return &FileTools{root: root, guard: guard}
}

// Tools returns readFile, readDir, writeFile, modifyFile and deleteFile.
func (f *FileTools) Tools() []Tool {
	return []Tool{
		fileTool{spec: readFileSpec, call: f.readFile},
		fileTool{spec: readDirSpec, call: f.readDir},
		fileTool{spec: writeFileSpec, call: f.writeFile},
		fileTool{spec: modifyFileSpec, call: f.modifyFile},
		fileTool{spec: deleteFileSpec, call: f.deleteFile},
	}
}

type fileTool struct {
	spec ToolSpec
	call func(ctx context.Context, args fileArgs) (string, error)
}

func (t fileTool) Spec() ToolSpec { return t.spec }

func (t fileTool) Call(ctx context.Context, raw json.RawMessage) (string, error) {
	var args fileArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return "", fmt.Errorf("invalid arguments: %w", err)
	}
	return t.call(ctx, args)
}

type fileArgs struct {
	RelativeFilePath string `json:"relativeFilePath"`
	RelativeDirPath  string `json:"relativeDirPath"`
	Content          string `json:"content"`
	OldContent       string `json:"oldContent"`
	NewContent       string `json:"newContent"`
}

// resolve maps rel into the root, rejecting paths that escape it.
func (f *FileTools) resolve(rel string) (string, string, error) {
	clean := filepath.Clean("/" + filepath.ToSlash(strings.TrimSpace(rel)))
	clean = strings.TrimPrefix(clean, "/")
	abs := filepath.Join(f.root, clean)
	root := filepath.Clean(f.root)
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", "", fmt.Errorf("path %q escapes the project directory", rel)
	}
	return abs, clean, nil
}

func (f *FileTools) check(ctx context.Context, action, rel string) error {
	if f.guard == nil {
		return nil
	}
	return f.guard.CheckFileChange(ctx, action, rel)
}

func (f *FileTools) readFile(_ context.Context, args fileArgs) (string, error) {
	abs, _, err := f.resolve(args.RelativeFilePath)
	if err != nil {
		return "", err
	}
	b, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", args.RelativeFilePath, err)
	}
	return string(b), nil
}

func (f *FileTools) readDir(_ context.Context, args fileArgs) (string, error) {
	abs, _, err := f.resolve(args.RelativeDirPath)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return "", fmt.Errorf("read dir %s: %w", args.RelativeDirPath, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Name() == "node_modules" || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "\n"), nil
}

func (f *FileTools) writeFile(ctx context.Context, args fileArgs) (string, error) {
	abs, rel, err := f.resolve(args.RelativeFilePath)
	if err != nil {
		return "", err
	}
	if err := f.check(ctx, "write", rel); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", fmt.Errorf("create parent of %s: %w", rel, err)
	}
	if err := os.WriteFile(abs, []byte(args.Content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", rel, err)
	}
	return "wrote " + rel, nil
}

func (f *FileTools) modifyFile(ctx context.Context, args fileArgs) (string, error) {
	abs, rel, err := f.resolve(args.RelativeFilePath)
	if err != nil {
		return "", err
	}
	if err := f.check(ctx, "modify", rel); err != nil {
		return "", err
	}
	b, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	content := string(b)
	if args.OldContent == "" || !strings.Contains(content, args.OldContent) {
		return "", fmt.Errorf("old content not found in %s", rel)
	}
	content = strings.Replace(content, args.OldContent, args.NewContent, 1)
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", rel, err)
	}
	return "modified " + rel, nil
}

func (f *FileTools) deleteFile(ctx context.Context, args fileArgs) (string, error) {
	abs, rel, err := f.resolve(args.RelativeFilePath)
	if err != nil {
		return "", err
	}
	if err := f.check(ctx, "delete", rel); err != nil {
		return "", err
	}
	if err := os.Remove(abs); err != nil {
		return "", fmt.Errorf("delete %s: %w", rel, err)
	}
	return "deleted " + rel, nil
}

func schema(props map[string]string, required ...string) json.RawMessage {
	properties := make(map[string]any, len(props))
	for name, desc := range props {
		properties[name] = map[string]string{"type": "string", "description": desc}
	}
	b, _ := json.Marshal(map[string]any{
		"type":       "object",
		"properties": properties,
		"required":   required,
	})
	return b
}

var (
	readFileSpec = ToolSpec{
		Name:        ToolReadFile,
		Description: "Read a file of the project.",
		Parameters:  schema(map[string]string{"relativeFilePath": "path relative to the project root"}, "relativeFilePath"),
	}
	readDirSpec = ToolSpec{
		Name:        ToolReadDir,
		Description: "List a directory of the project.",
		Parameters:  schema(map[string]string{"relativeDirPath": "directory relative to the project root, empty for the root"}, "relativeDirPath"),
	}
	writeFileSpec = ToolSpec{
		Name:        ToolWriteFile,
		Description: "Create or overwrite a file of the project.",
		Parameters: schema(map[string]string{
			"relativeFilePath": "path relative to the project root",
			"content":          "full file content",
		}, "relativeFilePath", "content"),
	}
	modifyFileSpec = ToolSpec{
		Name:        ToolModifyFile,
		Description: "Replace the first occurrence of oldContent with newContent in a file.",
		Parameters: schema(map[string]string{
			"relativeFilePath": "path relative to the project root",
			"oldContent":       "exact text to replace",
			"newContent":       "replacement text",
		}, "relativeFilePath", "oldContent", "newContent"),
	}
	deleteFileSpec = ToolSpec{
		Name:        ToolDeleteFile,
		Description: "Delete a file of the project.",
		Parameters:  schema(map[string]string{"relativeFilePath": "path relative to the project root"}, "relativeFilePath"),
	}
)
