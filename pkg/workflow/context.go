package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
)

// MaxFixRetryCount is the number of fix attempts before the build loop is
// forced to pass.
const MaxFixRetryCount = 3

// OperationMode is the top-level routing decision of a run.
type OperationMode string

const (
	ModeCreate OperationMode = "CREATE"
	ModeModify OperationMode = "MODIFY"
	ModeFix    OperationMode = "FIX"
)

// IntentType classifies a follow-up message on an existing project.
type IntentType string

const (
	IntentModify IntentType = "MODIFY"
	IntentQA     IntentType = "QA"
)

// GenerationType is the flavour of project being generated. Its value names
// the project directory.
type GenerationType string

const (
	GenerationVue       GenerationType = "vue_project"
	GenerationLeetCode  GenerationType = "leetcode_project"
	GenerationInterview GenerationType = "interview_project"
)

// Valid reports whether t is a known generation type.
func (t GenerationType) Valid() bool {
	switch t {
	case GenerationVue, GenerationLeetCode, GenerationInterview:
		return true
	}
	return false
}

// OrDefault returns t, or GenerationVue when t is empty.
func (t GenerationType) OrDefault() GenerationType {
	if t == "" {
		return GenerationVue
	}
	return t
}

// ProjectDirName returns "{generationType}_{appId}".
func ProjectDirName(t GenerationType, appID int64) string {
	return fmt.Sprintf("%s_%d", t.OrDefault(), appID)
}

// ProjectDir returns the generated project directory under root.
func ProjectDir(root string, t GenerationType, appID int64) string {
	return filepath.Join(root, ProjectDirName(t, appID))
}

// DistDir is the build artifact directory of a project.
func DistDir(projectDir string) string {
	return filepath.Join(projectDir, "dist")
}

// ElementInfo describes a UI element the user selected for a scoped edit.
type ElementInfo struct {
	TagName     string `json:"tagName,omitempty"`
	ID          string `json:"id,omitempty"`
	ClassName   string `json:"className,omitempty"`
	TextContent string `json:"textContent,omitempty"`
	Selector    string `json:"selector,omitempty"`
	PagePath    string `json:"pagePath,omitempty"`
}

// Format renders the element as a bullet list for prompts.
func (e *ElementInfo) Format() string {
	if e == nil {
		return ""
	}
	var sb strings.Builder
	line := func(label, value string) {
		if strings.TrimSpace(value) != "" {
			sb.WriteString("- " + label + ": " + value + "\n")
		}
	}
	line("Tag", strings.ToLower(e.TagName))
	line("Selector", e.Selector)
	line("ID", e.ID)
	line("Class", e.ClassName)
	text := e.TextContent
	if len(text) > 100 {
		text = text[:100] + "..."
	}
	line("Text", text)
	line("Page", e.PagePath)
	return sb.String()
}

// QualityResult is the outcome of a build check.
type QualityResult struct {
	IsValid     bool     `json:"isValid"`
	Errors      []string `json:"errors,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`

	// Forced marks a result declared valid because the fix budget ran out.
	Forced bool `json:"forced,omitempty"`
}

// ImageCategory tags collected assets.
type ImageCategory string

const (
	CategoryContent      ImageCategory = "CONTENT"
	CategoryIllustration ImageCategory = "ILLUSTRATION"
	CategoryArchitecture ImageCategory = "ARCHITECTURE"
	CategoryLogo         ImageCategory = "LOGO"
)

// ImageResource is a collected asset.
type ImageResource struct {
	Category    ImageCategory `json:"category"`
	Description string        `json:"description"`
	URL         string        `json:"url"`
}

// ImageSearchTask asks for stock photos.
type ImageSearchTask struct {
	Query       string `json:"query"`
	Description string `json:"description,omitempty"`
}

// IllustrationTask asks for flat illustrations.
type IllustrationTask struct {
	Query       string `json:"query"`
	Description string `json:"description,omitempty"`
}

// DiagramTask asks for a rendered Mermaid diagram.
type DiagramTask struct {
	MermaidCode string `json:"mermaidCode"`
	Description string `json:"description,omitempty"`
}

// LogoTask asks for a generated logo.
type LogoTask struct {
	Description string `json:"description"`
}

// ImageCollectionPlan partitions asset collection by category. It is written
// once by the planning node and only read by the collectors.
type ImageCollectionPlan struct {
	ContentImageTasks []ImageSearchTask  `json:"contentImageTasks,omitempty"`
	IllustrationTasks []IllustrationTask `json:"illustrationTasks,omitempty"`
	DiagramTasks      []DiagramTask      `json:"diagramTasks,omitempty"`
	LogoTasks         []LogoTask         `json:"logoTasks,omitempty"`
}

// TaskCount returns the number of tasks across all categories.
func (p *ImageCollectionPlan) TaskCount() int {
	if p == nil {
		return 0
	}
	return len(p.ContentImageTasks) + len(p.IllustrationTasks) + len(p.DiagramTasks) + len(p.LogoTasks)
}

// SQLStatement is one planned database change.
type SQLStatement struct {
	Type        string `json:"type"`
	SQL         string `json:"sql"`
	Description string `json:"description,omitempty"`
}

// FileModificationGuide tells the code modifier what to do with one file.
type FileModificationGuide struct {
	Path       string   `json:"path"`
	Type       string   `json:"type"`
	Operations []string `json:"operations,omitempty"`
	Reason     string   `json:"reason,omitempty"`
}

// ModificationPlan is the structured output of the modification planner.
type ModificationPlan struct {
	Analysis      string                  `json:"analysis,omitempty"`
	Strategy      string                  `json:"strategy,omitempty"`
	SQLStatements []SQLStatement          `json:"sqlStatements"`
	FilesToModify []FileModificationGuide `json:"filesToModify"`
}

// SQLExecutionResult records the outcome of one executed statement.
type SQLExecutionResult struct {
	SQL     string `json:"sql"`
	Success bool   `json:"success"`
	Result  string `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Context is the state threaded through every node of one execution. It is
// also the streaming mailbox: Emit* methods push into the sink registered for
// ExecutionID.
//
// Fan-out branches share one Context and must only write their own field.
type Context struct {
	ExecutionID string `json:"executionId"`
	AppID       int64  `json:"appId"`

	OriginalPrompt  string       `json:"originalPrompt"`
	ElementInfo     *ElementInfo `json:"elementInfo,omitempty"`
	DatabaseEnabled bool         `json:"databaseEnabled"`
	DatabaseSchema  string       `json:"databaseSchema,omitempty"`

	OperationMode  OperationMode  `json:"operationMode,omitempty"`
	IntentType     IntentType     `json:"intentType,omitempty"`
	GenerationType GenerationType `json:"generationType"`
	CurrentStep    string         `json:"currentStep,omitempty"`

	EnhancedPrompt      string               `json:"enhancedPrompt,omitempty"`
	ProjectStructure    string               `json:"projectStructure,omitempty"`
	ImageCollectionPlan *ImageCollectionPlan `json:"imageCollectionPlan,omitempty"`

	// One field per collector branch.
	ContentImages []ImageResource `json:"contentImages,omitempty"`
	Illustrations []ImageResource `json:"illustrations,omitempty"`
	Diagrams      []ImageResource `json:"diagrams,omitempty"`
	Logos         []ImageResource `json:"logos,omitempty"`

	ImageList    []ImageResource `json:"imageList,omitempty"`
	ImageListStr string          `json:"imageListStr,omitempty"`

	ModificationPlan     *ModificationPlan    `json:"modificationPlan,omitempty"`
	SQLExecutionResults  []SQLExecutionResult `json:"sqlExecutionResults,omitempty"`
	LatestDatabaseSchema string               `json:"latestDatabaseSchema,omitempty"`

	QualityResult *QualityResult `json:"qualityResult,omitempty"`
	FixRetryCount int            `json:"fixRetryCount"`

	GeneratedCodeDir string `json:"generatedCodeDir,omitempty"`
	BuildResultDir   string `json:"buildResultDir,omitempty"`
	ErrorMessage     string `json:"errorMessage,omitempty"`

	Monitor *MonitorContext `json:"monitor,omitempty"`

	registry *Registry
}

// NewContext creates the context for one execution. The execution id is fixed
// for the lifetime of the context.
func NewContext(executionID string, appID int64, registry *Registry) *Context {
	if registry == nil {
		registry = DefaultRegistry
	}
	return &Context{
		ExecutionID:    executionID,
		AppID:          appID,
		GenerationType: GenerationVue,
		CurrentStep:    "init",
		registry:       registry,
	}
}

// Registry returns the sink registry the context emits into.
func (c *Context) Registry() *Registry {
	if c.registry == nil {
		return DefaultRegistry
	}
	return c.registry
}

// HasSQLFailure reports whether any executed statement failed.
func (c *Context) HasSQLFailure() bool {
	for _, r := range c.SQLExecutionResults {
		if !r.Success {
			return true
		}
	}
	return false
}

// EffectiveSchema prefers the schema refreshed after SQL execution.
func (c *Context) EffectiveSchema() string {
	if strings.TrimSpace(c.LatestDatabaseSchema) != "" {
		return c.LatestDatabaseSchema
	}
	return c.DatabaseSchema
}

// Fail records a node-fatal failure: the message is kept on the context and an
// error event is streamed. The node is expected to return normally.
func (c *Context) Fail(node string, err error) {
	c.ErrorMessage = fmt.Sprintf("%s failed: %v", node, err)
	c.EmitNodeError(node, err.Error())
}

// RestoreMonitor returns ctx carrying the context's monitor value. Nodes call
// it on entry; the value goes out of scope with ctx when the node returns.
func (c *Context) RestoreMonitor(ctx context.Context) context.Context {
	if c.Monitor == nil {
		return ctx
	}
	return WithMonitor(ctx, *c.Monitor)
}
