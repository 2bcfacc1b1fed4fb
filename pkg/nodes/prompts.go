package nodes

import "github.com/codemother/codemother/pkg/workflow"

const intentSystemPrompt = `You classify a message a user sent about an existing web project.
Answer MODIFY when the user wants the code, layout, content, style or data changed.
Answer QA when the user asks a question about the project and expects an explanation.
Reply with exactly one word: MODIFY or QA.`

const imagePlanSystemPrompt = `You plan the images a generated website needs.
Return a single JSON object and nothing else:
{
  "contentImageTasks": [{"query": "english stock photo query", "description": "where it is used"}],
  "illustrationTasks": [{"query": "english illustration query", "description": "where it is used"}],
  "diagramTasks": [{"mermaidCode": "flowchart TD ...", "description": "what it shows"}],
  "logoTasks": [{"description": "logo design brief"}]
}
Use at most 10 content images, 10 illustrations, 5 diagrams and 3 logos.
Leave a list empty when the site does not need that kind of image.
Only plan diagrams when the site explains a process or an architecture.`

const modificationPlanSystemPrompt = `You plan a change to an existing Vue 3 + Vite project.
Return a single JSON object and nothing else:
{
  "analysis": "what the user wants",
  "strategy": "how to implement it",
  "sqlStatements": [{"type": "DDL|DML|DQL", "sql": "...", "description": "..."}],
  "filesToModify": [{"path": "src/...", "type": "CREATE|MODIFY|DELETE", "operations": ["..."], "reason": "..."}]
}
Only plan SQL when a database is available and the change needs it.
Paths are relative to the project root. Never plan changes to package.json,
vite.config.js, src/main.js or index.html.`

const qaSystemPrompt = `You answer questions about a generated Vue 3 + Vite project.
Ground the answer in the project structure you are given. Be concise and do
not modify anything.`

const animationAdvisorSystemPrompt = `You are an algorithm visualisation designer.
Given a coding problem, describe how each solution should be animated step by
step: the data structures on screen, what moves or changes colour at each
step, and which variables are shown. Keep the advice concrete and short.`

const interviewAdvisorSystemPrompt = `You design visual explanations for technical interview topics.
Given a topic, describe the diagrams, comparisons and step-by-step flows that
explain it best, and the order to present them in. Keep the advice concrete
and short.`

const editorRules = `
Rules:
- Use the file tools for every change; never answer with code blocks.
- Paths are relative to the project root.
- Never modify package.json, vite.config.js, src/main.js or index.html.
- Import components with the @ alias, for example @/components/Header.vue.`

const vueGeneratorSystemPrompt = `You are a senior frontend engineer building a Vue 3 + Vite website.
The project template is already in place. Write the application under src/:
App.vue, pages, components, router and styles. Use the images you are given
by URL; you may search for more with the image tools.` + editorRules

const leetcodeGeneratorSystemPrompt = `You build an animated explanation of a coding problem with Vue 3 + Vite.
The project template is already in place. Only write src/data/ and
src/components/visualizations/.` + editorRules

const interviewGeneratorSystemPrompt = `You build a visual explanation of a technical interview topic with Vue 3 + Vite.
The project template is already in place. Only write src/data/ and
src/components/visualizations/.` + editorRules

const modifierSystemPrompt = `You modify an existing Vue 3 + Vite website.
Read the files you need before changing them, change only what the request
requires and keep the existing style.` + editorRules

const fixerSystemPrompt = `You fix build errors reported by npm run build in a Vue 3 + Vite project.
First list the problems you will fix, then fix them one by one. Only fix the
reported errors; do not refactor unrelated code.` + editorRules

func generatorSystemPrompt(t workflow.GenerationType) string {
	switch t {
	case workflow.GenerationLeetCode:
		return leetcodeGeneratorSystemPrompt
	case workflow.GenerationInterview:
		return interviewGeneratorSystemPrompt
	default:
		return vueGeneratorSystemPrompt
	}
}
