package agent

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// templateFuncs mirrors agents/spawner.go's custom template function set;
// "title" and "join" are the ones actually exercised by the prompt bodies
// below.
var templateFuncs = template.FuncMap{
	"title": cases.Title(language.English).String,
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"join":  strings.Join,
}

const completionMarkerTmpl = "=== TICKET {{.Ticket.ID}} COMPLETE ==="
const blockedMarkerTmpl = `=== TICKET {{.Ticket.ID}} BLOCKED: <reason> ===`

// implementationTmpl is the Implementation prompt body. Built with
// text/template the way agents/spawner.go's renderPrompt works, but the
// template source is an in-code constant per AgentType rather than a
// prompts/*.md file, since the spec fully specifies each prompt's shape
// in §4.7.2 rather than delegating to prompt-file authoring.
const implementationTmpl = `# {{title "ticket"}} {{.Ticket.ID}}: {{.Ticket.Title}}

## Context
- Project path: {{.ProjectPath}}
- Working directory: {{.WorkingDir}}
- Priority: {{.Ticket.Priority}}
{{- if .Ticket.Epic}}
- Epic: {{.Ticket.Epic}}
{{- end}}
{{- if .Branch}}

## Git Context
You are working on branch '{{.Branch}}'. Commit your work to this branch,
not the mainline.
{{- end}}

## Task
{{if .Ticket.Description}}{{.Ticket.Description}}{{else}}{{.Ticket.Title}}{{end}}

{{- if .Ticket.Acceptance}}

## Acceptance Criteria
{{- range .Ticket.Acceptance}}
- {{.}}
{{- end}}
{{- end}}

{{- if .Ticket.Validation}}

## Validation Steps
{{- range .Ticket.Validation}}
- {{.}}
{{- end}}
{{- end}}

{{- if .Ticket.Dependencies}}

## Dependencies
{{join .Ticket.Dependencies ", "}}
{{- end}}

{{- if .Ticket.Notes}}

## Notes
{{.Ticket.Notes}}
{{- end}}

{{- if .PrevFeedback}}

## Previous Feedback
{{.PrevFeedback}}
{{- end}}

## Constraints
- Stay within the scope of this ticket.
- Run the validation steps above before reporting completion.
{{- if .Branch}}
- Commit your work to branch '{{.Branch}}'.
{{- end}}

When finished, print exactly:
` + completionMarkerTmpl + `

If you cannot proceed, print exactly:
` + blockedMarkerTmpl

const reviewTmpl = `# Review {{.Ticket.ID}}: {{.Ticket.Title}}

Review the implementation in {{.WorkingDir}} against the acceptance
criteria below. Approve only if every criterion is met.

## Acceptance Criteria
{{- range .Ticket.Acceptance}}
- {{.}}
{{- end}}

When finished, print your decision on its own line, either APPROVED or
CHANGES_REQUESTED, and then print exactly:
` + completionMarkerTmpl + `

If you cannot complete the review, print exactly:
` + blockedMarkerTmpl

const qaTmpl = `# QA {{.Ticket.ID}}: {{.Ticket.Title}}

Run the validation steps below against the implementation in
{{.WorkingDir}} and report any failures.

## Validation Steps
{{- range .Ticket.Validation}}
- {{.}}
{{- end}}

When finished, print your result on its own line, either PASSED or
FAILED, and then print exactly:
` + completionMarkerTmpl + `

If you cannot run the validation steps, print exactly:
` + blockedMarkerTmpl

var promptBodies = map[Type]string{
	TypeImplementation: implementationTmpl,
	TypeRefine:         implementationTmpl,
	TypeReview:         reviewTmpl,
	TypeQA:             qaTmpl,
}

// promptTemplateData is what the templates above range/index over.
type promptTemplateData struct {
	Ticket       TicketView
	ProjectPath  string
	WorkingDir   string
	Branch       string
	PrevFeedback string
}

// BuildPrompt renders the prompt body for opts.AgentType.
func BuildPrompt(opts SpawnOptions) (string, error) {
	body, ok := promptBodies[opts.AgentType]
	if !ok {
		return "", fmt.Errorf("agent: unknown agent type %q", opts.AgentType)
	}
	tmpl, err := template.New("prompt").Funcs(templateFuncs).Parse(body)
	if err != nil {
		return "", fmt.Errorf("agent: parse prompt template: %w", err)
	}
	var buf bytes.Buffer
	data := promptTemplateData{
		Ticket:       opts.Ticket,
		ProjectPath:  opts.ProjectPath,
		WorkingDir:   opts.WorkingDir,
		Branch:       opts.Branch,
		PrevFeedback: opts.PrevFeedback,
	}
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("agent: render prompt: %w", err)
	}
	return buf.String(), nil
}

// CompletionMarker returns the literal marker a ticket's agent must print.
func CompletionMarker(ticketID string) string {
	return fmt.Sprintf("=== TICKET %s COMPLETE ===", ticketID)
}
