package plan

import (
	"strings"
)

// Serialize renders tickets back into the plan's Markdown grammar. Unknown
// fields are re-emitted right after the Priority/Status/Owner/Epic/
// Dependencies fields, in their original relative order (not necessarily
// at their original position), so that load(write(load(p)))
// round-trips modulo field equality, as required by §8.
func Serialize(tickets []*Ticket) string {
	var sb strings.Builder
	for i, t := range tickets {
		if i > 0 {
			sb.WriteString("\n")
		}
		writeTicket(&sb, t)
	}
	return sb.String()
}

func writeTicket(sb *strings.Builder, t *Ticket) {
	sb.WriteString("### Ticket: ")
	sb.WriteString(t.ID)
	sb.WriteString(" ")
	sb.WriteString(t.Title)
	sb.WriteString("\n\n")

	writeField(sb, "Priority", string(t.Priority))
	writeField(sb, "Status", string(t.Status))
	if t.Owner != "" {
		writeField(sb, "Owner", t.Owner)
	}
	if t.Epic != "" {
		writeField(sb, "Epic", t.Epic)
	}
	if len(t.Dependencies) > 0 {
		writeField(sb, "Dependencies", strings.Join(t.Dependencies, ", "))
	}

	for _, uf := range t.UnknownFields {
		writeField(sb, uf.Label, uf.Value)
	}

	if t.Description != "" {
		sb.WriteString(t.Description)
		sb.WriteString("\n\n")
	}

	if len(t.Acceptance) > 0 {
		sb.WriteString("**Acceptance Criteria**\n\n")
		for _, line := range t.Acceptance {
			sb.WriteString("- ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if len(t.Validation) > 0 {
		sb.WriteString("**Validation Steps**\n\n")
		for _, line := range t.Validation {
			sb.WriteString("- ")
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	if t.Notes != "" {
		writeField(sb, "Notes", t.Notes)
	}

	if t.Feedback != "" {
		writeField(sb, "Feedback", t.Feedback)
	}
}

func writeField(sb *strings.Builder, label, value string) {
	sb.WriteString("**")
	sb.WriteString(label)
	sb.WriteString(":**")
	if value != "" {
		sb.WriteString(" ")
		sb.WriteString(value)
	}
	sb.WriteString("\n\n")
}
