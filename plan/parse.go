package plan

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/petestewart/orch-sub001/errs"
)

var ticketHeadingRE = regexp.MustCompile(`(?i)^Ticket:\s*(T\d+)\s+(.+)$`)

// knownLabels lists the bold-field labels the parser understands natively;
// anything else becomes an UnknownField preserved verbatim on write.
var knownLabels = map[string]bool{
	"Priority":           true,
	"Status":             true,
	"Owner":               true,
	"Epic":                true,
	"Dependencies":        true,
	"Acceptance Criteria": true,
	"Validation Steps":    true,
	"Notes":               true,
	"Feedback":            true,
}

// ParseMarkdown parses raw into a Snapshot by walking goldmark's AST: each
// H3 heading matching "Ticket: T<digits> <title>" opens a ticket section;
// subsequent paragraphs/lists up to the next heading of level <= 3 are its
// body. Bold-label paragraphs ("**Priority:** P0") are recognized by
// inspecting the paragraph's leading ast.Strong inline node.
func ParseMarkdown(raw []byte) (*Snapshot, error) {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(raw))

	var tickets []*Ticket
	var cur *Ticket
	var pendingListLabel string // "Acceptance Criteria" or "Validation Steps" awaiting its list

	var child ast.Node
	for child = doc.FirstChild(); child != nil; child = child.NextSibling() {
		switch n := child.(type) {
		case *ast.Heading:
			text := headingText(n, raw)
			if n.Level <= 3 {
				if m := ticketHeadingRE.FindStringSubmatch(text); n.Level == 3 && m != nil {
					if cur != nil {
						tickets = append(tickets, cur)
					}
					cur = &Ticket{
						ID:       NormalizedID(m[1]),
						Title:    strings.TrimSpace(m[2]),
						Status:   StatusTodo,
						Priority: PriorityP2,
					}
					pendingListLabel = ""
					continue
				}
				// A heading of level <= 3 that isn't a ticket heading closes
				// whatever section is open (e.g. an "## Epics" heading).
				if cur != nil {
					tickets = append(tickets, cur)
					cur = nil
				}
				pendingListLabel = ""
				continue
			}
		case *ast.Paragraph:
			if cur == nil {
				continue
			}
			label, value, isBold := paragraphLabelValue(n, raw)
			if !isBold {
				pendingListLabel = ""
				if text := plainParagraphText(n, raw); text != "" {
					if cur.Description != "" {
						cur.Description += "\n\n"
					}
					cur.Description += text
				}
				continue
			}
			switch label {
			case "Acceptance Criteria", "Validation Steps":
				pendingListLabel = label
			case "Priority":
				cur.Priority = Priority(strings.TrimSpace(value))
				pendingListLabel = ""
			case "Status":
				cur.Status = Status(strings.TrimSpace(value))
				pendingListLabel = ""
			case "Owner":
				cur.Owner = strings.TrimSpace(value)
				pendingListLabel = ""
			case "Epic":
				cur.Epic = strings.TrimSpace(value)
				pendingListLabel = ""
			case "Dependencies":
				cur.Dependencies = splitDependencies(value)
				pendingListLabel = ""
			case "Notes":
				cur.Notes = strings.TrimSpace(value)
				pendingListLabel = ""
			case "Feedback":
				cur.Feedback = strings.TrimSpace(value)
				pendingListLabel = ""
			default:
				cur.UnknownFields = append(cur.UnknownFields, UnknownField{Label: label, Value: strings.TrimSpace(value)})
				pendingListLabel = ""
			}
		case *ast.List:
			if cur == nil || pendingListLabel == "" {
				continue
			}
			items := listItems(n, raw)
			switch pendingListLabel {
			case "Acceptance Criteria":
				cur.Acceptance = items
			case "Validation Steps":
				cur.Validation = items
			}
			pendingListLabel = ""
		}
	}
	if cur != nil {
		tickets = append(tickets, cur)
	}

	if err := validateTickets(tickets); err != nil {
		return nil, err
	}

	epics := deriveEpics(tickets)

	return &Snapshot{Tickets: tickets, Epics: epics, RawContent: string(raw)}, nil
}

// headingText returns the flattened text content of a heading node.
func headingText(n *ast.Heading, raw []byte) string {
	var sb strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		writeInlineText(&sb, c, raw)
	}
	return sb.String()
}

// paragraphLabelValue inspects a paragraph for a leading ast.Strong child
// ("**Label:**" or "**Label**") and returns the label (colon stripped) and
// the remaining paragraph text as the value.
func paragraphLabelValue(n *ast.Paragraph, raw []byte) (label, value string, isBold bool) {
	first := n.FirstChild()
	strong, ok := first.(*ast.Emphasis)
	if !ok || strong.Level != 2 {
		return "", "", false
	}
	var labelSB strings.Builder
	for c := strong.FirstChild(); c != nil; c = c.NextSibling() {
		writeInlineText(&labelSB, c, raw)
	}
	label = strings.TrimSuffix(strings.TrimSpace(labelSB.String()), ":")

	var valueSB strings.Builder
	for c := strong.NextSibling(); c != nil; c = c.NextSibling() {
		writeInlineText(&valueSB, c, raw)
	}
	value = strings.TrimPrefix(strings.TrimSpace(valueSB.String()), ":")
	value = strings.TrimSpace(value)
	return label, value, true
}

// plainParagraphText flattens a non-bold-label paragraph's text content,
// for capture into Ticket.Description (§4.7.2's "the task body").
func plainParagraphText(n *ast.Paragraph, raw []byte) string {
	var sb strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		writeInlineText(&sb, c, raw)
	}
	return strings.TrimSpace(sb.String())
}

// writeInlineText flattens an inline node's text content into sb.
func writeInlineText(sb *strings.Builder, n ast.Node, raw []byte) {
	if txt, ok := n.(*ast.Text); ok {
		sb.Write(txt.Segment.Value(raw))
		return
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		writeInlineText(sb, c, raw)
	}
}

// listItems flattens a bullet list's items ("- foo") into a string slice.
func listItems(n *ast.List, raw []byte) []string {
	var out []string
	for item := n.FirstChild(); item != nil; item = item.NextSibling() {
		var sb strings.Builder
		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			writeInlineText(&sb, c, raw)
		}
		line := strings.TrimSpace(sb.String())
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func splitDependencies(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, NormalizedID(p))
		}
	}
	return out
}

// validateTickets enforces the unique-dependency / no-self-reference /
// known-reference invariants named in §3.
func validateTickets(tickets []*Ticket) error {
	byID := make(map[string]*Ticket, len(tickets))
	for _, t := range tickets {
		if _, dup := byID[t.ID]; dup {
			return &errs.PlanParseError{Message: fmt.Sprintf("duplicate ticket id %s", t.ID)}
		}
		byID[t.ID] = t
	}
	for _, t := range tickets {
		seen := make(map[string]bool, len(t.Dependencies))
		for _, dep := range t.NormalizedDependencies() {
			if dep == t.ID {
				return &errs.PlanParseError{Message: fmt.Sprintf("ticket %s depends on itself", t.ID)}
			}
			if seen[dep] {
				return &errs.PlanParseError{Message: fmt.Sprintf("ticket %s: duplicate dependency %s", t.ID, dep)}
			}
			seen[dep] = true
			if _, ok := byID[dep]; !ok {
				return &errs.PlanParseError{Message: fmt.Sprintf("ticket %s: unknown dependency %s", t.ID, dep)}
			}
		}
	}
	return nil
}

// deriveEpics collects the unique epic names referenced by tickets, using
// the epic name itself as the default relative path.
func deriveEpics(tickets []*Ticket) []*Epic {
	seen := make(map[string]bool)
	var epics []*Epic
	for _, t := range tickets {
		if t.Epic == "" || seen[t.Epic] {
			continue
		}
		seen[t.Epic] = true
		epics = append(epics, &Epic{Name: t.Epic, Path: t.Epic})
	}
	return epics
}
