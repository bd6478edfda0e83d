package agent

import (
	"regexp"
	"strings"
	"sync"
)

var (
	completeRE = regexp.MustCompile(`(?i)===\s*TICKET\s+T\d+\s+COMPLETE\s*===`)
	blockedRE  = regexp.MustCompile(`(?i)===\s*TICKET\s+T\d+\s+BLOCKED:\s*(.+?)\s*===`)

	toolCallPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)Using\s+(\w+)\s+tool(?::\s*(.*))?`),
		regexp.MustCompile(`<tool>(\w+)</tool>`),
		regexp.MustCompile(`<invoke\s+name="([^"]+)"`),
		regexp.MustCompile(`(?i)Reading\s+(\S+)`),
		regexp.MustCompile(`(?i)Writing\s+(?:to\s+)?(\S+)`),
		regexp.MustCompile(`(?i)(?:Running|Executing):\s*(.+)`),
	}

	inputTokensRE  = regexp.MustCompile(`input_tokens=(\d+)`)
	outputTokensRE = regexp.MustCompile(`output_tokens=(\d+)`)

	readingRE     = regexp.MustCompile(`(?i)reading|analyzing|searching`)
	implementingRE = regexp.MustCompile(`(?i)implementing|writing|editing`)
	testingRE     = regexp.MustCompile(`(?i)test|typecheck|validation`)
	passRE        = regexp.MustCompile(`(?i)\bpass(ed|ing)?\b`)
)

// ToolCall is one deduplicated tool invocation observed in the stream.
type ToolCall struct {
	Tool string
	Arg  string
}

// ParsedOutput is the derived state recomputed on every appended chunk.
type ParsedOutput struct {
	Complete     bool
	Blocked      bool
	BlockedMsg   string
	ToolCalls    []ToolCall
	InputTokens  int
	OutputTokens int
	Cost         float64
	Progress     int
}

// StreamingOutputBuffer accumulates subprocess output and recomputes
// ParsedOutput on every Append. Grounded on zulandar's logWriter.onWrite
// hook, generalized from "flush a raw buffer" to "recompute a parsed
// struct" — the marker/tool-call/token vocabulary itself is spec-given,
// not teacher code.
type StreamingOutputBuffer struct {
	mu        sync.Mutex
	rates     CostRates
	raw       strings.Builder
	seenTools map[string]bool
	parsed    ParsedOutput
}

// NewStreamingOutputBuffer constructs an empty buffer using rates to
// derive cost from accumulated token counts.
func NewStreamingOutputBuffer(rates CostRates) *StreamingOutputBuffer {
	return &StreamingOutputBuffer{rates: rates, seenTools: make(map[string]bool)}
}

// Append feeds one chunk of subprocess output into the buffer and returns
// the freshly recomputed ParsedOutput snapshot.
func (b *StreamingOutputBuffer) Append(chunk string) ParsedOutput {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.raw.WriteString(chunk)

	if completeRE.MatchString(chunk) {
		b.parsed.Complete = true
	}
	if m := blockedRE.FindStringSubmatch(chunk); m != nil {
		b.parsed.Blocked = true
		b.parsed.BlockedMsg = strings.TrimSpace(m[1])
	}

	for _, re := range toolCallPatterns {
		for _, m := range re.FindAllStringSubmatch(chunk, -1) {
			tool := strings.TrimSpace(m[1])
			arg := ""
			if len(m) > 2 {
				arg = strings.TrimSpace(m[2])
			}
			key := tool + "|" + arg
			if tool != "" && !b.seenTools[key] {
				b.seenTools[key] = true
				b.parsed.ToolCalls = append(b.parsed.ToolCalls, ToolCall{Tool: tool, Arg: arg})
			}
		}
	}

	for _, m := range inputTokensRE.FindAllStringSubmatch(chunk, -1) {
		b.parsed.InputTokens += atoiSafe(m[1])
	}
	for _, m := range outputTokensRE.FindAllStringSubmatch(chunk, -1) {
		b.parsed.OutputTokens += atoiSafe(m[1])
	}
	b.parsed.Cost = b.rates.Cost(b.parsed.InputTokens, b.parsed.OutputTokens)

	b.parsed.Progress = b.computeProgress()

	return b.parsed
}

// computeProgress applies the heuristic from §4.7.1 against the entire
// accumulated output rather than the latest chunk, so the result doesn't
// depend on how the caller happens to split the stream into chunks. Must be
// called with b.mu held.
func (b *StreamingOutputBuffer) computeProgress() int {
	if b.parsed.Complete {
		return 100
	}

	accumulated := b.raw.String()

	progress := 5 * len(b.parsed.ToolCalls)
	if progress > 50 {
		progress = 50
	}

	raise := func(p int) {
		if p > progress {
			progress = p
		}
	}
	if readingRE.MatchString(accumulated) {
		raise(10)
	}
	if implementingRE.MatchString(accumulated) {
		raise(30)
	}
	if testingRE.MatchString(accumulated) {
		raise(70)
	}
	if passRE.MatchString(accumulated) {
		raise(85)
	}

	if b.parsed.Blocked && progress > 90 {
		progress = 90
	} else if !b.parsed.Blocked && progress > 95 {
		progress = 95
	}
	return progress
}

// LastChars returns the last n characters seen so far.
func (b *StreamingOutputBuffer) LastChars(n int) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.raw.String()
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// Full returns the entire accumulated output.
func (b *StreamingOutputBuffer) Full() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.raw.String()
}

func atoiSafe(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return n
		}
		n = n*10 + int(c-'0')
	}
	return n
}
