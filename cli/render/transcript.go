package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/pithecene-io/conduit/types"
)

// Transcript writes messages as a readable conversation.
// Safe for concurrent use.
type Transcript struct {
	mu      sync.Mutex
	out     io.Writer
	noColor bool
	// printed tracks how much text of each message has been streamed.
	printed map[string]int
}

// NewTranscript creates a transcript writer.
func NewTranscript(out io.Writer, noColor bool) *Transcript {
	return &Transcript{out: out, noColor: noColor, printed: make(map[string]int)}
}

func (t *Transcript) style(s lipgloss.Style, text string) string {
	if t.noColor {
		return text
	}
	return s.Render(text)
}

// Message writes one complete message.
func (t *Transcript) Message(m types.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeMessage(m)
}

// Messages writes every message in order.
func (t *Transcript) Messages(msgs []types.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range msgs {
		t.writeMessage(m)
	}
}

func (t *Transcript) writeMessage(m types.Message) {
	fmt.Fprintln(t.out, t.label(m.Role))
	for _, p := range m.Parts {
		switch p.Type {
		case types.PartText:
			fmt.Fprintln(t.out, p.Text)
		case types.PartReasoning:
			fmt.Fprintln(t.out, t.style(MutedStyle, p.Text))
		case types.PartImage:
			fmt.Fprintln(t.out, t.style(MutedStyle, "[image]"))
		case types.PartToolCall:
			fmt.Fprintln(t.out, t.toolLine(p))
		}
	}
	if line := t.statusLine(m.Status); line != "" {
		fmt.Fprintln(t.out, line)
	}
	t.printed[m.ID] = len(m.Text())
}

// Stream writes the text m has gained since the previous call for the
// same message ID. It returns true if anything was written.
func (t *Transcript) Stream(m types.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	text := m.Text()
	n, seen := t.printed[m.ID]
	if !seen {
		fmt.Fprintln(t.out, t.label(m.Role))
	}
	if len(text) <= n {
		t.printed[m.ID] = n
		return !seen
	}
	fmt.Fprint(t.out, text[n:])
	t.printed[m.ID] = len(text)
	return true
}

// EndStream finishes a streamed message with its tool calls and status.
func (t *Transcript) EndStream(m types.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.printed[m.ID] > 0 {
		fmt.Fprintln(t.out)
	}
	for _, p := range m.ToolCalls() {
		fmt.Fprintln(t.out, t.toolLine(p))
	}
	if line := t.statusLine(m.Status); line != "" {
		fmt.Fprintln(t.out, line)
	}
}

// Notice writes a muted status line.
func (t *Transcript) Notice(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, t.style(MutedStyle, fmt.Sprintf(format, args...)))
}

// Error writes an error line.
func (t *Transcript) Error(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fmt.Fprintln(t.out, t.style(ErrorStyle, "error: "+err.Error()))
}

func (t *Transcript) label(role types.Role) string {
	switch role {
	case types.RoleUser:
		return t.style(UserStyle, "you>")
	case types.RoleAssistant:
		return t.style(AssistantStyle, "agent>")
	default:
		return t.style(MutedStyle, string(role)+">")
	}
}

func (t *Transcript) toolLine(p types.Part) string {
	line := fmt.Sprintf("  -> %s(%s)", p.ToolName, p.ArgsText)
	if p.HasResult {
		result, err := json.Marshal(p.Result)
		if err != nil {
			result = []byte(fmt.Sprint(p.Result))
		}
		arrow := "  <- "
		if p.IsError {
			return t.style(ErrorStyle, line+"\n"+arrow+string(result))
		}
		line += "\n" + arrow + string(result)
	}
	return t.style(ToolStyle, line)
}

func (t *Transcript) statusLine(st types.MessageStatus) string {
	switch st.Type {
	case types.StatusIncomplete:
		parts := []string{"incomplete"}
		if st.Reason != "" {
			parts = append(parts, st.Reason)
		}
		if st.Error != "" {
			parts = append(parts, st.Error)
		}
		return t.style(ErrorStyle, "["+strings.Join(parts, ": ")+"]")
	case types.StatusRequiresAction:
		return t.style(ToolStyle, "[requires action]")
	default:
		return ""
	}
}
