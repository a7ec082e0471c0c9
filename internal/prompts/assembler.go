package prompts

import "strings"

// Slots holds the named sections of a structured prompt. Any subset may
// be left empty; [Assemble] renders only the sections that have text.
type Slots struct {
	TaskContext              string
	BackgroundData           string
	DetailedTaskInstructions string
	Examples                 string
	OutputFormatting         string
	ConversationHistory      string
	FinalRequest             string
}

type section struct {
	header string
	body   string
}

// sections returns the slots in their fixed render order.
func (s Slots) sections() []section {
	return []section{
		{"Task Context", s.TaskContext},
		{"Background Data", s.BackgroundData},
		{"Detailed Task Instructions", s.DetailedTaskInstructions},
		{"Examples", s.Examples},
		{"Output Formatting", s.OutputFormatting},
		{"Conversation History", s.ConversationHistory},
		{"Final Request", s.FinalRequest},
	}
}

// Assemble renders slots as markdown sections in a fixed order. Each
// non-empty slot becomes a "## Header" line followed by its text, and
// sections are separated by a blank line. Whitespace-only slots are
// omitted along with their header.
func Assemble(s Slots) string {
	var b strings.Builder
	for _, sec := range s.sections() {
		body := strings.TrimSpace(sec.body)
		if body == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## ")
		b.WriteString(sec.header)
		b.WriteString("\n")
		b.WriteString(body)
	}
	return b.String()
}
