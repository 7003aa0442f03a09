package transcript

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultPortalName    = "SAMRIDDHI PORTAL - CHAT HISTORY"
	defaultAssistantName = "SAMRIDDHI SAHAYAK"

	entryTimeLayout     = "3:04:05 PM"
	generatedTimeLayout = "1/2/2006, 3:04:05 PM"
)

// ExportOptions controls the flat text rendering of a transcript.
type ExportOptions struct {
	PortalName    string
	AssistantName string
	LanguageLabel string
	Location      *time.Location
	GeneratedAt   time.Time
}

// Export renders entries as the downloadable chat log: header lines, a blank
// line, then one "[time] SPEAKER: content" block per entry separated by blank lines.
func Export(entries []Entry, opts ExportOptions) string {
	if opts.PortalName == "" {
		opts.PortalName = defaultPortalName
	}
	if opts.AssistantName == "" {
		opts.AssistantName = defaultAssistantName
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	generated := opts.GeneratedAt
	if generated.IsZero() {
		generated = time.Now()
	}

	var b strings.Builder
	b.WriteString(opts.PortalName)
	b.WriteByte('\n')
	fmt.Fprintf(&b, "Generated: %s\n", generated.In(loc).Format(generatedTimeLayout))
	fmt.Fprintf(&b, "Language: %s\n", opts.LanguageLabel)
	b.WriteByte('\n')

	for i, e := range entries {
		if i > 0 {
			b.WriteString("\n\n")
		}
		speaker := string(SpeakerCitizen)
		if e.Speaker == SpeakerAssistant {
			speaker = opts.AssistantName
		}
		fmt.Fprintf(&b, "[%s] %s: %s", e.CreatedAt.In(loc).Format(entryTimeLayout), speaker, e.Content())
	}
	return b.String()
}

// Filename is the suggested download name for an export generated at t,
// dated in UTC.
func Filename(t time.Time) string {
	return fmt.Sprintf("Samriddhi_Chat_Log_%s.txt", t.UTC().Format("2006-01-02"))
}
