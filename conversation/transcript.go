// ABOUTME: Renders a session's history as a standalone HTML transcript.
// ABOUTME: Message bodies are treated as markdown; raw HTML in them is dropped by goldmark.

package conversation

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/2389-research/buddy/llm"
)

var transcriptTemplate = template.Must(template.New("transcript").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Buddy session {{.SessionID}}</title>
</head>
<body>
<h1>Session {{.SessionID}}</h1>
{{- range .Entries}}
<section class="message {{.Role}}">
<h2>{{.Label}}</h2>
{{.Body}}
</section>
{{- else}}
<p class="empty">No messages yet.</p>
{{- end}}
</body>
</html>
`))

type transcriptEntry struct {
	Role  string
	Label string
	Body  template.HTML
}

// RenderTranscript renders msgs as an HTML page.
func RenderTranscript(sessionID string, msgs []llm.Message) (string, error) {
	md := goldmark.New()
	entries := make([]transcriptEntry, 0, len(msgs))
	for _, m := range msgs {
		body := m.Content
		if m.Role == llm.RoleAssistant && len(m.ToolCalls) > 0 {
			names := make([]string, 0, len(m.ToolCalls))
			for _, tc := range m.ToolCalls {
				names = append(names, "`"+tc.Name+"`")
			}
			body = strings.TrimSpace(body + "\n\nCalled " + strings.Join(names, ", "))
		}

		var buf bytes.Buffer
		if err := md.Convert([]byte(body), &buf); err != nil {
			return "", fmt.Errorf("render message: %w", err)
		}
		entries = append(entries, transcriptEntry{
			Role:  string(m.Role),
			Label: label(m),
			Body:  template.HTML(buf.String()),
		})
	}

	var out bytes.Buffer
	err := transcriptTemplate.Execute(&out, struct {
		SessionID string
		Entries   []transcriptEntry
	}{sessionID, entries})
	if err != nil {
		return "", fmt.Errorf("execute transcript template: %w", err)
	}
	return out.String(), nil
}

func label(m llm.Message) string {
	switch m.Role {
	case llm.RoleUser:
		return "You"
	case llm.RoleAssistant:
		return "Buddy"
	case llm.RoleTool:
		if m.Name != "" {
			return "Tool: " + m.Name
		}
		return "Tool"
	default:
		return string(m.Role)
	}
}
