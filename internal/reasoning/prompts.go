package reasoning

import (
	"embed"
	"strings"
)

//go:embed prompts/*.md
var promptFS embed.FS

// SystemPrompt returns the system instruction for task.
func SystemPrompt(task Task) string {
	data, err := promptFS.ReadFile("prompts/" + string(task) + ".md")
	if err != nil {
		panic("reasoning: no prompt for task " + string(task))
	}
	return strings.TrimSpace(string(data))
}

// StripFence removes a surrounding markdown code fence some models add
// around JSON answers.
func StripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
