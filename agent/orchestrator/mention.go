package orchestrator

import "strings"

var clearCommands = map[string]struct{}{
	"clear":                 {},
	"clear patient":         {},
	"clear context":         {},
	"clear patient context": {},
}

// IsClearCommand reports whether text is one of the clear commands.
func IsClearCommand(text string) bool {
	_, ok := clearCommands[strings.ToLower(strings.TrimSpace(text))]
	return ok
}

// ParseMention returns the roster name addressed by a "Name: text" prefix,
// matched case-insensitively, or "" when there is none.
func ParseMention(text string, roster []string) string {
	head, _, found := strings.Cut(text, ":")
	if !found {
		return ""
	}
	candidate := strings.TrimPrefix(strings.TrimSpace(head), "@")
	for _, name := range roster {
		if strings.EqualFold(name, candidate) {
			return name
		}
	}
	return ""
}
