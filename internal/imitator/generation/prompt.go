package generation

import (
	"fmt"
	"strings"
)

// Placeholders recognised in a system prompt template.
const (
	PlaceholderHistory = "chat_history"
	PlaceholderMessage = "user_message"
)

// FormatPrompt substitutes {chat_history} and {user_message} in template.
// "{{" and "}}" produce literal braces. Both placeholders must be present and
// any other {name} is rejected; both cases wrap ErrGeneration.
func FormatPrompt(template, history, message string) (string, error) {
	var b strings.Builder
	b.Grow(len(template) + len(history) + len(message))
	seen := map[string]bool{}

	for i := 0; i < len(template); i++ {
		c := template[i]
		switch c {
		case '{':
			if i+1 < len(template) && template[i+1] == '{' {
				b.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(template[i+1:], '}')
			if end < 0 {
				return "", fmt.Errorf("%w: prompt template: unclosed '{' at offset %d", ErrGeneration, i)
			}
			name := template[i+1 : i+1+end]
			switch name {
			case PlaceholderHistory:
				b.WriteString(history)
			case PlaceholderMessage:
				b.WriteString(message)
			default:
				return "", fmt.Errorf("%w: prompt template: unknown placeholder {%s}", ErrGeneration, name)
			}
			seen[name] = true
			i += end + 1
		case '}':
			if i+1 < len(template) && template[i+1] == '}' {
				b.WriteByte('}')
				i++
				continue
			}
			return "", fmt.Errorf("%w: prompt template: single '}' at offset %d", ErrGeneration, i)
		default:
			b.WriteByte(c)
		}
	}

	for _, name := range []string{PlaceholderHistory, PlaceholderMessage} {
		if !seen[name] {
			return "", fmt.Errorf("%w: prompt template: missing placeholder {%s}", ErrGeneration, name)
		}
	}
	return b.String(), nil
}
