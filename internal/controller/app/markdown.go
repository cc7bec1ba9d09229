package app

import "strings"

// markdownToHTML converts the Markdown subset used by the command replies
// into HTML for a Matrix m.text event with format=org.matrix.custom.html:
// fenced code blocks, inline code, bold and newlines. Text outside code is
// HTML-escaped first.
func markdownToHTML(md string) string {
	escape := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

	var out strings.Builder
	inCode := false
	for _, line := range strings.Split(md, "\n") {
		if strings.HasPrefix(line, "```") {
			if inCode {
				out.WriteString("</code></pre>")
			} else {
				out.WriteString("<pre><code>")
			}
			inCode = !inCode
			continue
		}
		out.WriteString(escape.Replace(line))
		out.WriteString("\n")
	}
	result := out.String()

	result = replaceDelimited(result, "`", "<code>", "</code>")
	result = replaceDelimited(result, "**", "<strong>", "</strong>")
	return strings.ReplaceAll(strings.TrimSuffix(result, "\n"), "\n", "<br/>")
}

// replaceDelimited replaces complete delim…delim pairs with open+content+close.
func replaceDelimited(s, delim, open, close string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, delim)
		if start == -1 {
			b.WriteString(s)
			break
		}
		end := strings.Index(s[start+len(delim):], delim)
		if end == -1 {
			b.WriteString(s)
			break
		}
		end += start + len(delim)
		b.WriteString(s[:start])
		b.WriteString(open)
		b.WriteString(s[start+len(delim) : end])
		b.WriteString(close)
		s = s[end+len(delim):]
	}
	return b.String()
}
