package app

import "testing"

func TestMarkdownToHTML(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "hello", "hello"},
		{"bold", "**Active** backend", "<strong>Active</strong> backend"},
		{"code", "room `!a:x`", "room <code>!a:x</code>"},
		{"newlines", "a\nb", "a<br/>b"},
		{"escaped", "<script>", "&lt;script&gt;"},
		{"unmatched", "2 ** 3", "2 ** 3"},
		{"fence", "```\nx < y\n```", "<pre><code>x &lt; y<br/></code></pre>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := markdownToHTML(tt.in); got != tt.want {
				t.Errorf("markdownToHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
