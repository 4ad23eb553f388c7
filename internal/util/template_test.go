package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderTemplate(t *testing.T) {
	type persona struct {
		Name  string
		Style string
		Level float64
	}
	data := persona{Name: "angry_customer", Style: "short", Level: 0.25}

	tests := []struct {
		name string
		text string
		want string
	}{
		{"plain text untouched", "Be polite.", "Be polite."},
		{"field", "You are {{.Name}}.", "You are angry_customer."},
		{"humanize", "You are an {{humanize .Name}}.", "You are an angry customer."},
		{"default", "Style: {{default \"calm\" .Style}}", "Style: short"},
		{"pct", "Patience {{pct .Level}}", "Patience 25%"},
		{"upper", "{{upper .Style}}", "SHORT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RenderTemplate(tt.text, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderTemplate_ParseError(t *testing.T) {
	_, err := RenderTemplate("{{.Name", nil)
	assert.Error(t, err)
}

func TestRenderTemplate_NoHTMLEscaping(t *testing.T) {
	got, err := RenderTemplate("{{.}}", "<b>&</b>")
	require.NoError(t, err)
	assert.Equal(t, "<b>&</b>", got)
}

func TestFormatResponse(t *testing.T) {
	assert.Equal(t, "hi", FormatResponse("", "support", "hi"))
	assert.Equal(t, "hi", FormatResponse("{message}", "support", "hi"))
	assert.Equal(t, "[support] hi", FormatResponse("[{role}] {message}", "support", "hi"))
	// generated text is not re-expanded
	assert.Equal(t, "call {role}!", FormatResponse("{message}!", "client", "call {role}"))
}
