package util

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// RenderTemplate renders text as a Go template over data. Text without
// template markers is returned unchanged.
// This lives in internal to avoid committing to public API stability prematurely.
func RenderTemplate(text string, data any) (string, error) {
	if !strings.Contains(text, "{{") { // fast path: no template markers
		return text, nil
	}

	tmpl, err := template.New("instructions").Option("missingkey=zero").Funcs(template.FuncMap{
		"default": func(defaultVal any, val any) any {
			if val == nil || val == "" {
				return defaultVal
			}
			return val
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"title": func(s string) string {
			if len(s) == 0 {
				return s
			}
			return strings.ToUpper(string(s[0])) + strings.ToLower(s[1:])
		},
		"humanize": func(s string) string { return strings.ReplaceAll(s, "_", " ") },
		"pct": func(v float64) string { return fmt.Sprintf("%.0f%%", v*100) },
	}).Parse(text)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

// FormatResponse substitutes the {role} and {message} placeholders of a
// response format. An empty format yields message.
func FormatResponse(format, role, message string) string {
	if format == "" {
		return message
	}
	return strings.NewReplacer("{role}", role, "{message}", message).Replace(format)
}
