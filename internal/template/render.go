// Package template renders message templates with positional and named
// placeholders.
package template

import (
	"log/slog"
	"regexp"
	"strconv"
)

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.]+)\s*\}\}`)

// Renderer substitutes placeholders of the form {{1}}, {{2}} from positional
// params, and {{contact.name}}-style tokens from a named variable map.
// Placeholders without a value render as the empty string; the message still
// goes out.
type Renderer struct {
	logger *slog.Logger
}

func NewRenderer(log *slog.Logger) *Renderer {
	return &Renderer{logger: log.With(slog.String("service", "template"))}
}

// Render fills body. Positional placeholders are 1-based.
func (r *Renderer) Render(body string, params []string, vars map[string]string) string {
	return placeholder.ReplaceAllStringFunc(body, func(match string) string {
		token := placeholder.FindStringSubmatch(match)[1]
		if idx, err := strconv.Atoi(token); err == nil {
			if idx >= 1 && idx <= len(params) {
				return params[idx-1]
			}
			r.logger.Warn("template placeholder out of range",
				slog.Int("index", idx),
				slog.Int("params", len(params)))
			return ""
		}
		if value, ok := vars[token]; ok {
			return value
		}
		r.logger.Warn("unknown template variable", slog.String("name", token))
		return ""
	})
}
