package generate

import (
	"context"
	"strings"
)

// Template is the offline generator used when no completion endpoint is
// configured. Prompt lines starting with "#" are instructions and are dropped;
// everything else is echoed under the heading.
type Template struct {
	Heading string
}

func (t Template) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	var body []string
	for _, line := range strings.Split(prompt, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		body = append(body, strings.TrimRight(line, " \t"))
	}
	text := strings.TrimSpace(strings.Join(body, "\n"))
	if text == "" {
		return "", ErrEmptyCompletion
	}
	if t.Heading == "" {
		return text, nil
	}
	return t.Heading + "\n\n" + text, nil
}

// Pick returns the HTTP client when a base URL is configured and the offline
// template otherwise.
func Pick(cfg Config) Generator {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return Template{}
	}
	return NewClient(cfg)
}
