package ai

import (
	"fmt"
	"regexp"
	"strings"
)

// Model responses are markdown-flavored text; pre-compiled patterns pull the
// structured parts back out.
var (
	// Matches ```js\n...\n``` with an optional language tag; newlines are
	// optional to handle responses that skip them.
	codeFenceRegex = regexp.MustCompile("(?s)`{3}(?:javascript|js|typescript|json)?[ \t]*\n?(.*?)\n?`{3}")

	explanationRegex = regexp.MustCompile(`(?is)EXPLANATION:\s*(.*?)(?:\n\s*\n|` + "`{3}" + `|$)`)
)

// FixResponse is the parsed form of a fix-generation completion.
type FixResponse struct {
	Explanation string
	Code        string
}

// ParseFixResponse extracts the explanation paragraph and the first fenced
// code block from a model response. A response without a code block is an
// error; an absent explanation is tolerated.
func ParseFixResponse(text string) (*FixResponse, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("empty response")
	}

	m := codeFenceRegex.FindStringSubmatch(trimmed)
	if m == nil {
		return nil, fmt.Errorf("response contains no fenced code block")
	}
	code := strings.TrimSpace(m[1])
	if code == "" {
		return nil, fmt.Errorf("fenced code block is empty")
	}

	explanation := ""
	if em := explanationRegex.FindStringSubmatch(trimmed); em != nil {
		explanation = strings.TrimSpace(em[1])
	}

	return &FixResponse{Explanation: explanation, Code: code}, nil
}
