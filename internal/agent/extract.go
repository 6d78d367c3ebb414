package agent

import (
	"strings"

	"scriptagent/internal/domain"
)

// Delimiters around the candidate script in a model response.
const (
	StartMarker = "Answer:"
	EndMarker   = "###"
)

// NormalizeResponse strips markdown code fences from model output.
func NormalizeResponse(raw string) string {
	raw = strings.ReplaceAll(raw, "```python", "")
	raw = strings.ReplaceAll(raw, "```go", "")
	return strings.ReplaceAll(raw, "```", "")
}

// ExtractCandidate returns the trimmed text between the first StartMarker
// and the first EndMarker after it.
func ExtractCandidate(raw string) (string, error) {
	start := strings.Index(raw, StartMarker)
	if start == -1 {
		return "", domain.NewStageError(domain.StageExtract, domain.ErrMalformedResponse, nil, "start marker %q not found", StartMarker)
	}
	body := raw[start+len(StartMarker):]
	end := strings.Index(body, EndMarker)
	if end == -1 {
		return "", domain.NewStageError(domain.StageExtract, domain.ErrMalformedResponse, nil, "end marker %q not found after %q", EndMarker, StartMarker)
	}

	candidate := strings.TrimSpace(body[:end])
	if candidate == "" {
		return "", domain.NewStageError(domain.StageExtract, domain.ErrEmptyCandidate, nil, "nothing between %q and %q", StartMarker, EndMarker)
	}
	return candidate, nil
}
