package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scriptagent/internal/domain"
)

func TestExtractCandidate_BetweenMarkers(t *testing.T) {
	got, err := ExtractCandidate(`noise Answer: x=calculate("2+2") ### trailing`)
	require.NoError(t, err)
	assert.Equal(t, `x=calculate("2+2")`, got)
}

func TestExtractCandidate_FirstOccurrences(t *testing.T) {
	got, err := ExtractCandidate("Answer: a ### Answer: b ###")
	require.NoError(t, err)
	assert.Equal(t, "a", got)
}

func TestExtractCandidate_MultiLine(t *testing.T) {
	raw := "Sure!\nAnswer:\nresult = calculate(\"10 * 5\")\nsave_note(result)\n###\n"
	got, err := ExtractCandidate(raw)
	require.NoError(t, err)
	assert.Equal(t, "result = calculate(\"10 * 5\")\nsave_note(result)", got)
}

func TestExtractCandidate_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"no markers", `calculate("1")`},
		{"no start", `calculate("1") ###`},
		{"no end", `Answer: calculate("1")`},
		{"end before start", `### calculate("1") Answer:`},
		{"empty input", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ExtractCandidate(tt.raw)
			assert.ErrorIs(t, err, domain.ErrMalformedResponse)
			assert.Equal(t, domain.StageExtract, domain.StageOf(err))
		})
	}
}

func TestExtractCandidate_Empty(t *testing.T) {
	for _, raw := range []string{"Answer:###", "Answer:   \n\t ###", "x Answer: ### Answer: y ###"} {
		_, err := ExtractCandidate(raw)
		assert.ErrorIs(t, err, domain.ErrEmptyCandidate, "raw %q", raw)
	}
}

func TestExtractCandidate_Idempotent(t *testing.T) {
	raw := "Answer: save_note(\"x\") ###"
	first, err1 := ExtractCandidate(raw)
	second, err2 := ExtractCandidate(raw)
	assert.Equal(t, first, second)
	assert.Equal(t, err1, err2)
}

func TestNormalizeResponse_StripsFences(t *testing.T) {
	raw := "```python\nAnswer:\ncalculate(\"1\")\n###\n```"
	got, err := ExtractCandidate(NormalizeResponse(raw))
	require.NoError(t, err)
	assert.Equal(t, `calculate("1")`, got)
}
