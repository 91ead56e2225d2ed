package gemini

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func TestFirstImage(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
		{Content: &genai.Content{Parts: []*genai.Part{
			genai.NewPartFromText("here you go"),
			genai.NewPartFromBytes([]byte{1, 2, 3}, "image/png"),
		}}},
	}}

	data, mime, err := FirstImage(resp)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
	assert.Equal(t, "image/png", mime)
}

func TestFirstImageReportsRefusal(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{
		{Content: &genai.Content{Parts: []*genai.Part{genai.NewPartFromText("I can't edit this photo.")}}},
	}}
	_, _, err := FirstImage(resp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "can't edit")

	_, _, err = FirstImage(nil)
	assert.Error(t, err)
}

func TestIsRateLimited(t *testing.T) {
	assert.True(t, IsRateLimited(errors.New("Error 429: RESOURCE_EXHAUSTED")))
	assert.True(t, IsRateLimited(errors.New("quota exceeded")))
	assert.False(t, IsRateLimited(errors.New("invalid argument")))
	assert.False(t, IsRateLimited(nil))
}
