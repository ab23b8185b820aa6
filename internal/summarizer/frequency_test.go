package summarizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarizeKeepsOriginalOrder(t *testing.T) {
	text := "Lists group items. The weather was nice. Ordered lists number items and unordered lists bullet items. Cats sleep."
	out, err := NewFrequencySummarizer().Summarize(text, 2)
	require.NoError(t, err)
	assert.Equal(t, "Lists group items. Ordered lists number items and unordered lists bullet items.", out)
}

func TestSummarizeWithoutPunctuation(t *testing.T) {
	text := strings.Repeat("cell ", 100)
	out, err := NewFrequencySummarizer().Summarize(text, 3)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, " ..."))
	assert.Len(t, strings.Fields(out), 61)
}
