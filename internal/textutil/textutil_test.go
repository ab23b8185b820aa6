package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFieldSetKeepsMarkup(t *testing.T) {
	s := FieldSet("<UL> creates  an Unordered list")
	assert.True(t, s.Has("<ul>"))
	assert.True(t, s.Has("unordered"))
	assert.Len(t, s, 5)
}

func TestWordSetWithoutAndIntersect(t *testing.T) {
	s := NewWordSet("what", "is", "html", "tag")
	m := s.Without(QueryStopwords)
	assert.Equal(t, NewWordSet("html", "tag"), m)
	assert.Equal(t, 1, m.Intersect(NewWordSet("tag", "body")))
}

func TestWords(t *testing.T) {
	assert.Equal(t, []string{"don't", "panic", "42"}, Words("Don't PANIC: 42!"))
}
