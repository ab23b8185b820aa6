// Package textutil holds the tokenizers and word lists shared by the
// embedding, retrieval and grounding heuristics.
package textutil

import (
	"regexp"
	"strings"
)

// WordSet is a set of lowercase words.
type WordSet map[string]struct{}

// NewWordSet builds a set from the given words.
func NewWordSet(words ...string) WordSet {
	s := make(WordSet, len(words))
	for _, w := range words {
		s[w] = struct{}{}
	}
	return s
}

// Has reports whether w is in the set.
func (s WordSet) Has(w string) bool {
	_, ok := s[w]
	return ok
}

// Without returns a copy of s with every member of stop removed.
func (s WordSet) Without(stop WordSet) WordSet {
	out := make(WordSet, len(s))
	for w := range s {
		if !stop.Has(w) {
			out[w] = struct{}{}
		}
	}
	return out
}

// Intersect counts members shared by s and other.
func (s WordSet) Intersect(other WordSet) int {
	n := 0
	for w := range s {
		if other.Has(w) {
			n++
		}
	}
	return n
}

// FieldSet lowercases text and splits it on whitespace. Punctuation stays
// attached to words, so "<ul>" remains a single token.
func FieldSet(text string) WordSet {
	fields := strings.Fields(strings.ToLower(text))
	return NewWordSet(fields...)
}

var wordRe = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// Words returns the lowercase letter/number runs of text.
func Words(text string) []string {
	return wordRe.FindAllString(strings.ToLower(text), -1)
}

// QueryStopwords are dropped from questions before keyword matching:
// articles, prepositions and basic interrogatives/auxiliaries.
var QueryStopwords = NewWordSet(
	"what", "how", "where", "when", "why", "is", "are", "was", "were",
	"the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "for", "of", "with", "by",
)

// CommonWords are dropped from both answer and context when measuring overlap.
var CommonWords = NewWordSet(
	"the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "for", "of", "with", "by",
	"is", "are", "was", "were", "be", "been", "have", "has", "had", "do", "does", "did",
	"will", "would", "could", "should", "may", "might", "can", "this", "that", "these", "those",
)

// EnglishStopwords is the broader list used by the embedder and summarizer.
var EnglishStopwords = NewWordSet(
	"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at",
	"by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that",
	"these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so",
	"such", "into", "about", "between", "through", "during", "before", "after", "above", "below",
	"out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
)
