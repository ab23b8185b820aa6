package answer

import (
	"strings"

	"pdfrag/internal/textutil"
)

// Vocabulary maps a content domain to terms that mark technical material.
// Grounding accepts when context and answer both mention a term from any
// one domain.
type Vocabulary map[string][]string

// DefaultVocabulary covers web/markup documents.
var DefaultVocabulary = Vocabulary{
	"web": {
		"html", "tag", "element", "attribute", "code", "css", "javascript", "web", "document",
		"page", "head", "body", "div", "span", "form", "input", "select", "option",
	},
}

// DefaultMarkupPatterns suggest structured or markup-heavy source text.
var DefaultMarkupPatterns = []string{"<", ">", "creates", "sets", "tag", "cheatsheet", "basic"}

const (
	// MinOverlap is the share of filtered answer words that must appear in the context.
	MinOverlap = 0.2

	minMarkupAnswerLen = 10
	substantialContext = 100
	shortAnswerLen     = 200
)

// Validator decides whether an answer is substantiated by its context. All
// checks are generous allowances; the validator is a heuristic.
type Validator struct {
	vocab    Vocabulary
	patterns []string
	common   textutil.WordSet
}

// NewValidator builds a validator; nil arguments take the defaults.
func NewValidator(vocab Vocabulary, patterns []string) *Validator {
	if vocab == nil {
		vocab = DefaultVocabulary
	}
	if patterns == nil {
		patterns = DefaultMarkupPatterns
	}
	return &Validator{vocab: vocab, patterns: patterns, common: textutil.CommonWords}
}

// IsGrounded reports whether answer is plausibly drawn from context.
func (v *Validator) IsGrounded(answer, context string) bool {
	if strings.Contains(answer, refusalPrefix) {
		return true
	}
	lowerAnswer := strings.ToLower(answer)
	lowerContext := strings.ToLower(context)

	if v.sharesVocabulary(lowerAnswer, lowerContext) {
		return true
	}
	if containsAny(lowerContext, v.patterns) && len(strings.TrimSpace(answer)) > minMarkupAnswerLen {
		return true
	}

	answerWords := textutil.FieldSet(answer).Without(v.common)
	if len(answerWords) == 0 {
		return true
	}
	contextWords := textutil.FieldSet(context).Without(v.common)
	if Overlap(answerWords, contextWords) >= MinOverlap {
		return true
	}
	return len(strings.TrimSpace(context)) > substantialContext && len(strings.TrimSpace(answer)) < shortAnswerLen
}

func (v *Validator) sharesVocabulary(answer, context string) bool {
	for _, terms := range v.vocab {
		if containsAny(context, terms) && containsAny(answer, terms) {
			return true
		}
	}
	return false
}

// Overlap is |answer ∩ context| / |answer|; 0 for an empty answer set.
func Overlap(answer, context textutil.WordSet) float64 {
	if len(answer) == 0 {
		return 0
	}
	return float64(answer.Intersect(context)) / float64(len(answer))
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
