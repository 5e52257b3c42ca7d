// Package textanalyzer turns free text into normalized tokens for the
// offline hashing embedder.
package textanalyzer

import (
	"regexp"
	"strings"
)

// Analyzer converts a text into a slice of tokens.
type Analyzer interface {
	Analyze(text string) []string
}

// tokenizerRegex matches runs of letters or digits in any script.
var tokenizerRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

// Tokenize splits a text into lowercase words.
func Tokenize(text string) []string {
	return tokenizerRegex.FindAllString(strings.ToLower(text), -1)
}

var englishStopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "has": {}, "he": {}, "in": {}, "is": {}, "it": {}, "its": {},
	"of": {}, "on": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {}, "will": {}, "with": {},
	"this": {}, "these": {}, "those": {}, "or": {}, "we": {}, "you": {}, "i": {}, "can": {},
}

// FilterEnglishStopWords removes common English words.
func FilterEnglishStopWords(tokens []string) []string {
	filtered := make([]string, 0, len(tokens))
	for _, token := range tokens {
		if _, isStopWord := englishStopWords[token]; !isStopWord {
			filtered = append(filtered, token)
		}
	}
	return filtered
}

// EnglishAnalyzer tokenizes, drops stop words and folds plural "s".
type EnglishAnalyzer struct{}

// NewEnglishAnalyzer returns the default analyzer.
func NewEnglishAnalyzer() *EnglishAnalyzer {
	return &EnglishAnalyzer{}
}

// Analyze implements Analyzer.
func (a *EnglishAnalyzer) Analyze(text string) []string {
	tokens := FilterEnglishStopWords(Tokenize(text))
	for i, tok := range tokens {
		tokens[i] = foldPlural(tok)
	}
	return tokens
}

// foldPlural strips a trailing "s" from longer words, leaving "ss" endings intact.
func foldPlural(tok string) string {
	if len(tok) > 3 && strings.HasSuffix(tok, "s") && !strings.HasSuffix(tok, "ss") {
		return tok[:len(tok)-1]
	}
	return tok
}
