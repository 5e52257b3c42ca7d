package textanalyzer

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	testCases := []struct {
		input    string
		expected []string
	}{
		{"Hello, World!", []string{"hello", "world"}},
		{"step 2: add 40", []string{"step", "2", "add", "40"}},
		{"   ", nil},
		{"perché è così", []string{"perché", "è", "così"}},
	}

	for _, tc := range testCases {
		got := Tokenize(tc.input)
		if !reflect.DeepEqual(got, tc.expected) {
			t.Errorf("Tokenize(%q) = %v, want %v", tc.input, got, tc.expected)
		}
	}
}

func TestEnglishAnalyzer(t *testing.T) {
	a := NewEnglishAnalyzer()
	testCases := []struct {
		input    string
		expected []string
	}{
		{"The numbers of the puzzle", []string{"number", "puzzle"}},
		{"Glass is a class", []string{"glass", "class"}},
		{"is", []string{}},
	}

	for _, tc := range testCases {
		got := a.Analyze(tc.input)
		if !reflect.DeepEqual(got, tc.expected) {
			t.Errorf("Analyze(%q) = %v, want %v", tc.input, got, tc.expected)
		}
	}
}
