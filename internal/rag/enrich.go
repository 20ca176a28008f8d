package rag

import (
	"fmt"
	"strings"
	"unicode"
)

// stopwords are skipped during keyword extraction. Conservative list;
// domain terms the agent actually needs are rarely this common.
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(
		"a an the and or but if then else of to in on at for with about from into over after before " +
			"is are was were be been being do does did have has had will would can could should may might must " +
			"i you he she it we they me him her us them my your his its our their " +
			"this that these those what which who whom when where why how " +
			"not no yes so just very too also than as by up out off please tell let know need want like") {
		stopwords[w] = struct{}{}
	}
}

// Keywords extracts up to max keyword-like tokens from the given texts,
// in order of first appearance. Stopwords, numbers and tokens shorter
// than three characters are dropped.
func Keywords(texts []string, max int) []string {
	if max <= 0 {
		return nil
	}
	seen := make(map[string]struct{})
	var out []string
	for _, text := range texts {
		for _, tok := range splitTokens(text) {
			if len(out) >= max {
				return out
			}
			if len(tok) < 3 || allDigits(tok) {
				continue
			}
			if _, stop := stopwords[tok]; stop {
				continue
			}
			if _, dup := seen[tok]; dup {
				continue
			}
			seen[tok] = struct{}{}
			out = append(out, tok)
		}
	}
	return out
}

func splitTokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func allDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return len(s) > 0
}

// Block formats retrieved snippets as one context message. Empty input
// yields an empty string so callers can skip injection.
func Block(snippets []Snippet) string {
	if len(snippets) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Relevant internal knowledge:\n")
	for _, sn := range snippets {
		label := sn.Document
		if sn.Source != "" {
			label = sn.Source
		}
		fmt.Fprintf(&b, "\n[%s / %s, relevance %.2f]\n%s\n", sn.Library, label, sn.Score, sn.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
