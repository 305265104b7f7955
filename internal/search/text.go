package search

import (
	"sort"
	"strings"
)

// Tokens lowercases s and splits it on whitespace.
func Tokens(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// TermSet returns the sorted unique tokens of s.
func TermSet(s string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, t := range Tokens(s) {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Jaccard is the token-set similarity of a and b, 0 when both are empty.
func Jaccard(a, b string) float64 {
	setA := make(map[string]struct{})
	for _, t := range Tokens(a) {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{})
	for _, t := range Tokens(b) {
		setB[t] = struct{}{}
	}
	if len(setA) == 0 && len(setB) == 0 {
		return 0
	}
	inter := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	return float64(inter) / float64(union)
}
