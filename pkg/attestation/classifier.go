// SPDX-License-Identifier: Apache-2.0

package attestation

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Severity grades how far current instructions have drifted from the
// baseline.
type Severity string

const (
	SeverityNone   Severity = "none"
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Classifier grades the difference between baseline and current
// instructions. Implementations must be deterministic.
type Classifier interface {
	Classify(baseline, current string) Severity
}

// DefaultGuardrailKeywords are the phrases whose removal or weakening
// escalates drift to high severity. They mark the safety clauses an agent
// must never lose mid-cycle.
var DefaultGuardrailKeywords = []string{
	"must not",
	"never",
	"do not",
	"required",
	"forbidden",
	"safety",
}

// KeywordClassifier is the default severity strategy:
//
//	none    identical content
//	low     differs only in comments/formatting (structural hash match)
//	high    any guardrail keyword occurs fewer times than in the baseline
//	medium  everything else
type KeywordClassifier struct {
	Keywords []string
}

// NewKeywordClassifier creates the default classifier. An empty keyword
// list falls back to DefaultGuardrailKeywords.
func NewKeywordClassifier(keywords ...string) *KeywordClassifier {
	if len(keywords) == 0 {
		keywords = DefaultGuardrailKeywords
	}
	return &KeywordClassifier{Keywords: keywords}
}

// Classify implements Classifier.
func (k *KeywordClassifier) Classify(baseline, current string) Severity {
	if Hash(baseline) == Hash(current) {
		return SeverityNone
	}
	if weakened(baseline, current, k.Keywords) {
		return SeverityHigh
	}
	if StructuralHash(baseline) == StructuralHash(current) {
		return SeverityLow
	}
	return SeverityMedium
}

// weakened reports whether any guardrail keyword appears fewer times in
// current than in baseline.
func weakened(baseline, current string, keywords []string) bool {
	bl := strings.ToLower(baseline)
	cl := strings.ToLower(current)
	for _, kw := range keywords {
		if strings.Count(cl, kw) < strings.Count(bl, kw) {
			return true
		}
	}
	return false
}

// Hash is the content hash recorded as baseline and checked hash:
// sha256 over the raw text, hex encoded.
func Hash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

var (
	htmlComment = regexp.MustCompile(`(?s)<!--.*?-->`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// StructuralHash hashes the instruction content with the allow-listed
// regions removed: HTML comments, blank lines, and whitespace runs. Two
// texts with the same structural hash differ only cosmetically.
func StructuralHash(text string) string {
	stripped := htmlComment.ReplaceAllString(text, "")
	var lines []string
	for _, line := range strings.Split(stripped, "\n") {
		line = strings.TrimSpace(whitespace.ReplaceAllString(line, " "))
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return Hash(strings.Join(lines, "\n"))
}
