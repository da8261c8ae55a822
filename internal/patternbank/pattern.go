// Package patternbank stores reusable patterns learned from completed runs
// and scores how much they should be trusted.
package patternbank

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/fyrsmithlabs/foundry/internal/request"
)

// Confidence thresholds. Patterns below Suggest are withheld entirely.
const (
	ConfidenceSuggest   = 50
	ConfidenceAutoApply = 80
)

const staleAge = 90 * 24 * time.Hour

// errorLexicon marks outcomes that embed a raw programming error rather
// than a transferable lesson. Substring match, case-sensitive on purpose:
// these tokens come straight out of tool output.
var errorLexicon = []string{
	"TypeError",
	"ReferenceError",
	"NullPointerException",
	"undefined is not",
	"nil pointer dereference",
	"panic:",
	"segmentation fault",
	"stack overflow",
}

// Pattern is one learned pattern. ID is derived from the source role and the
// normalized description, so re-recording the same lesson merges instead of
// duplicating.
type Pattern struct {
	ID             string       `json:"id"`
	SourceRole     request.Role `json:"source_role"`
	Description    string       `json:"description"`
	Outcome        string       `json:"outcome"`
	Success        bool         `json:"success"`
	Frequency      int          `json:"frequency"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
	FalseMemory    bool         `json:"false_memory"`
	Contradictions int          `json:"contradictions"`
}

// Confidence scores the pattern at the given instant. Base 100, with fixed
// penalties:
//
//	-20 when observed fewer than 3 times
//	-15 when last updated more than 90 days ago
//	-30 when the outcome matches the programming-error lexicon
//	-50 when flagged as a false memory
//
// The result never goes below 0.
func (p *Pattern) Confidence(now time.Time) int {
	c := 100
	if p.Frequency < 3 {
		c -= 20
	}
	if now.Sub(p.UpdatedAt) > staleAge {
		c -= 15
	}
	if MatchesErrorLexicon(p.Outcome) {
		c -= 30
	}
	if p.FalseMemory {
		c -= 50
	}
	if c < 0 {
		c = 0
	}
	return c
}

// Prunable reports whether the pattern is eligible for pruning: flagged as a
// false memory and never reinforced.
func (p *Pattern) Prunable() bool {
	return p.FalseMemory && p.Frequency < 3
}

// MatchesErrorLexicon reports whether the text embeds a raw
// programming-error token.
func MatchesErrorLexicon(text string) bool {
	for _, token := range errorLexicon {
		if strings.Contains(text, token) {
			return true
		}
	}
	return false
}

// NormalizeDescription lowercases and collapses whitespace so trivially
// reworded descriptions merge into one pattern.
func NormalizeDescription(description string) string {
	return strings.Join(strings.Fields(strings.ToLower(description)), " ")
}

// PatternID derives the stable pattern identity from role and normalized
// description.
func PatternID(role request.Role, description string) string {
	sum := sha256.Sum256([]byte(string(role) + "\x00" + NormalizeDescription(description)))
	return string(role) + "." + hex.EncodeToString(sum[:8])
}
