// Package trigram implements the anti-leak guard: it detects when a bot's
// outgoing message echoes n-grams of the profile description it was itself
// assigned, which would give away the role-play to its human partner.
package trigram

import (
	"regexp"
	"strings"
)

var nonWord = regexp.MustCompile(`\W+`)

// Verdict is the result of checking a single message against a Guard.
type Verdict int

const (
	Clean Verdict = iota
	Leak
)

// Guard watches one bot's messages within a single conversation for leaked
// n-grams of its assigned profile description. It is not safe for
// concurrent use; the orchestrator serializes access per conversation.
type Guard struct {
	window    int
	threshold int
	profile   map[string]struct{}
	badStreak int
}

// New builds a Guard for profileDescription, tokenized into n-grams of the
// given window size. threshold is the number of consecutive leaky messages
// that forces the conversation to end; a threshold of 0 disables enforcement
// (Check always reports Clean) while still tracking the streak.
func New(profileDescription string, window, threshold int) *Guard {
	if window <= 0 {
		window = 3
	}
	return &Guard{
		window:    window,
		threshold: threshold,
		profile:   tokenize(profileDescription, window),
	}
}

// Check tokenizes text and reports Leak if any n-gram intersects the
// assigned profile's n-gram set (Clean when the guard was built with
// threshold 0). A leak increments the bad-message streak; a clean message
// resets it to zero.
func (g *Guard) Check(text string) Verdict {
	grams := tokenize(text, g.window)
	for gram := range grams {
		if _, ok := g.profile[gram]; ok {
			g.badStreak++
			if g.threshold == 0 {
				return Clean
			}
			return Leak
		}
	}
	g.badStreak = 0
	return Clean
}

// BadStreak returns the current count of consecutive leaky messages.
func (g *Guard) BadStreak() int {
	return g.badStreak
}

// ShouldEndDialog reports whether the bad streak has reached the configured
// threshold. Always false when the guard was built with threshold 0.
func (g *Guard) ShouldEndDialog() bool {
	return g.threshold > 0 && g.badStreak >= g.threshold
}

// tokenize lowercases text, collapses runs of non-word characters to single
// spaces, and returns the set of contiguous word windows of size n. Matches
// the reference implementation's window generation exactly, including its
// off-by-one: the final possible window (starting at len(words)-n) is never
// emitted, so texts with fewer than n+1 words produce no n-grams at all.
func tokenize(text string, n int) map[string]struct{} {
	preprocessed := nonWord.ReplaceAllString(text, " ")
	words := strings.Split(strings.ToLower(preprocessed), " ")

	grams := make(map[string]struct{})
	for i := 0; i < len(words)-n; i++ {
		grams[strings.Join(words[i:i+n], "\x00")] = struct{}{}
	}
	return grams
}
