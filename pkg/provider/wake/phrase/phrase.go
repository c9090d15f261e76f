// Package phrase implements the [wake.Gate] interface by transcribing the head
// of a speech segment and matching the wake phrase phonetically.
//
// The algorithm proceeds in two stages:
//
//  1. Transcription: the leading portion of the segment (default 2 seconds) is
//     sent to an stt.Transcriber. Only the head is transcribed so the gate
//     stays cheap relative to the full-segment transcription that follows a
//     positive verdict.
//
//  2. Phonetic matching: Double Metaphone codes are computed for the wake
//     phrase and for each n-gram window of the same length sliding over the
//     leading words of the transcript. A window whose codes overlap the
//     phrase's codes and whose Jaro-Winkler similarity exceeds the phonetic
//     threshold is a match. Without code overlap, a higher fuzzy threshold
//     applies, which catches transcriptions that spell the phrase differently
//     but misses loose resemblances.
package phrase

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/antzucaro/matchr"

	"github.com/earshot-ai/earshot/pkg/audio"
	"github.com/earshot-ai/earshot/pkg/provider/stt"
	"github.com/earshot-ai/earshot/pkg/provider/wake"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
	defaultHeadDuration      = 2 * time.Second
	defaultMaxLeadingWords   = 6
)

// Option is a functional option for configuring a [Gate].
type Option func(*Gate)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-overlapping window to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(g *Gate) {
		g.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when a
// window has no phonetic code overlap with the wake phrase. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(g *Gate) {
		g.fuzzyThreshold = threshold
	}
}

// WithHeadDuration sets how much of the segment's start is transcribed for
// matching. Default: 2s.
func WithHeadDuration(d time.Duration) Option {
	return func(g *Gate) {
		g.headDuration = d
	}
}

// WithMaxLeadingWords sets how many leading transcript words are scanned for
// the wake phrase. Default: 6.
func WithMaxLeadingWords(n int) Option {
	return func(g *Gate) {
		g.maxLeadingWords = n
	}
}

// Gate matches a wake phrase against the transcribed head of a segment.
// It implements [wake.Gate]. All methods are safe for concurrent use; the
// Gate is read-only after construction.
type Gate struct {
	transcriber stt.Transcriber
	phrase      string
	phraseWords []string
	phraseCodes map[string]struct{}

	phoneticThreshold float64
	fuzzyThreshold    float64
	headDuration      time.Duration
	maxLeadingWords   int
}

// New returns a new [Gate] that detects phrase using transcriber.
func New(transcriber stt.Transcriber, phrase string, opts ...Option) (*Gate, error) {
	if transcriber == nil {
		return nil, fmt.Errorf("phrase: transcriber must not be nil")
	}
	words := strings.Fields(strings.ToLower(strings.TrimSpace(phrase)))
	if len(words) == 0 {
		return nil, fmt.Errorf("phrase: wake phrase must not be empty")
	}

	g := &Gate{
		transcriber:       transcriber,
		phrase:            strings.Join(words, " "),
		phraseWords:       words,
		phraseCodes:       codesForTokens(words),
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
		headDuration:      defaultHeadDuration,
		maxLeadingWords:   defaultMaxLeadingWords,
	}
	for _, o := range opts {
		o(g)
	}
	return g, nil
}

// Evaluate implements wake.Gate.
func (g *Gate) Evaluate(ctx context.Context, pcm []byte) (wake.Verdict, error) {
	head := pcm
	if maxBytes := g.headBytes(); len(head) > maxBytes {
		head = head[:maxBytes]
	}

	tr, err := g.transcriber.Transcribe(ctx, head)
	if err != nil {
		return wake.Verdict{}, fmt.Errorf("phrase: transcribe head: %w", err)
	}

	score, ok := g.matchText(tr.Text)
	return wake.Verdict{Match: ok, Confidence: score, Heard: tr.Text}, nil
}

// matchText slides a window of the wake phrase's word count over the leading
// transcript words and returns the best accepted score.
func (g *Gate) matchText(text string) (float64, bool) {
	tokens := strings.Fields(strings.ToLower(normalize(text)))
	if len(tokens) == 0 {
		return 0, false
	}
	if len(tokens) > g.maxLeadingWords {
		tokens = tokens[:g.maxLeadingWords]
	}

	n := len(g.phraseWords)
	var best float64
	for start := 0; start+n <= len(tokens) || start == 0; start++ {
		end := start + n
		if end > len(tokens) {
			end = len(tokens)
		}
		window := tokens[start:end]
		if len(window) == 0 {
			break
		}

		windowCodes := codesForTokens(window)
		phonetic := codesOverlap(windowCodes, g.phraseCodes)
		jw := bestJWScore(window, g.phraseWords, strings.Join(window, " "), g.phrase)

		threshold := g.fuzzyThreshold
		if phonetic {
			threshold = g.phoneticThreshold
		}
		if jw >= threshold && jw > best {
			best = jw
		}
	}
	return best, best > 0
}

// headBytes converts the configured head duration into a frame-aligned byte count.
func (g *Gate) headBytes() int {
	frames := int(g.headDuration / audio.FrameDuration)
	if frames < 1 {
		frames = 1
	}
	return frames * audio.FrameSize
}

// normalize strips punctuation that transcribers commonly attach to words.
func normalize(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ',', '!', '?', ';', ':', '"', '\'':
			return -1
		}
		return r
	}, s)
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (produced when the word is too short or contains
// no consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	// Iterate over the smaller set for efficiency.
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the window
// and the wake phrase using three strategies:
//
//  1. Full-string comparison ("hey ear shot" vs "hey earshot").
//  2. Space-stripped comparison ("heyearshot" vs "heyearshot").
//  3. Best pairwise word comparison between window and phrase tokens.
func bestJWScore(windowTokens, phraseTokens []string, windowFull, phraseFull string) float64 {
	score := matchr.JaroWinkler(windowFull, phraseFull, false)

	if len(windowTokens) > 1 || len(phraseTokens) > 1 {
		concat1 := strings.Join(windowTokens, "")
		concat2 := strings.Join(phraseTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	for _, wt := range windowTokens {
		for _, pt := range phraseTokens {
			if s := matchr.JaroWinkler(wt, pt, false); s > score {
				score = s
			}
		}
	}

	return score
}

// Ensure Gate implements wake.Gate at compile time.
var _ wake.Gate = (*Gate)(nil)
