package voice

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

// Phonetic match thresholds on Jaro-Winkler similarity. A token whose
// Double Metaphone codes overlap the wake token's counts as a match above
// the lower bound; without code overlap the spelling alone must clear the
// higher bound.
const (
	phoneticSimilarity = 0.70
	spellingSimilarity = 0.85
)

// tokenSeparator matches the gaps speech recognition leaves between wake
// tokens: whitespace and clause punctuation.
const tokenSeparator = `[\s,.!?;:]+`

// Matcher detects a wake phrase at the start of or inside a transcript.
// Matching is case-insensitive and, optionally, phonetic, so "Hey
// Assistant", "hey assistant," and "hay assistent" all wake the bot.
type Matcher struct {
	phrase   string
	tokens   []string
	re       *regexp.Regexp
	phonetic bool
}

// NewMatcher compiles a matcher for the given wake phrase. phonetic
// enables Double Metaphone fallback for misheard tokens.
func NewMatcher(phrase string, phonetic bool) (*Matcher, error) {
	tokens := strings.Fields(strings.ToLower(strings.TrimSpace(phrase)))
	if len(tokens) == 0 {
		return nil, fmt.Errorf("voice: wake phrase is empty")
	}
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = regexp.QuoteMeta(tok)
	}
	re, err := regexp.Compile(`(?i)\b` + strings.Join(quoted, tokenSeparator) + `\b`)
	if err != nil {
		return nil, fmt.Errorf("voice: compile wake phrase: %w", err)
	}
	return &Matcher{
		phrase:   strings.Join(tokens, " "),
		tokens:   tokens,
		re:       re,
		phonetic: phonetic,
	}, nil
}

// Phrase returns the normalized wake phrase.
func (m *Matcher) Phrase() string { return m.phrase }

// Match reports whether the transcript contains the wake phrase and
// returns the transcript with the first occurrence removed. When only the
// phonetic fallback matches, the misheard tokens are removed instead.
func (m *Matcher) Match(text string) (string, bool) {
	if loc := m.re.FindStringIndex(text); loc != nil {
		return trimRemainder(text[:loc[0]] + " " + text[loc[1]:]), true
	}
	if !m.phonetic {
		return text, false
	}
	return m.matchPhonetic(text)
}

// matchPhonetic slides a window of wake-phrase length over the transcript
// tokens and accepts a window where every token sounds like its wake
// counterpart.
func (m *Matcher) matchPhonetic(text string) (string, bool) {
	words := strings.Fields(text)
	n := len(m.tokens)
	if len(words) < n {
		return text, false
	}
	for start := 0; start+n <= len(words); start++ {
		matched := true
		for i, wake := range m.tokens {
			if !soundsLike(stripPunct(words[start+i]), wake) {
				matched = false
				break
			}
		}
		if matched {
			rest := append(append([]string{}, words[:start]...), words[start+n:]...)
			return trimRemainder(strings.Join(rest, " ")), true
		}
	}
	return text, false
}

// soundsLike reports whether heard plausibly is the word want, comparing
// Double Metaphone codes and falling back to spelling similarity.
func soundsLike(heard, want string) bool {
	heard = strings.ToLower(heard)
	if heard == want {
		return true
	}
	if heard == "" {
		return false
	}
	sim := matchr.JaroWinkler(heard, want, false)
	hp, hs := matchr.DoubleMetaphone(heard)
	wp, ws := matchr.DoubleMetaphone(want)
	if codesOverlap(hp, hs, wp, ws) {
		return sim >= phoneticSimilarity
	}
	return sim >= spellingSimilarity
}

func codesOverlap(ap, as, bp, bs string) bool {
	for _, a := range []string{ap, as} {
		if a == "" {
			continue
		}
		if a == bp || (bs != "" && a == bs) {
			return true
		}
	}
	return false
}

var leadingSep = regexp.MustCompile(`^[\s,.!?;:]+`)

func trimRemainder(s string) string {
	s = leadingSep.ReplaceAllString(strings.TrimSpace(s), "")
	return strings.Join(strings.Fields(s), " ")
}

func stripPunct(s string) string {
	return strings.Trim(s, ",.!?;:\"'")
}

// StopMatcher detects stop phrases inside a transcript.
type StopMatcher struct {
	res []*regexp.Regexp
}

// NewStopMatcher compiles the given stop phrases. Empty phrases are
// ignored.
func NewStopMatcher(phrases []string) (*StopMatcher, error) {
	sm := &StopMatcher{}
	for _, phrase := range phrases {
		tokens := strings.Fields(strings.ToLower(strings.TrimSpace(phrase)))
		if len(tokens) == 0 {
			continue
		}
		quoted := make([]string, len(tokens))
		for i, tok := range tokens {
			quoted[i] = regexp.QuoteMeta(tok)
		}
		re, err := regexp.Compile(`(?i)(^|[\s,.!?;:])` + strings.Join(quoted, tokenSeparator) + `([\s,.!?;:]|$)`)
		if err != nil {
			return nil, fmt.Errorf("voice: compile stop phrase %q: %w", phrase, err)
		}
		sm.res = append(sm.res, re)
	}
	return sm, nil
}

// Matches reports whether the transcript contains any stop phrase.
func (sm *StopMatcher) Matches(text string) bool {
	for _, re := range sm.res {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
