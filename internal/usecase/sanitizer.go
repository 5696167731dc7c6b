package usecase

import (
	"cmp"
	"slices"
	"strings"
)

// DefaultSubstitutions maps internal identifiers that must never reach the
// user to their public replacement.
func DefaultSubstitutions() map[string]string {
	return map[string]string{
		"glm-5-free":        "Sparkie",
		"minimax-m2.5-free": "Sparkie",
		"minimax-m2.1-free": "Sparkie",
		"kimi-k2.5-free":    "Sparkie",
		"big-pickle":        "Sparkie",
		"opencode.ai":       "sparkie",
		"OpenCode Zen":      "Sparkie",
		"OpenCode":          "Sparkie",
		"opencode":          "sparkie",
		"Moonshot AI":       "the Sparkie team",
		"Zhipu AI":          "the Sparkie team",
		"MiniMax":           "Sparkie",
		"Kimi":              "Sparkie",
	}
}

// Sanitizer replaces internal identifiers in outbound text. When two keys
// match at the same position the longer one wins.
type Sanitizer struct {
	keys     []string
	replacer *strings.Replacer
}

// NewSanitizer merges extra over DefaultSubstitutions.
func NewSanitizer(extra map[string]string) *Sanitizer {
	table := DefaultSubstitutions()
	for k, v := range extra {
		if k != "" {
			table[k] = v
		}
	}

	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, k)
	}
	// strings.Replacer tries olds in argument order at each position.
	slices.SortFunc(keys, func(a, b string) int {
		if c := cmp.Compare(len(b), len(a)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})

	pairs := make([]string, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, table[k])
	}
	return &Sanitizer{keys: keys, replacer: strings.NewReplacer(pairs...)}
}

// Replace sanitizes a complete text.
func (s *Sanitizer) Replace(text string) string {
	if len(s.keys) == 0 {
		return text
	}
	return s.replacer.Replace(text)
}

// Stream returns an incremental sanitizer for one response.
func (s *Sanitizer) Stream() *StreamSanitizer {
	return &StreamSanitizer{s: s}
}

// holdFrom returns the earliest index from which buf must be held back: a
// suffix that could still grow into a key, or a key occurrence that would
// otherwise be cut by that boundary.
func (s *Sanitizer) holdFrom(buf string) int {
	hold := len(buf)
	for i := range len(buf) {
		tail := buf[i:]
		for _, k := range s.keys {
			if len(tail) < len(k) && strings.HasPrefix(k, tail) {
				hold = i
				break
			}
		}
		if hold != len(buf) {
			break
		}
	}

	// A full key occurrence straddling the boundary moves it back.
	for moved := true; moved; {
		moved = false
		for j := range hold {
			for _, k := range s.keys {
				if j+len(k) > hold && strings.HasPrefix(buf[j:], k) {
					hold = j
					moved = true
					break
				}
			}
			if moved {
				break
			}
		}
	}
	return hold
}

// StreamSanitizer sanitizes text that arrives in chunks. An identifier split
// across chunks is held back until it can be replaced whole.
type StreamSanitizer struct {
	s       *Sanitizer
	pending string
}

// Push adds a chunk and returns the text that is safe to emit now.
func (ss *StreamSanitizer) Push(chunk string) string {
	buf := ss.pending + chunk
	hold := ss.s.holdFrom(buf)
	ss.pending = buf[hold:]
	return ss.s.Replace(buf[:hold])
}

// Flush returns whatever is still held back.
func (ss *StreamSanitizer) Flush() string {
	out := ss.s.Replace(ss.pending)
	ss.pending = ""
	return out
}
