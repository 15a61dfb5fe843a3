package voice

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/webai/internal/protocol"
	"github.com/MrWong99/webai/pkg/types"
)

const (
	phoneticThreshold = 0.70
	fuzzyThreshold    = 0.85
)

// resolveVoice finds the voice a client asked for. It tries an exact ID,
// then a case-insensitive name, then the closest name by Double Metaphone
// overlap ranked with Jaro-Winkler, and finally plain Jaro-Winkler above a
// stricter threshold.
func resolveVoice(query string, voices []types.VoiceProfile) (types.VoiceProfile, bool) {
	q := strings.TrimSpace(query)
	if q == "" {
		return types.VoiceProfile{}, false
	}
	for _, v := range voices {
		if v.ID == q {
			return v, true
		}
	}
	for _, v := range voices {
		if strings.EqualFold(v.Name, q) {
			return v, true
		}
	}

	ql := strings.ToLower(q)
	qCodes := metaphoneCodes(ql)

	var (
		best      types.VoiceProfile
		bestScore float64
		phonetic  bool
		found     bool
	)
	for _, v := range voices {
		name := strings.ToLower(strings.TrimSpace(v.Name))
		if name == "" {
			continue
		}
		score := matchr.JaroWinkler(ql, name, false)
		if overlaps(qCodes, metaphoneCodes(name)) {
			if score >= phoneticThreshold && (!phonetic || score > bestScore) {
				best, bestScore, phonetic, found = v, score, true, true
			}
		} else if !phonetic && score >= fuzzyThreshold && score > bestScore {
			best, bestScore, found = v, score, true
		}
	}
	return best, found
}

func metaphoneCodes(s string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	for _, tok := range strings.Fields(s) {
		p, sec := matchr.DoubleMetaphone(tok)
		if p != "" {
			codes[p] = struct{}{}
		}
		if sec != "" {
			codes[sec] = struct{}{}
		}
	}
	return codes
}

func overlaps(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}

// wireVoice converts a voice profile to its protocol form.
func wireVoice(v types.VoiceProfile) protocol.Voice {
	return protocol.Voice{ID: v.ID, Name: v.Name, Language: v.Language, Gender: v.Gender}
}

func wireVoices(vs []types.VoiceProfile) []protocol.Voice {
	out := make([]protocol.Voice, len(vs))
	for i, v := range vs {
		out[i] = wireVoice(v)
	}
	return out
}
