package turn

import (
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/mockmate-ai/mockmate/pkg/provider/avatar"
)

// cueThreshold is the Jaro-Winkler score above which a token counts as a
// keyword hit. It tolerates inflections ("struggled" vs "struggle") without
// matching unrelated words.
const cueThreshold = 0.92

// cueClasses maps expression kinds to the keyword classes that trigger them.
// Order matters: pacing cues win over sentiment so "take your time, that was
// good" glances at the clock rather than nodding.
var cueClasses = []struct {
	kind     string
	keywords []string
}{
	{avatar.ExpressionTimer, []string{
		"time", "pace", "slow", "hurry", "quick", "concise", "brief", "shorter",
	}},
	{avatar.ExpressionFrown, []string{
		"concern", "incorrect", "wrong", "struggle", "unfortunately", "weak",
		"missing", "unclear", "confused",
	}},
	{avatar.ExpressionNod, []string{
		"good", "great", "excellent", "nice", "correct", "impressive",
		"solid", "interesting", "thank", "well",
	}},
}

// DetectCue classifies text into an avatar expression kind by fuzzy keyword
// matching. ok is false when no class matches.
func DetectCue(text string) (kind string, ok bool) {
	tokens := strings.Fields(strings.ToLower(text))
	if len(tokens) == 0 {
		return "", false
	}
	for _, class := range cueClasses {
		for _, token := range tokens {
			token = strings.Trim(token, ".,;:!?\"'()")
			if token == "" {
				continue
			}
			for _, keyword := range class.keywords {
				if token == keyword || strings.HasPrefix(token, keyword) {
					return class.kind, true
				}
				if matchr.JaroWinkler(token, keyword, false) >= cueThreshold {
					return class.kind, true
				}
			}
		}
	}
	return "", false
}
