package news

import (
	"math"
	"strings"
	"unicode"
)

var positiveWords = map[string]float64{
	"beat": 1, "beats": 1, "bullish": 1.5, "buy": 0.5, "gain": 1, "gains": 1,
	"growth": 1, "grows": 1, "high": 0.3, "jump": 1, "jumps": 1, "outperform": 1.5,
	"positive": 1, "profit": 1, "profits": 1, "rally": 1.2, "rallies": 1.2,
	"record": 0.5, "rise": 0.8, "rises": 0.8, "soar": 1.5, "soars": 1.5,
	"strong": 1, "surge": 1.5, "surges": 1.5, "upgrade": 1.5, "upgraded": 1.5,
	"win": 1, "wins": 1, "expansion": 0.8, "dividend": 0.5, "approval": 1,
}

var negativeWords = map[string]float64{
	"bearish": 1.5, "cut": 0.8, "cuts": 0.8, "decline": 1, "declines": 1,
	"default": 1.5, "downgrade": 1.5, "downgraded": 1.5, "drop": 1, "drops": 1,
	"fall": 1, "falls": 1, "fraud": 2, "lawsuit": 1.2, "loss": 1, "losses": 1,
	"miss": 1, "misses": 1, "negative": 1, "penalty": 1.2, "plunge": 1.5,
	"plunges": 1.5, "probe": 1, "risk": 0.5, "sell": 0.5, "slump": 1.2,
	"slumps": 1.2, "weak": 1, "warning": 1, "layoffs": 1.2, "crash": 2,
}

var negators = map[string]bool{"not": true, "no": true, "never": true, "without": true}

// LexiconScorer is a finance word-list sentiment model. The raw sum is
// squashed to [-1, 1] with x/sqrt(x^2+alpha).
type LexiconScorer struct {
	alpha float64
}

func NewLexiconScorer() *LexiconScorer {
	return &LexiconScorer{alpha: 15}
}

func (s *LexiconScorer) Score(text string) float64 {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})

	sum := 0.0
	for i, tok := range tokens {
		w := positiveWords[tok] - negativeWords[tok]
		if w == 0 {
			continue
		}
		if i > 0 && negators[tokens[i-1]] {
			w = -w
		}
		sum += w
	}
	if sum == 0 {
		return 0
	}
	return sum / math.Sqrt(sum*sum+s.alpha)
}
