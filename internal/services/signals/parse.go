package signals

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"TradeLoop/internal/domain/models"
	"TradeLoop/pkg/util"
)

// AnalystReport is what the language model analyst extracts from a
// free-text completion.
type AnalystReport struct {
	Recommendation models.Action `json:"recommendation"`
	Confidence     float64       `json:"confidence"`
	Factors        []string      `json:"factors"`
	Risks          []string      `json:"risks"`
	PriceTarget    string        `json:"price_target,omitempty"`
	Analysis       string        `json:"analysis"`
	Structured     bool          `json:"structured"`
}

const defaultAnalystConfidence = 0.5

// ParseAnalystResponse never fails. A JSON object embedded in the text
// wins; otherwise the labelled and bulleted prose is mined.
func ParseAnalystResponse(text string) AnalystReport {
	if span, ok := firstJSONObject(text); ok {
		if r, ok := parseJSONReport(span); ok {
			return r
		}
	}
	return extractReport(text)
}

// firstJSONObject returns the first balanced {...} span, skipping braces
// inside string literals.
func firstJSONObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	for start >= 0 {
		depth, inString, escaped := 0, false, false
		for i := start; i < len(text); i++ {
			c := text[i]
			if inString {
				switch {
				case escaped:
					escaped = false
				case c == '\\':
					escaped = true
				case c == '"':
					inString = false
				}
				continue
			}
			switch c {
			case '"':
				inString = true
			case '{':
				depth++
			case '}':
				depth--
				if depth == 0 {
					return text[start : i+1], true
				}
			}
		}
		// unbalanced from here; try the next opening brace
		next := strings.IndexByte(text[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

type rawReport struct {
	Recommendation string          `json:"recommendation"`
	Confidence     json.RawMessage `json:"confidence"`
	Factors        []string        `json:"factors"`
	Risks          []string        `json:"risks"`
	PriceTarget    json.RawMessage `json:"price_target"`
	Analysis       string          `json:"analysis"`
}

func parseJSONReport(span string) (AnalystReport, bool) {
	var raw rawReport
	if err := json.Unmarshal([]byte(span), &raw); err != nil {
		return AnalystReport{}, false
	}

	r := AnalystReport{
		Recommendation: models.ActionHold,
		Confidence:     defaultAnalystConfidence,
		Factors:        nonEmpty(raw.Factors),
		Risks:          nonEmpty(raw.Risks),
		Analysis:       raw.Analysis,
		Structured:     true,
	}
	if a, ok := models.ParseAction(raw.Recommendation); ok {
		r.Recommendation = a
	}
	if c, ok := rawNumber(raw.Confidence); ok {
		r.Confidence = models.ClampConfidence(c)
	}
	r.PriceTarget = rawString(raw.PriceTarget)
	if r.Analysis == "" {
		r.Analysis = summarize(span)
	}
	return r, true
}

// rawNumber accepts 0.7 and "0.7".
func rawNumber(msg json.RawMessage) (float64, bool) {
	if len(msg) == 0 {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(msg, &f); err == nil {
		return f, true
	}
	var s string
	if err := json.Unmarshal(msg, &s); err != nil {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f, err == nil
}

func rawString(msg json.RawMessage) string {
	if len(msg) == 0 || string(msg) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		return s
	}
	var v any
	if err := json.Unmarshal(msg, &v); err != nil {
		return ""
	}
	return fmt.Sprint(v)
}

var (
	reRecommendationLabel = regexp.MustCompile(`(?i)recommendation\W+(buy|sell|hold)\b`)
	reBuyKeyword          = regexp.MustCompile(`(?i)\bbuy\b`)
	reSellKeyword         = regexp.MustCompile(`(?i)\bsell\b`)
	reConfidence          = regexp.MustCompile(`(?i)confidence[:\s]+([0-9]*\.?[0-9]+)`)
	rePriceTarget         = regexp.MustCompile(`(?i)price target[:\s]+([\$0-9.,]+)`)
	reBullet              = regexp.MustCompile(`^(?:[-*•]|[0-9]+\.)\s+`)
)

type section int

const (
	sectionNone section = iota
	sectionFactors
	sectionRisks
)

func extractReport(text string) AnalystReport {
	r := AnalystReport{
		Recommendation: models.ActionHold,
		Confidence:     defaultAnalystConfidence,
		Factors:        []string{},
		Risks:          []string{},
		Analysis:       summarize(text),
	}

	if m := reRecommendationLabel.FindStringSubmatch(text); m != nil {
		r.Recommendation, _ = models.ParseAction(m[1])
	} else if reBuyKeyword.MatchString(text) {
		// BUY anywhere outranks SELL; a bare HOLD keyword adds nothing.
		r.Recommendation = models.ActionBuy
	} else if reSellKeyword.MatchString(text) {
		r.Recommendation = models.ActionSell
	}

	if m := reConfidence.FindStringSubmatch(text); m != nil {
		if c, err := strconv.ParseFloat(m[1], 64); err == nil && c >= 0 && c <= 1 {
			r.Confidence = c
		}
	}

	if m := rePriceTarget.FindStringSubmatch(text); m != nil {
		r.PriceTarget = strings.TrimRight(m[1], ".,")
	}

	current := sectionNone
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if loc := reBullet.FindStringIndex(line); loc != nil {
			item := strings.TrimSpace(line[loc[1]:])
			if len(item) <= 5 {
				continue
			}
			switch current {
			case sectionFactors:
				r.Factors = append(r.Factors, item)
			case sectionRisks:
				r.Risks = append(r.Risks, item)
			default:
				if strings.Contains(strings.ToLower(item), "risk") {
					r.Risks = append(r.Risks, item)
				} else {
					r.Factors = append(r.Factors, item)
				}
			}
			continue
		}
		if s, ok := headingSection(line); ok {
			current = s
		}
	}
	return r
}

// headingSection recognises "Key factors:" or "## Risks" style lines.
func headingSection(line string) (section, bool) {
	if !strings.HasSuffix(line, ":") && !strings.HasPrefix(line, "#") {
		return sectionNone, false
	}
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "risk"):
		return sectionRisks, true
	case strings.Contains(lower, "factor"), strings.Contains(lower, "reason"):
		return sectionFactors, true
	}
	return sectionNone, true
}

func summarize(text string) string {
	return util.Truncate(strings.TrimSpace(text), 200, "...")
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
