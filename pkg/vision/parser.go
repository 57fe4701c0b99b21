package vision

import (
	"encoding/json"
	"strings"
	"unicode"

	"github.com/xeipuuv/gojsonschema"
)

// summarySchema validates a JSON object some models embed in their
// response. Only objects that pass are trusted over keyword extraction.
const summarySchema = `{
	"type": "object",
	"required": ["disease"],
	"properties": {
		"disease":        {"type": "string", "minLength": 1},
		"confidence":     {"type": "string", "enum": ["high", "medium", "low"]},
		"severity":       {"type": "string", "enum": ["mild", "moderate", "severe", "unknown"]},
		"affected_parts": {"type": "string"},
		"treatment":      {"type": "string"},
		"prevention":     {"type": "string"},
		"timeline":       {"type": "string"}
	}
}`

var summarySchemaLoader = gojsonschema.NewStringLoader(summarySchema)

var diseaseKeywords = []string{
	"blight", "rust", "mildew", "wilt", "spot", "rot", "mosaic",
	"aphid", "thrips", "mite", "caterpillar", "fungus", "bacterial",
	"viral", "nutrient deficiency", "water stress",
}

// structureAnalysis extracts a Summary from the provider's prose. An
// embedded schema-valid JSON object wins; otherwise keyword heuristics fill
// in the defaults.
func structureAnalysis(text string) Summary {
	if s, ok := parseEmbeddedSummary(text); ok {
		return s
	}

	summary := Summary{
		Disease:       "Unknown condition",
		Confidence:    "medium",
		Severity:      "moderate",
		AffectedParts: "leaves",
		Treatment:     "Consult local agricultural expert",
		Prevention:    "Regular monitoring and good crop hygiene",
		Timeline:      "Monitor progress over 1-2 weeks",
	}

	lower := strings.ToLower(text)

	for _, keyword := range diseaseKeywords {
		if strings.Contains(lower, keyword) {
			summary.Disease = titleCase(keyword)
			break
		}
	}

	if strings.Contains(lower, "high confidence") || strings.Contains(lower, "very confident") {
		summary.Confidence = "high"
	} else if strings.Contains(lower, "low confidence") || strings.Contains(lower, "uncertain") {
		summary.Confidence = "low"
	}

	if strings.Contains(lower, "severe") || strings.Contains(lower, "critical") {
		summary.Severity = "severe"
	} else if strings.Contains(lower, "mild") || strings.Contains(lower, "minor") {
		summary.Severity = "mild"
	}

	return summary
}

// parseEmbeddedSummary pulls the first JSON object out of the text (fenced
// or inline) and accepts it only when it validates against summarySchema.
func parseEmbeddedSummary(text string) (Summary, bool) {
	raw := extractJSONObject(text)
	if raw == "" {
		return Summary{}, false
	}

	result, err := gojsonschema.Validate(summarySchemaLoader, gojsonschema.NewStringLoader(raw))
	if err != nil || !result.Valid() {
		return Summary{}, false
	}

	var s Summary
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return Summary{}, false
	}
	return s, true
}

func extractJSONObject(text string) string {
	if idx := strings.Index(text, "```json"); idx >= 0 {
		rest := text[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end >= 0 {
			text = rest[:end]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return ""
	}
	return text[start : end+1]
}

// extractRecommendations walks the prose line by line, assigning bullet
// points to the most recent section heading.
func extractRecommendations(text string) *Recommendations {
	recs := &Recommendations{
		ImmediateActions:   []string{},
		Treatments:         []string{},
		PreventiveMeasures: []string{},
		MonitoringSchedule: "Check daily for the next week",
	}

	var current *[]string
	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(strings.TrimSpace(line))

		switch {
		case strings.Contains(lower, "immediate") || strings.Contains(lower, "urgent"):
			current = &recs.ImmediateActions
		case strings.Contains(lower, "treatment") || strings.Contains(lower, "remedy"):
			current = &recs.Treatments
		case strings.Contains(lower, "prevent") || strings.Contains(lower, "future"):
			current = &recs.PreventiveMeasures
		case strings.HasPrefix(lower, "-") || strings.HasPrefix(lower, "•") || strings.HasPrefix(lower, "*"):
			if current == nil {
				continue
			}
			item := strings.TrimLeft(strings.TrimSpace(line), "-•* ")
			if item != "" {
				*current = append(*current, item)
			}
		}
	}

	return recs
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		runes := []rune(w)
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}
