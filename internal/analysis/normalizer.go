package analysis

import (
	"encoding/json"
	"regexp"

	"ticketmind/internal/models"

	"github.com/tidwall/gjson"
)

// DegradedConfidence is the fixed confidence assigned when structured
// parsing fails entirely and the result falls back to a raw-text summary.
const DegradedConfidence = 0.5

// DegradedSummaryLimit caps the summary length of a degraded result.
const DegradedSummaryLimit = 500

// wordNumbers maps bare English digit words found in numeric positions to
// approximate decimal equivalents ("Nine," becomes "0.9,").
var wordNumbers = map[string]string{
	"Zero":  "0.0",
	"One":   "0.1",
	"Two":   "0.2",
	"Three": "0.3",
	"Four":  "0.4",
	"Five":  "0.5",
	"Six":   "0.6",
	"Seven": "0.7",
	"Eight": "0.8",
	"Nine":  "0.9",
}

// Repair rules, applied once each, in this order. Each is a pure text
// substitution; re-parse is attempted only after all rules have run.
var (
	wordNumberRe    = regexp.MustCompile(`(:\s*)(Zero|One|Two|Three|Four|Five|Six|Seven|Eight|Nine)\s*([,}\]])`)
	capitalWordRe   = regexp.MustCompile(`(:\s*)([A-Z][A-Za-z]*)\s*,`)
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// Normalize extracts the fixed result schema from raw model output.
// The input may be strict JSON, malformed JSON, or plain prose. Malformed
// JSON goes through the repair rules; when both parse attempts fail the
// result degrades to a summary-only fallback so a successful remote call
// never yields "no result".
func Normalize(raw string, retrieval []models.RetrievalItem) *models.NormalizedResult {
	if isObject(raw) {
		return extract(raw, retrieval)
	}

	repaired := applyRepairRules(raw)
	if isObject(repaired) {
		return extract(repaired, retrieval)
	}

	return degraded(raw)
}

func isObject(text string) bool {
	var m map[string]interface{}
	return json.Unmarshal([]byte(text), &m) == nil
}

func applyRepairRules(text string) string {
	text = wordNumberRe.ReplaceAllStringFunc(text, func(m string) string {
		sub := wordNumberRe.FindStringSubmatch(m)
		return sub[1] + wordNumbers[sub[2]] + sub[3]
	})
	text = capitalWordRe.ReplaceAllString(text, `${1}0.85,`)
	text = trailingCommaRe.ReplaceAllString(text, `$1`)
	return text
}

func extract(text string, retrieval []models.RetrievalItem) *models.NormalizedResult {
	doc := gjson.Parse(text)

	result := &models.NormalizedResult{
		Tags:             []string{},
		SuggestedActions: []string{},
	}

	result.Tags = stringList(doc.Get("tags"))
	result.Summary = doc.Get("summary").String()
	result.Sentiment = doc.Get("sentiment").String()
	result.PrioritySuggestion = doc.Get("priority_suggestion").String()
	result.SuggestedResponse = doc.Get("suggested_response").String()
	result.SuggestedActions = stringList(doc.Get("suggested_actions"))

	// Cast-to-float only: out-of-range values from the remote service are
	// passed through unchanged.
	if score := doc.Get("confidence_score"); score.Exists() && score.Type != gjson.Null {
		f := score.Float()
		result.ConfidenceScore = &f
	}

	// Union of extracted filenames and retrieval provenance, deduplicated.
	seen := make(map[string]struct{})
	for _, v := range doc.Get("source_files").Array() {
		name := v.String()
		if name == "" {
			continue
		}
		if _, ok := seen[name]; !ok {
			seen[name] = struct{}{}
			result.SourceFiles = append(result.SourceFiles, name)
		}
	}
	for _, item := range retrieval {
		if item.Filename == "" {
			continue
		}
		if _, ok := seen[item.Filename]; !ok {
			seen[item.Filename] = struct{}{}
			result.SourceFiles = append(result.SourceFiles, item.Filename)
		}
	}

	return result
}

func degraded(raw string) *models.NormalizedResult {
	summary := raw
	if runes := []rune(summary); len(runes) > DegradedSummaryLimit {
		summary = string(runes[:DegradedSummaryLimit])
	}
	confidence := DegradedConfidence
	return &models.NormalizedResult{
		Tags:             []string{},
		SuggestedActions: []string{},
		Summary:          summary,
		ConfidenceScore:  &confidence,
		Degraded:         true,
	}
}

func stringList(v gjson.Result) []string {
	out := []string{}
	if !v.IsArray() {
		return out
	}
	for _, e := range v.Array() {
		if s := e.String(); s != "" {
			out = append(out, s)
		}
	}
	return out
}
