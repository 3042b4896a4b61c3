package memory

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

const analyzerPromptVersion = 1

// analysisJSON mirrors the strict JSON object requested from the LLM path.
type analysisJSON struct {
	Salience           float64  `json:"salience"`
	Intent             string   `json:"intent"`
	Summary            string   `json:"summary"`
	RelationshipImpact string   `json:"relationship_impact"`
	Mood               string   `json:"mood"`
	Intensity          float64  `json:"intensity"`
	Topics             []string `json:"topics"`
	ContainsCode       bool     `json:"contains_code"`
	ProgrammingLang    string   `json:"programming_lang"`
	RoutedToHeads      []string `json:"routed_to_heads"`
}

const analyzerSystemPrompt = `You analyze a single conversational message and emit a strict JSON object
with exactly these fields: salience (0.0-10.0), intent, summary, relationship_impact,
mood, intensity (0.0-1.0), topics (array of strings), contains_code (bool),
programming_lang (string, empty if none), routed_to_heads (array, subset of
["conversation","code","git"]). Respond with JSON only, no prose, no markdown fences.`

// Analyzer produces MessageAnalysis for unanalyzed entries, preferring an
// LLM-backed structured pass and falling back to heuristics on any failure.
type Analyzer struct {
	llm LlmClient
}

// NewAnalyzer constructs an Analyzer. llm may be nil, in which case every
// call takes the heuristic path.
func NewAnalyzer(llm LlmClient) *Analyzer {
	return &Analyzer{llm: llm}
}

// Analyze produces a MessageAnalysis for entry, trying the LLM path first
// and falling back to heuristics on any error or schema-validation failure.
func (a *Analyzer) Analyze(ctx context.Context, entry MemoryEntry) MessageAnalysis {
	now := time.Now().UTC()
	if a.llm != nil {
		if analysis, ok := a.analyzeViaLLM(ctx, entry, now); ok {
			return analysis
		}
	}
	return a.analyzeHeuristically(entry, now)
}

func (a *Analyzer) analyzeViaLLM(ctx context.Context, entry MemoryEntry, now time.Time) (MessageAnalysis, bool) {
	raw, err := a.llm.Complete(ctx, analyzerSystemPrompt, entry.Content)
	if err != nil {
		return MessageAnalysis{}, false
	}
	var parsed analysisJSON
	if err := json.Unmarshal([]byte(extractJSONObject(raw)), &parsed); err != nil {
		return MessageAnalysis{}, false
	}
	if parsed.Salience < 0 || parsed.Salience > 10 {
		return MessageAnalysis{}, false
	}

	heads := make([]Head, 0, len(parsed.RoutedToHeads))
	for _, h := range parsed.RoutedToHeads {
		switch Head(strings.ToLower(strings.TrimSpace(h))) {
		case HeadConversation:
			heads = append(heads, HeadConversation)
		case HeadCode:
			heads = append(heads, HeadCode)
		case HeadGit:
			heads = append(heads, HeadGit)
		}
	}

	return MessageAnalysis{
		MessageID:          entry.ID,
		Salience:           parsed.Salience,
		OriginalSalience:   parsed.Salience,
		Intent:             parsed.Intent,
		Summary:            parsed.Summary,
		RelationshipImpact: parsed.RelationshipImpact,
		Mood:               parsed.Mood,
		Intensity:          parsed.Intensity,
		Topics:             parsed.Topics,
		ContainsCode:       parsed.ContainsCode,
		ProgrammingLang:    parsed.ProgrammingLang,
		RoutedToHeads:      heads,
		AnalyzedAt:         now,
		AnalysisVersion:    analyzerPromptVersion,
	}, true
}

// extractJSONObject trims leading/trailing prose and markdown fences a model
// sometimes wraps its JSON response in, returning the first balanced
// {...} span found.
func extractJSONObject(raw string) string {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	start := strings.IndexByte(trimmed, '{')
	end := strings.LastIndexByte(trimmed, '}')
	if start < 0 || end < start {
		return trimmed
	}
	return trimmed[start : end+1]
}

var (
	codeFenceRe  = regexp.MustCompile("```")
	errorWordsRe = regexp.MustCompile(`(?i)\b(error|exception|panic|traceback|stack trace|fail(ed|ure)?)\b`)
	langHintRe   = map[string]*regexp.Regexp{
		"go":         regexp.MustCompile(`(?i)\bfunc\s+\w+\(|package\s+\w+|:=`),
		"python":     regexp.MustCompile(`(?i)\bdef\s+\w+\(|import\s+\w+|:\n\s+`),
		"javascript": regexp.MustCompile(`(?i)\bfunction\s+\w+\(|=>|const\s+\w+\s*=`),
		"rust":       regexp.MustCompile(`(?i)\bfn\s+\w+\(|let\s+mut\b|impl\s+\w+`),
		"sql":        regexp.MustCompile(`(?i)\bselect\s+.+\bfrom\b|\binsert\s+into\b`),
	}
	shortAckRe = regexp.MustCompile(`(?i)^(ok|okay|thanks|thank you|sure|got it|sounds good|yep|yes|no|np)[.!]*$`)
)

// analyzeHeuristically implements the regex/keyword fallback path: contains_code
// and programming_lang detection, plus a length- and keyword-weighted salience
// estimate targeting median ~4.0 / p90 ~7.5 across typical conversational text.
func (a *Analyzer) analyzeHeuristically(entry MemoryEntry, now time.Time) MessageAnalysis {
	containsCode := codeFenceRe.MatchString(entry.Content)
	lang := ""
	if containsCode {
		for name, re := range langHintRe {
			if re.MatchString(entry.Content) {
				lang = name
				break
			}
		}
	} else {
		for name, re := range langHintRe {
			if re.MatchString(entry.Content) {
				containsCode = true
				lang = name
				break
			}
		}
	}

	salience := heuristicSalience(entry.Content, containsCode)

	return MessageAnalysis{
		MessageID:        entry.ID,
		Salience:         salience,
		OriginalSalience: salience,
		Topics:           []string{},
		ContainsCode:     containsCode,
		ProgrammingLang:  lang,
		AnalyzedAt:       now,
		AnalysisVersion:  analyzerPromptVersion,
	}
}

func heuristicSalience(content string, containsCode bool) float64 {
	trimmed := strings.TrimSpace(content)
	if shortAckRe.MatchString(trimmed) {
		return 1.5
	}

	base := 3.0
	length := len(trimmed)
	switch {
	case length > 800:
		base += 3.0
	case length > 300:
		base += 2.0
	case length > 100:
		base += 1.0
	}
	if errorWordsRe.MatchString(trimmed) {
		base += 1.5
	}
	if containsCode {
		base += 1.0
	}
	if strings.Contains(trimmed, "?") {
		base += 0.5
	}
	if base > 10.0 {
		base = 10.0
	}
	if base < 0.0 {
		base = 0.0
	}
	return base
}
