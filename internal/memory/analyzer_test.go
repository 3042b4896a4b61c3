package memory

import (
	"context"
	"errors"
	"testing"
)

func TestAnalyzeViaLLMParsesStrictJSON(t *testing.T) {
	llm := &fakeLlmClient{response: `{"salience":7.5,"intent":"ask_question","summary":"asks about deploys","relationship_impact":"neutral","mood":"curious","intensity":0.4,"topics":["deploys"],"contains_code":false,"programming_lang":"","routed_to_heads":["conversation"]}`}
	a := NewAnalyzer(llm)
	analysis := a.Analyze(context.Background(), MemoryEntry{ID: 1, Content: "how do I deploy this?"})
	if analysis.Salience != 7.5 {
		t.Fatalf("expected salience 7.5, got %v", analysis.Salience)
	}
	if analysis.Intent != "ask_question" {
		t.Fatalf("expected parsed intent, got %q", analysis.Intent)
	}
	if len(analysis.RoutedToHeads) != 1 || analysis.RoutedToHeads[0] != HeadConversation {
		t.Fatalf("expected routed_to_heads=[conversation], got %v", analysis.RoutedToHeads)
	}
}

func TestAnalyzeFallsBackToHeuristicsOnLLMError(t *testing.T) {
	llm := &fakeLlmClient{err: errors.New("upstream unavailable")}
	a := NewAnalyzer(llm)
	analysis := a.Analyze(context.Background(), MemoryEntry{ID: 1, Content: "```go\nfunc main() {}\n```"})
	if !analysis.ContainsCode {
		t.Fatal("expected heuristic fallback to detect a fenced code block")
	}
}

func TestAnalyzeFallsBackToHeuristicsOnMalformedJSON(t *testing.T) {
	llm := &fakeLlmClient{response: "not json at all"}
	a := NewAnalyzer(llm)
	analysis := a.Analyze(context.Background(), MemoryEntry{ID: 1, Content: "a perfectly normal message"})
	if analysis.AnalysisVersion != analyzerPromptVersion {
		t.Fatalf("expected analysis version to still be set, got %d", analysis.AnalysisVersion)
	}
}

func TestAnalyzeHeuristicDetectsLanguageFromSyntax(t *testing.T) {
	a := NewAnalyzer(nil)
	analysis := a.Analyze(context.Background(), MemoryEntry{ID: 1, Content: "func main() {\n\tfmt.Println(\"hi\")\n}"})
	if !analysis.ContainsCode {
		t.Fatal("expected go syntax to be detected as code")
	}
	if analysis.ProgrammingLang != "go" {
		t.Fatalf("expected lang=go, got %q", analysis.ProgrammingLang)
	}
}

func TestAnalyzeHeuristicShortAcknowledgementIsLowSalience(t *testing.T) {
	a := NewAnalyzer(nil)
	analysis := a.Analyze(context.Background(), MemoryEntry{ID: 1, Content: "thanks!"})
	if analysis.Salience >= 3.0 {
		t.Fatalf("expected a short acknowledgement to score low salience, got %v", analysis.Salience)
	}
}

func TestAnalyzeHeuristicSalienceWithinBounds(t *testing.T) {
	a := NewAnalyzer(nil)
	content := "An exception was thrown deep in the request pipeline and the stack trace pointed at the database layer after a long investigation."
	analysis := a.Analyze(context.Background(), MemoryEntry{ID: 1, Content: content})
	if analysis.Salience < 0 || analysis.Salience > 10 {
		t.Fatalf("salience out of bounds: %v", analysis.Salience)
	}
}
