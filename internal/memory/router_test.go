package memory

import "testing"

func defaultRouterConfig() RouterConfig {
	return RouterConfig{
		MinSalienceForVector: 3.0,
		MinEmbedChars:        6,
		AlwaysEmbedUser:      true,
		AlwaysEmbedAssistant: true,
	}
}

func TestRouteSkipsSystemMessages(t *testing.T) {
	d := Route(MemoryEntry{Role: RoleSystem, Content: "a long enough system prompt"}, MessageAnalysis{Salience: 9}, defaultRouterConfig())
	if d.ShouldEmbed {
		t.Fatal("expected system message to be skipped")
	}
	if d.SkipReason != "system_message" {
		t.Fatalf("skip reason = %q", d.SkipReason)
	}
}

func TestRouteSkipsTooShort(t *testing.T) {
	d := Route(MemoryEntry{Role: RoleUser, Content: "hi"}, MessageAnalysis{Salience: 9}, defaultRouterConfig())
	if d.ShouldEmbed {
		t.Fatal("expected short content to be skipped")
	}
	if d.SkipReason != "too_short" {
		t.Fatalf("skip reason = %q", d.SkipReason)
	}
}

func TestRouteLowSalienceSkippedUnlessForced(t *testing.T) {
	cfg := defaultRouterConfig()
	cfg.AlwaysEmbedUser = false
	cfg.AlwaysEmbedAssistant = false
	d := Route(MemoryEntry{Role: RoleUser, Content: "a perfectly normal low salience message"}, MessageAnalysis{Salience: 1.0}, cfg)
	if d.ShouldEmbed {
		t.Fatal("expected low salience to be skipped when not forced")
	}
	if d.SkipReason != "low_salience" {
		t.Fatalf("skip reason = %q", d.SkipReason)
	}
}

func TestRouteForcedUserOverridesLowSalience(t *testing.T) {
	d := Route(MemoryEntry{Role: RoleUser, Content: "a perfectly normal low salience message"}, MessageAnalysis{Salience: 1.0}, defaultRouterConfig())
	if !d.ShouldEmbed {
		t.Fatal("expected always_embed_user to override low_salience skip")
	}
	if !d.Heads[HeadConversation] {
		t.Fatal("expected Conversation head")
	}
}

func TestRouteAddsCodeHeadWhenContainsCode(t *testing.T) {
	d := Route(MemoryEntry{Role: RoleAssistant, Content: "here is a code sample for you"}, MessageAnalysis{Salience: 5, ContainsCode: true}, defaultRouterConfig())
	if !d.Heads[HeadCode] {
		t.Fatal("expected Code head when analysis.ContainsCode")
	}
}

func TestRouteAddsGitHeadForGitTag(t *testing.T) {
	d := Route(MemoryEntry{Role: RoleAssistant, Content: "committed a fix upstream", Tags: []string{"git"}}, MessageAnalysis{Salience: 5}, defaultRouterConfig())
	if !d.Heads[HeadGit] {
		t.Fatal("expected Git head for entries tagged git")
	}
}

func TestRouteAddsGitHeadForDocumentWithFilePath(t *testing.T) {
	d := Route(MemoryEntry{Role: RoleDocument, Content: "contents of a file worth indexing", Tags: []string{"file:src/main.go"}}, MessageAnalysis{Salience: 5}, defaultRouterConfig())
	if !d.Heads[HeadGit] {
		t.Fatal("expected Git head for a document entry tagged with a file path")
	}
}

func TestRouteUnionsAnalyzerRoutingHints(t *testing.T) {
	d := Route(MemoryEntry{Role: RoleAssistant, Content: "a plain text message with no hints"}, MessageAnalysis{Salience: 5, RoutedToHeads: []Head{HeadGit}}, defaultRouterConfig())
	if !d.Heads[HeadConversation] || !d.Heads[HeadGit] {
		t.Fatalf("expected union of fixed rules and routed_to_heads hints, got %v", d.Heads)
	}
}

func TestHeadSetIsStable(t *testing.T) {
	d := RoutingDecision{Heads: map[Head]bool{HeadGit: true, HeadConversation: true, HeadCode: true}}
	got := d.HeadSet()
	want := []Head{HeadConversation, HeadCode, HeadGit}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
