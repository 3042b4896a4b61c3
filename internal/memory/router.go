package memory

import "strings"

// Route applies the Router's ordered decision rules: role/length/salience
// skips, then the fixed Conversation/Code/Git head rules, unioned with the
// analyzer's routed_to_heads hints.
func Route(entry MemoryEntry, analysis MessageAnalysis, cfg RouterConfig) RoutingDecision {
	if entry.Role == RoleSystem {
		return RoutingDecision{Heads: map[Head]bool{}, ShouldEmbed: false, SkipReason: "system_message"}
	}
	if len(entry.Content) < cfg.MinEmbedChars {
		return RoutingDecision{Heads: map[Head]bool{}, ShouldEmbed: false, SkipReason: "too_short"}
	}
	forcedUser := cfg.AlwaysEmbedUser && entry.Role == RoleUser
	forcedAssistant := cfg.AlwaysEmbedAssistant && entry.Role == RoleAssistant
	if analysis.Salience < cfg.MinSalienceForVector && !forcedUser && !forcedAssistant {
		return RoutingDecision{Heads: map[Head]bool{}, ShouldEmbed: false, SkipReason: "low_salience"}
	}

	heads := map[Head]bool{HeadConversation: true}
	if analysis.ContainsCode {
		heads[HeadCode] = true
	}
	if hasTag(entry.Tags, "git") || (entry.Role == RoleDocument && hasFilePathTag(entry.Tags)) {
		heads[HeadGit] = true
	}
	for _, h := range analysis.RoutedToHeads {
		heads[h] = true
	}
	return RoutingDecision{Heads: heads, ShouldEmbed: true}
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

func hasFilePathTag(tags []string) bool {
	for _, t := range tags {
		if strings.HasPrefix(t, "file:") {
			return true
		}
	}
	return false
}

// HeadSet returns the decision's heads as a stable slice.
func (d RoutingDecision) HeadSet() []Head {
	out := make([]Head, 0, len(d.Heads))
	for _, h := range Heads() {
		if d.Heads[h] {
			out = append(out, h)
		}
	}
	for h := range d.Heads {
		if !containsHead(out, h) {
			out = append(out, h)
		}
	}
	return out
}

func containsHead(hs []Head, h Head) bool {
	for _, x := range hs {
		if x == h {
			return true
		}
	}
	return false
}
