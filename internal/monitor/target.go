package monitor

import (
	"fmt"
	"strings"
)

// Target is a group reachable through one bot.
type Target struct {
	BotID   string
	GroupID string
}

// String returns the "botId:groupId" form.
func (t Target) String() string {
	return t.BotID + ":" + t.GroupID
}

// ParseTarget parses "botId:groupId".
func ParseTarget(s string) (Target, error) {
	bot, group, ok := strings.Cut(strings.TrimSpace(s), ":")
	bot, group = strings.TrimSpace(bot), strings.TrimSpace(group)
	if !ok || bot == "" || group == "" || strings.Contains(group, ":") {
		return Target{}, fmt.Errorf("%w: %q (want botId:groupId)", ErrInvalidTarget, s)
	}
	return Target{BotID: bot, GroupID: group}, nil
}

// ParseTargets parses a target list, dropping duplicates and keeping
// first-seen order. Malformed entries fail the whole list.
func ParseTargets(entries []string) ([]Target, error) {
	seen := make(map[Target]bool, len(entries))
	out := make([]Target, 0, len(entries))
	for _, e := range entries {
		t, err := ParseTarget(e)
		if err != nil {
			return nil, err
		}
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out, nil
}

// FormatTargets is the inverse of ParseTargets.
func FormatTargets(targets []Target) []string {
	out := make([]string, len(targets))
	for i, t := range targets {
		out[i] = t.String()
	}
	return out
}
