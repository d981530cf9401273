package agents

import (
	"log/slog"
	"regexp"

	"github.com/inovadata/whatsman/internal/store"
)

// ShouldIgnore reports whether any ignore rule matches the message. A match
// drops the message before any agent sees it. Rule patterns are regular
// expressions matched case-insensitively; unparseable patterns are skipped.
func ShouldIgnore(rules []store.IgnoreRule, msg *InboundMessage) bool {
	for _, rule := range rules {
		var target string
		switch rule.Type {
		case store.IgnoreRuleContact:
			target = msg.From
		case store.IgnoreRuleGroup:
			if !msg.IsGroup {
				continue
			}
			target = msg.GroupName
		case store.IgnoreRuleKeyword:
			target = msg.Body
		default:
			continue
		}
		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			slog.Warn("skipping ignore rule with invalid pattern", "rule", rule.ID, "pattern", rule.Pattern, "error", err)
			continue
		}
		if re.MatchString(target) {
			slog.Debug("message matched ignore rule", "rule", rule.ID, "type", rule.Type)
			return true
		}
	}
	return false
}
