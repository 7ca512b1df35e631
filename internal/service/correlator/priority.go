package correlator

import (
	"strings"

	"helpdesk-ingest-go/internal/model"
)

var priorityKeywords = []struct {
	priority string
	keywords []string
}{
	{model.PriorityCritical, []string{"urgent", "critical", "system down", "server down", "outage"}},
	{model.PriorityHigh, []string{"cannot access", "security", "data loss", "major"}},
	{model.PriorityMedium, []string{"error", "issue", "bug", "slow", "login"}},
}

// DetectPriority assigns a priority to a new case from keywords in its
// subject and body. The highest matching tier wins.
func DetectPriority(subject, body string) string {
	text := strings.ToLower(subject + " " + body)
	for _, tier := range priorityKeywords {
		for _, kw := range tier.keywords {
			if strings.Contains(text, kw) {
				return tier.priority
			}
		}
	}
	return model.PriorityLow
}
