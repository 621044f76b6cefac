package mail

import "strings"

// ParseRecipients splits a free-text recipient field on commas, trimming
// whitespace and dropping blank components. Order is preserved and
// duplicates are kept.
func ParseRecipients(raw string) []string {
	parts := strings.Split(raw, ",")
	recipients := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		recipients = append(recipients, part)
	}
	return recipients
}
