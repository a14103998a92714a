// Package slack delivers session notifications to a Slack channel. The
// notifier rides the hook bus, so delivery never blocks or fails the
// pipeline.
package slack

import (
	"fmt"

	goslack "github.com/slack-go/slack"
)

// statusEmoji maps terminal session statuses to message markers.
var statusEmoji = map[string]string{
	"completed": ":white_check_mark:",
	"partial":   ":warning:",
	"failed":    ":x:",
}

// BuildSessionMessage builds the notification blocks for a terminal session.
func BuildSessionMessage(sessionID, chainID, status, detail string) []goslack.Block {
	emoji, ok := statusEmoji[status]
	if !ok {
		emoji = ":grey_question:"
	}

	header := goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType,
			fmt.Sprintf("%s Alert session *%s* finished with status *%s*", emoji, sessionID, status), false, false),
		nil, nil)

	fields := []*goslack.TextBlockObject{
		goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Chain:*\n%s", chainID), false, false),
	}
	if detail != "" {
		fields = append(fields,
			goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Detail:*\n%s", truncate(detail, 500)), false, false))
	}

	return []goslack.Block{
		header,
		goslack.NewSectionBlock(nil, fields, nil),
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
