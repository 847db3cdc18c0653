package webhooks

import (
	"fmt"
	"strconv"
	"time"

	"github.com/platinummonkey/rampart/pkg/audit"
)

// SlackMessage represents a Slack incoming-webhook message
type SlackMessage struct {
	Text        string            `json:"text,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack attachment
type SlackAttachment struct {
	Color  string       `json:"color,omitempty"`
	Title  string       `json:"title,omitempty"`
	Fields []SlackField `json:"fields,omitempty"`
	Ts     int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

var eventVerbs = map[audit.EventType]string{
	audit.EventTypeRoleAssign:       "was granted role",
	audit.EventTypeRoleRevoke:       "lost role",
	audit.EventTypePermissionAssign: "was granted permission",
	audit.EventTypePermissionRevoke: "lost permission",
}

func slackMessage(e *audit.Event) SlackMessage {
	scope := "globally"
	if e.Context != "" {
		scope = "in " + e.Context
	}
	text := fmt.Sprintf("%s %s *%s* %s", e.Principal, eventVerbs[e.Type], e.Target, scope)

	color := "good"
	if e.Type == audit.EventTypeRoleRevoke || e.Type == audit.EventTypePermissionRevoke {
		color = "warning"
	}

	fields := []SlackField{{Title: "Event", Value: string(e.Type), Short: true}}
	if e.Actor != "" {
		fields = append(fields, SlackField{Title: "Changed by", Value: e.Actor, Short: true})
	}
	if e.Removed > 0 {
		fields = append(fields, SlackField{Title: "Bindings removed", Value: strconv.FormatInt(e.Removed, 10), Short: true})
	}
	for _, key := range []string{"activated_at", "expired_at"} {
		if v, ok := e.Metadata[key].(string); ok {
			fields = append(fields, SlackField{Title: key, Value: v, Short: true})
		}
	}

	occurred := e.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now()
	}
	return SlackMessage{
		Text: text,
		Attachments: []SlackAttachment{{
			Color:  color,
			Title:  "Access change",
			Fields: fields,
			Ts:     occurred.Unix(),
		}},
	}
}
