package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/messenger-client/internal/model"
)

func ago(t, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func senderName(m *model.Message) string {
	if m.Sender != nil && m.Sender.Username != "" {
		return m.Sender.Username
	}
	return fmt.Sprintf("user#%d", m.SenderID)
}

func formatConversation(c *model.Conversation, me int64, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "#%-5d %s", c.ID, c.DisplayName(me))
	if c.IsGroup {
		active := 0
		for i := range c.Participants {
			if c.Participants[i].Active() {
				active++
			}
		}
		fmt.Fprintf(&b, " (%d members)", active)
	}
	for i := range c.Participants {
		if p := c.Participants[i]; p.UserID == me && p.UnreadCount > 0 {
			fmt.Fprintf(&b, " [%d unread]", p.UnreadCount)
		}
	}
	if m := c.LastMessage; m != nil {
		fmt.Fprintf(&b, "\n       %s: %s · %s", senderName(m), preview(m), ago(m.Timestamp, now))
	}
	return b.String()
}

func preview(m *model.Message) string {
	switch m.ContentType {
	case model.ContentTypeImage, model.ContentTypeFile, model.ContentTypeAudio, model.ContentTypeVideo:
		return "[" + strings.ToLower(string(m.ContentType)) + "]"
	}
	s := strings.Join(strings.Fields(m.Content), " ")
	if r := []rune(s); len(r) > 60 {
		return string(r[:57]) + "..."
	}
	return s
}

func formatMessage(m *model.Message, me int64, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%6d  %s  %s: %s", m.ID, m.Timestamp.Local().Format("15:04"), senderName(m), preview(m))
	if m.ParentID != nil {
		fmt.Fprintf(&b, "  ↩%d", *m.ParentID)
	}
	if m.Edited() {
		b.WriteString("  (edited)")
	}
	if len(m.Reactions) > 0 {
		counts := map[string]int{}
		order := []string{}
		for _, r := range m.Reactions {
			if counts[r.Reaction] == 0 {
				order = append(order, r.Reaction)
			}
			counts[r.Reaction]++
		}
		for _, r := range order {
			fmt.Fprintf(&b, "  %s%d", r, counts[r])
		}
	}
	if m.SenderID == me && len(m.ReadBy) > 0 {
		b.WriteString("  ✓✓")
	}
	if age := now.Sub(m.Timestamp); age > 24*time.Hour {
		fmt.Fprintf(&b, "  · %s", ago(m.Timestamp, now))
	}
	return b.String()
}

func formatUser(u *model.User) string {
	status := u.PresenceStatus
	if status == "" {
		status = model.PresenceOnline
	}
	return fmt.Sprintf("%-20s %s", u.Username, strings.ToLower(string(status)))
}
