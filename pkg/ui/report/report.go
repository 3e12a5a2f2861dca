// Package report renders operator views of bridge state for the terminal.
package report

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"wabridge/pkg/channel"
	"wabridge/pkg/gateway"
	storetypes "wabridge/pkg/store/types"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

const timeLayout = "2006-01-02 15:04"

func (th theme) table(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(th.border).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return th.column
			}
			return th.cell
		})
}

// Topics renders every conversation mapping, the singleton topics and row counts.
func Topics(mappings []storetypes.TopicMapping, special storetypes.SpecialTopics, stats storetypes.Stats) string {
	th := defaultTheme()

	parts := []string{
		th.header.Render("wabridge topics"),
		th.headerMeta.Render(fmt.Sprintf("%d topics · %d special · %d profile snapshots · %d users · %d messages", stats.Topics, stats.Special, stats.Snapshots, stats.Users, stats.Messages)),
	}

	if len(mappings) == 0 {
		parts = append(parts, th.hint.Render("No conversations mapped yet."))
	} else {
		t := th.table("Conversation", "Kind", "Topic", "Name", "Created")
		for _, m := range mappings {
			created := ""
			if !m.CreatedAt.IsZero() {
				created = m.CreatedAt.Local().Format(timeLayout)
			}
			t.Row(m.ConversationID, string(channel.ClassifyConversation(m.ConversationID)), strconv.Itoa(m.TopicID), m.DisplayName, created)
		}
		parts = append(parts, t.String())
	}

	parts = append(parts, th.section.Render("Special topics"))
	kinds := []storetypes.SpecialKind{storetypes.SpecialStatus, storetypes.SpecialCall}
	t := th.table("Kind", "Topic")
	for _, kind := range kinds {
		topic := "-"
		if id, ok := special[kind]; ok {
			topic = strconv.Itoa(id)
		}
		t.Row(string(kind), topic)
	}
	parts = append(parts, t.String())

	return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n"
}

// Status renders a status payload fetched from a running bridge.
func Status(status gateway.Status) string {
	th := defaultTheme()

	state := th.ok.Render(status.Status)
	if status.Status != "ok" && status.Status != "ready" {
		state = th.bad.Render(status.Status)
	}

	parts := []string{
		th.header.Render("wabridge status"),
		th.headerMeta.Render(fmt.Sprintf("state %s · uptime %s", state, (time.Duration(status.UptimeSeconds) * time.Second).String())),
	}

	store := th.ok.Render("ok")
	if status.StoreLastErr != "" {
		store = th.bad.Render(status.StoreLastErr)
	} else if status.StoreLastOKAt == "" {
		store = th.hint.Render("unknown")
	}
	parts = append(parts, "store: "+store)
	if stats := status.StoreStats; stats != nil {
		parts = append(parts, th.hint.Render(fmt.Sprintf("%d topics · %d users · %d messages logged", stats.Topics, stats.Users, stats.Messages)))
	}

	names := make([]string, 0, len(status.Channels))
	for name := range status.Channels {
		names = append(names, name)
	}
	slices.Sort(names)

	channels := th.table("Channel", "Running", "Error")
	for _, name := range names {
		cs := status.Channels[name]
		channels.Row(name, strconv.FormatBool(cs.Running), cs.Error)
	}
	parts = append(parts, channels.String())

	if len(status.Events) > 0 {
		eventTypes := make([]string, 0, len(status.Events))
		for eventType := range status.Events {
			eventTypes = append(eventTypes, eventType)
		}
		slices.Sort(eventTypes)

		events := th.table("Event", "Count")
		for _, eventType := range eventTypes {
			events.Row(strings.ReplaceAll(eventType, "_", " "), strconv.FormatInt(status.Events[eventType], 10))
		}
		parts = append(parts, th.section.Render("Events since start"), events.String())
	}
	if status.EventsDropped > 0 {
		parts = append(parts, th.hint.Render(fmt.Sprintf("%d events missed by slow observers", status.EventsDropped)))
	}

	return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n"
}
