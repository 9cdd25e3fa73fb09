package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/viper"

	"signupsheet/internal/domain"
	"signupsheet/internal/engine"
)

// printJSONOrTable prints a single record as a field/value table, or as
// JSON when --json is set or the value is not an object.
func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return printJSON(v)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tw := newTable(table.Row{"Field", "Value"})
	for _, k := range keys {
		val := fields[k]
		switch val.(type) {
		case []any, map[string]any:
			b, _ := json.Marshal(val)
			val = string(b)
		}
		tw.AppendRow(table.Row{k, val})
	}
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(header)
	return tw
}

// dueLabel renders a deadline relative to now, e.g. "in 3 days".
func dueLabel(d domain.Deadline, now time.Time) string {
	label := humanize.RelTime(d.DueAt, now, "ago", "from now")
	if now.After(d.DueAt) {
		return "passed " + label
	}
	return label
}

func renderTopicSheet(slots []domain.TopicSlot, now time.Time) {
	tw := newTable(table.Row{"ID", "Topic", "Category", "Slots", "Available", "Waitlist", "Deadlines"})
	for _, s := range slots {
		name := s.Name
		if s.Identifier != "" {
			name = s.Identifier + " " + name
		}
		if s.State == domain.TopicSuggested {
			name += " (suggested)"
		}
		var deadlines []string
		for _, d := range s.Deadlines {
			deadlines = append(deadlines, fmt.Sprintf("%s %s", d.Type, dueLabel(d, now)))
		}
		tw.AppendRow(table.Row{
			s.ID, name, s.Category,
			fmt.Sprintf("%d/%d", s.Occupancy, s.Capacity),
			s.Available, s.WaitlistSize,
			strings.Join(deadlines, "\n"),
		})
	}
	tw.Render()
}

func renderDeadlines(items []domain.Deadline, now time.Time) {
	tw := newTable(table.Row{"Type", "Scope", "Due", "When"})
	for _, d := range items {
		scope := "assignment"
		if d.TopicID != "" {
			scope = "topic " + d.TopicID
		}
		tw.AppendRow(table.Row{d.Type, scope, d.DueAt.Format(time.RFC3339), dueLabel(d, now)})
	}
	tw.Render()
}

func renderSignUps(items []domain.SignUp) {
	tw := newTable(table.Row{"Topic", "State", "Position", "Source", "Since"})
	for _, s := range items {
		tw.AppendRow(table.Row{s.TopicID, s.State(), s.QueuePos, s.Source, s.CreatedAt})
	}
	tw.Render()
}

func renderBids(items []domain.Bid) {
	tw := newTable(table.Row{"Priority", "Topic", "Updated"})
	for _, b := range items {
		tw.AppendRow(table.Row{humanize.Ordinal(b.Priority), b.TopicID, b.UpdatedAt})
	}
	tw.Render()
}

func renderTopicTeams(items []domain.TopicTeam) {
	tw := newTable(table.Row{"Team", "Name", "Members", "State", "Position"})
	for _, tt := range items {
		tw.AppendRow(table.Row{tt.Team.ID, tt.Team.Name, strings.Join(tt.Team.Members, ", "), tt.SignUp.State(), tt.SignUp.QueuePos})
	}
	tw.Render()
}

func renderResolution(res engine.Resolution) {
	tw := newTable(table.Row{"Team", "Topic", "Outcome"})
	for _, s := range res.Kept {
		tw.AppendRow(table.Row{s.TeamID, s.TopicID, "kept (" + string(s.Source) + ")"})
	}
	for _, s := range res.Confirmed {
		tw.AppendRow(table.Row{s.TeamID, s.TopicID, "confirmed"})
	}
	for _, s := range res.Waitlisted {
		tw.AppendRow(table.Row{s.TeamID, s.TopicID, fmt.Sprintf("waitlisted #%d", s.QueuePos)})
	}
	for _, team := range res.Unplaced {
		tw.AppendRow(table.Row{team, "", "unplaced"})
	}
	tw.Render()
	fmt.Printf("%s confirmed, %s waitlisted entries, %s teams unplaced\n",
		humanize.Comma(int64(len(res.Confirmed)+len(res.Kept))),
		humanize.Comma(int64(len(res.Waitlisted))),
		humanize.Comma(int64(len(res.Unplaced))))
}

func renderEvents(evts []domain.Event) {
	tw := newTable(table.Row{"ID", "When", "Type", "Entity", "Actor", "Payload"})
	for _, e := range evts {
		when := e.TS
		if ts, err := time.Parse(time.RFC3339, e.TS); err == nil {
			when = humanize.Time(ts)
		}
		tw.AppendRow(table.Row{e.ID, when, e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID, e.Payload})
	}
	tw.Render()
}

func printPlacement(res engine.AssignResult) error {
	if viper.GetBool("json") {
		return printJSON(res)
	}
	fmt.Printf("Team %s is confirmed on %s\n", res.SignUp.TeamID, res.SignUp.TopicID)
	for _, s := range res.Evicted {
		fmt.Printf("Released %s sign-up on %s\n", s.State(), s.TopicID)
	}
	for _, s := range res.Promoted {
		fmt.Printf("Promoted team %s on %s from the waitlist\n", s.TeamID, s.TopicID)
	}
	return nil
}
