package analytics

import (
	"fmt"
	"io"
	"strings"
	"time"
)

const rule = "================================================================"

// WriteText renders the report for a terminal.
func WriteText(w io.Writer, r *Report) error {
	var b strings.Builder

	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "BARRIO SEGURO - ACCESS REPORT")
	fmt.Fprintln(&b, rule)

	s := r.Summary
	fmt.Fprintln(&b, "\nGeneral")
	fmt.Fprintf(&b, "  Active residents:   %d\n", s.ActiveResidents)
	fmt.Fprintf(&b, "  Active visitors:    %d\n", s.ActiveVisitors)
	fmt.Fprintf(&b, "  Total events:       %d\n", s.TotalEvents)
	fmt.Fprintf(&b, "  Events today:       %d\n", s.EventsToday)
	fmt.Fprintf(&b, "  Events last 7 days: %d\n", s.EventsLastWeek)
	if s.FirstEventAt != nil {
		fmt.Fprintf(&b, "  First event:        %s\n", s.FirstEventAt.Format(time.DateTime))
	}
	if s.LastEventAt != nil {
		fmt.Fprintf(&b, "  Last event:         %s\n", s.LastEventAt.Format(time.DateTime))
	}

	if r.Hours.Peak != nil {
		fmt.Fprintln(&b, "\nHours (UTC)")
		fmt.Fprintf(&b, "  Peak:   %02d:00 (%d events)\n", r.Hours.Peak.Hour, r.Hours.Peak.Total)
		fmt.Fprintf(&b, "  Valley: %02d:00 (%d events)\n", r.Hours.Valley.Hour, r.Hours.Valley.Total)
		for _, p := range r.Hours.DayParts {
			fmt.Fprintf(&b, "  %-10s (%02d-%02dh): %d\n", p.Name, p.From, p.To, p.Total)
		}
	}

	d := r.Days
	fmt.Fprintf(&b, "\nVisits (last %d days)\n", r.WindowDays)
	fmt.Fprintf(&b, "  Total visits:     %d\n", d.TotalVisits)
	fmt.Fprintf(&b, "  Days with visits: %d\n", d.DaysWithVisits)
	fmt.Fprintf(&b, "  Average per day:  %.2f\n", d.AvgVisitsPerDay)
	if d.BusiestDay != nil {
		fmt.Fprintf(&b, "  Busiest day:      %s (%d visits)\n", d.BusiestDay.Day, d.BusiestDay.Visitors)
	}

	if len(r.TopResidents) > 0 {
		fmt.Fprintf(&b, "\nMost active residents (top %d)\n", len(r.TopResidents))
		for i, a := range r.TopResidents {
			fmt.Fprintf(&b, "  %d. %s: %d events, last %s\n", i+1, a.Name, a.Total, a.LastAt.Format(time.DateTime))
		}
	}

	fmt.Fprintln(&b, "\n"+rule)
	fmt.Fprintf(&b, "Generated %s\n", r.GeneratedAt.Format(time.DateTime))

	_, err := io.WriteString(w, b.String())
	return err
}
