// Package analytics turns access log aggregates into the operator report.
package analytics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/NicoCuadrado/Barrio-seguro/internal/constants"
	"github.com/NicoCuadrado/Barrio-seguro/internal/database"
)

// DayPart is a fixed six-hour slice of the day.
type DayPart struct {
	Name  string `json:"name"`
	From  int    `json:"from_hour"`
	To    int    `json:"to_hour"` // exclusive
	Total int    `json:"total"`
}

// dayParts are reported in this order.
var dayParts = []DayPart{
	{Name: "madrugada", From: 0, To: 6},
	{Name: "mañana", From: 6, To: 12},
	{Name: "tarde", From: 12, To: 18},
	{Name: "noche", From: 18, To: 24},
}

// HourAnalysis describes traffic per hour of day.
type HourAnalysis struct {
	PerHour  []database.HourCount `json:"per_hour"` // busiest first
	Peak     *database.HourCount  `json:"peak,omitempty"`
	Valley   *database.HourCount  `json:"valley,omitempty"`
	DayParts []DayPart            `json:"day_parts"`
}

// DayAnalysis describes traffic per calendar day.
type DayAnalysis struct {
	Daily           []database.DayCount `json:"daily"` // newest first
	DaysAnalyzed    int                 `json:"days_analyzed"`
	TotalEvents     int                 `json:"total_events"`
	TotalVisits     int                 `json:"total_visits"`
	DaysWithVisits  int                 `json:"days_with_visits"`
	AvgEventsPerDay float64             `json:"avg_events_per_day"`
	AvgVisitsPerDay float64             `json:"avg_visits_per_day"`
	BusiestDay      *database.DayCount  `json:"busiest_day,omitempty"`
	QuietestDay     *database.DayCount  `json:"quietest_day,omitempty"`
}

// Report is the full access analysis.
type Report struct {
	GeneratedAt  time.Time                   `json:"generated_at"`
	WindowDays   int                         `json:"window_days"`
	Summary      *database.Summary           `json:"summary"`
	Hours        HourAnalysis                `json:"hours"`
	Days         DayAnalysis                 `json:"days"`
	TopResidents []database.ResidentActivity `json:"top_residents"`
}

// Options tune Build. Zero values fall back to the defaults.
type Options struct {
	Days int
	Top  int
}

// Build queries the stats reader and assembles the report.
func Build(ctx context.Context, stats database.StatsReader, now time.Time, opts Options) (*Report, error) {
	if opts.Days <= 0 {
		opts.Days = constants.DefaultReportDays
	}
	if opts.Top <= 0 {
		opts.Top = constants.DefaultTopResidents
	}

	summary, err := stats.Summary(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	hours, err := stats.PeakHours(ctx)
	if err != nil {
		return nil, fmt.Errorf("peak hours: %w", err)
	}
	days, err := stats.VisitsPerDay(ctx, windowStart(now, opts.Days))
	if err != nil {
		return nil, fmt.Errorf("visits per day: %w", err)
	}
	top, err := stats.TopResidents(ctx, opts.Top)
	if err != nil {
		return nil, fmt.Errorf("top residents: %w", err)
	}

	return &Report{
		GeneratedAt:  now.UTC(),
		WindowDays:   opts.Days,
		Summary:      summary,
		Hours:        AnalyzeHours(hours),
		Days:         AnalyzeDays(days),
		TopResidents: top,
	}, nil
}

// windowStart is midnight UTC days-1 days before now, so the window covers
// exactly the given number of calendar days including today.
func windowStart(now time.Time, days int) time.Time {
	y, m, d := now.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -(days - 1))
}

// AnalyzeHours picks peak and valley hours and buckets the counts into day parts.
// hours must be ordered busiest first.
func AnalyzeHours(hours []database.HourCount) HourAnalysis {
	a := HourAnalysis{PerHour: hours, DayParts: make([]DayPart, len(dayParts))}
	copy(a.DayParts, dayParts)

	if len(hours) > 0 {
		peak := hours[0]
		valley := hours[len(hours)-1]
		a.Peak = &peak
		a.Valley = &valley
	}
	for _, h := range hours {
		for i := range a.DayParts {
			if h.Hour >= a.DayParts[i].From && h.Hour < a.DayParts[i].To {
				a.DayParts[i].Total += h.Total
				break
			}
		}
	}
	return a
}

// AnalyzeDays computes totals, averages and the extreme days by visitor traffic.
// On ties the most recent day wins.
func AnalyzeDays(days []database.DayCount) DayAnalysis {
	a := DayAnalysis{Daily: days, DaysAnalyzed: len(days)}
	if len(days) == 0 {
		return a
	}

	busiest, quietest := 0, 0
	for i, d := range days {
		a.TotalEvents += d.Total
		a.TotalVisits += d.Visitors
		if d.Visitors > 0 {
			a.DaysWithVisits++
		}
		if d.Visitors > days[busiest].Visitors {
			busiest = i
		}
		if d.Visitors < days[quietest].Visitors {
			quietest = i
		}
	}
	a.AvgEventsPerDay = round2(float64(a.TotalEvents) / float64(len(days)))
	a.AvgVisitsPerDay = round2(float64(a.TotalVisits) / float64(len(days)))
	b, q := days[busiest], days[quietest]
	a.BusiestDay = &b
	a.QuietestDay = &q
	return a
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
