package gate

import (
	"sync"
	"time"

	"github.com/NicoCuadrado/Barrio-seguro/internal/matcher"
	"github.com/NicoCuadrado/Barrio-seguro/internal/recorder"
)

// Stats summarizes a session.
type Stats struct {
	State            string    `json:"state"`
	StartedAt        time.Time `json:"started_at"`
	Residents        int       `json:"residents_loaded"`
	ActiveVisitors   int       `json:"active_visitors"`
	RestoredVisitors int       `json:"restored_visitors"`
	FramesSeen       uint64    `json:"frames_seen"`
	FramesProcessed  uint64    `json:"frames_processed"`
	Detections       int       `json:"detections"`
	ResidentsSeen    int       `json:"residents_seen"`
	VisitorsCreated  int       `json:"visitors_created"`
	ReturningSeen    int       `json:"returning_sightings"`
	EventsRecorded   int       `json:"events_recorded"`
	Errors           int       `json:"errors"`
	Sweeps           int       `json:"sweeps"`
	VisitorsExpired  int       `json:"visitors_expired"`
	LastSweepAt      time.Time `json:"last_sweep_at,omitzero"`
}

type statsCollector struct {
	mu            sync.Mutex
	s             Stats
	residentsSeen map[string]struct{}
}

func newStatsCollector() *statsCollector {
	return &statsCollector{residentsSeen: make(map[string]struct{})}
}

func (c *statsCollector) start(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.StartedAt = now
}

func (c *statsCollector) frame(processed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.FramesSeen++
	if processed {
		c.s.FramesProcessed++
	}
}

func (c *statsCollector) results(results []matcher.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, r := range results {
		c.s.Detections++
		if r.Err != nil {
			c.s.Errors++
		}
		if r.Recorded {
			c.s.EventsRecorded++
		}
		switch r.Kind {
		case matcher.KindResident:
			c.residentsSeen[r.Label] = struct{}{}
		case matcher.KindNewVisitor:
			c.s.VisitorsCreated++
		case matcher.KindReturningVisitor:
			c.s.ReturningSeen++
		}
	}
	c.s.ResidentsSeen = len(c.residentsSeen)
}

// restore accounts for the visitors kept and expired when the session started.
func (c *statsCollector) restore(kept int, report recorder.SweepReport, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.RestoredVisitors += kept
	c.s.VisitorsExpired += len(report.Tokens)
	c.s.EventsRecorded += report.Exits
	if err != nil {
		c.s.Errors++
	}
}

func (c *statsCollector) sweep(report recorder.SweepReport, err error, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Sweeps++
	c.s.VisitorsExpired += len(report.Tokens)
	c.s.EventsRecorded += report.Exits
	c.s.LastSweepAt = now
	if err != nil {
		c.s.Errors++
	}
}

func (c *statsCollector) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}
