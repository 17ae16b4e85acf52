package health

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/statsync/internal/core/domain"
	"github.com/vietddude/statsync/internal/infra/storage"
)

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) error

// Thresholds decide when ledger growth degrades a source.
type Thresholds struct {
	TransientDegraded int // transient entries that mark a source degraded (default: 1)
	TransientCritical int // transient entries that mark a source critical (default: 100)
}

// Monitor aggregates health status from dependencies and the failure ledger.
type Monitor struct {
	sources     []string
	checks      map[string]CheckFunc
	ledger      storage.FailureLedger
	completions storage.CompletionRepository
	thresholds  Thresholds
	interval    time.Duration
	now         func() time.Time
	lastCheck   time.Time
	lastReport  *HealthReport
	mu          sync.Mutex
}

// NewMonitor creates a new health monitor over the given sources.
func NewMonitor(
	sources []string,
	ledger storage.FailureLedger,
	completions storage.CompletionRepository,
	thresholds Thresholds,
) *Monitor {
	if thresholds.TransientDegraded <= 0 {
		thresholds.TransientDegraded = 1
	}
	if thresholds.TransientCritical <= 0 {
		thresholds.TransientCritical = 100
	}
	return &Monitor{
		sources:     sources,
		checks:      make(map[string]CheckFunc),
		ledger:      ledger,
		completions: completions,
		thresholds:  thresholds,
		interval:    10 * time.Second,
		now:         time.Now,
	}
}

// AddCheck registers a dependency probe. A failing probe makes the system critical.
func (m *Monitor) AddCheck(name string, check CheckFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// CheckHealth builds a report, reusing the previous one for a short interval
// so frequent probes do not hammer the database.
func (m *Monitor) CheckHealth(ctx context.Context) *HealthReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastReport != nil && m.now().Sub(m.lastCheck) < m.interval {
		return m.lastReport
	}

	report := &HealthReport{
		SystemStatus: StatusHealthy,
		Components:   make(map[string]ComponentHealth, len(m.checks)),
		Sources:      make(map[string]SourceHealth, len(m.sources)),
	}

	for name, check := range m.checks {
		c := ComponentHealth{Name: name, Status: StatusHealthy}
		if err := check(ctx); err != nil {
			c.Status = StatusCritical
			c.Error = err.Error()
		}
		report.Components[name] = c
		report.SystemStatus = worse(report.SystemStatus, c.Status)
	}

	counts := make(map[string]map[domain.Classification]int)
	if m.ledger != nil {
		rows, err := m.ledger.Counts(ctx)
		if err != nil {
			report.SystemStatus = worse(report.SystemStatus, StatusDegraded)
		}
		for _, row := range rows {
			if counts[row.Source] == nil {
				counts[row.Source] = make(map[domain.Classification]int)
			}
			counts[row.Source][row.Classification] = row.Count
		}
	}

	for _, source := range m.sources {
		h := SourceHealth{
			Source:    source,
			Status:    StatusHealthy,
			Transient: counts[source][domain.ClassTransient],
			Permanent: counts[source][domain.ClassPermanent],
		}
		if m.completions != nil {
			if n, err := m.completions.Count(ctx, source); err == nil {
				h.Collected = n
			}
		}

		// Permanent entries are settled and do not affect status.
		if h.Transient >= m.thresholds.TransientCritical {
			h.Status = StatusCritical
		} else if h.Transient >= m.thresholds.TransientDegraded {
			h.Status = StatusDegraded
		}

		report.Sources[source] = h
		report.SystemStatus = worse(report.SystemStatus, h.Status)
	}

	m.lastCheck = m.now()
	m.lastReport = report
	return report
}
