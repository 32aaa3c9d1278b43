// Package quota tracks metered usage of external services against
// per-day budgets. Quota-gated stages consult the ledger before
// spending external credit.
package quota

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"
)

// Period is the rollover cadence of a service budget
type Period string

const (
	Daily   Period = "daily"
	Monthly Period = "monthly"
)

// Budget is the configured limit for one external service
type Budget struct {
	Units  int64
	Unit   string
	Period Period
}

// Usage is the queryable state of one service's budget
type Usage struct {
	Service   string    `json:"service"`
	Total     int64     `json:"total"`
	Used      int64     `json:"used"`
	Remaining int64     `json:"remaining"`
	Unit      string    `json:"unit"`
	ResetAt   time.Time `json:"reset_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS quota_usage (
    service TEXT NOT NULL,
    bucket TEXT NOT NULL,
    used_units INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (service, bucket)
);
`

// rollover boundaries expressed as cron schedules
var (
	dailyBoundary   = mustSchedule("0 0 * * *")
	monthlyBoundary = mustSchedule("0 0 1 * *")
)

func mustSchedule(expr string) cron.Schedule {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(expr)
	if err != nil {
		panic(err)
	}
	return sched
}

// Ledger keeps per-service, per-bucket usage counters. Check-then-record
// is two-phase: TryReserve only predicts, Record commits after the
// guarded external call actually proceeds. Reserve combines both for
// callers whose external spend is immediate.
type Ledger struct {
	db      *sql.DB
	budgets map[string]Budget
	now     func() time.Time

	mu sync.Mutex
}

// NewLedger opens a ledger at the given database path
func NewLedger(dbPath string, budgets map[string]Budget) (*Ledger, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Ledger{
		db:      db,
		budgets: budgets,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Close closes the underlying database
func (l *Ledger) Close() error {
	return l.db.Close()
}

// SetClock overrides the ledger's notion of now. Tests only.
func (l *Ledger) SetClock(now func() time.Time) {
	l.now = now
}

func (l *Ledger) bucket(service string) string {
	b, ok := l.budgets[service]
	if ok && b.Period == Monthly {
		return l.now().Format("2006-01")
	}
	return l.now().Format("2006-01-02")
}

// TryReserve reports whether spending cost units on the service would
// stay within budget. It does not record usage: the guarded operation
// may still fail before consuming external credit, so callers Record
// only once it proceeds. An unknown service is unmetered and always
// admitted.
func (l *Ledger) TryReserve(service string, cost int64) (bool, error) {
	budget, ok := l.budgets[service]
	if !ok {
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	used, err := l.used(service, l.bucket(service))
	if err != nil {
		return false, err
	}
	return used+cost <= budget.Units, nil
}

// Record commits cost units of usage for the service's current bucket
func (l *Ledger) Record(service string, cost int64) error {
	if _, ok := l.budgets[service]; !ok {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.add(service, l.bucket(service), cost)
}

// Reserve atomically checks and records in one step. For callers whose
// external spend happens unconditionally once admitted.
func (l *Ledger) Reserve(service string, cost int64) (bool, error) {
	budget, ok := l.budgets[service]
	if !ok {
		return true, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bucket := l.bucket(service)
	used, err := l.used(service, bucket)
	if err != nil {
		return false, err
	}
	if used+cost > budget.Units {
		return false, nil
	}
	return true, l.add(service, bucket, cost)
}

// Usage returns the current budget state for one service
func (l *Ledger) Usage(service string) (*Usage, error) {
	budget, ok := l.budgets[service]
	if !ok {
		return nil, fmt.Errorf("unknown service %q", service)
	}

	l.mu.Lock()
	used, err := l.used(service, l.bucket(service))
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}

	boundary := dailyBoundary
	if budget.Period == Monthly {
		boundary = monthlyBoundary
	}

	remaining := budget.Units - used
	if remaining < 0 {
		remaining = 0
	}

	return &Usage{
		Service:   service,
		Total:     budget.Units,
		Used:      used,
		Remaining: remaining,
		Unit:      budget.Unit,
		ResetAt:   boundary.Next(l.now()),
	}, nil
}

// Services returns the names of all budgeted services
func (l *Ledger) Services() []string {
	names := make([]string, 0, len(l.budgets))
	for name := range l.budgets {
		names = append(names, name)
	}
	return names
}

// used reads committed usage for a bucket. A missing row means the
// bucket rolled over and usage is zero.
func (l *Ledger) used(service, bucket string) (int64, error) {
	var used int64
	err := l.db.QueryRow(
		`SELECT used_units FROM quota_usage WHERE service = ? AND bucket = ?`,
		service, bucket,
	).Scan(&used)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return used, err
}

func (l *Ledger) add(service, bucket string, cost int64) error {
	_, err := l.db.Exec(`
		INSERT INTO quota_usage (service, bucket, used_units)
		VALUES (?, ?, ?)
		ON CONFLICT(service, bucket) DO UPDATE SET
			used_units = used_units + excluded.used_units
	`, service, bucket, cost)
	return err
}
