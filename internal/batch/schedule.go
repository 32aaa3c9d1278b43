package batch

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// ScheduleEntry is one recurring batch: a cron expression and the
// manifest to run when it fires
type ScheduleEntry struct {
	Name     string `toml:"name"`
	Cron     string `toml:"cron"`
	Manifest string `toml:"manifest"`
}

// ScheduleConfig holds all scheduled batches
type ScheduleConfig struct {
	Entries []ScheduleEntry `toml:"schedule"`
}

// Validate checks one schedule entry
func (e *ScheduleEntry) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if e.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := ParseCron(e.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	if e.Manifest == "" {
		return fmt.Errorf("manifest path is required")
	}
	return nil
}

// LoadScheduleConfig loads the schedule from a TOML file. A missing
// file means no scheduled batches.
func LoadScheduleConfig(path string) (*ScheduleConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &ScheduleConfig{}, nil
		}
		return nil, err
	}

	var cfg ScheduleConfig
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	for i := range cfg.Entries {
		if err := cfg.Entries[i].Validate(); err != nil {
			return nil, fmt.Errorf("schedule %d: %w", i, err)
		}
	}
	return &cfg, nil
}

// ParseCron parses a cron expression in the standard five-field form
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// Scheduler fires scheduled batch runs against a coordinator
type Scheduler struct {
	coord   *Coordinator
	entries map[string]ScheduleEntry
	parser  cron.Parser
	lastRun map[string]time.Time
	running map[string]bool
	mu      sync.RWMutex
	stop    chan struct{}
}

// NewScheduler creates a scheduler for the given entries
func NewScheduler(coord *Coordinator, entries []ScheduleEntry) (*Scheduler, error) {
	s := &Scheduler{
		coord:   coord,
		entries: make(map[string]ScheduleEntry),
		parser:  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		lastRun: make(map[string]time.Time),
		running: make(map[string]bool),
		stop:    make(chan struct{}),
	}
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		s.entries[e.Name] = e
	}
	return s, nil
}

// NextRun returns the next fire time for a schedule entry
func (s *Scheduler) NextRun(name string) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[name]
	if !ok {
		return time.Time{}
	}
	sched, err := s.parser.Parse(e.Cron)
	if err != nil {
		return time.Time{}
	}
	return sched.Next(time.Now())
}

// shouldRun reports whether an entry is due and not already running
func (s *Scheduler) shouldRun(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[name]
	if !ok || s.running[name] {
		return false
	}
	sched, err := s.parser.Parse(e.Cron)
	if err != nil {
		return false
	}

	last := s.lastRun[name]
	if last.IsZero() {
		last = time.Now().Add(-24 * time.Hour)
	}
	return time.Now().After(sched.Next(last))
}

func (s *Scheduler) markRunning(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = true
}

func (s *Scheduler) markComplete(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = false
	s.lastRun[name] = time.Now()
}

// Start begins the scheduler loop. Blocks until Stop.
func (s *Scheduler) Start() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.RLock()
			names := make([]string, 0, len(s.entries))
			for name := range s.entries {
				names = append(names, name)
			}
			s.mu.RUnlock()

			for _, name := range names {
				if !s.shouldRun(name) {
					continue
				}
				e := s.entries[name]
				s.markRunning(name)
				go func(e ScheduleEntry) {
					defer s.markComplete(e.Name)
					if err := s.runEntry(e); err != nil {
						log.Printf("scheduled batch %s failed: %v", e.Name, err)
					}
				}(e)
			}
		}
	}
}

func (s *Scheduler) runEntry(e ScheduleEntry) error {
	m, err := LoadManifest(e.Manifest)
	if err != nil {
		return err
	}
	b, err := s.coord.CreateBatch(m.Name, m.Projects, m.Settings)
	if err != nil {
		return err
	}
	log.Printf("schedule %s started batch %s (%d projects)", e.Name, b.ID, b.TotalCount)
	return nil
}

// Stop halts the scheduler loop
func (s *Scheduler) Stop() {
	close(s.stop)
}
