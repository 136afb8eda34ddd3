// Package health reports whether the process and its backing stores are usable.
package health

import (
	"context"
	"sort"
	"time"
)

const defaultCheckTimeout = 2 * time.Second

// Check probes one dependency.
type Check func(ctx context.Context) error

// Service runs the registered checks.
type Service struct {
	Timeout time.Duration
	checks  map[string]Check
}

// NewService constructs a health service with no checks.
func NewService() *Service {
	return &Service{Timeout: defaultCheckTimeout, checks: map[string]Check{}}
}

// Register adds a named check. A nil check is ignored.
func (s *Service) Register(name string, check Check) {
	if check != nil {
		s.checks[name] = check
	}
}

// Report is the health payload.
type Report struct {
	OK     bool              `json:"ok"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Status runs every check with a bounded timeout.
func (s *Service) Status(ctx context.Context) Report {
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = defaultCheckTimeout
	}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	report := Report{OK: true}
	for _, name := range names {
		if report.Checks == nil {
			report.Checks = make(map[string]string, len(names))
		}
		checkCtx, cancel := context.WithTimeout(ctx, timeout)
		err := s.checks[name](checkCtx)
		cancel()
		if err != nil {
			report.OK = false
			report.Checks[name] = err.Error()
			continue
		}
		report.Checks[name] = "ok"
	}
	return report
}
