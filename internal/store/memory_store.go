package store

import (
	"fmt"
	"sort"
	"sync"

	"stackctl/internal/reporting"
)

// MemoryStore keeps reports in memory. It backs tests and runs where no
// history directory is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[string][]*reporting.RunReport
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{reports: make(map[string][]*reporting.RunReport)}
}

func (s *MemoryStore) Save(report *reporting.RunReport) error {
	if report == nil || report.Target == "" {
		return fmt.Errorf("report has no target")
	}
	copied, err := clone(report)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.Target] = append(s.reports[report.Target], copied)
	return nil
}

func (s *MemoryStore) Last(target string) (*reporting.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := s.reports[target]
	if len(runs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, target)
	}
	return clone(runs[len(runs)-1])
}

func (s *MemoryStore) History(target string, limit int) ([]*reporting.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := s.reports[target]
	var out []*reporting.RunReport
	for i := len(runs) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		copied, err := clone(runs[i])
		if err != nil {
			return nil, err
		}
		out = append(out, copied)
	}
	return out, nil
}

func (s *MemoryStore) Targets() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	targets := make([]string, 0, len(s.reports))
	for t := range s.reports {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	return targets, nil
}
