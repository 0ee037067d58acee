package store

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"stackctl/internal/reporting"
)

const (
	lastFile = "last.json"
	// DefaultKeep is the number of reports kept per target.
	DefaultKeep = 20
)

// FileStore writes one JSON file per run under <dir>/<escaped target>/ plus
// a copy of the newest as last.json. Older runs beyond keep are pruned.
type FileStore struct {
	dir  string
	keep int
	mu   sync.RWMutex
}

var _ Store = (*FileStore)(nil)

func NewFileStore(dir string, keep int) *FileStore {
	if keep <= 0 {
		keep = DefaultKeep
	}
	return &FileStore{dir: dir, keep: keep}
}

func (s *FileStore) targetDir(target string) string {
	return filepath.Join(s.dir, url.PathEscape(target))
}

func runFileName(report *reporting.RunReport) string {
	return fmt.Sprintf("%s-%s.json", report.StartedAt.UTC().Format("20060102T150405.000000000Z"), report.RunID)
}

func (s *FileStore) Save(report *reporting.RunReport) error {
	if report == nil || report.Target == "" {
		return fmt.Errorf("report has no target")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.targetDir(report.Target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, runFileName(report)), data); err != nil {
		return err
	}
	if err := writeFileAtomic(filepath.Join(dir, lastFile), data); err != nil {
		return err
	}
	return s.pruneUnsafe(dir)
}

func (s *FileStore) Last(target string) (*reporting.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	report, err := readReport(filepath.Join(s.targetDir(target), lastFile))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, target)
	}
	return report, err
}

func (s *FileStore) History(target string, limit int) ([]*reporting.RunReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	dir := s.targetDir(target)
	names, err := runFiles(dir)
	if err != nil {
		return nil, err
	}
	var out []*reporting.RunReport
	for i := len(names) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		report, err := readReport(filepath.Join(dir, names[i]))
		if err != nil {
			return nil, err
		}
		out = append(out, report)
	}
	return out, nil
}

func (s *FileStore) Targets() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}
	var targets []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.dir, e.Name(), lastFile)); err != nil {
			continue
		}
		target, err := url.PathUnescape(e.Name())
		if err != nil {
			continue
		}
		targets = append(targets, target)
	}
	sort.Strings(targets)
	return targets, nil
}

func (s *FileStore) pruneUnsafe(dir string) error {
	names, err := runFiles(dir)
	if err != nil {
		return err
	}
	for len(names) > s.keep {
		if err := os.Remove(filepath.Join(dir, names[0])); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to prune history: %w", err)
		}
		names = names[1:]
	}
	return nil
}

// runFiles returns the per-run files in dir, oldest first.
func runFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || name == lastFile || !strings.HasSuffix(name, ".json") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func readReport(path string) (*reporting.RunReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var report reporting.RunReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &report, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
