package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultStatePath is where the periodic fetch keeps its last run when not configured otherwise.
const DefaultStatePath = "fetchschedule-state.json"

// ScheduleState is a small file recording when the periodic fetch last ran.
type ScheduleState struct {
	path string
	mu   sync.Mutex
}

type scheduleStateFile struct {
	LastRun time.Time `json:"last_run"`
}

func NewScheduleState(path string) *ScheduleState {
	if path == "" {
		path = DefaultStatePath
	}
	return &ScheduleState{path: path}
}

// LastRun returns the recorded run, or the zero time if nothing was recorded yet.
func (s *ScheduleState) LastRun() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	byts, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("error reading schedule state: %s", err)
	}

	var f scheduleStateFile
	if err := json.Unmarshal(byts, &f); err != nil {
		return time.Time{}, fmt.Errorf("error decoding schedule state: %s", err)
	}

	return f.LastRun, nil
}

// Record replaces the recorded run with at.
func (s *ScheduleState) Record(at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byts, err := json.MarshalIndent(scheduleStateFile{LastRun: at.UTC()}, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding schedule state: %s", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".fetchschedule-*")
	if err != nil {
		return fmt.Errorf("error creating schedule state: %s", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(byts); err != nil {
		tmp.Close()
		return fmt.Errorf("error writing schedule state: %s", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("error writing schedule state: %s", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("error replacing schedule state: %s", err)
	}

	return nil
}

// Due reports whether a run is owed: nothing recorded, or the last run is more than every ago.
// An unreadable state file counts as owing a run.
func (s *ScheduleState) Due(now time.Time, every time.Duration) bool {
	last, err := s.LastRun()
	if err != nil || last.IsZero() {
		return true
	}
	return now.Sub(last) >= every
}
