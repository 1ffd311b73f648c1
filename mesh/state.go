package mesh

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"
)

// StateTracker holds the latest scanner readings and merge report for the
// service endpoints
type StateTracker struct {
	mu        sync.RWMutex
	readings  map[int]ScannerReading
	received  map[int]time.Time // scanner ID -> time of its latest reading
	colors    map[int]string    // scanner ID -> hex color
	report    *Report
	lastErr   error
	anchorID  int
	hasAnchor bool
	cachePath string // path to the report cache file; empty disables persistence
}

// NewStateTracker creates a new state tracker
func NewStateTracker() *StateTracker {
	return &StateTracker{
		readings: make(map[int]ScannerReading),
		received: make(map[int]time.Time),
		colors:   make(map[int]string),
	}
}

// NewStateTrackerWithCache creates a state tracker that persists each report
// to cachePath. An existing report at that path is loaded on creation.
func NewStateTrackerWithCache(cachePath string) *StateTracker {
	st := NewStateTracker()
	st.cachePath = cachePath
	if cachePath != "" {
		if r, err := LoadReport(cachePath); err != nil {
			log.Printf("Warning: failed to load report cache %s: %v", cachePath, err)
		} else if r != nil {
			st.report = r
		}
	}
	return st
}

// SetAnchor fixes which scanner defines the reference frame. Without it the
// lowest scanner id is used.
func (st *StateTracker) SetAnchor(id int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.anchorID = id
	st.hasAnchor = true
}

// SetColor sets the display color for a scanner
func (st *StateTracker) SetColor(scannerID int, hexColor string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.colors[scannerID] = hexColor
}

// Colors returns a copy of the configured scanner colors
func (st *StateTracker) Colors() map[int]string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make(map[int]string, len(st.colors))
	for k, v := range st.colors {
		out[k] = v
	}
	return out
}

// UpdateReading stores the latest reading for a scanner
func (st *StateTracker) UpdateReading(r ScannerReading) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.readings[r.ID] = r
	st.received[r.ID] = time.Now()
}

// HasReadings reports whether readings exist for every id in ids
func (st *StateTracker) HasReadings(ids []int) bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	for _, id := range ids {
		if _, ok := st.readings[id]; !ok {
			return false
		}
	}
	return len(ids) > 0
}

// LastSeen returns when each scanner's latest reading arrived
func (st *StateTracker) LastSeen() map[int]time.Time {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make(map[int]time.Time, len(st.received))
	for id, ts := range st.received {
		out[id] = ts
	}
	return out
}

// ReadingCount returns the number of scanners with a stored reading
func (st *StateTracker) ReadingCount() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.readings)
}

// Readings returns the stored readings with the anchor first and the rest in
// id order.
func (st *StateTracker) Readings() []ScannerReading {
	st.mu.RLock()
	defer st.mu.RUnlock()

	out := make([]ScannerReading, 0, len(st.readings))
	for _, r := range st.readings {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if st.hasAnchor {
		for i, r := range out {
			if r.ID == st.anchorID {
				out[0], out[i] = out[i], out[0]
				sort.Slice(out[1:], func(a, b int) bool { return out[1+a].ID < out[1+b].ID })
				break
			}
		}
	}
	return out
}

// Remerge runs a full merge over the stored readings. On success the report
// replaces the previous one (and is persisted when a cache path is set); on
// failure the previous report is kept and the error is recorded.
func (st *StateTracker) Remerge(ctx context.Context, opts ...MergeOption) (*Report, error) {
	readings := st.Readings()

	report, err := MergeReadings(ctx, readings, opts...)
	st.mu.Lock()
	st.lastErr = err
	if err == nil {
		st.report = report
	}
	cachePath := st.cachePath
	st.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if cachePath != "" {
		if err := SaveReport(cachePath, report); err != nil {
			log.Printf("Warning: failed to persist report to %s: %v", cachePath, err)
		}
	}
	return report, nil
}

// SetReport replaces the current report
func (st *StateTracker) SetReport(r *Report) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.report = r
	st.lastErr = nil
}

// Report returns the latest successful report, or nil
func (st *StateTracker) Report() *Report {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.report
}

// LastError returns the error of the most recent merge attempt, if any
func (st *StateTracker) LastError() error {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.lastErr
}

// HasReport returns true if a report is available
func (st *StateTracker) HasReport() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.report != nil
}

// MergeReadings runs a merge engine to convergence and returns its report.
func MergeReadings(ctx context.Context, readings []ScannerReading, opts ...MergeOption) (*Report, error) {
	engine, err := NewMergeEngine(readings, opts...)
	if err != nil {
		return nil, err
	}
	if err := engine.Run(ctx); err != nil {
		return nil, err
	}
	return engine.BuildReport()
}
