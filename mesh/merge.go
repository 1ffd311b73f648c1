package mesh

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"runtime"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

// MergeState is the lifecycle state of a MergeEngine.
type MergeState int

const (
	StateSeeded MergeState = iota
	StateMerging
	StateConverged
	StateStuck
)

func (s MergeState) String() string {
	switch s {
	case StateSeeded:
		return "seeded"
	case StateMerging:
		return "merging"
	case StateConverged:
		return "converged"
	case StateStuck:
		return "stuck"
	default:
		return fmt.Sprintf("MergeState(%d)", int(s))
	}
}

// MergeOption configures a MergeEngine.
type MergeOption func(*mergeConfig)

type mergeConfig struct {
	threshold int
	workers   int
	rng       *rand.Rand
}

func defaultMergeConfig() mergeConfig {
	return mergeConfig{
		threshold: DefaultThreshold,
		workers:   runtime.NumCPU(),
	}
}

// WithThreshold sets the overlap threshold T. Values below 1 keep the default.
func WithThreshold(t int) MergeOption {
	return func(c *mergeConfig) {
		if t > 0 {
			c.threshold = t
		}
	}
}

// WithWorkers sets how many alignments run concurrently within a pass.
// Values below 1 mean runtime.NumCPU().
func WithWorkers(n int) MergeOption {
	return func(c *mergeConfig) {
		if n > 0 {
			c.workers = n
		}
	}
}

// WithShuffle visits the worklist in a random order each pass. The merged
// result does not depend on the order; this exists for testing that.
func WithShuffle(rng *rand.Rand) MergeOption {
	return func(c *mergeConfig) {
		c.rng = rng
	}
}

// MergeEngine aligns every scanner reading into the frame of the first
// reading. Alignment runs in passes: each pass aligns all pending readings
// against a snapshot of the frame taken at the start of the pass, then merges
// the successful ones. A pass that merges nothing ends the run as stuck.
type MergeEngine struct {
	passMu sync.Mutex // held for a whole pass, snapshot through apply
	mu     sync.RWMutex

	cfg      mergeConfig
	state    MergeState
	anchorID int
	frame    *PointSet
	origins  map[int]Point3D
	aligned  map[int]AlignmentResult
	worklist []ScannerReading
	passes   int
}

// NewMergeEngine seeds the reference frame with readings[0] (identity
// rotation, zero translation) and queues the rest.
func NewMergeEngine(readings []ScannerReading, opts ...MergeOption) (*MergeEngine, error) {
	if len(readings) == 0 || len(readings[0].Beacons) == 0 {
		return nil, ErrEmptyReference
	}

	seen := make(map[int]bool, len(readings))
	for _, r := range readings {
		if seen[r.ID] {
			return nil, fmt.Errorf("%w: duplicate scanner id %d", ErrMalformedInput, r.ID)
		}
		seen[r.ID] = true
	}

	cfg := defaultMergeConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	anchor := readings[0]
	e := &MergeEngine{
		cfg:      cfg,
		state:    StateSeeded,
		anchorID: anchor.ID,
		frame:    NewPointSet(anchor.Beacons...),
		origins:  map[int]Point3D{anchor.ID: {}},
		aligned: map[int]AlignmentResult{
			anchor.ID: {
				ScannerID: anchor.ID,
				Points:    append([]Point3D(nil), anchor.Beacons...),
			},
		},
		worklist: append([]ScannerReading(nil), readings[1:]...),
	}
	if len(e.worklist) == 0 {
		e.state = StateConverged
	}
	return e, nil
}

// Run executes passes until every reading is merged or a pass makes no
// progress. It returns a *StuckError (matching ErrStuck) in the latter case.
func (e *MergeEngine) Run(ctx context.Context) error {
	for {
		switch e.State() {
		case StateConverged:
			log.Printf("[MERGE] converged after %d pass(es): %d beacons from %d scanners",
				e.Passes(), e.BeaconCount(), len(e.Origins()))
			return nil
		case StateStuck:
			return e.stuckError()
		}

		if _, err := e.Step(ctx); err != nil {
			return err
		}
	}
}

// Step runs a single pass and returns the number of readings merged by it.
// Concurrent callers run their passes one after another.
func (e *MergeEngine) Step(ctx context.Context) (int, error) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	e.mu.Lock()
	switch e.state {
	case StateConverged:
		e.mu.Unlock()
		return 0, nil
	case StateStuck:
		e.mu.Unlock()
		return 0, e.stuckError()
	}
	e.state = StateMerging
	e.passes++
	pass := e.passes
	snapshot := e.frame.Snapshot()
	pending := append([]ScannerReading(nil), e.worklist...)
	if e.cfg.rng != nil {
		e.cfg.rng.Shuffle(len(pending), func(i, j int) { pending[i], pending[j] = pending[j], pending[i] })
	}
	threshold := e.cfg.threshold
	workers := e.cfg.workers
	e.mu.Unlock()

	results := make([]*AlignmentResult, len(pending))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, reading := range pending {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if res, ok := Align(snapshot, reading, threshold); ok {
				results[i] = &res
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("merge pass %d: %w", pass, err)
	}

	return e.apply(pass, results)
}

// apply merges one pass's successful alignments into the frame.
func (e *MergeEngine) apply(pass int, results []*AlignmentResult) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var mergedIDs []int
	for _, res := range results {
		if res == nil {
			continue
		}
		added := e.frame.AddAll(res.Points)
		e.origins[res.ScannerID] = res.Translation
		e.aligned[res.ScannerID] = *res
		mergedIDs = append(mergedIDs, res.ScannerID)
		log.Printf("[MERGE] pass %d: scanner %d aligned (rotation %d, origin %s, +%d beacons)",
			pass, res.ScannerID, res.Rotation, res.Translation, added)
	}

	remaining := e.worklist[:0:0]
	for _, r := range e.worklist {
		if _, ok := e.origins[r.ID]; !ok {
			remaining = append(remaining, r)
		}
	}
	e.worklist = remaining

	switch {
	case len(e.worklist) == 0:
		e.state = StateConverged
	case len(mergedIDs) == 0:
		e.state = StateStuck
		err := e.stuckErrorLocked()
		log.Printf("[MERGE] %v", err)
		return 0, err
	}

	sort.Ints(mergedIDs)
	log.Printf("[MERGE] pass %d merged %v, %d reading(s) remaining, %d beacons",
		pass, mergedIDs, len(e.worklist), e.frame.Len())
	return len(mergedIDs), nil
}

func (e *MergeEngine) stuckError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stuckErrorLocked()
}

func (e *MergeEngine) stuckErrorLocked() error {
	ids := make([]int, len(e.worklist))
	for i, r := range e.worklist {
		ids[i] = r.ID
	}
	sort.Ints(ids)
	return &StuckError{Pass: e.passes, Unresolved: ids}
}

// State returns the current lifecycle state
func (e *MergeEngine) State() MergeState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Passes returns the number of passes run so far
func (e *MergeEngine) Passes() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.passes
}

// Threshold returns the overlap threshold in use
func (e *MergeEngine) Threshold() int {
	return e.cfg.threshold
}

// AnchorID returns the id of the reading that defines the reference frame
func (e *MergeEngine) AnchorID() int {
	return e.anchorID
}

// Unresolved returns the sorted ids still waiting to be aligned
func (e *MergeEngine) Unresolved() []int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ids := make([]int, len(e.worklist))
	for i, r := range e.worklist {
		ids[i] = r.ID
	}
	sort.Ints(ids)
	return ids
}

// Origins returns a copy of the recorded scanner origins keyed by scanner id.
func (e *MergeEngine) Origins() map[int]Point3D {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[int]Point3D, len(e.origins))
	for id, p := range e.origins {
		out[id] = p
	}
	return out
}

// Alignment returns the recorded alignment for a scanner, if it has one.
func (e *MergeEngine) Alignment(id int) (AlignmentResult, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	res, ok := e.aligned[id]
	return res, ok
}

// Beacons returns the merged beacon set in sorted order.
func (e *MergeEngine) Beacons() []Point3D {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.frame.Sorted()
}

// MergePoints unions already-aligned points into the reference frame and
// returns how many were new. Merging the same points again adds nothing.
func (e *MergeEngine) MergePoints(points []Point3D) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frame.AddAll(points)
}
