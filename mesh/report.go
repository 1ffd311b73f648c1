package mesh

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
)

// DefaultReportCachePath is the default path for the persisted merge report
const DefaultReportCachePath = ".beacon-report.json"

// BeaconCount returns the number of distinct beacons in the reference frame.
func (e *MergeEngine) BeaconCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.frame.Len()
}

// MaxScannerSpread returns the largest Manhattan distance between any two
// scanner origins, the anchor included. It requires a converged engine.
func (e *MergeEngine) MaxScannerSpread() (int, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.state != StateConverged {
		return 0, fmt.Errorf("%w (state %s)", ErrNotConverged, e.state)
	}

	origins := make([]Point3D, 0, len(e.origins))
	for _, p := range e.origins {
		origins = append(origins, p)
	}
	return MaxManhattan(origins), nil
}

// MaxManhattan returns the largest pairwise Manhattan distance in points,
// or 0 for fewer than two points.
func MaxManhattan(points []Point3D) int {
	best := 0
	for i := range points {
		for j := i + 1; j < len(points); j++ {
			if d := points[i].Manhattan(points[j]); d > best {
				best = d
			}
		}
	}
	return best
}

// ScannerPlacement is one scanner's recovered pose in the reference frame.
type ScannerPlacement struct {
	ID             int       `json:"id"`
	Origin         Point3D   `json:"origin"`
	Rotation       int       `json:"rotation"`
	RotationMatrix [3][3]int `json:"rotationMatrix"`
	BeaconCount    int       `json:"beaconCount"`
}

// Report is the final answer of a converged merge, suitable for JSON output.
type Report struct {
	RunID            string             `json:"runId"`
	AnchorID         int                `json:"anchorId"`
	BeaconCount      int                `json:"beaconCount"`
	MaxScannerSpread int                `json:"maxScannerSpread"`
	Threshold        int                `json:"threshold"`
	Passes           int                `json:"passes"`
	Scanners         []ScannerPlacement `json:"scanners"`
	Beacons          []Point3D          `json:"beacons"`
	GeneratedAt      int64              `json:"generatedAt"`
}

// BuildReport summarizes a converged engine. It fails with ErrNotConverged
// otherwise, so a partial merge never produces a report.
func (e *MergeEngine) BuildReport() (*Report, error) {
	spread, err := e.MaxScannerSpread()
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	placements := make([]ScannerPlacement, 0, len(e.aligned))
	for id, res := range e.aligned {
		placements = append(placements, ScannerPlacement{
			ID:             id,
			Origin:         res.Translation,
			Rotation:       res.Rotation,
			RotationMatrix: rotationRows(res.Rotation),
			BeaconCount:    len(res.Points),
		})
	}
	sort.Slice(placements, func(i, j int) bool { return placements[i].ID < placements[j].ID })

	return &Report{
		RunID:            uuid.NewString(),
		AnchorID:         e.anchorID,
		BeaconCount:      e.frame.Len(),
		MaxScannerSpread: spread,
		Threshold:        e.cfg.threshold,
		Passes:           e.passes,
		Scanners:         placements,
		Beacons:          e.frame.Sorted(),
		GeneratedAt:      time.Now().Unix(),
	}, nil
}

// Origins returns the scanner origins in id order.
func (r *Report) Origins() []Point3D {
	out := make([]Point3D, len(r.Scanners))
	for i, s := range r.Scanners {
		out[i] = s.Origin
	}
	return out
}

// LoadReport loads a persisted report. A missing file is not an error and
// yields a nil report.
func LoadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading report file: %w", err)
	}

	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("parsing report file: %w", err)
	}
	return &r, nil
}

// SaveReport writes the report as indented JSON, creating parent directories.
func SaveReport(path string, r *Report) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}

	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing report file: %w", err)
	}
	return nil
}
