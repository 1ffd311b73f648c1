package mesh

import (
	"math/rand"
	"testing"
)

// loadExample returns the five-scanner sample report from testdata.
func loadExample(t *testing.T) []ScannerReading {
	t.Helper()
	readings, err := ParseScannerFile("testdata/example.txt")
	if err != nil {
		t.Fatalf("ParseScannerFile() error: %v", err)
	}
	if len(readings) != 5 {
		t.Fatalf("expected 5 scanners in example, got %d", len(readings))
	}
	return readings
}

// randomCloud returns n distinct points in [-1000,1000]^3 that are not in
// exclude. The generator is seeded so results are stable.
func randomCloud(rng *rand.Rand, n int, exclude map[Point3D]bool) []Point3D {
	out := make([]Point3D, 0, n)
	seen := make(map[Point3D]bool, n)
	for len(out) < n {
		p := Point3D{
			X: rng.Intn(2001) - 1000,
			Y: rng.Intn(2001) - 1000,
			Z: rng.Intn(2001) - 1000,
		}
		if seen[p] || exclude[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}

// overlappingPair builds a reference cloud of size n and a candidate cloud of
// size n in a local frame such that exactly shared points coincide after
// rotating the candidate by rotation and translating it by offset.
func overlappingPair(seed int64, n, shared, rotation int, offset Point3D) (reference, candidate []Point3D) {
	rng := rand.New(rand.NewSource(seed))
	reference = randomCloud(rng, n, nil)

	exclude := make(map[Point3D]bool, n)
	for _, p := range reference {
		exclude[p] = true
	}
	// extra points are chosen in the reference frame so they cannot collide
	// with reference points once transformed
	extra := randomCloud(rng, n-shared, exclude)

	inv := InverseRotation(rotation)
	toLocal := func(p Point3D) Point3D { return Rotate(p.Sub(offset), inv) }

	candidate = make([]Point3D, 0, n)
	for _, p := range reference[:shared] {
		candidate = append(candidate, toLocal(p))
	}
	for _, p := range extra {
		candidate = append(candidate, toLocal(p))
	}
	return reference, candidate
}
