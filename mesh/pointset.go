package mesh

import "sort"

// PointSet is a set of exact 3-D points. The zero value is not usable; create
// one with NewPointSet.
type PointSet struct {
	points map[Point3D]struct{}
}

// NewPointSet returns a set holding the given points (duplicates collapse).
func NewPointSet(points ...Point3D) *PointSet {
	ps := &PointSet{points: make(map[Point3D]struct{}, len(points))}
	for _, p := range points {
		ps.points[p] = struct{}{}
	}
	return ps
}

// Add inserts p and reports whether it was new.
func (ps *PointSet) Add(p Point3D) bool {
	if _, ok := ps.points[p]; ok {
		return false
	}
	ps.points[p] = struct{}{}
	return true
}

// AddAll inserts every point and returns how many were new. Adding the same
// points twice leaves the set unchanged.
func (ps *PointSet) AddAll(points []Point3D) int {
	added := 0
	for _, p := range points {
		if ps.Add(p) {
			added++
		}
	}
	return added
}

// Contains reports whether p is in the set
func (ps *PointSet) Contains(p Point3D) bool {
	_, ok := ps.points[p]
	return ok
}

// Len returns the number of distinct points
func (ps *PointSet) Len() int {
	return len(ps.points)
}

// Sorted returns the points ordered by Point3D.Less.
func (ps *PointSet) Sorted() []Point3D {
	out := make([]Point3D, 0, len(ps.points))
	for p := range ps.points {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Clone returns an independent copy of the set
func (ps *PointSet) Clone() *PointSet {
	c := &PointSet{points: make(map[Point3D]struct{}, len(ps.points))}
	for p := range ps.points {
		c.points[p] = struct{}{}
	}
	return c
}

// Snapshot freezes the set for read-only use by concurrent aligners.
func (ps *PointSet) Snapshot() *FrameSnapshot {
	c := ps.Clone()
	return &FrameSnapshot{set: c, ordered: c.Sorted()}
}

// FrameSnapshot is an immutable view of the reference frame taken at the start
// of a merge pass. It is safe for concurrent reads.
type FrameSnapshot struct {
	set     *PointSet
	ordered []Point3D
}

// Contains reports whether p was in the frame when the snapshot was taken
func (fs *FrameSnapshot) Contains(p Point3D) bool {
	return fs.set.Contains(p)
}

// Points returns the snapshot's points in sorted order. Callers must not
// modify the returned slice.
func (fs *FrameSnapshot) Points() []Point3D {
	return fs.ordered
}

// Len returns the number of points in the snapshot
func (fs *FrameSnapshot) Len() int {
	return len(fs.ordered)
}
