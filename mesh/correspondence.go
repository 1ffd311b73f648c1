package mesh

// DefaultThreshold is the minimum number of coincident beacons (T) required to
// accept a rotation+translation as an overlap.
const DefaultThreshold = 12

// FindTranslation votes on the offsets r-c for every reference point r and
// candidate point c. It returns the first offset whose vote count reaches
// threshold, or false when none does.
//
// Reference points are visited in sorted order and candidate points in reading
// order, so the winning offset is deterministic for a given input.
func FindTranslation(reference *FrameSnapshot, candidate []Point3D, threshold int) (Point3D, bool) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if reference.Len() == 0 || len(candidate) < threshold {
		return Point3D{}, false
	}

	votes := make(map[Point3D]int, reference.Len()*len(candidate))
	for _, r := range reference.Points() {
		for _, c := range candidate {
			offset := r.Sub(c)
			votes[offset]++
			if votes[offset] == threshold {
				return offset, true
			}
		}
	}
	return Point3D{}, false
}

// TranslatePoints returns points shifted by offset, preserving order.
func TranslatePoints(points []Point3D, offset Point3D) []Point3D {
	result := make([]Point3D, len(points))
	for i, p := range points {
		result[i] = p.Add(offset)
	}
	return result
}

// CountCoincident returns how many of points are present in the snapshot.
func CountCoincident(reference *FrameSnapshot, points []Point3D) int {
	n := 0
	for _, p := range points {
		if reference.Contains(p) {
			n++
		}
	}
	return n
}
