package mesh

// Align searches the rotation catalog for a rigid transform that places at
// least threshold of the reading's beacons onto points of the reference frame.
// Rotations are tried in index order and the first that succeeds is returned.
//
// Align has no side effects; merging the result is left to the caller.
func Align(reference *FrameSnapshot, reading ScannerReading, threshold int) (AlignmentResult, bool) {
	for r := 0; r < NumRotations; r++ {
		rotated := RotatePoints(reading.Beacons, r)
		offset, ok := FindTranslation(reference, rotated, threshold)
		if !ok {
			continue
		}
		return AlignmentResult{
			ScannerID:   reading.ID,
			Rotation:    r,
			Translation: offset,
			Points:      TranslatePoints(rotated, offset),
		}, true
	}
	return AlignmentResult{}, false
}
