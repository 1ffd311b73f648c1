package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlign_ExampleScannerOne(t *testing.T) {
	readings := loadExample(t)
	ref := NewPointSet(readings[0].Beacons...).Snapshot()

	res, ok := Align(ref, readings[1], DefaultThreshold)
	require.True(t, ok, "scanner 1 should align against scanner 0")
	assert.Equal(t, 1, res.ScannerID)
	assert.Equal(t, Point3D{X: 68, Y: -1246, Z: -43}, res.Translation)
	assert.Len(t, res.Points, len(readings[1].Beacons))
	assert.GreaterOrEqual(t, CountCoincident(ref, res.Points), DefaultThreshold)

	// A few of the shared beacons, expressed in scanner 0's frame
	for _, p := range []Point3D{{-618, -824, -621}, {-537, -823, -458}, {459, -707, 401}} {
		assert.Contains(t, res.Points, p)
	}
}

func TestAlign_SelfIsIdentity(t *testing.T) {
	readings := loadExample(t)
	ref := NewPointSet(readings[0].Beacons...).Snapshot()

	res, ok := Align(ref, readings[0], DefaultThreshold)
	require.True(t, ok)
	assert.Equal(t, 0, res.Rotation)
	assert.Equal(t, Point3D{}, res.Translation)
}

func TestAlign_RecoversEveryRotation(t *testing.T) {
	offset := Point3D{X: -120, Y: 45, Z: 1300}
	for r := 0; r < NumRotations; r++ {
		reference, candidate := overlappingPair(int64(100+r), 25, DefaultThreshold, r, offset)
		res, ok := Align(NewPointSet(reference...).Snapshot(), ScannerReading{ID: 9, Beacons: candidate}, DefaultThreshold)
		if !assert.True(t, ok, "rotation %d not recovered", r) {
			continue
		}
		assert.Equal(t, r, res.Rotation)
		assert.Equal(t, offset, res.Translation)
	}
}

func TestAlign_OneBelowThresholdFailsForEveryRotation(t *testing.T) {
	offset := Point3D{X: 300, Y: -77, Z: 910}
	for _, r := range []int{1, 5, 9, 13, 17, 23} {
		reference, candidate := overlappingPair(int64(400+r), 25, DefaultThreshold-1, r, offset)
		ref := NewPointSet(reference...).Snapshot()
		reading := ScannerReading{ID: 2, Beacons: candidate}

		_, ok := Align(ref, reading, DefaultThreshold)
		assert.False(t, ok, "rotation %d: %d shared beacons must not align", r, DefaultThreshold-1)

		// the same pair aligns once the threshold admits it
		res, ok := Align(ref, reading, DefaultThreshold-1)
		if assert.True(t, ok, "rotation %d", r) {
			assert.Equal(t, r, res.Rotation)
			assert.Equal(t, offset, res.Translation)
		}
	}
}

func TestAlign_TwoScannerScenario(t *testing.T) {
	offset := Point3D{X: 68, Y: -1246, Z: -43}
	reference, candidate := overlappingPair(7, 25, 12, 0, offset)

	res, ok := Align(NewPointSet(reference...).Snapshot(), ScannerReading{ID: 1, Beacons: candidate}, DefaultThreshold)
	require.True(t, ok)
	assert.Equal(t, 0, res.Rotation)
	assert.Equal(t, offset, res.Translation)

	engine, err := NewMergeEngine([]ScannerReading{
		{ID: 0, Beacons: reference},
		{ID: 1, Beacons: candidate},
	}, WithWorkers(1))
	require.NoError(t, err)
	require.NoError(t, engine.Run(t.Context()))

	assert.Equal(t, 38, engine.BeaconCount())
	spread, err := engine.MaxScannerSpread()
	require.NoError(t, err)
	assert.Equal(t, 1357, spread)
}

func TestAlign_NoOverlap(t *testing.T) {
	reference, _ := overlappingPair(1, 25, 0, 0, Point3D{})
	_, far := overlappingPair(2, 25, 0, 0, Point3D{})

	_, ok := Align(NewPointSet(reference...).Snapshot(), ScannerReading{ID: 3, Beacons: far}, DefaultThreshold)
	assert.False(t, ok)
}

func TestAlign_LowerThreshold(t *testing.T) {
	offset := Point3D{X: 5, Y: 5, Z: 5}
	reference, candidate := overlappingPair(11, 10, 3, 4, offset)
	ref := NewPointSet(reference...).Snapshot()

	_, ok := Align(ref, ScannerReading{ID: 1, Beacons: candidate}, DefaultThreshold)
	assert.False(t, ok, "3 shared beacons cannot reach the default threshold")

	res, ok := Align(ref, ScannerReading{ID: 1, Beacons: candidate}, 3)
	require.True(t, ok)
	assert.Equal(t, offset, res.Translation)
}
