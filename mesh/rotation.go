package mesh

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// NumRotations is the size of the proper rotation group of the cube.
const NumRotations = 24

// axisMap describes one rotation as a signed permutation of the input axes:
// output component k is sign[k] * input[perm[k]].
type axisMap struct {
	perm [3]int
	sign [3]int
}

// rotations lists the 24 orientation-preserving signed permutations.
// Index 0 is the identity.
var rotations = buildRotations()

// buildRotations enumerates every signed axis permutation and keeps those with
// determinant +1. Enumeration order is fixed so indices are stable.
func buildRotations() [NumRotations]axisMap {
	perms := [][3]int{{0, 1, 2}, {0, 2, 1}, {1, 0, 2}, {1, 2, 0}, {2, 0, 1}, {2, 1, 0}}
	signs := [][3]int{
		{1, 1, 1}, {1, 1, -1}, {1, -1, 1}, {1, -1, -1},
		{-1, 1, 1}, {-1, 1, -1}, {-1, -1, 1}, {-1, -1, -1},
	}

	var out [NumRotations]axisMap
	n := 0
	for _, p := range perms {
		for _, s := range signs {
			if permParity(p)*s[0]*s[1]*s[2] != 1 {
				continue
			}
			out[n] = axisMap{perm: p, sign: s}
			n++
		}
	}
	if n != NumRotations {
		panic(fmt.Sprintf("mesh: built %d rotations, want %d", n, NumRotations))
	}
	return out
}

// permParity returns +1 for even permutations of three axes, -1 for odd.
func permParity(p [3]int) int {
	inversions := 0
	for i := 0; i < 3; i++ {
		for j := i + 1; j < 3; j++ {
			if p[i] > p[j] {
				inversions++
			}
		}
	}
	if inversions%2 == 0 {
		return 1
	}
	return -1
}

// Rotate applies rotation r to p. Indices outside [0, NumRotations) are
// reduced modulo NumRotations so the function stays total.
func Rotate(p Point3D, r int) Point3D {
	m := rotations[normalizeRotation(r)]
	in := [3]int{p.X, p.Y, p.Z}
	return Point3D{
		X: m.sign[0] * in[m.perm[0]],
		Y: m.sign[1] * in[m.perm[1]],
		Z: m.sign[2] * in[m.perm[2]],
	}
}

// RotatePoints applies rotation r to every point, preserving order.
func RotatePoints(points []Point3D, r int) []Point3D {
	result := make([]Point3D, len(points))
	for i, p := range points {
		result[i] = Rotate(p, r)
	}
	return result
}

func normalizeRotation(r int) int {
	r %= NumRotations
	if r < 0 {
		r += NumRotations
	}
	return r
}

// InverseRotation returns the index j such that Rotate(Rotate(p, r), j) == p.
func InverseRotation(r int) int {
	probe := Point3D{X: 1, Y: 2, Z: 3}
	rotated := Rotate(probe, r)
	for j := 0; j < NumRotations; j++ {
		if Rotate(rotated, j) == probe {
			return j
		}
	}
	// unreachable: the catalog is a group
	return 0
}

// ComposeRotations returns the index of "apply a, then b".
func ComposeRotations(a, b int) int {
	probe := Point3D{X: 1, Y: 2, Z: 3}
	want := Rotate(Rotate(probe, a), b)
	for j := 0; j < NumRotations; j++ {
		if Rotate(probe, j) == want {
			return j
		}
	}
	return 0
}

// RotationMatrix returns rotation r as a 3x3 matrix acting on column vectors.
func RotationMatrix(r int) (*mat.Dense, error) {
	if r < 0 || r >= NumRotations {
		return nil, fmt.Errorf("%w: %d", ErrInvalidRotation, r)
	}
	m := rotations[r]
	data := make([]float64, 9)
	for row := 0; row < 3; row++ {
		data[row*3+m.perm[row]] = float64(m.sign[row])
	}
	return mat.NewDense(3, 3, data), nil
}

// rotationRows flattens RotationMatrix into integer rows for JSON output.
func rotationRows(r int) [3][3]int {
	var rows [3][3]int
	m, err := RotationMatrix(r)
	if err != nil {
		return rows
	}
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			rows[i][j] = int(m.At(i, j))
		}
	}
	return rows
}
