package mesh

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrEmptyReference is returned when the anchor reading (scanner 0) has no
	// beacons, so the reference frame cannot be seeded.
	ErrEmptyReference = errors.New("mesh: anchor reading has no beacons")

	// ErrStuck indicates a full merge pass aligned nothing while readings remain.
	ErrStuck = errors.New("mesh: merge stuck")

	// ErrNotConverged is returned by report queries on an engine that has not
	// merged every reading.
	ErrNotConverged = errors.New("mesh: merge has not converged")

	// ErrInvalidRotation is returned for rotation indices outside [0, NumRotations).
	ErrInvalidRotation = errors.New("mesh: invalid rotation index")

	// ErrMalformedInput wraps parse and construction errors for scanner input.
	ErrMalformedInput = errors.New("mesh: malformed scanner input")
)

// StuckError names the scanners still unresolved when a pass made no progress.
type StuckError struct {
	Pass       int
	Unresolved []int
}

func (e *StuckError) Error() string {
	ids := append([]int(nil), e.Unresolved...)
	sort.Ints(ids)
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return fmt.Sprintf("mesh: merge stuck after pass %d, unresolved scanners: %s", e.Pass, strings.Join(parts, ", "))
}

// Is reports StuckError as ErrStuck.
func (e *StuckError) Is(target error) bool {
	return target == ErrStuck
}
