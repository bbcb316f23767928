package registry

import (
	"math/rand"

	"unix-task-manager/internal/models"
)

// DefaultMaxAttempts bounds the number of draws before allocation gives up.
const DefaultMaxAttempts = 5

const pidSpace = models.PIDMax - models.PIDMin + 1

// Allocate draws a PID uniformly from [PIDMin, PIDMax] that is not in existing.
// It returns ErrAllocationExhausted after maxAttempts collisions, or at once
// when the id space is full.
func Allocate(existing map[int]struct{}, rng *rand.Rand, maxAttempts int) (int, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if len(existing) >= pidSpace {
		return 0, ErrAllocationExhausted
	}
	for i := 0; i < maxAttempts; i++ {
		pid := models.PIDMin + rng.Intn(pidSpace)
		if _, taken := existing[pid]; !taken {
			return pid, nil
		}
	}
	return 0, ErrAllocationExhausted
}
