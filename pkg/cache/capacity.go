package cache

import (
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/mem"
)

const (
	// MaxCapacity bounds the local tier regardless of host memory.
	MaxCapacity = 100000

	// MinCapacity keeps the local tier useful on tiny hosts.
	MinCapacity = 100

	// FallbackCapacity is used when host memory stats cannot be read.
	FallbackCapacity = 5000
)

// ComputeCapacity derives the local tier's entry bound from currently
// available host memory: a configured percentage of it divided by an average
// entry size estimate, clamped to [MinCapacity, MaxCapacity].
//
// The capacity is computed once at startup and fixed for the process
// lifetime. Failure to read memory stats falls back to FallbackCapacity and
// is not fatal.
func ComputeCapacity(maxMemoryPercent, avgEntryBytes int, logger zerolog.Logger) int {
	vm, err := mem.VirtualMemory()
	if err != nil {
		logger.Warn().Err(err).
			Int("fallback", FallbackCapacity).
			Msg("Failed to read host memory stats, using fallback capacity")
		return FallbackCapacity
	}

	capacity := capacityFor(vm.Available, maxMemoryPercent, avgEntryBytes)
	logger.Info().
		Uint64("available_bytes", vm.Available).
		Int("max_memory_percent", maxMemoryPercent).
		Int("avg_entry_bytes", avgEntryBytes).
		Int("capacity", capacity).
		Msg("Computed local cache capacity")
	return capacity
}

// capacityFor is the pure capacity formula.
func capacityFor(availableBytes uint64, maxMemoryPercent, avgEntryBytes int) int {
	if maxMemoryPercent <= 0 || avgEntryBytes <= 0 {
		return FallbackCapacity
	}

	budget := availableBytes / 100 * uint64(maxMemoryPercent)
	capacity := int(budget / uint64(avgEntryBytes))

	if capacity < MinCapacity {
		return MinCapacity
	}
	if capacity > MaxCapacity {
		return MaxCapacity
	}
	return capacity
}
