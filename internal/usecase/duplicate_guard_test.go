package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDuplicateGuard_SameDayCaseInsensitive(t *testing.T) {
	clock := newManualClock()
	guard := NewDuplicateGuard(clock)

	assert.False(t, guard.HasOrderedToday("INFY"))
	guard.RecordOrder("INFY")
	assert.True(t, guard.HasOrderedToday("infy"))
	assert.True(t, guard.HasOrderedToday(" INFY "))
	assert.False(t, guard.HasOrderedToday("TCS"))
}

func TestDuplicateGuard_NextDayClears(t *testing.T) {
	clock := newManualClock()
	guard := NewDuplicateGuard(clock)

	guard.RecordOrder("INFY")
	clock.Advance(24 * time.Hour)
	assert.False(t, guard.HasOrderedToday("INFY"))
}

func TestDuplicateGuard_CountsRepeatOrders(t *testing.T) {
	clock := newManualClock()
	guard := NewDuplicateGuard(clock)

	guard.RecordOrder("INFY")
	guard.RecordOrder("infy")
	assert.Equal(t, 2, guard.OrderCount("INFY"))
}

func TestDuplicateGuard_PrunesBeyondRetention(t *testing.T) {
	clock := newManualClock()
	guard := NewDuplicateGuard(clock)

	guard.RecordOrder("OLD")
	clock.Advance(31 * 24 * time.Hour)
	// Recording anything prunes expired entries.
	guard.RecordOrder("NEW")

	guard.mu.Lock()
	_, oldExists := guard.entries["OLD|2024-06-03"]
	guard.mu.Unlock()
	assert.False(t, oldExists)
}

func TestDuplicateGuard_Reset(t *testing.T) {
	clock := newManualClock()
	guard := NewDuplicateGuard(clock)

	guard.RecordOrder("INFY")
	guard.Reset()
	assert.False(t, guard.HasOrderedToday("INFY"))
}
