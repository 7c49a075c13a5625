package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRangeSetInsertCoalesces(t *testing.T) {
	var s rangeSet
	s.insert(5)
	s.insert(6)
	s.insert(4)
	s.insert(10)

	require.False(t, s.isEmpty())
	assert.True(t, s.contains(4))
	assert.True(t, s.contains(6))
	assert.False(t, s.contains(7))

	descending := s.toDescendingRanges()
	require.Len(t, descending, 2)
	assert.Equal(t, ackRange{smallest: 10, largest: 10}, descending[0])
	assert.Equal(t, ackRange{smallest: 4, largest: 6}, descending[1])
}

func TestRangeSetInsertIsIdempotent(t *testing.T) {
	var s rangeSet
	s.insert(3)
	s.insert(3)
	assert.Len(t, s.toDescendingRanges(), 1)
	assert.Equal(t, ackRange{smallest: 3, largest: 3}, s.toDescendingRanges()[0])
}

func TestRangeSetRemoveUntil(t *testing.T) {
	var s rangeSet
	for _, v := range []uint64{1, 2, 3, 7, 8} {
		s.insert(v)
	}
	s.removeUntil(3)
	assert.False(t, s.contains(1))
	assert.False(t, s.contains(3))
	assert.True(t, s.contains(7))
	assert.True(t, s.contains(8))
}
