package rtp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRolloverState_Timestamp(t *testing.T) {
	var r RolloverState
	const maxU32 = uint64(math.MaxUint32)

	current := uint32(1)
	assert.Equal(t, uint64(current), r.Timestamp(current))

	current = math.MaxUint32/2 + 1
	assert.Equal(t, uint64(current), r.Timestamp(current))

	current = 0
	assert.Equal(t, maxU32+1+uint64(current), r.Timestamp(current))

	prev := uint32(math.MaxUint32)
	r.previousTimestamp = &prev
	current = 1
	assert.Equal(t, 2*(maxU32+1)+uint64(current), r.Timestamp(current))

	prev = 1
	r.previousTimestamp = &prev
	current = math.MaxUint32
	assert.Equal(t, maxU32+1+uint64(current), r.Timestamp(current))

	prev = math.MaxUint32
	r.previousTimestamp = &prev
	current = math.MaxUint32 - 1
	assert.Equal(t, maxU32+1+uint64(current), r.Timestamp(current))

	prev = math.MaxUint32 - 1
	r.previousTimestamp = &prev
	current = math.MaxUint32
	assert.Equal(t, maxU32+1+uint64(current), r.Timestamp(current))
}
