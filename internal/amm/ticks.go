package amm

import (
	"errors"
	"fmt"
)

// Tick bounds of the concentrated-liquidity price index.
const (
	MinTick int32 = -887272
	MaxTick int32 = 887272
)

// TickArraySize is the number of ticks batched into one tick-array account.
const TickArraySize = 88

// ErrZeroWidthRange is returned when the requested band collapses to a
// single tick. A zero-width range cannot absorb any price movement, so the
// caller must widen the band instead of opening a useless position.
var ErrZeroWidthRange = errors.New("tick range collapses to zero width")

// TickRange is an aligned concentrated-liquidity price window.
type TickRange struct {
	Lower int32 `json:"lower"`
	Upper int32 `json:"upper"`
}

// AlignTickRange computes the tick window spanning rangeBps basis points
// around centerTick, with both bounds floored to multiples of tickSpacing.
func AlignTickRange(centerTick, tickSpacing int32, rangeBps int64) (TickRange, error) {
	if tickSpacing <= 0 {
		return TickRange{}, fmt.Errorf("tick spacing must be positive, got %d", tickSpacing)
	}
	if rangeBps < 0 {
		return TickRange{}, fmt.Errorf("range must be non-negative, got %d bps", rangeBps)
	}

	center := int64(centerTick)
	width := center
	if width < 0 {
		width = -width
	}
	delta := floorDiv(width*rangeBps, 10000)
	if delta == 0 {
		return TickRange{}, ErrZeroWidthRange
	}

	spacing := int64(tickSpacing)
	lower := floorDiv(center-delta, spacing) * spacing
	upper := floorDiv(center+delta, spacing) * spacing
	// The window must bracket the center tick; flooring a small delta can
	// drop the upper bound below it.
	if upper < center {
		upper += spacing
	}
	if lower > center {
		lower -= spacing
	}
	if lower < int64(MinTick) {
		lower = floorDiv(int64(MinTick), spacing) * spacing
		if lower < int64(MinTick) {
			lower += spacing
		}
	}
	if upper > int64(MaxTick) {
		upper = floorDiv(int64(MaxTick), spacing) * spacing
	}
	if lower >= upper {
		return TickRange{}, ErrZeroWidthRange
	}

	return TickRange{Lower: int32(lower), Upper: int32(upper)}, nil
}

// TickArrayStartIndex returns the first tick of the array containing tick.
func TickArrayStartIndex(tick, tickSpacing int32) int32 {
	span := int64(tickSpacing) * TickArraySize
	return int32(floorDiv(int64(tick), span) * span)
}

// floorDiv divides rounding toward negative infinity.
func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
