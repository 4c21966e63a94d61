package jls

import (
	"math/big"
	"time"

	"github.com/jls-format/jls-go/internal/chunkio"
)

// Epoch is the zero point of every on-disk fixed-point timestamp
// (spec.md §6): 2018-01-01T00:00:00Z.
var Epoch = time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)

// TicksPerSecond is the fixed-point resolution of an on-disk
// timestamp: 1 second = 2^30 ticks.
const TicksPerSecond = chunkio.TicksPerSecond

// ToFixedPoint converts a wall-clock time to JLS fixed-point ticks
// since Epoch.
func ToFixedPoint(t time.Time) int64 {
	d := t.Sub(Epoch)
	return int64(d.Seconds() * float64(TicksPerSecond))
}

// FromFixedPoint converts JLS fixed-point ticks since Epoch back to a
// wall-clock time.
func FromFixedPoint(ticks int64) time.Time {
	secs := float64(ticks) / float64(TicksPerSecond)
	return Epoch.Add(time.Duration(secs * float64(time.Second)))
}

// interpolateUTC implements the sample_id -> utc (and, by symmetry,
// utc -> sample_id) resolution from spec.md §4.G: piecewise-linear
// interpolation between two enclosing UTCEntry leaves, using 128-bit
// intermediate arithmetic so that (x - a.X) * (b.Y - a.Y) cannot
// overflow int64 for the sample-id/timestamp ranges JLS allows.
//
// a and b are the two enclosing entries (aX <= x <= bX, aX < bX); it
// returns the interpolated Y at x.
func interpolateUTC(aX, aY, bX, bY, x int64) int64 {
	if aX == bX {
		return aY
	}
	num := new(big.Int).Mul(big.NewInt(x-aX), big.NewInt(bY-aY))
	den := big.NewInt(bX - aX)
	q := new(big.Int).Quo(num, den)
	return aY + q.Int64()
}
