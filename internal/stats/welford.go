// Package stats implements the incremental (Welford) statistics used
// to build JLS summary entries without buffering a whole window.
package stats

import "math"

// Window accumulates count, mean, and the sum of squared deviations
// (M2) for a streaming set of samples, plus running min/max. Zero
// value is an empty window.
type Window struct {
	Count int64
	Mean  float64
	M2    float64
	Min   float64
	Max   float64
}

// NewWindow returns an empty window ready for Add.
func NewWindow() Window {
	return Window{Min: math.Inf(1), Max: math.Inf(-1)}
}

// Add folds one sample into the window using Welford's online update.
func (w *Window) Add(x float64) {
	w.Count++
	delta := x - w.Mean
	w.Mean += delta / float64(w.Count)
	delta2 := x - w.Mean
	w.M2 += delta * delta2
	if x < w.Min {
		w.Min = x
	}
	if x > w.Max {
		w.Max = x
	}
}

// Variance returns the population variance of the window, or 0 for
// windows with fewer than 2 samples.
func (w *Window) Variance() float64 {
	if w.Count < 2 {
		return 0
	}
	return w.M2 / float64(w.Count)
}

// StdDev returns the population standard deviation.
func (w *Window) StdDev() float64 {
	return math.Sqrt(w.Variance())
}

// Entry is the four-double (mean, std, min, max) JLS summary entry
// derived from a window. A window with zero samples produces an
// all-NaN entry, matching spec.md's SummaryEntry invariant.
type Entry struct {
	Mean, Std, Min, Max float64
}

// Entry converts the window's accumulated state to a summary entry.
func (w *Window) Entry() Entry {
	if w.Count == 0 {
		return Entry{math.NaN(), math.NaN(), math.NaN(), math.NaN()}
	}
	return Entry{Mean: w.Mean, Std: w.StdDev(), Min: w.Min, Max: w.Max}
}

// Merge combines two windows' statistics in O(1), preserving
// numerical stability (Chan et al.'s parallel variance formula). The
// receiver is left holding the combined window; other is untouched.
func (w *Window) Merge(other Window) {
	if other.Count == 0 {
		return
	}
	if w.Count == 0 {
		*w = other
		return
	}

	n1, n2 := float64(w.Count), float64(other.Count)
	n := n1 + n2
	delta := other.Mean - w.Mean

	mean := w.Mean + delta*n2/n
	m2 := w.M2 + other.M2 + delta*delta*n1*n2/n

	min := w.Min
	if other.Min < min {
		min = other.Min
	}
	max := w.Max
	if other.Max > max {
		max = other.Max
	}

	w.Count = w.Count + other.Count
	w.Mean = mean
	w.M2 = m2
	w.Min = min
	w.Max = max
}

// EntryToWindow reconstructs an approximate Window from a stored
// summary entry and its implicit sample count, for merging a whole
// already-summarized block with exactly-computed edges. M2 is
// recovered from Std assuming population variance.
func EntryToWindow(e Entry, count int64) Window {
	if count == 0 || math.IsNaN(e.Mean) {
		return NewWindow()
	}
	return Window{
		Count: count,
		Mean:  e.Mean,
		M2:    e.Std * e.Std * float64(count),
		Min:   e.Min,
		Max:   e.Max,
	}
}
