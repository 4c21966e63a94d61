package jls

import (
	"errors"
	"sort"
)

// ErrUTCOutOfOrder is returned by TimestampTrack.Append for a
// sample_id that does not strictly increase, per spec.md §4.G's
// invariant ("duplicates are ParameterInvalid").
var ErrUTCOutOfOrder = errors.New("tmap: sample_id must strictly increase")

// TimestampTrack is the tmap described in spec.md §4.G: a strictly
// increasing (sample_id, utc) leaf sequence supporting binary-search
// descent and piecewise-linear interpolation in both directions.
//
// On-disk persistence batches leaves into UTC chunks every
// utc_decimate_factor entries (see Drain), giving the single
// "level-0 window" spec.md's tmap is built on; see DESIGN.md for why
// this implementation does not additionally build the multi-level
// first/last summary-of-summaries spec.md's prose also describes for
// UTC tracks.
type TimestampTrack struct {
	leaves  []UTCEntry
	pending []UTCEntry

	decimateFactor int64
}

// NewTimestampTrack returns an empty tmap that batches pending leaves
// for disk flush every decimateFactor entries.
func NewTimestampTrack(decimateFactor int64) *TimestampTrack {
	if decimateFactor < 1 {
		decimateFactor = 1
	}
	return &TimestampTrack{decimateFactor: decimateFactor}
}

// Append records one (sample_id, utc) leaf. It returns a batch of
// leaves to flush as a UTC chunk once the pending batch reaches
// decimateFactor entries, or nil if none is due yet.
func (t *TimestampTrack) Append(sampleID, utc int64) ([]UTCEntry, error) {
	if len(t.leaves) > 0 && sampleID <= t.leaves[len(t.leaves)-1].SampleID {
		return nil, ErrUTCOutOfOrder
	}
	e := UTCEntry{SampleID: sampleID, Timestamp: utc}
	t.leaves = append(t.leaves, e)
	t.pending = append(t.pending, e)

	if int64(len(t.pending)) < t.decimateFactor {
		return nil, nil
	}
	batch := t.pending
	t.pending = nil
	return batch, nil
}

// Drain flushes whatever leaves remain pending below decimateFactor,
// for use at close.
func (t *TimestampTrack) Drain() []UTCEntry {
	if len(t.pending) == 0 {
		return nil
	}
	batch := t.pending
	t.pending = nil
	return batch
}

// LoadLeaves seeds the track with leaves recovered from reading an
// existing file's UTC chain (used by the reader).
func (t *TimestampTrack) LoadLeaves(leaves []UTCEntry) {
	t.leaves = append(t.leaves, leaves...)
}

// Len returns the number of recorded (sample_id, utc) leaves.
func (t *TimestampTrack) Len() int {
	return len(t.leaves)
}

// Get returns the index'th recorded leaf, per spec.md §4.G's
// tmap_get(index).
func (t *TimestampTrack) Get(index int) (UTCEntry, bool) {
	if index < 0 || index >= len(t.leaves) {
		return UTCEntry{}, false
	}
	return t.leaves[index], true
}

// SampleIDToUTC resolves a sample id to its interpolated utc
// timestamp, per spec.md §4.G.
func (t *TimestampTrack) SampleIDToUTC(sampleID int64) (int64, bool) {
	i := sort.Search(len(t.leaves), func(i int) bool { return t.leaves[i].SampleID >= sampleID })
	if i < len(t.leaves) && t.leaves[i].SampleID == sampleID {
		return t.leaves[i].Timestamp, true
	}
	if i == 0 || i == len(t.leaves) {
		return 0, false
	}
	a, b := t.leaves[i-1], t.leaves[i]
	return interpolateUTC(a.SampleID, a.Timestamp, b.SampleID, b.Timestamp, sampleID), true
}

// UTCToSampleID resolves a utc timestamp to its interpolated sample
// id, symmetric to SampleIDToUTC.
func (t *TimestampTrack) UTCToSampleID(utc int64) (int64, bool) {
	i := sort.Search(len(t.leaves), func(i int) bool { return t.leaves[i].Timestamp >= utc })
	if i < len(t.leaves) && t.leaves[i].Timestamp == utc {
		return t.leaves[i].SampleID, true
	}
	if i == 0 || i == len(t.leaves) {
		return 0, false
	}
	a, b := t.leaves[i-1], t.leaves[i]
	return interpolateUTC(a.Timestamp, a.SampleID, b.Timestamp, b.SampleID, utc), true
}
