// Package track implements the per-signal cascade of level buffers
// described in spec.md §4.E/§4.F: a raw level-0 sample buffer feeding
// a chain of summary levels, each decimating the level below it by a
// fixed factor and flushing a chunk once its buffer fills.
//
// This package is pure in-memory bookkeeping; it has no knowledge of
// chunkio.File. The caller (pkg/jls's writer façade) turns the Flush
// values this package emits into actual chunk writes and reports the
// resulting file offsets back via RecordOffset so the cascade can
// build its own index chunks.
package track

import (
	"errors"
	"fmt"

	"github.com/jls-format/jls-go/internal/dtype"
	"github.com/jls-format/jls-go/internal/stats"
)

// ErrSampleIDRegression is returned by Append when sampleID is less
// than the track's expected next sample id (spec.md §4.F: "strictly
// less is ParameterInvalid").
var ErrSampleIDRegression = errors.New("track: sample id precedes expected next sample id")

// IndexRecord is one entry of a level's index chunk: the file offset
// of a data or summary chunk at that level, keyed by the first sample
// id it covers.
type IndexRecord struct {
	FirstSampleID int64
	Offset        uint64
}

// FlushKind identifies what a Flush carries.
type FlushKind int

const (
	FlushData FlushKind = iota
	FlushSummary
	FlushIndex
)

// Flush describes one chunk's worth of data that a level has decided
// to emit. The caller writes it to disk and, for FlushData/FlushSummary,
// reports the resulting offset back via Cascade.RecordOffset so the
// level's index buffer can track it.
type Flush struct {
	Kind          FlushKind
	Level         int
	FirstSampleID int64
	Count         int64        // number of raw samples (data) or entries (summary) covered
	RawPayload    []byte       // set for FlushData
	Entries       []stats.Entry // set for FlushSummary
	IndexRecords  []IndexRecord // set for FlushIndex
}

// level holds the live state of one cascade level.
type level struct {
	num            int
	decimateFactor int64 // items of the level below folded into one entry here; 0 at level 0
	capacity       int64 // samples_per_data (level 0) or entries_per_summary (level >=1)

	firstSampleID int64
	count         int64 // items currently buffered (raw samples at level 0, entries at level >=1)

	// level 0 only
	dt      dtype.DataType
	rawBuf  []byte
	rawFill int64

	// all levels: accumulator folding decimateFactor items from the
	// level below into the next Entry pushed to entries.
	pending      stats.Window
	pendingCount int64

	// entrySpanSamples is how many raw samples one entry at this level
	// covers (levels >= 1 only): decimateFactor at level 1, and
	// decimateFactor times the level below's entrySpanSamples at every
	// level above that. firstSampleID at levels >= 1 is tracked in raw
	// sample-id units, so advancing it on flush must scale by this, not
	// by the level's own entry count.
	entrySpanSamples int64

	entries []stats.Entry // buffered, not yet flushed as a summary chunk (level >=1 only)
	index   []IndexRecord
}

// Cascade is the full level-0..L state for one FSR signal. pkg/jls
// does not use it for UTC leaves (TimestampTrack) or annotations,
// which are written as flat chains.
type Cascade struct {
	SignalID int

	dt dtype.DataType

	levels []level

	// expectedNext is the next sample id this cascade will accept
	// without triggering the skip-fill protocol.
	expectedNext int64

	closed bool
}

// Params configures a new Cascade's geometry, mirroring four of the
// structural parameters on Signal (the annotation and UTC decimate
// factors are not used here).
type Params struct {
	DataType             dtype.DataType
	SamplesPerData       int64
	SampleDecimateFactor int64
	EntriesPerSummary    int64
	SummaryDecimateFactor int64
	Levels               int // L: total cascade depth, levels 0..Levels
	FirstSampleID        int64
}

// EntrySpanSamples returns how many raw samples one entry at levelNum
// covers, given a cascade's two decimate factors. levelNum must be >=
// 1. The reader uses this directly (without building a live Cascade)
// to interpret a level's index/summary chunks' FirstSampleID fields.
func EntrySpanSamples(levelNum int, sampleDecimateFactor, summaryDecimateFactor int64) int64 {
	span := sampleDecimateFactor
	for k := 2; k <= levelNum; k++ {
		span *= summaryDecimateFactor
	}
	return span
}

// NewCascade builds a Cascade from the caller's resolved structural
// parameters (auto-fill defaults are applied by pkg/jls before this
// point; this package only sees final values).
func NewCascade(signalID int, p Params) (*Cascade, error) {
	if p.Levels < 1 {
		return nil, fmt.Errorf("track: levels must be >= 1, got %d", p.Levels)
	}
	if p.SamplesPerData < p.SampleDecimateFactor {
		return nil, fmt.Errorf("track: samples_per_data (%d) must be >= sample_decimate_factor (%d)", p.SamplesPerData, p.SampleDecimateFactor)
	}

	c := &Cascade{
		SignalID:     signalID,
		dt:           p.DataType,
		expectedNext: p.FirstSampleID,
	}

	lv0 := level{
		num:           0,
		capacity:      p.SamplesPerData,
		firstSampleID: p.FirstSampleID,
		dt:            p.DataType,
		rawBuf:        make([]byte, p.DataType.BytesForSamples(int(p.SamplesPerData))),
	}
	c.levels = append(c.levels, lv0)

	for k := 1; k <= p.Levels; k++ {
		df := p.SummaryDecimateFactor
		if k == 1 {
			df = p.SampleDecimateFactor
		}
		span := EntrySpanSamples(k, p.SampleDecimateFactor, p.SummaryDecimateFactor)
		c.levels = append(c.levels, level{
			num:              k,
			decimateFactor:   df,
			capacity:         p.EntriesPerSummary,
			firstSampleID:    p.FirstSampleID,
			pending:          stats.NewWindow(),
			entrySpanSamples: span,
		})
	}
	return c, nil
}

// ExpectedNextSampleID returns the sample id the cascade next expects
// without triggering the skip-fill protocol.
func (c *Cascade) ExpectedNextSampleID() int64 {
	return c.expectedNext
}

// Append folds one raw sample (already resolved for skip-fill by the
// caller — see spec.md §4.F) into the cascade, returning any chunk
// flushes this triggers across the levels it cascades into.
//
// isFill marks a synthetic skip-gap sample: it is written into the
// level-0 raw buffer (so the data chunk stores the same bytes a
// real zero/NaN sample would) but excluded from every level's
// statistics accumulator, per spec.md's "count excludes fill".
func (c *Cascade) Append(sampleID int64, value float64, isFill bool) ([]Flush, error) {
	if sampleID < c.expectedNext {
		return nil, ErrSampleIDRegression
	}
	if sampleID > c.expectedNext {
		return nil, fmt.Errorf("track: Append called with sampleID %d ahead of expected %d; caller must skip-fill first", sampleID, c.expectedNext)
	}

	var flushes []Flush
	lv0 := &c.levels[0]
	c.dt.WriteSample(lv0.rawBuf, int(lv0.rawFill), value)
	lv0.rawFill++
	lv0.count++
	c.expectedNext++

	if !isFill {
		lv1 := &c.levels[1]
		lv1.pending.Add(value)
		lv1.pendingCount++
	} else {
		// A fill sample still advances the decimate-window position
		// without contributing to statistics: bump pendingCount's
		// denominator without touching the Welford accumulator.
		lv1 := &c.levels[1]
		lv1.pendingCount++
	}
	if c.levels[1].pendingCount >= c.levels[1].decimateFactorOrOne() {
		flushes = append(flushes, c.closeLevelWindow(1)...)
	}

	if lv0.count >= lv0.capacity {
		flushes = append(flushes, c.flushData()...)
	}
	return flushes, nil
}

// foldEntryUpward merges a lower level's finalized Entry (weighted by
// the count of real samples it represents — EntryToWindow treats a
// weight of 0 or a NaN mean as an empty, neutral window, so an
// all-fill window below contributes nothing here rather than
// poisoning this level's mean with NaN) into level levelNum's pending
// window via component D's merge, recursing upward if that closes
// this level's own window in turn.
func (c *Cascade) foldEntryUpward(levelNum int, entry stats.Entry, weight int64) []Flush {
	if levelNum >= len(c.levels) {
		return nil
	}
	lv := &c.levels[levelNum]
	lv.pending.Merge(stats.EntryToWindow(entry, weight))
	lv.pendingCount++

	if lv.pendingCount < lv.decimateFactorOrOne() {
		return nil
	}
	return c.closeLevelWindow(levelNum)
}

// closeLevelWindow finalizes level levelNum's pending window into an
// Entry, appends it to the level's buffer, resets the window, and
// recurses into the level above by merging the weighted Entry
// (instead of re-adding a raw scalar, which would lose each
// constituent window's internal variance and sample weight). Cascade
// is single-writer (the threaded writer owns it exclusively), so no
// locking is needed here.
func (c *Cascade) closeLevelWindow(levelNum int) []Flush {
	lv := &c.levels[levelNum]
	weight := lv.pending.Count
	entry := lv.pending.Entry()
	lv.pending = stats.NewWindow()
	lv.pendingCount = 0

	lv.entries = append(lv.entries, entry)
	lv.count++

	var flushes []Flush
	flushes = append(flushes, c.foldEntryUpward(levelNum+1, entry, weight)...)

	if lv.count >= lv.capacity {
		flushes = append(flushes, c.flushSummary(levelNum)...)
	}
	return flushes
}

func (l *level) decimateFactorOrOne() int64 {
	if l.decimateFactor <= 0 {
		return 1
	}
	return l.decimateFactor
}

// flushData emits level 0's raw buffer as a FlushData, resets it
// preserving first_sample_id += capacity, and appends an index record
// (backfilled with the offset once RecordOffset is called).
func (c *Cascade) flushData() []Flush {
	lv0 := &c.levels[0]
	f := Flush{
		Kind:          FlushData,
		Level:         0,
		FirstSampleID: lv0.firstSampleID,
		Count:         lv0.count,
		RawPayload:    append([]byte(nil), lv0.rawBuf[:c.dt.BytesForSamples(int(lv0.count))]...),
	}
	lv0.firstSampleID += lv0.count
	lv0.count = 0
	lv0.rawFill = 0
	return []Flush{f}
}

// flushSummary emits level levelNum's entries buffer as a FlushSummary
// and resets it, advancing first_sample_id by the flushed entry count
// times entrySpanSamples (first_sample_id is in raw sample-id units).
func (c *Cascade) flushSummary(levelNum int) []Flush {
	lv := &c.levels[levelNum]
	f := Flush{
		Kind:          FlushSummary,
		Level:         levelNum,
		FirstSampleID: lv.firstSampleID,
		Count:         lv.count,
		Entries:       lv.entries,
	}
	lv.firstSampleID += lv.count * lv.entrySpanSamples
	lv.entries = nil
	lv.count = 0
	return []Flush{f}
}

// RecordOffset reports the file offset a previously emitted
// FlushData/FlushSummary for (level, firstSampleID) was written to.
// The level's index buffer accumulates these and emits its own
// FlushIndex once it reaches the same capacity as the level's
// summary/data buffer, keeping index density matched to content
// density.
func (c *Cascade) RecordOffset(levelNum int, firstSampleID int64, offset uint64) []Flush {
	lv := &c.levels[levelNum]
	lv.index = append(lv.index, IndexRecord{FirstSampleID: firstSampleID, Offset: offset})
	if int64(len(lv.index)) < lv.capacity {
		return nil
	}
	f := Flush{
		Kind:         FlushIndex,
		Level:        levelNum,
		IndexRecords: lv.index,
	}
	lv.index = nil
	return []Flush{f}
}

// Close flushes every level's partial data/summary buffers
// bottom-up, emitting a final (possibly short) entry for the tail at
// each level — the "exact edge" case spec.md says the reader later
// detects by a summary entry's implicit count being less than
// decimate_factor.
//
// Close does not flush index buffers: the caller must call
// RecordOffset for every Flush Close returns (exactly as it does for
// flushes produced by Append) before calling FlushIndexes to emit the
// final, possibly-partial index chunks. This ordering lets the very
// last data/summary chunk's own offset make it into its level's
// final index chunk.
func (c *Cascade) Close() []Flush {
	if c.closed {
		return nil
	}
	c.closed = true

	var flushes []Flush
	lv0 := &c.levels[0]
	if lv0.count > 0 {
		flushes = append(flushes, c.flushData()...)
	}
	for k := 1; k < len(c.levels); k++ {
		lv := &c.levels[k]
		if lv.pendingCount > 0 {
			entry := lv.pending.Entry()
			lv.pending = stats.NewWindow()
			lv.pendingCount = 0
			lv.entries = append(lv.entries, entry)
			lv.count++
		}
		if lv.count > 0 {
			flushes = append(flushes, c.flushSummary(k)...)
		}
	}
	return flushes
}

// FlushIndexes emits whatever partial index records remain buffered
// at every level as a final FlushIndex each. Call only after every
// Flush from Append and Close has already been passed through
// RecordOffset.
func (c *Cascade) FlushIndexes() []Flush {
	var flushes []Flush
	for k := 0; k < len(c.levels); k++ {
		lv := &c.levels[k]
		if len(lv.index) > 0 {
			flushes = append(flushes, Flush{Kind: FlushIndex, Level: k, IndexRecords: lv.index})
			lv.index = nil
		}
	}
	return flushes
}

// LevelCount returns the number of levels (0..L inclusive) in the cascade.
func (c *Cascade) LevelCount() int {
	return len(c.levels)
}
