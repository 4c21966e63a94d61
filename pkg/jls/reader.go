package jls

import (
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/jls-format/jls-go/internal/chunkio"
	"github.com/jls-format/jls-go/internal/dtype"
	"github.com/jls-format/jls-go/internal/stats"
	"github.com/jls-format/jls-go/internal/track"
)

// Reader is the component J façade described in spec.md §4.J: it
// opens one file read-only, rebuilds the sources/signals tables and
// every chunk chain's head offset from either the end-of-file index or
// (if that's missing or corrupt) a full forward scan, and serves range
// reads and multi-resolution statistics by descending the per-signal
// summary tree that pkg/jls's Writer built.
//
// A Reader is not safe for concurrent use from multiple goroutines,
// mirroring spec.md §5's "reader is single-threaded" constraint — its
// caches are unsynchronized maps.
type Reader struct {
	cf *chunkio.File

	sources map[uint16]Source
	signals map[uint16]Signal

	chainHeads map[chainKey]uint64

	indexCache   map[chainKey][]track.IndexRecord
	summaryCache map[chainKey][]summaryLeaf
	utcCache     map[uint16]*TimestampTrack
}

// summaryLeaf is one decoded summary entry, positioned at the raw
// sample id its window starts at (derived from its chunk's indexed
// FirstSampleID plus its position within that chunk's entry list).
type summaryLeaf struct {
	FirstSampleID int64
	Entry         stats.Entry
}

// Open opens path for reading. If the file header's root index offset
// is zero or points at a chunk that fails to validate, Open falls back
// to internal/chunkio.ScanForRecovery, rebuilding every table and
// chain head from the chunks that actually validate — spec.md §4.J's
// "forward scan honoring prev_offset back-pointers to reconstruct".
func Open(path string) (*Reader, error) {
	cf, hdr, err := chunkio.Open(path, false)
	if err != nil {
		return nil, newErr("open", CodeIO, err)
	}

	r := &Reader{
		cf:           cf,
		sources:      make(map[uint16]Source),
		signals:      make(map[uint16]Signal),
		chainHeads:   make(map[chainKey]uint64),
		indexCache:   make(map[chainKey][]track.IndexRecord),
		summaryCache: make(map[chainKey][]summaryLeaf),
		utcCache:     make(map[uint16]*TimestampTrack),
	}

	loaded := false
	if hdr.RootIndexOffset != 0 {
		if err := r.loadRootIndex(hdr.RootIndexOffset); err == nil {
			loaded = true
		}
	}
	if !loaded {
		if err := r.recoverByScan(); err != nil {
			cf.Close()
			return nil, newErr("open", CodeTruncated, err)
		}
		if len(r.chainHeads) == 0 {
			cf.Close()
			return nil, newErr("open", CodeTruncated, fmt.Errorf("no valid chunks found"))
		}
	}
	return r, nil
}

func (r *Reader) loadRootIndex(offset uint64) error {
	hdr, payload, err := r.cf.ReadChunkAt(offset)
	if err != nil {
		return err
	}
	if hdr.Tag != chunkio.TagEnd {
		return fmt.Errorf("jls: root index offset %d is not an end chunk", offset)
	}
	e := decodeEndIndex(payload)
	for _, s := range e.Sources {
		r.sources[s.ID] = s
	}
	for _, s := range e.Signals {
		r.signals[s.SignalID] = s
	}
	r.chainHeads = e.ChainHeads
	return nil
}

func (r *Reader) recoverByScan() error {
	return r.cf.ScanForRecovery(func(offset uint64, hdr chunkio.ChunkHeader, payload []byte) error {
		signalID, level := chunkio.SplitChunkMeta(hdr.ChunkMetaField)
		key := chainKey{Tag: uint8(hdr.Tag), SignalID: uint16(signalID), Level: level}
		if hdr.Tag == chunkio.TagUserData {
			// user_data's chunk_meta is the caller's opaque tag, not a
			// (signal_id, level) pair; it always belongs to the one
			// flat chain keyed at (0, 0).
			key = chainKey{Tag: uint8(chunkio.TagUserData), SignalID: 0, Level: 0}
		}
		if _, seen := r.chainHeads[key]; !seen {
			r.chainHeads[key] = offset
		}
		switch hdr.Tag {
		case chunkio.TagSourceDef:
			s := decodeSource(payload)
			r.sources[s.ID] = s
		case chunkio.TagSignalDef:
			s := decodeSignal(payload)
			r.signals[s.SignalID] = s
		}
		return nil
	})
}

// Sources returns every defined Source ordered by id, including an
// implicit {ID: 0, Name: "global"} entry (first, by that ordering) if
// the writer never defined one explicitly, per spec.md §4.J.
func (r *Reader) Sources() []Source {
	out := make([]Source, 0, len(r.sources)+1)
	if _, ok := r.sources[0]; !ok {
		out = append(out, Source{ID: 0, Name: "global"})
	}
	for _, s := range r.sources {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Signals returns every defined Signal, ordered by id.
func (r *Reader) Signals() []Signal {
	out := make([]Signal, 0, len(r.signals))
	for _, s := range r.signals {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SignalID < out[j].SignalID })
	return out
}

func (r *Reader) loadIndex(signalID uint16, level uint8) ([]track.IndexRecord, error) {
	key := chainKey{Tag: uint8(chunkio.TagIndex), SignalID: signalID, Level: level}
	if cached, ok := r.indexCache[key]; ok {
		return cached, nil
	}
	head, ok := r.chainHeads[key]
	if !ok {
		r.indexCache[key] = nil
		return nil, nil
	}
	var records []track.IndexRecord
	err := r.cf.IterateChain(head, func(hdr chunkio.ChunkHeader, payload []byte) error {
		if hdr.Tag != chunkio.TagIndex {
			return fmt.Errorf("jls: expected index chunk in chain %s", key)
		}
		records = append(records, decodeIndexRecords(payload)...)
		return nil
	})
	if err != nil {
		return nil, newErr("read_index", CodeIO, err)
	}
	r.indexCache[key] = records
	return records, nil
}

func (r *Reader) readDataChunk(offset uint64) (int64, []byte, error) {
	hdr, payload, err := r.cf.ReadChunkAt(offset)
	if err != nil {
		return 0, nil, newErr("read_chunk", CodeIO, err)
	}
	if hdr.Tag != chunkio.TagData {
		return 0, nil, newErr("read_chunk", CodeIO, fmt.Errorf("expected data chunk at offset %d, got %s", offset, hdr.Tag))
	}
	count, raw := decodeDataPayload(payload)
	return count, raw, nil
}

// readRawRange returns the decoded samples in sig's [from, to) raw
// sample-id range, descending the level-0 index to find the covering
// data chunks.
func (r *Reader) readRawRange(sig Signal, from, to int64) ([]float64, error) {
	if sig.OmitData {
		return nil, newErr("fsr", CodeUnsupported, fmt.Errorf("signal %d has fsr_omit_data set", sig.SignalID))
	}
	if from >= to {
		return nil, nil
	}
	records, err := r.loadIndex(sig.SignalID, 0)
	if err != nil {
		return nil, err
	}
	idx := sort.Search(len(records), func(i int) bool { return records[i].FirstSampleID > from }) - 1
	if idx < 0 {
		return nil, newErr("fsr", CodeParameterInvalid, fmt.Errorf("start %d precedes signal %d's recorded range", from, sig.SignalID))
	}

	out := make([]float64, 0, to-from)
	for idx < len(records) && int64(len(out)) < to-from {
		count, raw, err := r.readDataChunk(records[idx].Offset)
		if err != nil {
			return nil, err
		}
		chunkFirst := records[idx].FirstSampleID
		chunkEnd := chunkFirst + count

		lo, hi := from, to
		if chunkFirst > lo {
			lo = chunkFirst
		}
		if chunkEnd < hi {
			hi = chunkEnd
		}
		for p := lo; p < hi; p++ {
			out = append(out, sig.DataType.ReadSample(raw, int(p-chunkFirst)))
		}
		idx++
	}
	if int64(len(out)) < to-from {
		return nil, newErr("fsr", CodeParameterInvalid, fmt.Errorf("range [%d,%d) exceeds signal %d's recorded length", from, to, sig.SignalID))
	}
	return out, nil
}

// FSR implements spec.md §4.J's fsr(signal, start, length) → samples.
func (r *Reader) FSR(signalID uint16, start, length int64) ([]float64, error) {
	sig, ok := r.signals[signalID]
	if !ok {
		return nil, newErr("fsr", CodeNotFound, nil)
	}
	if sig.Kind != KindFSR {
		return nil, newErr("fsr", CodeNotSupported, fmt.Errorf("signal %d is not FSR", signalID))
	}
	if length <= 0 || start < sig.SampleIDOffset {
		return nil, newErr("fsr", CodeParameterInvalid, nil)
	}
	return r.readRawRange(sig, start, start+length)
}

// RawLength returns one past the highest sample id recorded for
// signalID (SampleIDOffset if nothing was written; the sample count
// only when SampleIDOffset is 0), by reading
// the last level-0 data chunk's count-prefixed payload. cmd/jlscopy
// uses this to know how much to replay without duplicating the
// cascade's own bookkeeping.
func (r *Reader) RawLength(signalID uint16) (int64, error) {
	sig, ok := r.signals[signalID]
	if !ok {
		return 0, newErr("raw_length", CodeNotFound, nil)
	}
	if sig.OmitData {
		return 0, newErr("raw_length", CodeUnsupported, fmt.Errorf("signal %d has fsr_omit_data set", signalID))
	}
	records, err := r.loadIndex(signalID, 0)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return sig.SampleIDOffset, nil
	}
	last := records[len(records)-1]
	count, _, err := r.readDataChunk(last.Offset)
	if err != nil {
		return 0, err
	}
	return last.FirstSampleID + count, nil
}

// rawWindowExact computes an exact Welford window over sig's raw
// samples in [from, to), excluding skip-fill NaNs from the
// accumulator the same way the writer's cascade did at write time.
// Integer skip-fill (bit-pattern zero) is indistinguishable from a
// genuine zero sample on read, so it is not excluded here — see
// DESIGN.md.
func (r *Reader) rawWindowExact(sig Signal, from, to int64) (stats.Window, error) {
	if from >= to {
		return stats.NewWindow(), nil
	}
	samples, err := r.readRawRange(sig, from, to)
	if err != nil {
		return stats.Window{}, err
	}
	w := stats.NewWindow()
	for _, v := range samples {
		if sig.DataType.Base == dtype.BaseFloat && math.IsNaN(v) {
			continue
		}
		w.Add(v)
	}
	return w, nil
}

func (r *Reader) loadSummaryLeaves(sig Signal, level int) ([]summaryLeaf, error) {
	key := chainKey{Tag: uint8(chunkio.TagSummary), SignalID: sig.SignalID, Level: uint8(level)}
	if cached, ok := r.summaryCache[key]; ok {
		return cached, nil
	}
	records, err := r.loadIndex(sig.SignalID, uint8(level))
	if err != nil {
		return nil, err
	}
	span := track.EntrySpanSamples(level, sig.SampleDecimateFactor, sig.SummaryDecimateFactor)

	var leaves []summaryLeaf
	for _, rec := range records {
		hdr, payload, err := r.cf.ReadChunkAt(rec.Offset)
		if err != nil {
			return nil, newErr("read_summary", CodeIO, err)
		}
		if hdr.Tag != chunkio.TagSummary {
			return nil, newErr("read_summary", CodeIO, fmt.Errorf("expected summary chunk at offset %d", rec.Offset))
		}
		entries := decodeSummaryEntries(payload)
		for j, e := range entries {
			leaves = append(leaves, summaryLeaf{FirstSampleID: rec.FirstSampleID + int64(j)*span, Entry: e})
		}
	}
	r.summaryCache[key] = leaves
	return leaves, nil
}

// rangeWindow computes sig's statistics over the raw sample-id range
// [from, to), descending from level down to raw samples: any level
// entries that fit wholly inside [from, to) are merged via component
// D's O(1) combine (the "covered-summaries" portion); the remaining
// fractional head and tail recurse one level down, terminating at
// level 0's exact raw computation — spec.md §4.J's "edges exact,
// middle approximate" partition, generalized to recurse through every
// level instead of stopping at one fixed level.
func (r *Reader) rangeWindow(sig Signal, level int, from, to int64) (stats.Window, error) {
	if from >= to {
		return stats.NewWindow(), nil
	}
	if level == 0 {
		return r.rawWindowExact(sig, from, to)
	}

	leaves, err := r.loadSummaryLeaves(sig, level)
	if err != nil {
		return stats.Window{}, err
	}
	span := track.EntrySpanSamples(level, sig.SampleDecimateFactor, sig.SummaryDecimateFactor)

	w := stats.NewWindow()
	covered := false
	firstFullStart, lastFullEnd := to, from

	i := sort.Search(len(leaves), func(i int) bool { return leaves[i].FirstSampleID >= from })
	for ; i < len(leaves); i++ {
		leafStart := leaves[i].FirstSampleID
		leafEnd := leafStart + span
		if leafEnd > to {
			break
		}
		if !covered {
			firstFullStart = leafStart
			covered = true
		}
		w.Merge(stats.EntryToWindow(leaves[i].Entry, span))
		lastFullEnd = leafEnd
	}
	if !covered {
		// No whole entry fits, so there is no separate head and tail:
		// the whole range is computed once, one level down.
		return r.rangeWindow(sig, level-1, from, to)
	}

	if from < firstFullStart {
		lw, err := r.rangeWindow(sig, level-1, from, firstFullStart)
		if err != nil {
			return stats.Window{}, err
		}
		w.Merge(lw)
	}
	if lastFullEnd < to {
		rw, err := r.rangeWindow(sig, level-1, lastFullEnd, to)
		if err != nil {
			return stats.Window{}, err
		}
		w.Merge(rw)
	}
	return w, nil
}

// FSRStatistics implements spec.md §4.J's
// fsr_statistics(signal, start, increment, length) → length×4 matrix.
// length==1 always takes the exact raw path (no internal boundary
// exists to approximate); length>1 descends the summary tree per
// bucket via rangeWindow.
func (r *Reader) FSRStatistics(signalID uint16, start, increment, length int64) ([][4]float64, error) {
	sig, ok := r.signals[signalID]
	if !ok {
		return nil, newErr("fsr_statistics", CodeNotFound, nil)
	}
	if sig.Kind != KindFSR {
		return nil, newErr("fsr_statistics", CodeNotSupported, fmt.Errorf("signal %d is not FSR", signalID))
	}
	if increment <= 0 || length <= 0 {
		return nil, newErr("fsr_statistics", CodeParameterInvalid, nil)
	}

	topLevel := sig.LevelCount()
	out := make([][4]float64, length)
	for i := int64(0); i < length; i++ {
		from := start + i*increment
		to := from + increment

		var w stats.Window
		var err error
		if length == 1 {
			w, err = r.rawWindowExact(sig, from, to)
		} else {
			w, err = r.rangeWindow(sig, topLevel, from, to)
		}
		if err != nil {
			return nil, err
		}
		e := w.Entry()
		out[i] = [4]float64{e.Mean, e.Std, e.Min, e.Max}
	}
	return out, nil
}

// Annotations implements spec.md §4.J's
// annotations(signal, from_timestamp, cbk) iterator. cbk returning
// false stops iteration early.
func (r *Reader) Annotations(signalID uint16, fromTimestamp int64, cbk func(Annotation) bool) error {
	if _, ok := r.signals[signalID]; !ok {
		return newErr("annotations", CodeNotFound, nil)
	}
	key := chainKey{Tag: uint8(chunkio.TagAnnotation), SignalID: signalID, Level: 0}
	head, ok := r.chainHeads[key]
	if !ok {
		return nil
	}
	return r.cf.IterateChain(head, func(hdr chunkio.ChunkHeader, payload []byte) error {
		a := decodeAnnotation(payload)
		if a.Timestamp < fromTimestamp {
			return nil
		}
		if !cbk(a) {
			return io.EOF
		}
		return nil
	})
}

// UserData implements spec.md §4.J's user_data(cbk) iterator, walking
// the single flat user_data chain in write order.
func (r *Reader) UserData(cbk func(UserData) bool) error {
	key := chainKey{Tag: uint8(chunkio.TagUserData), SignalID: 0, Level: 0}
	head, ok := r.chainHeads[key]
	if !ok {
		return nil
	}
	return r.cf.IterateChain(head, func(hdr chunkio.ChunkHeader, payload []byte) error {
		storage, raw := decodeUserDataPayload(payload)
		u := UserData{Meta: hdr.ChunkMetaField, Storage: storage, Payload: raw}
		if !cbk(u) {
			return io.EOF
		}
		return nil
	})
}

// UTC implements spec.md §4.J's utc(signal, from_sample_id, cbk)
// iterator over recorded timestamp leaves.
func (r *Reader) UTC(signalID uint16, fromSampleID int64, cbk func(UTCEntry) bool) error {
	if _, ok := r.signals[signalID]; !ok {
		return newErr("utc", CodeNotFound, nil)
	}
	key := chainKey{Tag: uint8(chunkio.TagUTC), SignalID: signalID, Level: 0}
	head, ok := r.chainHeads[key]
	if !ok {
		return nil
	}
	return r.cf.IterateChain(head, func(hdr chunkio.ChunkHeader, payload []byte) error {
		for _, e := range decodeUTCEntries(payload) {
			if e.SampleID < fromSampleID {
				continue
			}
			if !cbk(e) {
				return io.EOF
			}
		}
		return nil
	})
}

func (r *Reader) loadTimestampTrack(signalID uint16) (*TimestampTrack, error) {
	if cached, ok := r.utcCache[signalID]; ok {
		return cached, nil
	}
	sig, ok := r.signals[signalID]
	if !ok {
		return nil, newErr("tmap", CodeNotFound, nil)
	}
	tt := NewTimestampTrack(sig.UTCDecimateFactor)
	key := chainKey{Tag: uint8(chunkio.TagUTC), SignalID: signalID, Level: 0}
	var leaves []UTCEntry
	if head, ok := r.chainHeads[key]; ok {
		err := r.cf.IterateChain(head, func(hdr chunkio.ChunkHeader, payload []byte) error {
			leaves = append(leaves, decodeUTCEntries(payload)...)
			return nil
		})
		if err != nil {
			return nil, newErr("tmap", CodeIO, err)
		}
	}
	tt.LoadLeaves(leaves)
	r.utcCache[signalID] = tt
	return tt, nil
}

// TmapLength returns the number of (sample_id, utc) leaves recorded
// for signalID.
func (r *Reader) TmapLength(signalID uint16) (int, error) {
	tt, err := r.loadTimestampTrack(signalID)
	if err != nil {
		return 0, err
	}
	return tt.Len(), nil
}

// TmapGet returns the index'th recorded (sample_id, utc) leaf.
func (r *Reader) TmapGet(signalID uint16, index int) (UTCEntry, error) {
	tt, err := r.loadTimestampTrack(signalID)
	if err != nil {
		return UTCEntry{}, err
	}
	e, ok := tt.Get(index)
	if !ok {
		return UTCEntry{}, newErr("tmap_get", CodeParameterInvalid, nil)
	}
	return e, nil
}

// SampleIDToTimestamp implements spec.md §4.G's sample_id → utc resolution.
func (r *Reader) SampleIDToTimestamp(signalID uint16, sampleID int64) (int64, error) {
	tt, err := r.loadTimestampTrack(signalID)
	if err != nil {
		return 0, err
	}
	ts, ok := tt.SampleIDToUTC(sampleID)
	if !ok {
		return 0, newErr("sample_id_to_timestamp", CodeParameterInvalid, nil)
	}
	return ts, nil
}

// TimestampToSampleID implements spec.md §4.G's utc → sample_id resolution.
func (r *Reader) TimestampToSampleID(signalID uint16, utc int64) (int64, error) {
	tt, err := r.loadTimestampTrack(signalID)
	if err != nil {
		return 0, err
	}
	sid, ok := tt.UTCToSampleID(utc)
	if !ok {
		return 0, newErr("timestamp_to_sample_id", CodeParameterInvalid, nil)
	}
	return sid, nil
}

// Close releases the underlying file handle.
func (r *Reader) Close() error {
	if err := r.cf.Close(); err != nil {
		return newErr("close", CodeIO, err)
	}
	return nil
}
