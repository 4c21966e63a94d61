package jls

import (
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/jls-format/jls-go/internal/chunkio"
	"github.com/jls-format/jls-go/internal/dtype"
	"github.com/jls-format/jls-go/internal/track"
)

// Opts configures a Writer, generalizing the teacher's
// pkg/barrel.Opts (Debug, logger override) to the writer façade. A nil
// Logger selects NewLogfLogger(Debug); pass NoopLogger{} to silence
// logging entirely.
type Opts struct {
	Debug  bool
	Logger Logger
}

// Writer is the façade described in spec.md §4.H: it owns one open
// JLS file, fans out source_def/signal_def/fsr/annotation/utc/user_data
// calls to the right per-signal track.Cascade or TimestampTrack, and
// turns the Flush values those emit into actual chunkio writes.
//
// A Writer always creates a brand new file: resuming appends into an
// existing file would require persisting every track.Cascade's
// mid-window accumulator state somewhere the format doesn't provide
// for, so this implementation scopes a Writer's lifetime to a single
// write session, matching how spec.md's own worked examples always
// write a file once top to bottom (see DESIGN.md).
type Writer struct {
	mu sync.Mutex

	lo   Logger
	cf   *chunkio.File
	path string
	lockF *os.File

	sources  map[uint16]Source
	signals  map[uint16]Signal
	cascades map[uint16]*track.Cascade
	utcTrack map[uint16]*TimestampTrack

	chainHeads  map[chainKey]uint64
	chainTails  map[chainKey]uint64
	chainPrevLn map[chainKey]uint32

	closed   bool
	firstErr error
}

// Create opens path for writing, acquiring an exclusive sidecar flock
// so only one Writer at a time can target this file (spec.md §4.H
// implies single-writer semantics the same way the teacher's Barrel
// does for a data directory).
func Create(path string, opts Opts) (*Writer, error) {
	lockF, err := acquireFlock(path + ".lock")
	if err != nil {
		return nil, newErr("open", CodeBusy, err)
	}

	cf, err := chunkio.Create(path, ToFixedPoint(time.Now()))
	if err != nil {
		releaseFlock(lockF)
		return nil, newErr("open", CodeIO, err)
	}

	w := &Writer{
		lo:          initLogger(opts.Debug, opts.Logger),
		cf:          cf,
		path:        path,
		lockF:       lockF,
		sources:     make(map[uint16]Source),
		signals:     make(map[uint16]Signal),
		cascades:    make(map[uint16]*track.Cascade),
		utcTrack:    make(map[uint16]*TimestampTrack),
		chainHeads:  make(map[chainKey]uint64),
		chainTails:  make(map[chainKey]uint64),
		chainPrevLn: make(map[chainKey]uint32),
	}
	w.lo.Info("opened jls file for writing", "path", path)
	return w, nil
}

func (w *Writer) writeChunk(tag chunkio.Tag, signalID uint16, level uint8, payload []byte) (uint64, error) {
	key := chainKey{Tag: uint8(tag), SignalID: signalID, Level: level}
	return w.writeChunkRaw(tag, key, chunkio.ChunkMeta(uint8(signalID), level), payload)
}

// writeChunkRaw is writeChunk generalized to a caller-supplied
// chunk_meta field, used by UserData where chunk_meta carries the
// caller's own opaque tag rather than a (signal_id, level) pair.
func (w *Writer) writeChunkRaw(tag chunkio.Tag, key chainKey, chunkMetaField uint16, payload []byte) (uint64, error) {
	prevOffset := w.chainTails[key]
	offset, err := w.cf.WriteChunk(tag, chunkMetaField, payload, prevOffset, w.chainPrevLn[key])
	if err != nil {
		return 0, newErr("write_chunk", CodeIO, err)
	}
	if prevOffset == 0 {
		w.chainHeads[key] = offset
	}
	w.chainTails[key] = offset
	w.chainPrevLn[key] = uint32(len(payload))
	return offset, nil
}

// SourceDef registers a Source, per spec.md §4.H ordering rule
// "source_def before any signal_def referencing its id".
func (w *Writer) SourceDef(s Source) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return newErr("source_def", CodeAbort, nil)
	}
	if _, exists := w.sources[s.ID]; exists {
		return newErr("source_def", CodeAlreadyExists, nil)
	}
	// source_def is a flat, file-wide chain (spec.md §6's tag list has
	// no "per signal" qualifier for it, unlike data/summary/index), so
	// every source shares the single (tag, 0, 0) chain.
	if _, err := w.writeChunk(chunkio.TagSourceDef, 0, 0, encodeSource(s)); err != nil {
		return err
	}
	w.sources[s.ID] = s
	return nil
}

// SignalDef registers a Signal under an already-defined Source,
// resolving structural-parameter defaults and allocating the
// signal's cascade and timestamp track.
func (w *Writer) SignalDef(sig Signal) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return newErr("signal_def", CodeAbort, nil)
	}
	if _, exists := w.signals[sig.SignalID]; exists {
		return newErr("signal_def", CodeAlreadyExists, nil)
	}
	if _, exists := w.sources[sig.SourceID]; !exists {
		return newErr("signal_def", CodeNotFound, fmt.Errorf("source %d not defined", sig.SourceID))
	}

	sig.ResolveDefaults()
	if err := sig.Validate(); err != nil {
		return err
	}

	cascade, err := track.NewCascade(int(sig.SignalID), track.Params{
		DataType:              sig.DataType,
		SamplesPerData:        sig.SamplesPerData,
		SampleDecimateFactor:  sig.SampleDecimateFactor,
		EntriesPerSummary:     sig.EntriesPerSummary,
		SummaryDecimateFactor: sig.SummaryDecimateFactor,
		Levels:                sig.LevelCount(),
		FirstSampleID:         sig.SampleIDOffset,
	})
	if err != nil {
		return newErr("signal_def", CodeParameterInvalid, err)
	}

	// Likewise signal_def is one flat chain across every signal in the file.
	if _, err := w.writeChunk(chunkio.TagSignalDef, 0, 0, encodeSignal(sig)); err != nil {
		return err
	}

	w.signals[sig.SignalID] = sig
	w.cascades[sig.SignalID] = cascade
	w.utcTrack[sig.SignalID] = NewTimestampTrack(sig.UTCDecimateFactor)
	return nil
}

// FSROmitData toggles level-0 raw chunk emission for signalID
// (spec.md §4.F's fsr_omit_data knob).
func (w *Writer) FSROmitData(signalID uint16, omit bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	sig, ok := w.signals[signalID]
	if !ok {
		return newErr("fsr_omit_data", CodeNotFound, nil)
	}
	sig.OmitData = omit
	w.signals[signalID] = sig
	return nil
}

// FSR appends length samples of data starting at sampleID to
// signalID's track, applying the skip-fill protocol described in
// spec.md §4.F for any gap ahead of the track's expected next sample id.
func (w *Writer) FSR(signalID uint16, sampleID int64, data []float64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return newErr("fsr", CodeAbort, nil)
	}
	sig, ok := w.signals[signalID]
	if !ok {
		return newErr("fsr", CodeNotFound, nil)
	}
	if sig.Kind != KindFSR {
		return newErr("fsr", CodeNotSupported, fmt.Errorf("signal %d is not FSR", signalID))
	}
	cascade := w.cascades[signalID]

	expected := cascade.ExpectedNextSampleID()
	if sampleID < expected {
		return newErr("fsr", CodeParameterInvalid, fmt.Errorf("sample_id %d precedes expected %d", sampleID, expected))
	}
	for gap := expected; gap < sampleID; gap++ {
		flushes, err := cascade.Append(gap, fillValueFor(sig.DataType), true)
		if err != nil {
			return newErr("fsr", CodeIO, err)
		}
		if err := w.applyFlushes(sig, cascade, flushes); err != nil {
			return err
		}
	}

	for i, v := range data {
		flushes, err := cascade.Append(sampleID+int64(i), v, false)
		if err != nil {
			return newErr("fsr", CodeIO, err)
		}
		if err := w.applyFlushes(sig, cascade, flushes); err != nil {
			return err
		}
	}
	return nil
}

// fillValueFor resolves the spec.md §9 open question on skip-fill
// representation: NaN for float types (round-trips through
// ReadSample/WriteSample unchanged) and bit-pattern zero for integer
// types (WriteSample(0) already produces an all-zero encoding for
// every integer DataType this package supports).
func fillValueFor(dt dtype.DataType) float64 {
	if dt.Base == dtype.BaseFloat {
		return math.NaN()
	}
	return 0
}

// applyFlushes writes every track.Flush to the appropriate chunk tag,
// feeding the resulting offsets back into the cascade so its index
// buffers stay current, and recursively writes whatever FlushIndex
// values that produces.
func (w *Writer) applyFlushes(sig Signal, cascade *track.Cascade, flushes []track.Flush) error {
	for _, f := range flushes {
		switch f.Kind {
		case track.FlushData:
			if sig.OmitData {
				continue
			}
			offset, err := w.writeChunk(chunkio.TagData, sig.SignalID, 0, encodeDataPayload(f.Count, f.RawPayload))
			if err != nil {
				return err
			}
			if err := w.applyFlushes(sig, cascade, cascade.RecordOffset(0, f.FirstSampleID, offset)); err != nil {
				return err
			}
		case track.FlushSummary:
			offset, err := w.writeChunk(chunkio.TagSummary, sig.SignalID, uint8(f.Level), encodeSummaryEntries(f.Entries))
			if err != nil {
				return err
			}
			if err := w.applyFlushes(sig, cascade, cascade.RecordOffset(f.Level, f.FirstSampleID, offset)); err != nil {
				return err
			}
		case track.FlushIndex:
			if _, err := w.writeChunk(chunkio.TagIndex, sig.SignalID, uint8(f.Level), encodeIndexRecords(f.IndexRecords)); err != nil {
				return err
			}
		}
	}
	return nil
}

// Annotation appends one out-of-band record for signalID.
func (w *Writer) Annotation(signalID uint16, a Annotation) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.signals[signalID]; !ok {
		return newErr("annotation", CodeNotFound, nil)
	}
	_, err := w.writeChunk(chunkio.TagAnnotation, signalID, 0, encodeAnnotation(a))
	return err
}

// UTC records one (sample_id, utc) leaf for signalID, flushing a
// batch UTC chunk whenever the signal's utc_decimate_factor leaves
// have accumulated.
func (w *Writer) UTC(signalID uint16, sampleID, utc int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	tt, ok := w.utcTrack[signalID]
	if !ok {
		return newErr("utc", CodeNotFound, nil)
	}
	batch, err := tt.Append(sampleID, utc)
	if err != nil {
		return newErr("utc", CodeParameterInvalid, err)
	}
	if batch == nil {
		return nil
	}
	_, err = w.writeChunk(chunkio.TagUTC, signalID, 0, encodeUTCEntries(batch))
	return err
}

// UserData appends a caller-opaque chunk not associated with any
// signal. Every user_data chunk shares one flat chain regardless of
// Meta; Meta travels in the chunk header's own chunk_meta field.
func (w *Writer) UserData(u UserData) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	key := chainKey{Tag: uint8(chunkio.TagUserData), SignalID: 0, Level: 0}
	_, err := w.writeChunkRaw(chunkio.TagUserData, key, u.Meta, encodeUserDataPayload(u.Storage, u.Payload))
	return err
}

// Flush syncs the file to stable storage without closing it.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.cf.Sync(); err != nil {
		return newErr("flush", CodeIO, err)
	}
	return nil
}

// Close flushes every signal's cascade bottom-up, drains pending UTC
// batches, writes the end-of-file index, and patches the root index
// offset last — per spec.md §4.H, "a crash before this point leaves a
// readable-but-incomplete file".
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	for id, sig := range w.signals {
		cascade := w.cascades[id]
		if err := w.applyFlushes(sig, cascade, cascade.Close()); err != nil {
			w.noteErr(err)
		}
		if err := w.applyFlushes(sig, cascade, cascade.FlushIndexes()); err != nil {
			w.noteErr(err)
		}
		if batch := w.utcTrack[id].Drain(); batch != nil {
			if _, err := w.writeChunk(chunkio.TagUTC, id, 0, encodeUTCEntries(batch)); err != nil {
				w.noteErr(err)
			}
		}
	}

	var sources []Source
	for _, s := range w.sources {
		sources = append(sources, s)
	}
	var signals []Signal
	for _, s := range w.signals {
		signals = append(signals, s)
	}
	endPayload := encodeEndIndex(endIndex{Sources: sources, Signals: signals, ChainHeads: w.chainHeads})
	endOffset, err := w.writeChunk(chunkio.TagEnd, 0, 0, endPayload)
	if err != nil {
		w.noteErr(err)
	} else if err := w.cf.SetRootIndexOffset(endOffset); err != nil {
		w.noteErr(newErr("close", CodeIO, err))
	}

	if err := w.cf.Sync(); err != nil {
		w.noteErr(newErr("close", CodeIO, err))
	}
	if err := w.cf.Close(); err != nil {
		w.noteErr(newErr("close", CodeIO, err))
	}
	if err := releaseFlock(w.lockF); err != nil {
		w.noteErr(newErr("close", CodeIO, err))
	}

	w.lo.Info("closed jls file", "path", w.path)
	return w.firstErr
}

// noteErr records the first non-nil error Close encounters, per
// spec.md §4.I's "returns the accumulated error code (first non-OK
// wins)" — applied here to a single Close call's multiple cleanup
// steps rather than across a whole command queue.
func (w *Writer) noteErr(err error) {
	if err != nil && w.firstErr == nil {
		w.firstErr = err
	}
	w.lo.Error("error during close", "error", err)
}
