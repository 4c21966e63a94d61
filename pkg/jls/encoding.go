package jls

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/jls-format/jls-go/internal/dtype"
	"github.com/jls-format/jls-go/internal/stats"
	"github.com/jls-format/jls-go/internal/track"
)

// byteWriter is a tiny length-prefixed little-endian encoder, the
// JLS-domain equivalent of barrel's fixed Header.encode: every chunk
// payload this package writes is built by one of these rather than by
// encoding/gob, since gob's self-describing type stream is overkill
// for records whose shape chunk_meta and Tag already identify.
type byteWriter struct {
	buf []byte
}

func (w *byteWriter) u8(v uint8)   { w.buf = append(w.buf, v) }
func (w *byteWriter) u16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *byteWriter) u32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *byteWriter) u64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }
func (w *byteWriter) i64(v int64)  { w.u64(uint64(v)) }
func (w *byteWriter) f32(v float32) { w.u32(math.Float32bits(v)) }
func (w *byteWriter) f64(v float64) { w.u64(math.Float64bits(v)) }
func (w *byteWriter) bytesLP(b []byte) {
	w.u32(uint32(len(b)))
	w.buf = append(w.buf, b...)
}
func (w *byteWriter) stringLP(s string) { w.bytesLP([]byte(s)) }

type byteReader struct {
	buf []byte
	pos int
}

func (r *byteReader) u8() uint8 {
	v := r.buf[r.pos]
	r.pos++
	return v
}
func (r *byteReader) u16() uint16 {
	v := binary.LittleEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v
}
func (r *byteReader) u32() uint32 {
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v
}
func (r *byteReader) u64() uint64 {
	v := binary.LittleEndian.Uint64(r.buf[r.pos:])
	r.pos += 8
	return v
}
func (r *byteReader) i64() int64    { return int64(r.u64()) }
func (r *byteReader) f32() float32  { return math.Float32frombits(r.u32()) }
func (r *byteReader) f64() float64  { return math.Float64frombits(r.u64()) }
func (r *byteReader) bytesLP() []byte {
	n := int(r.u32())
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}
func (r *byteReader) stringLP() string { return string(r.bytesLP()) }
func (r *byteReader) done() bool       { return r.pos >= len(r.buf) }

func encodeSource(s Source) []byte {
	w := &byteWriter{}
	w.u16(s.ID)
	w.stringLP(s.Name)
	w.u16(uint16(len(s.Tags)))
	for k, v := range s.Tags {
		w.stringLP(k)
		w.stringLP(v)
	}
	return w.buf
}

func decodeSource(payload []byte) Source {
	r := &byteReader{buf: payload}
	s := Source{ID: r.u16(), Name: r.stringLP()}
	n := r.u16()
	if n > 0 {
		s.Tags = make(map[string]string, n)
	}
	for i := uint16(0); i < n; i++ {
		k := r.stringLP()
		v := r.stringLP()
		s.Tags[k] = v
	}
	return s
}

func encodeSignal(s Signal) []byte {
	w := &byteWriter{}
	w.u16(s.SignalID)
	w.u16(s.SourceID)
	w.u8(uint8(s.Kind))
	w.u8(uint8(s.DataType.Base))
	w.u8(s.DataType.BitWidth)
	w.u8(boolToByte(s.OmitData))
	w.f64(s.SampleRate)
	w.i64(s.SamplesPerData)
	w.i64(s.SampleDecimateFactor)
	w.i64(s.EntriesPerSummary)
	w.i64(s.SummaryDecimateFactor)
	w.i64(s.AnnotationDecimateFactor)
	w.i64(s.UTCDecimateFactor)
	w.i64(s.SampleIDOffset)
	w.stringLP(s.Name)
	w.stringLP(s.Units)
	return w.buf
}

func decodeSignal(payload []byte) Signal {
	r := &byteReader{buf: payload}
	s := Signal{}
	s.SignalID = r.u16()
	s.SourceID = r.u16()
	s.Kind = Kind(r.u8())
	base := dtype.Base(r.u8())
	width := r.u8()
	s.DataType = dtype.DataType{Base: base, BitWidth: width}
	s.OmitData = r.u8() != 0
	s.SampleRate = r.f64()
	s.SamplesPerData = r.i64()
	s.SampleDecimateFactor = r.i64()
	s.EntriesPerSummary = r.i64()
	s.SummaryDecimateFactor = r.i64()
	s.AnnotationDecimateFactor = r.i64()
	s.UTCDecimateFactor = r.i64()
	s.SampleIDOffset = r.i64()
	s.Name = r.stringLP()
	s.Units = r.stringLP()
	return s
}

func boolToByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// encodeDataPayload prefixes a level-0 raw sample buffer with its
// exact sample count: for packed types (U1/U4/U24/I4/I24) the byte
// length alone doesn't invert to a sample count when count isn't a
// multiple of the type's samples-per-byte, so the count has to travel
// alongside the bytes rather than be derived from PayloadLength.
func encodeDataPayload(count int64, raw []byte) []byte {
	w := &byteWriter{}
	w.i64(count)
	w.buf = append(w.buf, raw...)
	return w.buf
}

func decodeDataPayload(payload []byte) (count int64, raw []byte) {
	r := &byteReader{buf: payload}
	count = r.i64()
	return count, payload[r.pos:]
}

func encodeSummaryEntries(entries []stats.Entry) []byte {
	w := &byteWriter{}
	w.u32(uint32(len(entries)))
	for _, e := range entries {
		w.f64(e.Mean)
		w.f64(e.Std)
		w.f64(e.Min)
		w.f64(e.Max)
	}
	return w.buf
}

func decodeSummaryEntries(payload []byte) []stats.Entry {
	r := &byteReader{buf: payload}
	n := r.u32()
	out := make([]stats.Entry, n)
	for i := range out {
		out[i] = stats.Entry{Mean: r.f64(), Std: r.f64(), Min: r.f64(), Max: r.f64()}
	}
	return out
}

func encodeIndexRecords(recs []track.IndexRecord) []byte {
	w := &byteWriter{}
	w.u32(uint32(len(recs)))
	for _, rec := range recs {
		w.i64(rec.FirstSampleID)
		w.u64(rec.Offset)
	}
	return w.buf
}

func decodeIndexRecords(payload []byte) []track.IndexRecord {
	r := &byteReader{buf: payload}
	n := r.u32()
	out := make([]track.IndexRecord, n)
	for i := range out {
		out[i] = track.IndexRecord{FirstSampleID: r.i64(), Offset: r.u64()}
	}
	return out
}

func encodeUTCEntries(entries []UTCEntry) []byte {
	w := &byteWriter{}
	w.u32(uint32(len(entries)))
	for _, e := range entries {
		w.i64(e.SampleID)
		w.i64(e.Timestamp)
	}
	return w.buf
}

func decodeUTCEntries(payload []byte) []UTCEntry {
	r := &byteReader{buf: payload}
	n := r.u32()
	out := make([]UTCEntry, n)
	for i := range out {
		out[i] = UTCEntry{SampleID: r.i64(), Timestamp: r.i64()}
	}
	return out
}

func encodeAnnotation(a Annotation) []byte {
	w := &byteWriter{}
	w.i64(a.Timestamp)
	w.f32(a.Y)
	w.u8(uint8(a.Type))
	w.u8(a.GroupID)
	w.u8(uint8(a.Storage))
	w.bytesLP(a.Payload)
	return w.buf
}

func encodeUserDataPayload(storage AnnotationStorage, payload []byte) []byte {
	w := &byteWriter{}
	w.u8(uint8(storage))
	w.bytesLP(payload)
	return w.buf
}

func decodeUserDataPayload(raw []byte) (AnnotationStorage, []byte) {
	r := &byteReader{buf: raw}
	storage := AnnotationStorage(r.u8())
	return storage, r.bytesLP()
}

func decodeAnnotation(payload []byte) Annotation {
	r := &byteReader{buf: payload}
	a := Annotation{}
	a.Timestamp = r.i64()
	a.Y = r.f32()
	a.Type = AnnotationType(r.u8())
	a.GroupID = r.u8()
	a.Storage = AnnotationStorage(r.u8())
	a.Payload = r.bytesLP()
	return a
}

// chainKey identifies a chunk chain within a file. Level is the
// level — meaningless (0) for chains that have no level concept
// (annotation and utc are per-signal flat chains; user_data is one
// file-wide flat chain keyed at SignalID 0).
type chainKey struct {
	Tag      uint8
	SignalID uint16
	Level    uint8
}

func (k chainKey) String() string {
	return fmt.Sprintf("tag=%d signal=%d level=%d", k.Tag, k.SignalID, k.Level)
}

// endIndex is the payload of the single TagEnd chunk written at
// close: the sources/signals tables plus every chain's head offset,
// letting a reader rebuild the whole in-memory index without
// rescanning the file (spec.md §4.H: "write an end-of-file index
// chunk enumerating per-tag chain heads and the sources/signals
// tables").
type endIndex struct {
	Sources    []Source
	Signals    []Signal
	ChainHeads map[chainKey]uint64
}

func encodeEndIndex(e endIndex) []byte {
	w := &byteWriter{}
	w.u32(uint32(len(e.Sources)))
	for _, s := range e.Sources {
		w.bytesLP(encodeSource(s))
	}
	w.u32(uint32(len(e.Signals)))
	for _, s := range e.Signals {
		w.bytesLP(encodeSignal(s))
	}
	w.u32(uint32(len(e.ChainHeads)))
	for k, off := range e.ChainHeads {
		w.u8(k.Tag)
		w.u16(k.SignalID)
		w.u8(k.Level)
		w.u64(off)
	}
	return w.buf
}

func decodeEndIndex(payload []byte) endIndex {
	r := &byteReader{buf: payload}
	var e endIndex
	nSrc := r.u32()
	for i := uint32(0); i < nSrc; i++ {
		e.Sources = append(e.Sources, decodeSource(r.bytesLP()))
	}
	nSig := r.u32()
	for i := uint32(0); i < nSig; i++ {
		e.Signals = append(e.Signals, decodeSignal(r.bytesLP()))
	}
	nChains := r.u32()
	e.ChainHeads = make(map[chainKey]uint64, nChains)
	for i := uint32(0); i < nChains; i++ {
		k := chainKey{Tag: r.u8(), SignalID: r.u16(), Level: r.u8()}
		e.ChainHeads[k] = r.u64()
	}
	return e
}
