package jls

import (
	"errors"

	"github.com/jls-format/jls-go/internal/dtype"
)

var (
	errSignalIDZero           = errors.New("signal_id must be in 1..=255")
	errSamplesPerDataTooSmall = errors.New("samples_per_data must be >= sample_decimate_factor")
	errSamplesNotMultiple     = errors.New("samples_per_data must be a multiple of sample_decimate_factor")
	errEntriesNotMultiple     = errors.New("entries_per_summary must be a multiple of summary_decimate_factor")
)

// Kind distinguishes a fixed sample-rate signal from a variable
// sample-rate one.
type Kind uint8

const (
	KindFSR Kind = iota
	KindVSR
)

// Source is a top-level grouping of signals (spec.md §4: Source).
type Source struct {
	ID   uint16
	Name string
	Tags map[string]string
}

// Signal is one time series within a Source (spec.md §4: Signal). Any
// of the six structural parameters left zero is auto-filled by
// ResolveDefaults from SampleRate and DataType before the signal is
// handed to a Cascade.
type Signal struct {
	SignalID uint16 // 1..=255
	SourceID uint16
	Kind     Kind
	DataType dtype.DataType
	SampleRate float64 // Hz; 0 for VSR

	SamplesPerData        int64
	SampleDecimateFactor  int64
	EntriesPerSummary     int64
	SummaryDecimateFactor int64
	AnnotationDecimateFactor int64
	UTCDecimateFactor        int64

	SampleIDOffset int64
	Name           string
	Units          string

	// OmitData disables level-0 chunk emission: summaries only, set
	// via fsr_omit_data (spec.md §4.F).
	OmitData bool
}

// Validate checks Signal's structural invariants (spec.md §4: Signal
// invariants), assuming ResolveDefaults has already been applied.
func (s *Signal) Validate() error {
	if s.SignalID == 0 || s.SignalID > 255 {
		return newErr("signal_def", CodeParameterInvalid, errSignalIDZero)
	}
	if err := s.DataType.Validate(); err != nil {
		return newErr("signal_def", CodeParameterInvalid, err)
	}
	if s.SamplesPerData < s.SampleDecimateFactor {
		return newErr("signal_def", CodeParameterInvalid, errSamplesPerDataTooSmall)
	}
	if s.SummaryDecimateFactor > 0 && s.EntriesPerSummary%s.SummaryDecimateFactor != 0 {
		return newErr("signal_def", CodeParameterInvalid, errEntriesNotMultiple)
	}
	if s.SamplesPerData%s.SampleDecimateFactor != 0 {
		return newErr("signal_def", CodeParameterInvalid, errSamplesNotMultiple)
	}
	return nil
}

// UTCEntry is one leaf of a timestamp track (spec.md §4: UTCEntry,
// §4.G).
type UTCEntry struct {
	SampleID  int64
	Timestamp int64 // fixed-point seconds-since-epoch, 2^30 fractional units
}

// AnnotationType discriminates the rendering hint stored with an Annotation.
type AnnotationType uint8

const (
	AnnotationUser AnnotationType = iota
	AnnotationText
	AnnotationVMarker
	AnnotationHMarker
)

// AnnotationStorage discriminates how Annotation.Payload should be interpreted.
type AnnotationStorage uint8

const (
	AnnotationBinary AnnotationStorage = iota
	AnnotationString
	AnnotationJSON
)

// Annotation is a timestamp-keyed out-of-band record (spec.md §4: Annotation).
type Annotation struct {
	Timestamp int64 // sample_id for FSR signals, utc for VSR
	Y         float32
	Type      AnnotationType
	GroupID   uint8
	Storage   AnnotationStorage
	Payload   []byte
}

// UserData is a caller-opaque chunk not associated with any signal
// (spec.md §4: User data). Meta is stored verbatim in the chunk
// header's chunk_meta field rather than in the payload, since the
// format defines chunk_meta as "caller opaque" specifically for this
// tag.
type UserData struct {
	Meta    uint16
	Storage AnnotationStorage
	Payload []byte
}
