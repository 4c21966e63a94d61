package main

import (
	"fmt"
	"math"

	"github.com/jls-format/jls-go/pkg/jls"
)

// copyFile replays r's full contents into w in the chunk order
// spec.md §6 describes: source_defs, then for every signal its
// signal_def, samples, annotations, and utc leaves, then every
// user_data record.
func copyFile(r *jls.Reader, w *jls.Writer, progress func(float64)) error {
	for _, s := range r.Sources() {
		if err := w.SourceDef(s); err != nil {
			return fmt.Errorf("source_def %d: %w", s.ID, err)
		}
	}

	signals := r.Signals()
	for i, sig := range signals {
		if err := w.SignalDef(sig); err != nil {
			return fmt.Errorf("signal_def %d: %w", sig.SignalID, err)
		}
		if sig.OmitData {
			if err := w.FSROmitData(sig.SignalID, true); err != nil {
				return fmt.Errorf("fsr_omit_data %d: %w", sig.SignalID, err)
			}
		}
		if sig.Kind == jls.KindFSR && !sig.OmitData {
			if err := copySamples(r, w, sig); err != nil {
				return err
			}
		}
		if err := copyAnnotations(r, w, sig.SignalID); err != nil {
			return err
		}
		if err := copyUTC(r, w, sig.SignalID); err != nil {
			return err
		}
		if progress != nil {
			progress(float64(i+1) / float64(len(signals)))
		}
	}

	return copyUserData(r, w)
}

// copySamples replays signalID's raw fsr data in rawBatchSize-sample
// batches, preserving sample ids exactly. Samples the source
// skip-filled are read back as their fill values (NaN for float
// types, zero for integer types) and written to the destination as
// ordinary samples; they are not re-created as skip-fill gaps, so the
// destination's summary statistics include them.
func copySamples(r *jls.Reader, w *jls.Writer, sig jls.Signal) error {
	total, err := r.RawLength(sig.SignalID)
	if err != nil {
		return fmt.Errorf("raw_length %d: %w", sig.SignalID, err)
	}
	for start := sig.SampleIDOffset; start < total; {
		length := int64(rawBatchSize)
		if start+length > total {
			length = total - start
		}
		data, err := r.FSR(sig.SignalID, start, length)
		if err != nil {
			return fmt.Errorf("fsr read %d@%d: %w", sig.SignalID, start, err)
		}
		if err := w.FSR(sig.SignalID, start, data); err != nil {
			return fmt.Errorf("fsr write %d@%d: %w", sig.SignalID, start, err)
		}
		start += length
	}
	return nil
}

func copyAnnotations(r *jls.Reader, w *jls.Writer, signalID uint16) error {
	var outerErr error
	err := r.Annotations(signalID, math.MinInt64, func(a jls.Annotation) bool {
		if err := w.Annotation(signalID, a); err != nil {
			outerErr = fmt.Errorf("annotation %d: %w", signalID, err)
			return false
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("annotations %d: %w", signalID, err)
	}
	return outerErr
}

func copyUTC(r *jls.Reader, w *jls.Writer, signalID uint16) error {
	var outerErr error
	err := r.UTC(signalID, math.MinInt64, func(e jls.UTCEntry) bool {
		if err := w.UTC(signalID, e.SampleID, e.Timestamp); err != nil {
			outerErr = fmt.Errorf("utc %d: %w", signalID, err)
			return false
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("utc iterate %d: %w", signalID, err)
	}
	return outerErr
}

func copyUserData(r *jls.Reader, w *jls.Writer) error {
	var outerErr error
	err := r.UserData(func(u jls.UserData) bool {
		if err := w.UserData(u); err != nil {
			outerErr = fmt.Errorf("user_data: %w", err)
			return false
		}
		return true
	})
	if err != nil {
		return fmt.Errorf("user_data iterate: %w", err)
	}
	return outerErr
}
