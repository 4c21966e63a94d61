package jls

import (
	"path/filepath"
	"testing"

	"github.com/jls-format/jls-go/internal/chunkio"
	"github.com/jls-format/jls-go/internal/dtype"
)

func TestReaderUTCAndTmap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "utc.jls")
	writeFixture(t, path, func(w *Writer) {
		if err := w.SourceDef(Source{ID: 1, Name: "src"}); err != nil {
			t.Fatalf("SourceDef: %v", err)
		}
		sig := Signal{SignalID: 1, SourceID: 1, Kind: KindFSR, DataType: dtype.F32, SampleRate: 10,
			SampleIDOffset: 1000, UTCDecimateFactor: 2}
		if err := w.SignalDef(sig); err != nil {
			t.Fatalf("SignalDef: %v", err)
		}
		base := int64(1_700_000_000) << 30
		for i, sampleID := range []int64{1000, 1010, 1020, 1030} {
			utc := base + int64(i)*10*chunkio.TicksPerSecond
			if err := w.UTC(1, sampleID, utc); err != nil {
				t.Fatalf("UTC: %v", err)
			}
		}
	})

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	n, err := r.TmapLength(1)
	if err != nil {
		t.Fatalf("TmapLength: %v", err)
	}
	if n != 4 {
		t.Fatalf("TmapLength = %d, want 4", n)
	}

	e, err := r.TmapGet(1, 2)
	if err != nil {
		t.Fatalf("TmapGet: %v", err)
	}
	if e.SampleID != 1020 {
		t.Fatalf("TmapGet(2).SampleID = %d, want 1020", e.SampleID)
	}

	ts, err := r.SampleIDToTimestamp(1, 1005)
	if err != nil {
		t.Fatalf("SampleIDToTimestamp: %v", err)
	}
	wantTS := int64(1_700_000_000)<<30 + 5*chunkio.TicksPerSecond
	if ts != wantTS {
		t.Fatalf("SampleIDToTimestamp(1005) = %d, want %d (interpolated midpoint)", ts, wantTS)
	}

	sid, err := r.TimestampToSampleID(1, ts)
	if err != nil {
		t.Fatalf("TimestampToSampleID: %v", err)
	}
	if sid != 1005 {
		t.Fatalf("TimestampToSampleID round-trip = %d, want 1005", sid)
	}
}

func TestReaderUTCOutOfRangeErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "utc_range.jls")
	writeFixture(t, path, func(w *Writer) {
		if err := w.SourceDef(Source{ID: 1, Name: "src"}); err != nil {
			t.Fatalf("SourceDef: %v", err)
		}
		sig := Signal{SignalID: 1, SourceID: 1, Kind: KindFSR, DataType: dtype.F32, SampleRate: 10}
		if err := w.SignalDef(sig); err != nil {
			t.Fatalf("SignalDef: %v", err)
		}
		if err := w.UTC(1, 0, 1_700_000_000<<30); err != nil {
			t.Fatalf("UTC: %v", err)
		}
		if err := w.UTC(1, 100, (1_700_000_010)<<30); err != nil {
			t.Fatalf("UTC: %v", err)
		}
	})

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if _, err := r.TmapGet(1, 99); CodeOf(err) != CodeParameterInvalid {
		t.Fatalf("TmapGet out of range: got %v, want CodeParameterInvalid", err)
	}

	if _, err := r.SampleIDToTimestamp(99, 0); CodeOf(err) != CodeNotFound {
		t.Fatalf("SampleIDToTimestamp on unknown signal: got %v, want CodeNotFound", err)
	}
}
