package jls

import (
	"path/filepath"
	"testing"

	"github.com/jls-format/jls-go/internal/dtype"
)

func TestThreadedWriterRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threaded.jls")
	tw, err := NewThreadedWriter(path, Opts{}, 16, false)
	if err != nil {
		t.Fatalf("NewThreadedWriter: %v", err)
	}

	if err := tw.SourceDef(Source{ID: 1, Name: "src"}); err != nil {
		t.Fatalf("SourceDef: %v", err)
	}
	sig := Signal{SignalID: 1, SourceID: 1, Kind: KindFSR, DataType: dtype.F32, SampleRate: 100}
	if err := tw.SignalDef(sig); err != nil {
		t.Fatalf("SignalDef: %v", err)
	}
	for i := 0; i < 64; i++ {
		if err := tw.FSR(1, int64(i), []float64{float64(i)}); err != nil {
			t.Fatalf("FSR: %v", err)
		}
	}
	if err := tw.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tw.FirstError(); err != nil {
		t.Fatalf("FirstError after clean close: %v", err)
	}
}

func TestThreadedWriterSubmitAfterCloseFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threaded2.jls")
	tw, err := NewThreadedWriter(path, Opts{}, 4, false)
	if err != nil {
		t.Fatalf("NewThreadedWriter: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := tw.SourceDef(Source{ID: 1, Name: "late"}); err == nil {
		t.Fatalf("expected error submitting after close")
	}
}

func TestThreadedWriterAccumulatesFirstError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "threaded3.jls")
	tw, err := NewThreadedWriter(path, Opts{}, 8, false)
	if err != nil {
		t.Fatalf("NewThreadedWriter: %v", err)
	}
	if err := tw.Annotation(999, Annotation{}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := tw.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if tw.FirstError() == nil {
		t.Fatalf("expected FirstError to report the unknown-signal annotation failure")
	}
	if err := tw.Close(); err == nil {
		t.Fatalf("expected Close to surface the accumulated error")
	}
}
