package jls

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jls-format/jls-go/internal/dtype"
)

func writeFixture(t *testing.T, path string, build func(w *Writer)) {
	t.Helper()
	w, err := Create(path, Opts{})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	build(w)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestReaderAnnotationsFiltering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "annotations.jls")
	writeFixture(t, path, func(w *Writer) {
		if err := w.SourceDef(Source{ID: 1, Name: "src"}); err != nil {
			t.Fatalf("SourceDef: %v", err)
		}
		sig := Signal{SignalID: 1, SourceID: 1, Kind: KindFSR, DataType: dtype.F32, SampleRate: 10}
		if err := w.SignalDef(sig); err != nil {
			t.Fatalf("SignalDef: %v", err)
		}
		for _, ts := range []int64{10, 20, 30} {
			if err := w.Annotation(1, Annotation{Timestamp: ts, Y: float32(ts), Storage: AnnotationString, Payload: []byte("note")}); err != nil {
				t.Fatalf("Annotation: %v", err)
			}
		}
	})

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	var seen []int64
	err = r.Annotations(1, 15, func(a Annotation) bool {
		seen = append(seen, a.Timestamp)
		return true
	})
	if err != nil {
		t.Fatalf("Annotations: %v", err)
	}
	if len(seen) != 2 || seen[0] != 20 || seen[1] != 30 {
		t.Fatalf("Annotations(from=15) = %v, want [20 30]", seen)
	}

	var stopped []int64
	err = r.Annotations(1, 0, func(a Annotation) bool {
		stopped = append(stopped, a.Timestamp)
		return false
	})
	if err != nil {
		t.Fatalf("Annotations early-stop: %v", err)
	}
	if len(stopped) != 1 || stopped[0] != 10 {
		t.Fatalf("early-stop callback ran %v times, want exactly [10]", stopped)
	}
}

func TestReaderUserData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "userdata.jls")
	writeFixture(t, path, func(w *Writer) {
		entries := []UserData{
			{Meta: 0x0123, Storage: AnnotationBinary, Payload: []byte("11 bytes...")},
			{Meta: 0x0BEE, Storage: AnnotationString, Payload: []byte("hello world")},
			{Meta: 0x0ABC, Storage: AnnotationJSON, Payload: []byte(`{"hello":"world"}`)},
		}
		for _, u := range entries {
			if err := w.UserData(u); err != nil {
				t.Fatalf("UserData: %v", err)
			}
		}
	})

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	var got []UserData
	if err := r.UserData(func(u UserData) bool {
		got = append(got, u)
		return true
	}); err != nil {
		t.Fatalf("UserData iter: %v", err)
	}

	if len(got) != 3 {
		t.Fatalf("len(got) = %d, want 3", len(got))
	}
	want := []UserData{
		{Meta: 0x0123, Storage: AnnotationBinary, Payload: []byte("11 bytes...")},
		{Meta: 0x0BEE, Storage: AnnotationString, Payload: []byte("hello world")},
		{Meta: 0x0ABC, Storage: AnnotationJSON, Payload: []byte(`{"hello":"world"}`)},
	}
	for i := range want {
		if got[i].Meta != want[i].Meta || got[i].Storage != want[i].Storage || string(got[i].Payload) != string(want[i].Payload) {
			t.Fatalf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestReaderRecoversWithoutRootIndex(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recover.jls")
	writeFixture(t, path, func(w *Writer) {
		if err := w.SourceDef(Source{ID: 1, Name: "src"}); err != nil {
			t.Fatalf("SourceDef: %v", err)
		}
		sig := Signal{SignalID: 1, SourceID: 1, Kind: KindFSR, DataType: dtype.F32, SampleRate: 10,
			SampleDecimateFactor: 2, EntriesPerSummary: 2, SummaryDecimateFactor: 2, SamplesPerData: 4}
		if err := w.SignalDef(sig); err != nil {
			t.Fatalf("SignalDef: %v", err)
		}
		if err := w.FSR(1, 0, []float64{1, 2, 3, 4, 5, 6, 7, 8}); err != nil {
			t.Fatalf("FSR: %v", err)
		}
		if err := w.UserData(UserData{Meta: 7, Storage: AnnotationString, Payload: []byte("tag")}); err != nil {
			t.Fatalf("UserData: %v", err)
		}
	})

	// Zero out the file header's root_index_offset field (bytes 12:20)
	// to force Open onto the forward-scan recovery path.
	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteAt(make([]byte, 8), 12); err != nil {
		t.Fatalf("zeroing root index offset: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open after dropping root index: %v", err)
	}
	defer r.Close()

	sigs := r.Signals()
	if len(sigs) != 1 || sigs[0].SignalID != 1 {
		t.Fatalf("Signals() = %v, want one signal with id 1", sigs)
	}
	srcs := r.Sources()
	if len(srcs) != 2 || srcs[0].ID != 0 || srcs[1].ID != 1 {
		t.Fatalf("Sources() = %v, want the implicit id-0 source then id 1", srcs)
	}

	got, err := r.FSR(1, 0, 8)
	if err != nil {
		t.Fatalf("FSR after recovery: %v", err)
	}
	for i, v := range got {
		if v != float64(i+1) {
			t.Fatalf("recovered sample %d = %v, want %v", i, v, float64(i+1))
		}
	}

	var userTags []uint16
	if err := r.UserData(func(u UserData) bool {
		userTags = append(userTags, u.Meta)
		return true
	}); err != nil {
		t.Fatalf("UserData after recovery: %v", err)
	}
	if len(userTags) != 1 || userTags[0] != 7 {
		t.Fatalf("UserData after recovery = %v, want [7]", userTags)
	}
}

func TestReaderUnknownSignalErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "unknown.jls")
	writeFixture(t, path, func(w *Writer) {
		if err := w.SourceDef(Source{ID: 1, Name: "src"}); err != nil {
			t.Fatalf("SourceDef: %v", err)
		}
	})

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	if _, err := r.FSR(99, 0, 1); CodeOf(err) != CodeNotFound {
		t.Fatalf("FSR on unknown signal: got %v, want CodeNotFound", err)
	}
}
