package jls

import (
	"math"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jls-format/jls-go/internal/dtype"
)

// triangleWave produces the period-1000 triangle scenario A writes:
// ramps 0..500 then back down to 0 every 1000 samples.
func triangleWave(i int64) float64 {
	p := i % 1000
	if p <= 500 {
		return float64(p)
	}
	return float64(1000 - p)
}

// directStats computes {mean, std, min, max} over [from, to) of a
// float64-producing function, independently of anything in pkg/jls,
// as the offline reference scenario A/invariant 3/4 compare against.
func directStats(from, to int64, f func(int64) float64) (mean, std, min, max float64) {
	min, max = math.Inf(1), math.Inf(-1)
	var sum float64
	n := 0
	for i := from; i < to; i++ {
		v := f(i)
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
		n++
	}
	mean = sum / float64(n)
	var sq float64
	for i := from; i < to; i++ {
		d := f(i) - mean
		sq += d * d
	}
	std = math.Sqrt(sq / float64(n))
	return
}

// TestScenarioA_TriangleWaveFSR is spec.md §8 scenario A.
func TestScenarioA_TriangleWaveFSR(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario_a.jls")
	const blockSize = 937
	const blocks = 1000 // 937 * 1000 = 937000 samples total

	writeFixture(t, path, func(w *Writer) {
		require.NoError(t, w.SourceDef(Source{ID: 3, Name: "triangle-source"}))
		sig := Signal{SignalID: 5, SourceID: 3, Kind: KindFSR, DataType: dtype.F32, SampleRate: 100000}
		require.NoError(t, w.SignalDef(sig))

		for b := 0; b < blocks; b++ {
			start := int64(b * blockSize)
			block := make([]float64, blockSize)
			for i := range block {
				block[i] = triangleWave(start + int64(i))
			}
			require.NoError(t, w.FSR(5, start, block))
			require.NoError(t, w.UTC(5, start, int64(b)*TicksPerSecond))
		}
	})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	got, err := r.FSR(5, 0, 1000)
	require.NoError(t, err)
	require.Len(t, got, 1000)
	for i, v := range got {
		assert.Equal(t, float32(triangleWave(int64(i))), float32(v), "sample %d", i)
	}

	stats, err := r.FSRStatistics(5, 0, 10, 100)
	require.NoError(t, err)
	require.Len(t, stats, 100)

	for _, idx := range []int{0, 99} {
		from := int64(idx) * 10
		to := from + 10
		wantMean, wantStd, wantMin, wantMax := directStats(from, to, triangleWave)
		assert.InDelta(t, wantMean, stats[idx][0], 1e-6, "mean at bucket %d", idx)
		assert.InDelta(t, wantStd, stats[idx][1], 1e-6, "std at bucket %d", idx)
		assert.Equal(t, wantMin, stats[idx][2], "min at bucket %d", idx)
		assert.Equal(t, wantMax, stats[idx][3], "max at bucket %d", idx)
	}
}

// TestScenarioB_U1BitPattern is spec.md §8 scenario B.
func TestScenarioB_U1BitPattern(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario_b.jls")
	const repeats = 1024
	const n = repeats * 8 // 8192

	// 0x6F = 0b01101111 in LSB-first sample order: six 1s, two 0s per byte.
	bits := []float64{1, 1, 1, 1, 0, 1, 1, 0}

	writeFixture(t, path, func(w *Writer) {
		require.NoError(t, w.SourceDef(Source{ID: 1, Name: "bits"}))
		sig := Signal{SignalID: 1, SourceID: 1, Kind: KindFSR, DataType: dtype.U1, SampleRate: 1000}
		require.NoError(t, w.SignalDef(sig))

		data := make([]float64, n)
		for i := range data {
			data[i] = bits[i%8]
		}
		require.NoError(t, w.FSR(1, 0, data))
	})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	stats, err := r.FSRStatistics(1, 0, 1024, 2)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	for _, row := range stats {
		assert.InDelta(t, 0.75, row[0], 1e-9, "mean")
		assert.Equal(t, 0.0, row[2], "min")
		assert.Equal(t, 1.0, row[3], "max")
	}
}

// TestScenarioC_AnnotationsFromFilter is spec.md §8 scenario C.
func TestScenarioC_AnnotationsFromFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario_c.jls")
	const now = int64(1_700_000_000) * TicksPerSecond
	msTicks := TicksPerSecond / 1000

	entries := []Annotation{
		{Timestamp: now + 0*msTicks, Type: AnnotationText, Storage: AnnotationString, Payload: []byte("text")},
		{Timestamp: now + 1*msTicks, Type: AnnotationVMarker, Storage: AnnotationBinary, Payload: []byte("vmarker")},
		{Timestamp: now + 2*msTicks, Type: AnnotationUser, Storage: AnnotationBinary, Payload: []byte{0x01, 0x02, 0x03}},
		{Timestamp: now + 3*msTicks, Type: AnnotationUser, Storage: AnnotationString, Payload: []byte("user string")},
		{Timestamp: now + 4*msTicks, Type: AnnotationUser, Storage: AnnotationJSON, Payload: []byte(`{"k":"v"}`)},
	}

	writeFixture(t, path, func(w *Writer) {
		require.NoError(t, w.SourceDef(Source{ID: 1, Name: "annot"}))
		sig := Signal{SignalID: 1, SourceID: 1, Kind: KindVSR, DataType: dtype.F64}
		require.NoError(t, w.SignalDef(sig))
		for _, a := range entries {
			require.NoError(t, w.Annotation(1, a))
		}
	})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	var all []Annotation
	require.NoError(t, r.Annotations(1, 0, func(a Annotation) bool {
		all = append(all, a)
		return true
	}))
	require.Len(t, all, 5)
	for i, a := range all {
		assert.Equal(t, entries[i].Timestamp, a.Timestamp, "entry %d", i)
		assert.Equal(t, entries[i].Type, a.Type, "entry %d", i)
		assert.Equal(t, entries[i].Storage, a.Storage, "entry %d", i)
		assert.Equal(t, entries[i].Payload, a.Payload, "entry %d", i)
	}

	var filtered []Annotation
	require.NoError(t, r.Annotations(1, now+4*msTicks, func(a Annotation) bool {
		filtered = append(filtered, a)
		return true
	}))
	require.Len(t, filtered, 1)
	assert.Equal(t, now+4*msTicks, filtered[0].Timestamp)
}

// TestScenarioD_UserDataOrderAndStorage is spec.md §8 scenario D.
func TestScenarioD_UserDataOrderAndStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario_d.jls")

	records := []UserData{
		{Meta: 0x0123, Storage: AnnotationBinary, Payload: []byte("binary 11B!")},
		{Meta: 0x0BEE, Storage: AnnotationString, Payload: []byte("hello world")},
		{Meta: 0x0ABC, Storage: AnnotationJSON, Payload: []byte(`{"hello":"world"}`)},
	}

	writeFixture(t, path, func(w *Writer) {
		for _, u := range records {
			require.NoError(t, w.UserData(u))
		}
	})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	var got []UserData
	require.NoError(t, r.UserData(func(u UserData) bool {
		got = append(got, u)
		return true
	}))
	require.Len(t, got, 3)
	for i, u := range got {
		assert.Equal(t, records[i].Meta, u.Meta, "entry %d", i)
		assert.Equal(t, records[i].Storage, u.Storage, "entry %d", i)
		assert.Equal(t, records[i].Payload, u.Payload, "entry %d", i)
	}
}

// TestScenarioE_UTCSampleIDOffset is spec.md §8 scenario E.
func TestScenarioE_UTCSampleIDOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario_e.jls")
	const offset = int64(100_000_000)
	const rate = 100000
	t0 := int64(1_700_000_000) * TicksPerSecond

	writeFixture(t, path, func(w *Writer) {
		require.NoError(t, w.SourceDef(Source{ID: 1, Name: "utc-offset"}))
		sig := Signal{SignalID: 1, SourceID: 1, Kind: KindFSR, DataType: dtype.F64, SampleRate: rate, SampleIDOffset: offset}
		require.NoError(t, w.SignalDef(sig))
		require.NoError(t, w.UTC(1, offset, t0))
		require.NoError(t, w.UTC(1, offset+rate, t0+TicksPerSecond))
	})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	gotT, err := r.SampleIDToTimestamp(1, offset)
	require.NoError(t, err)
	assert.Equal(t, t0, gotT)

	gotSID, err := r.TimestampToSampleID(1, t0+TicksPerSecond)
	require.NoError(t, err)
	assert.Equal(t, offset+rate, gotSID)
}

// TestScenarioF_SampleSkipBitPattern is spec.md §8 scenario F.
func TestScenarioF_SampleSkipBitPattern(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scenario_f.jls")
	ones := map[int64]bool{0: true, 3: true, 5: true, 10: true, 20: true, 2000: true, 2960: true}

	writeFixture(t, path, func(w *Writer) {
		require.NoError(t, w.SourceDef(Source{ID: 1, Name: "skip"}))
		sig := Signal{SignalID: 1, SourceID: 1, Kind: KindFSR, DataType: dtype.U1, SampleRate: 1000}
		require.NoError(t, w.SignalDef(sig))

		var ids []int64
		for id := range ones {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			require.NoError(t, w.FSR(1, id, []float64{1}))
		}
		// Pad to 3000 total samples with one final zero sample; every
		// gap ahead of it is skip-filled to bit-pattern zero.
		require.NoError(t, w.FSR(1, 2999, []float64{0}))
	})

	r, err := Open(path)
	require.NoError(t, err)
	defer r.Close()

	got, err := r.FSR(1, 0, 3000)
	require.NoError(t, err)
	require.Len(t, got, 3000)
	for i, v := range got {
		want := 0.0
		if ones[int64(i)] {
			want = 1.0
		}
		assert.Equal(t, want, v, "sample %d", i)
	}
}
