package chunkio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileHeaderRoundTrip(t *testing.T) {
	h := FileHeader{
		Magic:           Magic,
		Version:         FormatVersion,
		RootIndexOffset: 4096,
		CreationTime:    123456789,
	}
	buf := make([]byte, FileHeaderSize)
	h.Encode(buf)

	got, err := DecodeFileHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestChunkHeaderRoundTrip(t *testing.T) {
	h := ChunkHeader{
		PayloadLength:     17,
		PayloadPrevLength: 9,
		Tag:               TagData,
		ChunkMetaField:    ChunkMeta(3, 1),
		OffsetNext:        800,
		OffsetPrev:        400,
		PayloadCRC:        0xdeadbeef,
	}
	buf := make([]byte, ChunkHeaderSize)
	h.Encode(buf)

	got, err := DecodeChunkHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, h.PayloadLength, got.PayloadLength)
	assert.Equal(t, h.Tag, got.Tag)
	assert.Equal(t, h.ChunkMetaField, got.ChunkMetaField)
	assert.Equal(t, h.OffsetNext, got.OffsetNext)
	assert.Equal(t, h.OffsetPrev, got.OffsetPrev)
	assert.Equal(t, h.PayloadCRC, got.PayloadCRC)

	sig, lvl := SplitChunkMeta(got.ChunkMetaField)
	assert.Equal(t, uint8(3), sig)
	assert.Equal(t, uint8(1), lvl)
}

func TestCreateOpenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.jls")
	cf, err := Create(path, 42)
	require.NoError(t, err)
	require.NoError(t, cf.Close())

	cf2, hdr, err := Open(path, false)
	require.NoError(t, err)
	defer cf2.Close()
	assert.Equal(t, Magic, hdr.Magic)
	assert.Equal(t, int64(42), hdr.CreationTime)
}

func TestOpenRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jls")
	require.NoError(t, os.WriteFile(path, make([]byte, FileHeaderSize), 0644))
	_, _, err := Open(path, false)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestWriteChunkAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "b.jls")
	cf, err := Create(path, 0)
	require.NoError(t, err)
	defer cf.Close()

	payload := []byte("hello jls")
	offset, err := cf.WriteChunk(TagData, ChunkMeta(1, 0), payload, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(FileHeaderSize), offset)

	hdr, got, err := cf.ReadChunkAt(offset)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, TagData, hdr.Tag)
	assert.Equal(t, uint64(0), hdr.OffsetNext)
}

func TestChainBackPatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.jls")
	cf, err := Create(path, 0)
	require.NoError(t, err)
	defer cf.Close()

	meta := ChunkMeta(2, 0)
	off1, err := cf.WriteChunk(TagData, meta, []byte("aaa"), 0, 0)
	require.NoError(t, err)
	off2, err := cf.WriteChunk(TagData, meta, []byte("bbbb"), off1, 3)
	require.NoError(t, err)
	off3, err := cf.WriteChunk(TagData, meta, []byte("cc"), off2, 4)
	require.NoError(t, err)

	var payloads []string
	err = cf.IterateChain(off1, func(hdr ChunkHeader, payload []byte) error {
		payloads = append(payloads, string(payload))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"aaa", "bbbb", "cc"}, payloads)

	hdr3, _, err := cf.ReadChunkAt(off3)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), hdr3.OffsetNext)

	hdr1, _, err := cf.ReadChunkAt(off1)
	require.NoError(t, err)
	assert.Equal(t, off2, hdr1.OffsetNext)
}

func TestPayloadCRCMismatchDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "d.jls")
	cf, err := Create(path, 0)
	require.NoError(t, err)

	offset, err := cf.WriteChunk(TagData, ChunkMeta(1, 0), []byte("0123456789abcdef"), 0, 0)
	require.NoError(t, err)
	require.NoError(t, cf.Close())

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xff}, int64(offset)+int64(ChunkHeaderSize))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cf2, _, err := Open(path, false)
	require.NoError(t, err)
	defer cf2.Close()
	_, _, err = cf2.ReadChunkAt(offset)
	assert.ErrorIs(t, err, ErrPayloadCRC)
}

func TestHeaderCRCMismatchDetected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "e.jls")
	cf, err := Create(path, 0)
	require.NoError(t, err)

	offset, err := cf.WriteChunk(TagData, ChunkMeta(1, 0), []byte("payload"), 0, 0)
	require.NoError(t, err)
	require.NoError(t, cf.Close())

	f, err := os.OpenFile(path, os.O_RDWR, 0644)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0x01}, int64(offset)) // corrupt payload_length field
	require.NoError(t, err)
	require.NoError(t, f.Close())

	cf2, _, err := Open(path, false)
	require.NoError(t, err)
	defer cf2.Close()
	_, _, err = cf2.ReadChunkAt(offset)
	assert.ErrorIs(t, err, ErrHeaderCRC)
}

func TestScanForRecoveryToleratesTornTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.jls")
	cf, err := Create(path, 0)
	require.NoError(t, err)

	meta := ChunkMeta(1, 0)
	off1, err := cf.WriteChunk(TagData, meta, []byte("complete"), 0, 0)
	require.NoError(t, err)
	off2, err := cf.WriteChunk(TagData, meta, []byte("also-complete"), off1, 8)
	require.NoError(t, err)
	require.NoError(t, cf.Sync())
	require.NoError(t, cf.Close())

	// Truncate mid-way through the third (never-written) chunk header to
	// simulate a crash during a write, leaving two good chunks.
	fullSize := int64(off2) + int64(ChunkSpan(len("also-complete")))
	require.NoError(t, os.Truncate(path, fullSize+int64(ChunkHeaderSize/2)))

	cf2, _, err := Open(path, false)
	require.NoError(t, err)
	defer cf2.Close()

	var seen []uint64
	err = cf2.ScanForRecovery(func(offset uint64, hdr ChunkHeader, payload []byte) error {
		seen = append(seen, offset)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{off1, off2}, seen)
}
