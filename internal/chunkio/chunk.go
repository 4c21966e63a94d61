package chunkio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// File is a single open JLS file, generalizing the teacher's
// internal/datafile.DataFile from an append-only record log to a
// format that also back-patches prior chunks' OffsetNext link and
// the file header's RootIndexOffset. A single *os.File opened
// read-write replaces the teacher's separate writer/reader handles,
// since chunk back-patching needs random-access writes that an
// append-only O_APPEND handle cannot do.
type File struct {
	mu   sync.Mutex
	f    *os.File
	size int64
}

// Create creates a new JLS file at path, writes the file header, and
// returns a File positioned for the first chunk write. It fails if a
// file already exists at path.
func Create(path string, creationTime int64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("chunkio: create: %w", err)
	}
	hdr := FileHeader{
		Magic:        Magic,
		Version:      FormatVersion,
		CreationTime: creationTime,
	}
	buf := make([]byte, FileHeaderSize)
	hdr.Encode(buf)
	if _, err := f.WriteAt(buf, 0); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("chunkio: writing file header: %w", err)
	}
	return &File{f: f, size: int64(FileHeaderSize)}, nil
}

// Open opens an existing JLS file, validating the file header's magic
// and version, and returns the File along with the decoded header.
func Open(path string, writable bool) (*File, FileHeader, error) {
	flag := os.O_RDONLY
	if writable {
		flag = os.O_RDWR
	}
	f, err := os.OpenFile(path, flag, 0644)
	if err != nil {
		return nil, FileHeader{}, fmt.Errorf("chunkio: open: %w", err)
	}
	buf := make([]byte, FileHeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		f.Close()
		return nil, FileHeader{}, fmt.Errorf("chunkio: reading file header: %w", err)
	}
	hdr, err := DecodeFileHeader(buf)
	if err != nil {
		f.Close()
		return nil, FileHeader{}, err
	}
	if hdr.Magic != Magic {
		f.Close()
		return nil, FileHeader{}, ErrBadMagic
	}
	if hdr.Version > FormatVersion {
		f.Close()
		return nil, FileHeader{}, ErrVersion
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, FileHeader{}, err
	}
	return &File{f: f, size: stat.Size()}, hdr, nil
}

// Size returns the file's current length in bytes.
func (cf *File) Size() int64 {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	return cf.size
}

// Sync flushes buffered writes to stable storage.
func (cf *File) Sync() error {
	return cf.f.Sync()
}

// Close closes the underlying file descriptor.
func (cf *File) Close() error {
	return cf.f.Close()
}

// SetRootIndexOffset patches the file header's RootIndexOffset field
// in place, called when the writer closes or checkpoints a root
// source_def/signal_def index.
func (cf *File) SetRootIndexOffset(off uint64) error {
	cf.mu.Lock()
	defer cf.mu.Unlock()
	var buf [8]byte
	lePutUint64(buf[:], off)
	_, err := cf.f.WriteAt(buf[:], 12) // offset of RootIndexOffset within FileHeader
	return err
}

// WriteChunk appends a new chunk at the current end of file (after
// padding the prior chunk's payload to Align), and if prevOffset is
// non-zero, back-patches that earlier chunk's OffsetNext field to
// point at the new chunk. It returns the new chunk's own file offset.
func (cf *File) WriteChunk(tag Tag, chunkMeta uint16, payload []byte, prevOffset uint64, prevPayloadLength uint32) (uint64, error) {
	cf.mu.Lock()
	defer cf.mu.Unlock()

	offset := uint64(cf.size)
	hdr := ChunkHeader{
		PayloadLength:     uint32(len(payload)),
		PayloadPrevLength: prevPayloadLength,
		Tag:               tag,
		ChunkMetaField:    chunkMeta,
		OffsetPrev:        prevOffset,
		PayloadCRC:        ChecksumCRC32C(payload),
	}

	hbuf := make([]byte, ChunkHeaderSize)
	hdr.Encode(hbuf)

	padded := PaddedLength(len(payload))
	full := make([]byte, ChunkHeaderSize+padded)
	copy(full, hbuf)
	copy(full[ChunkHeaderSize:], payload)

	if _, err := cf.f.WriteAt(full, int64(offset)); err != nil {
		return 0, fmt.Errorf("chunkio: writing chunk: %w", err)
	}
	cf.size = int64(offset) + int64(len(full))

	if prevOffset != 0 {
		if err := cf.patchOffsetNextLocked(prevOffset, offset); err != nil {
			return 0, err
		}
	}
	return offset, nil
}

// patchOffsetNextLocked overwrites the OffsetNext field (and the
// HeaderCRC that covers it) of the chunk header at offset. mu must be
// held by the caller.
func (cf *File) patchOffsetNextLocked(offset uint64, next uint64) error {
	hbuf := make([]byte, ChunkHeaderSize)
	if _, err := cf.f.ReadAt(hbuf, int64(offset)); err != nil {
		return fmt.Errorf("chunkio: reading chunk header to patch: %w", err)
	}
	hdr, err := DecodeChunkHeader(hbuf)
	if err != nil {
		return fmt.Errorf("chunkio: patch target has bad header: %w", err)
	}
	hdr.OffsetNext = next
	hdr.Encode(hbuf)
	if _, err := cf.f.WriteAt(hbuf, int64(offset)); err != nil {
		return fmt.Errorf("chunkio: writing patched chunk header: %w", err)
	}
	return nil
}

// ReadChunkAt reads the chunk header and payload starting at offset,
// verifying both the header CRC (checked by DecodeChunkHeader) and
// the payload CRC.
func (cf *File) ReadChunkAt(offset uint64) (ChunkHeader, []byte, error) {
	hbuf := make([]byte, ChunkHeaderSize)
	if _, err := cf.f.ReadAt(hbuf, int64(offset)); err != nil {
		if errors.Is(err, io.EOF) {
			return ChunkHeader{}, nil, ErrTruncated
		}
		return ChunkHeader{}, nil, err
	}
	hdr, err := DecodeChunkHeader(hbuf)
	if err != nil {
		return ChunkHeader{}, nil, err
	}

	payload := make([]byte, hdr.PayloadLength)
	if hdr.PayloadLength > 0 {
		if _, err := cf.f.ReadAt(payload, int64(offset)+int64(ChunkHeaderSize)); err != nil {
			if errors.Is(err, io.EOF) {
				return ChunkHeader{}, nil, ErrTruncated
			}
			return ChunkHeader{}, nil, err
		}
	}
	if ChecksumCRC32C(payload) != hdr.PayloadCRC {
		return ChunkHeader{}, nil, ErrPayloadCRC
	}
	return hdr, payload, nil
}

// ChunkSpan returns the total on-disk span in bytes of a chunk whose
// payload is payloadLen bytes: the fixed header plus the payload
// padded to Align.
func ChunkSpan(payloadLen int) int {
	return ChunkHeaderSize + PaddedLength(payloadLen)
}

// IterateChain walks a chain of chunks starting at startOffset,
// following OffsetNext, calling fn with each chunk's header and
// payload. It stops when OffsetNext is 0 or fn returns a non-nil
// error (io.EOF, by convention, stops iteration without propagating).
func (cf *File) IterateChain(startOffset uint64, fn func(ChunkHeader, []byte) error) error {
	offset := startOffset
	for offset != 0 {
		hdr, payload, err := cf.ReadChunkAt(offset)
		if err != nil {
			return err
		}
		if err := fn(hdr, payload); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		offset = hdr.OffsetNext
	}
	return nil
}

// ScanForRecovery forward-scans the file from the first chunk
// position, honoring 8-byte alignment, and calls fn for each chunk
// whose header and payload CRCs both validate. It stops at the first
// chunk that fails to fully decode (a torn tail write), without
// treating that as an error — satisfying the requirement that a file
// truncated after its last completed payload but before any
// subsequent index chunk still yields all chunks written before the
// truncation.
func (cf *File) ScanForRecovery(fn func(offset uint64, hdr ChunkHeader, payload []byte) error) error {
	offset := uint64(FileHeaderSize)
	size := cf.Size()
	for int64(offset)+int64(ChunkHeaderSize) <= size {
		hdr, payload, err := cf.ReadChunkAt(offset)
		if err != nil {
			return nil
		}
		if err := fn(offset, hdr, payload); err != nil {
			return err
		}
		offset += uint64(ChunkSpan(int(hdr.PayloadLength)))
	}
	return nil
}

func lePutUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}
