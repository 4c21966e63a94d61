package chunkio

import "errors"

// Sentinel errors surfaced by this package. pkg/jls's newErr maps the
// CRC, truncation and version sentinels to the public error-kind
// taxonomy (component J's Code enum) when it wraps them; the
// Annotations, UserData and UTC iterators return chain-walk errors
// unwrapped, so CodeOf reports those as CodeIO.
var (
	ErrHeaderCRC  = errors.New("chunkio: chunk header crc mismatch")
	ErrPayloadCRC = errors.New("chunkio: chunk payload crc mismatch")
	ErrTruncated  = errors.New("chunkio: truncated chunk")
	ErrBadMagic   = errors.New("chunkio: bad file magic")
	ErrVersion    = errors.New("chunkio: unsupported format version")
)
