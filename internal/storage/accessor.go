package storage

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zlib"
	"github.com/pierrec/lz4/v4"
	"github.com/zeebo/blake3"

	"github.com/roach88/radstore/internal/fault"
)

// Accessor layers compression and integrity hashes over an Area.
type Accessor struct {
	area        Area
	compression CompressionType
	noHash      bool
	newUUID     func() string
}

// AccessorOption configures an Accessor.
type AccessorOption func(*Accessor)

// WithCompression sets the encoding used for new attachments.
func WithCompression(c CompressionType) AccessorOption {
	return func(a *Accessor) { a.compression = c }
}

// WithContentHash enables or disables the blake3 digests recorded for new
// attachments. Attachments written without them are read unchecked.
func WithContentHash(enabled bool) AccessorOption {
	return func(a *Accessor) { a.noHash = !enabled }
}

// WithUUIDGenerator replaces the attachment uuid source.
func WithUUIDGenerator(gen func() string) AccessorOption {
	return func(a *Accessor) { a.newUUID = gen }
}

// NewAccessor wraps area. Attachments get UUIDv7 names, which sort by
// creation time.
func NewAccessor(area Area, opts ...AccessorOption) *Accessor {
	a := &Accessor{
		area: area,
		newUUID: func() string {
			return uuid.Must(uuid.NewV7()).String()
		},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Compression returns the encoding applied to new attachments.
func (a *Accessor) Compression() CompressionType { return a.compression }

// Area returns the wrapped area.
func (a *Accessor) Area() Area { return a.area }

// Write stores content under a fresh uuid.
func (a *Accessor) Write(content []byte, contentType ContentType) (FileInfo, error) {
	return a.WriteAs(content, contentType, a.compression)
}

// WriteAs stores content with an explicit compression.
func (a *Accessor) WriteAs(content []byte, contentType ContentType, compression CompressionType) (FileInfo, error) {
	encoded, err := compress(content, compression)
	if err != nil {
		return FileInfo{}, err
	}

	info := FileInfo{
		UUID:             a.newUUID(),
		ContentType:      contentType,
		UncompressedSize: int64(len(content)),
		Compression:      compression,
		CompressedSize:   int64(len(encoded)),
	}
	if !a.noHash {
		info.UncompressedHash = digest(content)
		info.CompressedHash = digest(encoded)
	}
	if err := a.area.Create(info.UUID, encoded, contentType); err != nil {
		return FileInfo{}, err
	}
	return info, nil
}

// Read returns the decoded content of info and checks both hashes.
func (a *Accessor) Read(info FileInfo) ([]byte, error) {
	raw, err := a.ReadRaw(info)
	if err != nil {
		return nil, err
	}
	content, err := decompress(raw, info.Compression)
	if err != nil {
		return nil, fault.Wrap(fault.CodeInternal, err, "attachment %s", info.UUID)
	}
	if info.UncompressedHash != "" && digest(content) != info.UncompressedHash {
		return nil, fault.New(fault.CodeInternal, "attachment %s: content hash mismatch", info.UUID)
	}
	return content, nil
}

// ReadRaw returns the stored bytes without decoding them.
func (a *Accessor) ReadRaw(info FileInfo) ([]byte, error) {
	raw, err := a.area.Read(info.UUID, info.ContentType)
	if err != nil {
		return nil, err
	}
	if info.CompressedHash != "" && digest(raw) != info.CompressedHash {
		return nil, fault.New(fault.CodeInternal, "attachment %s: stored hash mismatch", info.UUID)
	}
	return raw, nil
}

// Remove deletes the stored bytes of info.
func (a *Accessor) Remove(info FileInfo) error {
	return a.area.Remove(info.UUID, info.ContentType)
}

func digest(p []byte) string {
	sum := blake3.Sum256(p)
	return hex.EncodeToString(sum[:])
}

func compress(content []byte, c CompressionType) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser
	switch c {
	case CompressionNone:
		return append([]byte(nil), content...), nil
	case CompressionZlib:
		w = zlib.NewWriter(&buf)
	case CompressionLZ4:
		w = lz4.NewWriter(&buf)
	default:
		return nil, fault.New(fault.CodeParameterOutOfRange, "unsupported compression %s", c)
	}
	if _, err := w.Write(content); err != nil {
		return nil, fmt.Errorf("compress %s: %w", c, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress %s: %w", c, err)
	}
	return buf.Bytes(), nil
}

func decompress(raw []byte, c CompressionType) ([]byte, error) {
	var r io.Reader
	switch c {
	case CompressionNone:
		return raw, nil
	case CompressionZlib:
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("open zlib stream: %w", err)
		}
		defer zr.Close()
		r = zr
	case CompressionLZ4:
		r = lz4.NewReader(bytes.NewReader(raw))
	default:
		return nil, fault.New(fault.CodeParameterOutOfRange, "unsupported compression %s", c)
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompress %s: %w", c, err)
	}
	return content, nil
}
