package storage

import (
	"fmt"
	"strings"
)

// ContentType says what an attachment holds.
type ContentType int

const (
	// ContentRecord is the stored record payload itself.
	ContentRecord ContentType = 1
	// ContentAttributes is a cached rendering of the record's attributes.
	ContentAttributes ContentType = 2
	// ContentUser is the first content type free for user attachments.
	ContentUser ContentType = 1024
)

func (c ContentType) String() string {
	switch c {
	case ContentRecord:
		return "record"
	case ContentAttributes:
		return "attributes"
	default:
		if c >= ContentUser {
			return fmt.Sprintf("user-%d", int(c))
		}
		return fmt.Sprintf("content-%d", int(c))
	}
}

// CompressionType is how an attachment is encoded on disk.
type CompressionType int

const (
	CompressionNone CompressionType = iota
	CompressionZlib
	CompressionLZ4
)

func (c CompressionType) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionZlib:
		return "zlib"
	case CompressionLZ4:
		return "lz4"
	default:
		return fmt.Sprintf("compression-%d", int(c))
	}
}

// ParseCompression accepts the names produced by CompressionType.String.
func ParseCompression(s string) (CompressionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "zlib":
		return CompressionZlib, nil
	case "lz4":
		return CompressionLZ4, nil
	}
	return 0, fmt.Errorf("unknown compression %q", s)
}

// FileInfo describes one stored attachment. Hashes are hex blake3 digests.
type FileInfo struct {
	UUID             string          `json:"uuid"`
	ContentType      ContentType     `json:"content_type"`
	UncompressedSize int64           `json:"uncompressed_size"`
	UncompressedHash string          `json:"uncompressed_hash"`
	Compression      CompressionType `json:"compression"`
	CompressedSize   int64           `json:"compressed_size"`
	CompressedHash   string          `json:"compressed_hash"`
}
