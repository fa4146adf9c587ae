package record

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Dataset is a parsed record: its attribute set plus the opaque pixel
// payload that travels with it.
type Dataset struct {
	Attributes Attributes `cbor:"1,keyasint"`
	Pixels     []byte     `cbor:"2,keyasint,omitempty"`
}

// Parser turns a stored payload into a Dataset.
type Parser interface {
	Parse(data []byte) (*Dataset, error)
}

// Encoder turns a Dataset into its stored payload.
type Encoder interface {
	Encode(ds *Dataset) ([]byte, error)
}

// CBORCodec stores records as deterministic CBOR. Equal datasets always
// encode to identical bytes, which keeps content hashes stable.
type CBORCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCBORCodec builds the codec.
func NewCBORCodec() (*CBORCodec, error) {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encoder: %w", err)
	}
	dec, err := cbor.DecOptions{
		MaxArrayElements: 1 << 16,
		MaxMapPairs:      1 << 16,
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor decoder: %w", err)
	}
	return &CBORCodec{enc: enc, dec: dec}, nil
}

// MustCBORCodec is NewCBORCodec for package-level defaults and tests.
func MustCBORCodec() *CBORCodec {
	c, err := NewCBORCodec()
	if err != nil {
		panic("record: " + err.Error())
	}
	return c
}

// Encode implements Encoder.
func (c *CBORCodec) Encode(ds *Dataset) ([]byte, error) {
	data, err := c.enc.Marshal(ds)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

// Parse implements Parser.
func (c *CBORCodec) Parse(data []byte) (*Dataset, error) {
	var ds Dataset
	if err := c.dec.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("parse record: %w", err)
	}
	if ds.Attributes == nil {
		ds.Attributes = Attributes{}
	}
	return &ds, nil
}
