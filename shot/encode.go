package shot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/png"
	"sync"
)

// EncodePNG encodes the composite image as PNG. After ShareEncoding, every
// copy of the composite shares one encoding and callers must not modify the
// returned bytes.
func EncodePNG(c *Composite) ([]byte, error) {
	if c.png == nil {
		return encodePNG(c)
	}
	c.png.once.Do(func() {
		c.png.data, c.png.err = encodePNG(c)
	})
	return c.png.data, c.png.err
}

// ShareEncoding makes copies of c taken afterwards reuse a single PNG
// encoding, so fanning one composite out to several sinks encodes it once.
func (c *Composite) ShareEncoding() {
	if c.png == nil {
		c.png = &pngCache{}
	}
}

type pngCache struct {
	once sync.Once
	data []byte
	err  error
}

func encodePNG(c *Composite) ([]byte, error) {
	if c.Image == nil {
		return nil, fmt.Errorf("shot: composite %s has no image", c.ID)
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, c.Image); err != nil {
		return nil, fmt.Errorf("shot: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Encoded is the wire form of a Composite: metadata plus the PNG bytes
// (base64 in JSON).
type Encoded struct {
	Composite
	PNG []byte `json:"png"`
}

// MarshalComposite serialises a Composite with its PNG to JSON.
func MarshalComposite(c *Composite) ([]byte, error) {
	data, err := EncodePNG(c)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Encoded{Composite: *c, PNG: data})
}

// UnmarshalComposite deserialises the wire form. The image is not decoded.
func UnmarshalComposite(data []byte) (*Encoded, error) {
	var e Encoded
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// MarshalFailure serialises a Failure to JSON.
func MarshalFailure(f *Failure) ([]byte, error) {
	return json.Marshal(f)
}
