package codec

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/danmuck/tickerctl/internal/protocol"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zlib"
	"github.com/segmentio/encoding/json"
)

// MaxInflatedSize caps the decompressed size of one payload.
const MaxInflatedSize = 32 << 20

// Framing selects the deflate container used by Encode.
type Framing int

const (
	FramingRaw Framing = iota
	FramingZlib
)

// Inflate base64-decodes raw and decompresses it, trying raw deflate before zlib.
func Inflate(raw string) ([]byte, error) {
	compressed, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", protocol.ErrDecode, err)
	}
	out, rawErr := inflateRaw(compressed)
	if rawErr == nil {
		return out, nil
	}
	out, zlibErr := inflateZlib(compressed)
	if zlibErr == nil {
		return out, nil
	}
	return nil, fmt.Errorf("%w: deflate: %v; zlib: %v", protocol.ErrDecode, rawErr, zlibErr)
}

func inflateRaw(compressed []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(compressed))
	defer r.Close()
	return readLimited(r)
}

func inflateZlib(compressed []byte) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return readLimited(r)
}

func readLimited(r io.Reader) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, MaxInflatedSize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > MaxInflatedSize {
		return nil, fmt.Errorf("inflated payload exceeds %d bytes", MaxInflatedSize)
	}
	return out, nil
}

// Parse decodes a JSON document into generic values.
func Parse(body []byte) (any, error) {
	var out any
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("%w: json: %v", protocol.ErrDecode, err)
	}
	return out, nil
}

// Encode is the inverse of Inflate+Parse. Hub fixtures and tests use it to
// produce payloads in either framing.
func Encode(v any, framing Framing) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	var w io.WriteCloser
	switch framing {
	case FramingZlib:
		w = zlib.NewWriter(&buf)
	default:
		fw, err := flate.NewWriter(&buf, flate.DefaultCompression)
		if err != nil {
			return "", err
		}
		w = fw
	}
	if _, err := w.Write(body); err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
