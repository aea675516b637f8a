package serde

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"reflect"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec turns values into bytes and back. Name is the type tag stored next to
// every payload the codec produced.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Name() string
}

type CompressionType string

const (
	CompressionGzip CompressionType = "gzip"
	CompressionZstd CompressionType = "zstd"
)

type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Name() string {
	return "json"
}

// MsgPackCodec decodes untyped values loosely, so numbers held in an `any`
// come back as int64 or float64 whatever width they were packed at. Go ints
// are packed by magnitude, which turns non-negative ones into msgpack uints;
// those are folded back into int64 when they fit.
type MsgPackCodec struct{}

func (c *MsgPackCodec) Encode(v any) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (c *MsgPackCodec) Decode(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(v); err != nil {
		return err
	}
	normalizeNumbers(reflect.ValueOf(v))
	return nil
}

// normalizeNumbers rewrites, in place, every uint64 stored in an interface
// reachable from v into int64 when it fits.
func normalizeNumbers(v reflect.Value) {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return
		}
		if v.Kind() == reflect.Interface && v.CanSet() {
			if n, ok := v.Interface().(uint64); ok && n <= math.MaxInt64 {
				v.Set(reflect.ValueOf(int64(n)))
				return
			}
		}
		normalizeNumbers(v.Elem())
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if v.Type().Field(i).IsExported() {
				normalizeNumbers(v.Field(i))
			}
		}
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			normalizeNumbers(v.Index(i))
		}
	case reflect.Map:
		if v.Type().Elem().Kind() != reflect.Interface {
			for _, key := range v.MapKeys() {
				normalizeNumbers(v.MapIndex(key))
			}
			return
		}
		for _, key := range v.MapKeys() {
			elem := v.MapIndex(key)
			if elem.IsNil() {
				continue
			}
			if n, ok := elem.Interface().(uint64); ok && n <= math.MaxInt64 {
				v.SetMapIndex(key, reflect.ValueOf(int64(n)))
				continue
			}
			normalizeNumbers(elem.Elem())
		}
	}
}

func (c *MsgPackCodec) Name() string {
	return "msgpack"
}

func NewJSONCodec() Codec {
	return &JSONCodec{}
}

func NewMsgPackCodec() Codec {
	return &MsgPackCodec{}
}

// CompressedCodec compresses the output of an inner codec. Its name is
// "<inner>+<compression>", e.g. "msgpack+zstd".
type CompressedCodec struct {
	inner       Codec
	compression CompressionType
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
}

// NewCompressedCodec wraps inner with gzip or zstd compression.
func NewCompressedCodec(inner Codec, compression CompressionType) (Codec, error) {
	c := &CompressedCodec{inner: inner, compression: compression}

	switch compression {
	case CompressionGzip:
	case CompressionZstd:
		encoder, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
		}
		decoder, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
		}
		c.encoder = encoder
		c.decoder = decoder
	default:
		return nil, fmt.Errorf("unsupported compression %q", compression)
	}

	return c, nil
}

func (c *CompressedCodec) Name() string {
	return c.inner.Name() + "+" + string(c.compression)
}

func (c *CompressedCodec) Encode(v any) ([]byte, error) {
	data, err := c.inner.Encode(v)
	if err != nil {
		return nil, err
	}

	if c.compression == CompressionZstd {
		return c.encoder.EncodeAll(data, nil), nil
	}

	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *CompressedCodec) Decode(data []byte, v any) error {
	var (
		raw []byte
		err error
	)

	if c.compression == CompressionZstd {
		raw, err = c.decoder.DecodeAll(data, nil)
	} else {
		var reader *gzip.Reader
		reader, err = gzip.NewReader(bytes.NewReader(data))
		if err == nil {
			defer reader.Close()
			raw, err = io.ReadAll(reader)
		}
	}
	if err != nil {
		return fmt.Errorf("decompression failed: %w", err)
	}

	return c.inner.Decode(raw, v)
}
