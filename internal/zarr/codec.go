package zarr

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	kzlib "github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Codec compresses chunk payloads. A nil Codec stores chunks raw and is
// recorded as a null compressor in array metadata.
type Codec interface {
	Meta() *CompressorMeta
	Encode(src []byte) ([]byte, error)
	Decode(src []byte, size int) ([]byte, error)
}

// NewCodec builds a codec by name. The empty name and "none" disable
// compression.
func NewCodec(name string, level int) (Codec, error) {
	switch name {
	case "", "none":
		return nil, nil
	case "zlib":
		if level < 1 || level > 9 {
			return nil, fmt.Errorf("zlib level %d outside 1..9", level)
		}
		return zlibCodec{level: level}, nil
	case "zstd":
		return newZstdCodec(level)
	case "lz4":
		return lz4Codec{}, nil
	default:
		return nil, fmt.Errorf("unknown compressor %q", name)
	}
}

// CodecFor builds the codec an array's metadata calls for.
func CodecFor(meta *CompressorMeta) (Codec, error) {
	if meta == nil {
		return nil, nil
	}
	switch meta.ID {
	case "zlib":
		return zlibCodec{level: meta.Level}, nil
	case "zstd":
		return newZstdCodec(meta.Level)
	case "lz4":
		return lz4Codec{}, nil
	default:
		return nil, fmt.Errorf("unsupported compressor %q", meta.ID)
	}
}

type zlibCodec struct {
	level int
}

func (c zlibCodec) Meta() *CompressorMeta {
	return &CompressorMeta{ID: "zlib", Level: c.level}
}

func (c zlibCodec) Encode(src []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := kzlib.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, fmt.Errorf("zlib level %d: %w", c.level, err)
	}
	if _, err := w.Write(src); err != nil {
		return nil, fmt.Errorf("zlib compress: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("zlib flush: %w", err)
	}
	return buf.Bytes(), nil
}

func (c zlibCodec) Decode(src []byte, size int) ([]byte, error) {
	r, err := kzlib.NewReader(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("zlib header: %w", err)
	}
	defer r.Close()
	buf := bytes.NewBuffer(make([]byte, 0, size))
	if _, err := io.Copy(buf, r); err != nil {
		return nil, fmt.Errorf("zlib decompress: %w", err)
	}
	return buf.Bytes(), nil
}

type zstdCodec struct {
	level int
	enc   *zstd.Encoder
	dec   *zstd.Decoder
}

// newZstdCodec pins encoder concurrency to one so identical input yields
// identical bytes run to run.
func newZstdCodec(level int) (*zstdCodec, error) {
	enc, err := zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(level)),
		zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("zstd level %d: %w", level, err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	return &zstdCodec{level: level, enc: enc, dec: dec}, nil
}

func (c *zstdCodec) Meta() *CompressorMeta {
	return &CompressorMeta{ID: "zstd", Level: c.level}
}

func (c *zstdCodec) Encode(src []byte) ([]byte, error) {
	return c.enc.EncodeAll(src, nil), nil
}

func (c *zstdCodec) Decode(src []byte, size int) ([]byte, error) {
	out, err := c.dec.DecodeAll(src, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	return out, nil
}

// lz4Codec implements the numcodecs LZ4 chunk format: a little-endian
// uint32 of the uncompressed size followed by one LZ4 block.
type lz4Codec struct{}

func (lz4Codec) Meta() *CompressorMeta {
	return &CompressorMeta{ID: "lz4", Acceleration: 1}
}

func (lz4Codec) Encode(src []byte) ([]byte, error) {
	dst := make([]byte, 4+lz4.CompressBlockBound(len(src)))
	binary.LittleEndian.PutUint32(dst[:4], uint32(len(src)))
	var c lz4.Compressor
	n, err := c.CompressBlock(src, dst[4:])
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	if n == 0 {
		n = literalBlock(src, dst[4:])
	}
	return dst[:4+n], nil
}

func (lz4Codec) Decode(src []byte, size int) ([]byte, error) {
	if len(src) < 4 {
		return nil, errors.New("lz4 chunk shorter than its size header")
	}
	n := int(binary.LittleEndian.Uint32(src[:4]))
	dst := make([]byte, n)
	m, err := lz4.UncompressBlock(src[4:], dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if m != n {
		return nil, fmt.Errorf("lz4 block decoded %d bytes, header says %d", m, n)
	}
	return dst, nil
}

// literalBlock writes src as a single literal-only LZ4 sequence, the
// fallback when block compression cannot shrink the input.
func literalBlock(src, dst []byte) int {
	n := len(src)
	i := 1
	if n < 15 {
		dst[0] = byte(n) << 4
	} else {
		dst[0] = 0xF0
		for r := n - 15; ; r -= 255 {
			if r < 255 {
				dst[i] = byte(r)
				i++
				break
			}
			dst[i] = 255
			i++
		}
	}
	return i + copy(dst[i:], src)
}
