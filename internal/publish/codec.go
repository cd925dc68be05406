package publish

import (
	"encoding/json"
	"fmt"

	"github.com/annel0/autotile/internal/tiling"
	"github.com/klauspost/compress/zstd"
)

// FrameCodec кодирует кадр слоя для передачи через шину событий
type FrameCodec interface {
	Name() string
	Encode(f *tiling.LayerFrame) ([]byte, error)
	Decode(data []byte) (*tiling.LayerFrame, error)
}

// jsonCodec - кадр как есть, в JSON
type jsonCodec struct{}

// NewJSONCodec возвращает кодек без сжатия
func NewJSONCodec() FrameCodec { return jsonCodec{} }

func (jsonCodec) Name() string { return "json" }

func (jsonCodec) Encode(f *tiling.LayerFrame) ([]byte, error) {
	return json.Marshal(f)
}

func (jsonCodec) Decode(data []byte) (*tiling.LayerFrame, error) {
	var f tiling.LayerFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	return &f, nil
}

// zstdCodec сжимает JSON кадра. EncodeAll/DecodeAll безопасны
// для одновременного вызова из нескольких горутин.
type zstdCodec struct {
	compressor   *zstd.Encoder
	decompressor *zstd.Decoder
}

// NewZstdCodec создаёт кодек JSON+zstd
func NewZstdCodec() (FrameCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create compressor: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("create decompressor: %w", err)
	}
	return &zstdCodec{compressor: enc, decompressor: dec}, nil
}

func (z *zstdCodec) Name() string { return "json+zstd" }

func (z *zstdCodec) Encode(f *tiling.LayerFrame) ([]byte, error) {
	raw, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return z.compressor.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

func (z *zstdCodec) Decode(data []byte) (*tiling.LayerFrame, error) {
	raw, err := z.decompressor.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress frame: %w", err)
	}
	return jsonCodec{}.Decode(raw)
}

// CodecByName выбирает кодек по значению Metadata["encoding"]
func CodecByName(name string) (FrameCodec, error) {
	switch name {
	case "json":
		return NewJSONCodec(), nil
	case "", "json+zstd", "zstd":
		return NewZstdCodec()
	default:
		return nil, fmt.Errorf("unknown frame encoding %q", name)
	}
}
