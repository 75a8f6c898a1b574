package artifact

import (
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/vlakreeh/wasmer/errors"

	"github.com/vlakreeh/wasmer/internal/binary"
)

// Serialized artifact layout: a fixed magic and format version, a
// header naming the target and section geometry, zero padding up to a
// 16-byte-aligned code region (so mapped code keeps its alignment), the
// raw code bytes, then the zstd-compressed metadata section. The header
// is validated before any payload byte is trusted.
const (
	// Magic identifies the serialized artifact format.
	Magic = "\x00wasmer\x00"

	// FormatVersion is the serialization version this build reads and
	// writes. Version bumps are never silently compatible.
	FormatVersion uint16 = 1

	codeAlign = 16
)

var (
	zstdEncoder, _ = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithEncoderConcurrency(1))
	zstdDecoder, _ = zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(1))
)

// Encode serializes the artifact. Encoding the same artifact twice
// yields byte-identical output.
func (a *Artifact) Encode() ([]byte, error) {
	if a.refs.Load() <= 0 {
		return nil, errors.Closed(errors.PhaseSerialize, "artifact")
	}

	meta := binary.NewWriter()
	encodeSection(meta, a)
	compressed := zstdEncoder.EncodeAll(meta.Bytes(), nil)

	hash := xxhash.New()
	hash.Write(a.code)
	hash.Write(compressed)

	w := binary.NewWriter()
	w.WriteBytes([]byte(Magic))
	w.WriteU16LE(FormatVersion)
	w.WriteName(a.tgt.Triple.String())
	w.WriteU32(uint32(len(a.tgt.Features)))
	for _, f := range a.tgt.Features {
		w.WriteName(f)
	}
	w.WriteU32LE(uint32(len(a.code)))
	w.WriteU32LE(uint32(len(compressed)))
	w.WriteU64LE(hash.Sum64())

	// The code offset is the last header field; account for it before
	// aligning.
	codeOffset := align(w.Len()+4, codeAlign)
	w.WriteU32LE(uint32(codeOffset))
	w.Pad(codeAlign)

	w.WriteBytes(a.code)
	w.WriteBytes(compressed)
	return w.Bytes(), nil
}

// EncodeToFile serializes the artifact to a file that DecodeFile can
// later map.
func (a *Artifact) EncodeToFile(path string) error {
	data, err := a.Encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.IO(errors.PhaseSerialize, err)
	}
	return nil
}

func align(n, to int) int {
	return (n + to - 1) &^ (to - 1)
}
