package artifact

import (
	"bytes"

	"github.com/cespare/xxhash/v2"

	"github.com/vlakreeh/wasmer/errors"
	"github.com/vlakreeh/wasmer/target"

	"github.com/vlakreeh/wasmer/internal/binary"
	"github.com/vlakreeh/wasmer/internal/mmap"
)

// Decode deserializes an artifact from a byte buffer. Validation is
// fail-closed and strictly ordered: magic and version first, then
// target compatibility against host, then the payload hash; no payload
// byte is interpreted before the checks covering it pass.
//
// The returned artifact aliases data; the caller must not mutate the
// buffer while the artifact lives.
func Decode(data []byte, host target.Target) (*Artifact, error) {
	return decode(data, nil, host)
}

// DecodeFile memory-maps the file at path and deserializes it. The
// artifact owns the mapping and the code region points directly into
// it; the file must not be modified or removed until the last reference
// is released. On any validation failure the mapping is released before
// returning.
func DecodeFile(path string, host target.Target) (*Artifact, error) {
	m, err := mmap.Open(path)
	if err != nil {
		return nil, errors.IO(errors.PhaseDeserialize, err)
	}
	a, err := decode(m.Bytes(), m, host)
	if err != nil {
		m.Close()
		return nil, err
	}
	return a, nil
}

func decode(data []byte, mapping *mmap.Mapping, host target.Target) (*Artifact, error) {
	if len(data) < len(Magic)+2 {
		return nil, errors.Truncated("header")
	}
	if !bytes.Equal(data[:len(Magic)], []byte(Magic)) {
		return nil, errors.BadMagic(data[:len(Magic)])
	}

	r := binary.NewReader(data)
	r.Seek(len(Magic))
	version, err := r.ReadU16LE()
	if err != nil {
		return nil, errors.Truncated("header")
	}
	if version != FormatVersion {
		return nil, errors.UnknownVersion(version, FormatVersion)
	}

	tripleName, err := r.ReadName()
	if err != nil {
		return nil, corrupt(err, "unreadable target triple")
	}
	triple, err := target.ParseTriple(tripleName)
	if err != nil {
		return nil, corrupt(err, "unreadable target triple")
	}
	featureCount, err := r.ReadU32()
	if err != nil {
		return nil, errors.Truncated("header")
	}
	features := make([]string, 0, featureCount)
	for i := uint32(0); i < featureCount; i++ {
		name, err := r.ReadName()
		if err != nil {
			return nil, errors.Truncated("header")
		}
		features = append(features, name)
	}
	tgt := target.Target{Triple: triple, Features: target.NewFeatureSet(features...)}

	// The compatibility gate runs before any payload byte is read.
	if err := tgt.CompatibleWith(host); err != nil {
		return nil, errors.IncompatibleTarget(err)
	}

	codeSize, err := r.ReadU32LE()
	if err != nil {
		return nil, errors.Truncated("header")
	}
	metaSize, err := r.ReadU32LE()
	if err != nil {
		return nil, errors.Truncated("header")
	}
	wantHash, err := r.ReadU64LE()
	if err != nil {
		return nil, errors.Truncated("header")
	}
	codeOffset, err := r.ReadU32LE()
	if err != nil {
		return nil, errors.Truncated("header")
	}

	if int64(codeOffset) < int64(r.Position()) {
		return nil, errors.Corrupt("code offset %d overlaps the header", codeOffset)
	}
	if codeOffset%codeAlign != 0 {
		return nil, errors.Corrupt("code offset %d not %d-byte aligned", codeOffset, codeAlign)
	}
	end := int64(codeOffset) + int64(codeSize) + int64(metaSize)
	if end > int64(len(data)) {
		return nil, errors.Truncated("payload")
	}
	if end < int64(len(data)) {
		return nil, errors.Corrupt("%d trailing bytes after payload", int64(len(data))-end)
	}

	code := data[codeOffset : uint64(codeOffset)+uint64(codeSize) : uint64(codeOffset)+uint64(codeSize)]
	compressed := data[uint64(codeOffset)+uint64(codeSize):]

	hash := xxhash.New()
	hash.Write(code)
	hash.Write(compressed)
	if got := hash.Sum64(); got != wantHash {
		return nil, errors.HashMismatch(wantHash, got)
	}

	raw, err := zstdDecoder.DecodeAll(compressed, nil)
	if err != nil {
		return nil, corrupt(err, "metadata section does not decompress")
	}
	sec, err := decodeSection(raw)
	if err != nil {
		return nil, corrupt(err, "metadata section invalid")
	}

	a, err := New(Config{
		Metadata:     sec.module,
		Target:       tgt,
		EngineID:     sec.engineID,
		Code:         code,
		Mapping:      mapping,
		FuncTable:    sec.funcTable,
		AddrMap:      sec.addrMap,
		MemoryStyles: sec.memStyles,
		TableStyles:  sec.tabStyles,
	})
	if err != nil {
		return nil, corrupt(err, "metadata inconsistent")
	}
	return a, nil
}

func corrupt(cause error, detail string) *errors.Error {
	return errors.New(errors.PhaseDeserialize, errors.KindCorrupt).Detail(detail).Cause(cause).Build()
}
