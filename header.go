// Header encoding, validation, and redundant-copy recovery.
//
// The first ten blocks of an archive are header copies: A at offset 0,
// B at blockSize, and eight rotating slots C₀..C₇ behind them. A commit
// rewrites A, B, and the slot selected by snapshotSequence mod 8, so a
// torn write can destroy at most one generation in one place. Open
// scans all ten copies and adopts the valid one with the highest
// snapshot sequence.
//
// Each copy is one block: a fixed binary prefix (magic, version,
// geometry, snapshot sequence, file id), a zstd-compressed JSON
// metadata region, zero padding, and a trailing 8-byte digest over
// everything before it. The digest algorithm is recorded in the prefix
// so readers validate with the writer's choice.
package tsarc

import (
	"bytes"
	"encoding/binary"
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// headerCopies is the number of redundant header blocks at the start
// of every archive. endOfHeader = headerCopies × blockSize.
const headerCopies = 10

// rotatingSlots is the number of C slots; the commit path writes slot
// (snapshotSequence mod rotatingSlots) + 2.
const rotatingSlots = 8

// headerMagic identifies a tsarc header copy.
var headerMagic = [8]byte{'T', 'S', 'A', 'R', 'C', 'H', 'V', '1'}

// headerVersion is the current on-disk format version.
const headerVersion = 1

// Fixed prefix layout. The digest occupies the last 8 bytes of the
// block; metadata fills the gap between prefix and digest.
const (
	hdrOffMagic     = 0
	hdrOffVersion   = 8  // u16
	hdrOffChecksum  = 10 // u8 algorithm
	hdrOffBlockSize = 12 // u32
	hdrOffLastBlock = 16 // u64
	hdrOffSnapshot  = 24 // u64
	hdrOffFileID    = 32 // 16 bytes
	hdrOffMetaLen   = 48 // u32
	hdrOffMeta      = 52
)

// Header is the archive's durable metadata. Callers obtain a copy via
// Archive.Header, advance LastAllocatedBlock, and hand it to
// CommitWithHeader; the archive owns the snapshot sequence.
type Header struct {
	Version            int
	Checksum           int // digest algorithm for this copy
	BlockSize          uint32
	LastAllocatedBlock uint64
	SnapshotSequence   uint64
	FileID             uuid.UUID
	Metadata           map[string]string
}

// Shared zstd encoder/decoder for the metadata region. Both are safe
// for concurrent use and expensive to construct, so they are allocated
// once. SpeedFastest: metadata is rewritten three times per commit.
var (
	metaEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	metaDecoder, _ = zstd.NewReader(nil)
)

// encodeMetadata serialises the metadata map to compressed bytes.
// An empty or nil map encodes to zero bytes.
func encodeMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return metaEncoder.EncodeAll(raw, nil), nil
}

// decodeMetadata is the inverse of encodeMetadata.
func decodeMetadata(buf []byte) (map[string]string, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	raw, err := metaDecoder.DecodeAll(buf, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: metadata zstd: %w", ErrCorruptHeader, err)
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: metadata json: %w", ErrCorruptHeader, err)
	}
	return m, nil
}

// encode serialises the header to exactly one block. Fails with
// ErrMetadataTooLarge when the compressed metadata cannot fit between
// the prefix and the digest.
func (h *Header) encode(blockSize int) ([]byte, error) {
	meta, err := encodeMetadata(h.Metadata)
	if err != nil {
		return nil, err
	}
	if hdrOffMeta+len(meta) > blockSize-8 {
		return nil, ErrMetadataTooLarge
	}

	buf := make([]byte, blockSize)
	copy(buf[hdrOffMagic:], headerMagic[:])
	binary.LittleEndian.PutUint16(buf[hdrOffVersion:], uint16(h.Version))
	buf[hdrOffChecksum] = byte(h.Checksum)
	binary.LittleEndian.PutUint32(buf[hdrOffBlockSize:], h.BlockSize)
	binary.LittleEndian.PutUint64(buf[hdrOffLastBlock:], h.LastAllocatedBlock)
	binary.LittleEndian.PutUint64(buf[hdrOffSnapshot:], h.SnapshotSequence)
	copy(buf[hdrOffFileID:], h.FileID[:])
	binary.LittleEndian.PutUint32(buf[hdrOffMetaLen:], uint32(len(meta)))
	copy(buf[hdrOffMeta:], meta)

	digest := checksum(buf[:blockSize-8], h.Checksum)
	binary.LittleEndian.PutUint64(buf[blockSize-8:], digest)
	return buf, nil
}

// decodeHeader parses and validates one header copy. The buffer length
// is the candidate block size; a copy whose stored block size
// disagrees is rejected.
func decodeHeader(buf []byte) (*Header, error) {
	if len(buf) < hdrOffMeta+8 {
		return nil, ErrCorruptHeader
	}
	if !bytes.Equal(buf[hdrOffMagic:hdrOffMagic+8], headerMagic[:]) {
		return nil, ErrCorruptHeader
	}

	h := &Header{
		Version:            int(binary.LittleEndian.Uint16(buf[hdrOffVersion:])),
		Checksum:           int(buf[hdrOffChecksum]),
		BlockSize:          binary.LittleEndian.Uint32(buf[hdrOffBlockSize:]),
		LastAllocatedBlock: binary.LittleEndian.Uint64(buf[hdrOffLastBlock:]),
		SnapshotSequence:   binary.LittleEndian.Uint64(buf[hdrOffSnapshot:]),
	}
	copy(h.FileID[:], buf[hdrOffFileID:hdrOffFileID+16])

	if h.Version != headerVersion {
		return nil, ErrCorruptHeader
	}
	if h.Checksum != ChecksumXXH3 && h.Checksum != ChecksumBlake2b {
		return nil, ErrCorruptHeader
	}
	if int(h.BlockSize) != len(buf) {
		return nil, ErrCorruptHeader
	}

	want := binary.LittleEndian.Uint64(buf[len(buf)-8:])
	if checksum(buf[:len(buf)-8], h.Checksum) != want {
		return nil, ErrCorruptHeader
	}

	metaLen := int(binary.LittleEndian.Uint32(buf[hdrOffMetaLen:]))
	if metaLen < 0 || hdrOffMeta+metaLen > len(buf)-8 {
		return nil, ErrCorruptHeader
	}
	meta, err := decodeMetadata(buf[hdrOffMeta : hdrOffMeta+metaLen])
	if err != nil {
		return nil, err
	}
	h.Metadata = meta
	return h, nil
}

// plausibleBlockSize bounds the geometry probe at open: power of two
// between 512 bytes and 1 MiB.
func plausibleBlockSize(bs int) bool {
	return bs >= 512 && bs <= 1<<20 && bs&(bs-1) == 0
}

// recoverHeader scans all ten copies and returns the valid one with
// the highest snapshot sequence. The block size needed to locate
// copies B onward comes from copy A's prefix when it looks sane,
// falling back to the caller's hint — the prefix is read before
// validation, so a corrupt copy A still usually points at the right
// geometry.
func recoverHeader(q *ioQueue, hintBlockSize int) (*Header, error) {
	prefix := make([]byte, hdrOffBlockSize+4)
	if err := q.readPage(0, prefix); err != nil {
		return nil, err
	}
	candidates := []int{}
	if bs := int(binary.LittleEndian.Uint32(prefix[hdrOffBlockSize:])); plausibleBlockSize(bs) {
		candidates = append(candidates, bs)
	}
	if plausibleBlockSize(hintBlockSize) && (len(candidates) == 0 || candidates[0] != hintBlockSize) {
		candidates = append(candidates, hintBlockSize)
	}
	if len(candidates) == 0 {
		return nil, ErrCorruptHeader
	}

	for _, bs := range candidates {
		var best *Header
		buf := make([]byte, bs)
		for i := 0; i < headerCopies; i++ {
			if err := q.readPage(int64(i)*int64(bs), buf); err != nil {
				return nil, err
			}
			h, err := decodeHeader(buf)
			if err != nil {
				continue
			}
			if best == nil || h.SnapshotSequence > best.SnapshotSequence {
				best = h
			}
		}
		if best != nil {
			return best, nil
		}
	}
	return nil, ErrCorruptHeader
}

// commitSlots returns the three header offsets rewritten by a commit:
// copy A, copy B, and the rotating slot picked by the snapshot
// sequence.
func commitSlots(h *Header, blockSize int64) [3]int64 {
	rotating := int64(h.SnapshotSequence%rotatingSlots) + 2
	return [3]int64{0, blockSize, blockSize * rotating}
}
