// footer.go implements the fixed 48-byte SST footer: two block handles
// (metaindex, index) plus an 8-byte magic number, padded to a constant
// width so it can always be read with one trailing read of the file (§4.3).
package block

import "encoding/binary"

// TableMagicNumber is the sole magic number this engine writes and accepts.
// It is the classic LevelDB/Bedrock block-based-table magic, kept fixed so
// files this engine writes are byte-compatible with the wider family (S6).
const TableMagicNumber uint64 = 0xdb4775248b80fb57

// MagicNumberLength is the length of the magic number in bytes.
const MagicNumberLength = 8

// BlockTrailerSize is the size of the per-block trailer: 1 compression-type
// byte followed by a 4-byte masked CRC32C (§4.1).
const BlockTrailerSize = 5

// FooterEncodedLength is the fixed size of the footer: two block handles
// (each up to MaxEncodedLength bytes), zero-padded, followed by the magic
// number.
const FooterEncodedLength = 2*MaxEncodedLength + MagicNumberLength

// Footer is the fixed-size trailer at the end of every SST file.
type Footer struct {
	MetaindexHandle Handle
	IndexHandle     Handle
}

// EncodeTo encodes the footer into its fixed-width on-disk form.
func (f *Footer) EncodeTo() []byte {
	buf := make([]byte, FooterEncodedLength)
	n := 0
	n += copy(buf[n:], f.MetaindexHandle.EncodeToSlice())
	n += copy(buf[n:], f.IndexHandle.EncodeToSlice())
	// Remaining bytes up to the magic number are zero padding, already
	// zero from make().
	binary.LittleEndian.PutUint64(buf[FooterEncodedLength-MagicNumberLength:], TableMagicNumber)
	return buf
}

// DecodeFooter decodes a footer from the trailing FooterEncodedLength bytes
// of an SST file.
func DecodeFooter(data []byte) (*Footer, error) {
	if len(data) != FooterEncodedLength {
		return nil, ErrBadBlockFooter
	}

	magic := binary.LittleEndian.Uint64(data[FooterEncodedLength-MagicNumberLength:])
	if magic != TableMagicNumber {
		return nil, ErrBadBlockFooter
	}

	metaindexHandle, rest, err := DecodeHandle(data)
	if err != nil {
		return nil, err
	}
	indexHandle, _, err := DecodeHandle(rest)
	if err != nil {
		return nil, err
	}

	return &Footer{MetaindexHandle: metaindexHandle, IndexHandle: indexHandle}, nil
}
