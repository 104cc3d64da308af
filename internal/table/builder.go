// Package table implements the SST (sorted-string table) file format: the
// on-disk unit the memtable flushes into and compaction merges (§4.1-§4.4).
//
// A table is a sequence of data blocks holding internal-key/value pairs in
// increasing order, followed by a filter block, a properties block, a
// metaindex block pointing at the two of those, an index block mapping a
// separator key to each data block's handle, and a fixed-length footer
// giving the metaindex and index handles.
package table

import (
	"errors"
	"io"
	"sort"

	"github.com/lumenkv/lumenkv/internal/block"
	"github.com/lumenkv/lumenkv/internal/checksum"
	"github.com/lumenkv/lumenkv/internal/compression"
	"github.com/lumenkv/lumenkv/internal/dbformat"
	"github.com/lumenkv/lumenkv/internal/encoding"
	"github.com/lumenkv/lumenkv/internal/filter"
	"github.com/lumenkv/lumenkv/internal/testutil"
)

// BuilderOptions configures a TableBuilder.
type BuilderOptions struct {
	// BlockSize is the target uncompressed size of a data block.
	BlockSize int

	// BlockRestartInterval is the number of keys between prefix-compression
	// restart points within a block.
	BlockRestartInterval int

	// FilterBitsPerKey controls Bloom filter accuracy; 0 disables the filter.
	FilterBitsPerKey int

	// Compression is the compression type applied to data blocks. The
	// filter, properties, metaindex, and index blocks are always stored
	// uncompressed.
	Compression compression.Type

	// Comparator orders user keys; nil means bytewise order.
	Comparator dbformat.UserKeyComparer
}

// DefaultBuilderOptions returns the standard block size, restart interval,
// and filter density used throughout the engine (§4.1, §4.2).
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{
		BlockSize:            4096,
		BlockRestartInterval: 16,
		FilterBitsPerKey:     10,
		Compression:          compression.NoCompression,
	}
}

// ErrEmptyTable is returned by Finish when no entries were added.
var ErrEmptyTable = errors.New("table: empty table")

// TableBuilder writes a single SST file to w, accepting internal keys in
// non-decreasing order (§4.2).
type TableBuilder struct {
	writer io.Writer
	opts   BuilderOptions
	cmp    dbformat.UserKeyComparer

	dataBlock  *block.Builder
	indexBlock *block.Builder

	filterBuilder *filter.BlockBuilder

	pendingIndexEntry bool
	pendingHandle     block.Handle

	lastKey []byte

	offset     uint64
	numEntries uint64

	numDataBlocks uint64
	rawKeySize    uint64
	rawValueSize  uint64
	dataSize      uint64
	indexSize     uint64
	filterSize    uint64

	finished bool
	err      error
}

// NewTableBuilder returns a TableBuilder that writes to w.
func NewTableBuilder(w io.Writer, opts BuilderOptions) *TableBuilder {
	cmp := opts.Comparator
	if cmp == nil {
		cmp = dbformat.BytewiseCompare
	}

	var fb *filter.BlockBuilder
	if opts.FilterBitsPerKey > 0 {
		fb = filter.NewBlockBuilder(filter.NewBloomFilterPolicy())
	}

	return &TableBuilder{
		writer:        w,
		opts:          opts,
		cmp:           cmp,
		dataBlock:     block.NewBuilder(opts.BlockRestartInterval),
		indexBlock:    block.NewBuilder(opts.BlockRestartInterval),
		filterBuilder: fb,
	}
}

// Add appends an internal key/value pair. REQUIRES: key is strictly greater
// than every key previously passed to Add.
func (tb *TableBuilder) Add(key, value []byte) {
	if tb.err != nil || tb.finished {
		return
	}

	if tb.pendingIndexEntry {
		separator := dbformat.FindShortSeparator(tb.cmp, tb.lastKey, key)
		var handleBuf []byte
		handleBuf = tb.pendingHandle.EncodeTo(handleBuf)
		tb.indexBlock.Add(separator, handleBuf)
		tb.pendingIndexEntry = false
	}

	if tb.filterBuilder != nil {
		tb.filterBuilder.AddKey(dbformat.ExtractUserKey(key))
	}

	tb.lastKey = append(tb.lastKey[:0], key...)
	tb.numEntries++
	tb.rawKeySize += uint64(len(key))
	tb.rawValueSize += uint64(len(value))

	tb.dataBlock.Add(key, value)

	if tb.dataBlock.EstimatedSize() >= tb.opts.BlockSize {
		tb.flushDataBlock()
	}
}

// flushDataBlock writes the current data block to the file and arranges for
// an index entry to be added once the first key of the following block (or
// Finish, for the final block) is known.
func (tb *TableBuilder) flushDataBlock() {
	if tb.dataBlock.Empty() {
		return
	}

	handle, err := tb.writeBlock(tb.dataBlock, blockTypeData)
	if err != nil {
		tb.err = err
		return
	}

	tb.dataSize += handle.Size
	tb.numDataBlocks++
	tb.dataBlock.Reset()

	tb.pendingHandle = handle
	tb.pendingIndexEntry = true

	if tb.filterBuilder != nil {
		tb.filterBuilder.StartBlock(tb.offset, tb.opts.FilterBitsPerKey)
	}
}

// EstimatedSize returns the current estimated file size including all
// flushed blocks and the still-buffered data block.
func (tb *TableBuilder) EstimatedSize() uint64 {
	return tb.offset + uint64(tb.dataBlock.EstimatedSize())
}

// NumEntries returns the number of key/value pairs added so far.
func (tb *TableBuilder) NumEntries() uint64 { return tb.numEntries }

// FileSize returns the number of bytes written to the underlying writer.
func (tb *TableBuilder) FileSize() uint64 { return tb.offset }

// Status returns the first error encountered, if any.
func (tb *TableBuilder) Status() error { return tb.err }

// Abandon releases the builder without finishing the file.
func (tb *TableBuilder) Abandon() { tb.finished = true }

// blockType distinguishes the block kinds that get a compression/checksum
// trailer. Only used to pick whether compression is attempted.
type blockType int

const (
	blockTypeData blockType = iota
	blockTypeIndex
	blockTypeFilter
	blockTypeProperties
	blockTypeMetaindex
)

// writeBlock finishes b, compresses it (data blocks only), appends the
// 5-byte trailer, and writes it to tb.writer, returning its handle.
func (tb *TableBuilder) writeBlock(b *block.Builder, bt blockType) (block.Handle, error) {
	raw := b.Finish()
	return tb.writeRawBlock(raw, bt)
}

func (tb *TableBuilder) writeRawBlock(raw []byte, bt blockType) (block.Handle, error) {
	compressionType := compression.NoCompression
	payload := raw

	if bt == blockTypeData && tb.opts.Compression != compression.NoCompression {
		compressed, err := compression.Compress(tb.opts.Compression, raw)
		if err == nil && len(compressed) < len(raw) {
			payload = compressed
			compressionType = tb.opts.Compression
		}
	}

	trailer := make([]byte, block.BlockTrailerSize)
	trailer[0] = byte(compressionType)
	crc := checksum.Value(payload)
	crc = checksum.Extend(crc, trailer[:1])
	encoding.EncodeFixed32(trailer[1:], checksum.Mask(crc))

	handle := block.Handle{Offset: tb.offset, Size: uint64(len(payload))}

	n, err := tb.writer.Write(payload)
	if err != nil {
		return block.Handle{}, err
	}
	tb.offset += uint64(n)

	n, err = tb.writer.Write(trailer)
	if err != nil {
		return block.Handle{}, err
	}
	tb.offset += uint64(n)

	return handle, nil
}

// Finish flushes the final data block, writes the filter, properties,
// metaindex, and index blocks, then the footer.
func (tb *TableBuilder) Finish() error {
	if tb.err != nil {
		return tb.err
	}
	if tb.finished {
		return errors.New("table: Finish called twice")
	}
	tb.finished = true

	if tb.numEntries == 0 {
		return ErrEmptyTable
	}

	tb.flushDataBlock()
	if tb.err != nil {
		return tb.err
	}

	if tb.pendingIndexEntry {
		successor := dbformat.FindShortSuccessor(tb.lastKey)
		var handleBuf []byte
		handleBuf = tb.pendingHandle.EncodeTo(handleBuf)
		tb.indexBlock.Add(successor, handleBuf)
		tb.pendingIndexEntry = false
	}

	testutil.MaybeKill(testutil.KPSSTClose0)

	var filterHandle block.Handle
	haveFilter := tb.filterBuilder != nil
	if haveFilter {
		filterData := tb.filterBuilder.Finish(tb.opts.FilterBitsPerKey)
		var err error
		filterHandle, err = tb.writeRawBlock(filterData, blockTypeFilter)
		if err != nil {
			tb.err = err
			return err
		}
		tb.filterSize = filterHandle.Size
	}

	propsBlock := tb.buildPropertiesBlock()
	propsHandle, err := tb.writeRawBlock(propsBlock, blockTypeProperties)
	if err != nil {
		tb.err = err
		return err
	}

	type metaEntry struct {
		key    string
		handle block.Handle
	}
	entries := []metaEntry{{PropertiesMetaindexKey, propsHandle}}
	if haveFilter {
		entries = append(entries, metaEntry{FilterMetaindexKeyPrefix + FilterPolicyName, filterHandle})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	metaindexBlock := block.NewBuilder(tb.opts.BlockRestartInterval)
	for _, e := range entries {
		var handleBuf []byte
		handleBuf = e.handle.EncodeTo(handleBuf)
		metaindexBlock.Add([]byte(e.key), handleBuf)
	}
	metaindexHandle, err := tb.writeBlock(metaindexBlock, blockTypeMetaindex)
	if err != nil {
		tb.err = err
		return err
	}

	indexHandle, err := tb.writeBlock(tb.indexBlock, blockTypeIndex)
	if err != nil {
		tb.err = err
		return err
	}
	tb.indexSize = indexHandle.Size

	footer := &block.Footer{MetaindexHandle: metaindexHandle, IndexHandle: indexHandle}
	if _, err := tb.writer.Write(footer.EncodeTo()); err != nil {
		tb.err = err
		return err
	}
	tb.offset += block.FooterEncodedLength

	testutil.MaybeKill(testutil.KPSSTClose1)

	return nil
}

func (tb *TableBuilder) buildPropertiesBlock() []byte {
	b := block.NewBuilder(tb.opts.BlockRestartInterval)
	props := map[string]uint64{
		PropDataSize:      tb.dataSize,
		PropIndexSize:     uint64(tb.indexBlock.EstimatedSize()),
		PropFilterSize:    tb.filterSize,
		PropRawKeySize:    tb.rawKeySize,
		PropRawValueSize:  tb.rawValueSize,
		PropNumDataBlocks: tb.numDataBlocks,
		PropNumEntries:    tb.numEntries,
	}
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		var buf [10]byte
		n := encoding.EncodeVarint64(buf[:], props[k])
		b.Add([]byte(k), buf[:n])
	}
	return b.Finish()
}
