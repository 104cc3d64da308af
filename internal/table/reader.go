// reader.go opens and reads an SST file written by TableBuilder:
//
//	[data block 1]
//	[data block 2]
//	...
//	[data block N]
//	[filter block]      (optional)
//	[properties block]
//	[metaindex block]
//	[index block]
//	[footer]            (fixed size, at end of file)
package table

import (
	"errors"
	"fmt"

	"github.com/lumenkv/lumenkv/internal/block"
	"github.com/lumenkv/lumenkv/internal/cache"
	"github.com/lumenkv/lumenkv/internal/checksum"
	"github.com/lumenkv/lumenkv/internal/compression"
	"github.com/lumenkv/lumenkv/internal/encoding"
	"github.com/lumenkv/lumenkv/internal/filter"
)

var (
	// ErrInvalidSST indicates the file is not a valid SST file.
	ErrInvalidSST = errors.New("table: invalid SST file")

	// ErrChecksumMismatch indicates a block checksum verification failed.
	ErrChecksumMismatch = errors.New("table: checksum mismatch")
)

// ReadableFile is the random-access file a Reader opens an SST from.
type ReadableFile interface {
	// Close closes the file.
	Close() error

	// ReadAt reads len(p) bytes from the file starting at offset.
	ReadAt(p []byte, off int64) (n int, err error)

	// Size returns the total size of the file.
	Size() int64
}

// ReaderOptions controls the behavior of the table reader.
type ReaderOptions struct {
	// VerifyChecksums enables checksum verification on every block read.
	VerifyChecksums bool

	// BlockCache, when set, caches decoded block payloads keyed by file
	// number and block offset (§4.4), so a hit skips the disk read,
	// checksum verification, and decompression entirely. Shared across
	// every Reader opened with these options.
	BlockCache cache.Cache
}

// Reader reads an SST file written by TableBuilder.
type Reader struct {
	file    ReadableFile
	size    int64
	options ReaderOptions

	// fileNumber identifies this table's blocks in the shared block cache.
	// Set by TableCache after Open; zero for a Reader opened directly.
	fileNumber uint64
	blockCache cache.Cache

	footer *block.Footer

	propertiesHandle block.Handle
	filterHandle     block.Handle
	hasFilter        bool

	indexBlock *block.Block
	properties *TableProperties

	filterReader *filter.BlockReader
}

// Open opens an SST file for reading: it reads the footer, the metaindex
// block, the index block, and, if present, the filter block.
func Open(file ReadableFile, opts ReaderOptions) (*Reader, error) {
	size := file.Size()
	if size < int64(block.FooterEncodedLength) {
		return nil, ErrInvalidSST
	}

	r := &Reader{file: file, size: size, options: opts, blockCache: opts.BlockCache}

	if err := r.readFooter(); err != nil {
		return nil, err
	}
	if err := r.readMetaindex(); err != nil {
		return nil, err
	}
	if err := r.readIndex(); err != nil {
		return nil, err
	}
	r.readFilter()

	return r, nil
}

func (r *Reader) readFooter() error {
	buf := make([]byte, block.FooterEncodedLength)
	offset := r.size - int64(block.FooterEncodedLength)
	if _, err := r.file.ReadAt(buf, offset); err != nil {
		return err
	}

	footer, err := block.DecodeFooter(buf)
	if err != nil {
		return err
	}
	r.footer = footer
	return nil
}

func (r *Reader) readMetaindex() error {
	metaBlock, err := r.readBlock(r.footer.MetaindexHandle)
	if err != nil {
		return err
	}

	it := metaBlock.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		handle, _, err := block.DecodeHandle(it.Value())
		if err != nil {
			return err
		}
		key := string(it.Key())
		switch {
		case key == PropertiesMetaindexKey:
			r.propertiesHandle = handle
		case len(key) > len(FilterMetaindexKeyPrefix) && key[:len(FilterMetaindexKeyPrefix)] == FilterMetaindexKeyPrefix:
			r.filterHandle = handle
			r.hasFilter = true
		}
	}
	return it.Error()
}

func (r *Reader) readIndex() error {
	indexBlock, err := r.readBlock(r.footer.IndexHandle)
	if err != nil {
		return err
	}
	r.indexBlock = indexBlock
	return nil
}

func (r *Reader) readFilter() {
	if !r.hasFilter {
		return
	}
	filterBlock, err := r.readRawBlock(r.filterHandle)
	if err != nil {
		return
	}
	r.filterReader = filter.NewBlockReader(filter.NewBloomFilterPolicy(), filterBlock)
}

// KeyMayMatch reports whether userKey may be present in the data block
// beginning at blockOffset, per the table's filter block. Returns true
// (may match) when the table has no filter.
func (r *Reader) KeyMayMatch(blockOffset uint64, userKey []byte) bool {
	if r.filterReader == nil {
		return true
	}
	return r.filterReader.KeyMayMatch(blockOffset, userKey)
}

// HasFilter reports whether this table has a Bloom filter block.
func (r *Reader) HasFilter() bool {
	return r.filterReader != nil
}

// maxBlockSize guards against allocating absurd amounts of memory for a
// corrupted block handle.
const maxBlockSize = 256 * 1024 * 1024

// readRawBlock reads, checksum-verifies, and decompresses the block at
// handle, returning its raw payload (entries + restarts, trailer stripped).
func (r *Reader) readRawBlock(handle block.Handle) ([]byte, error) {
	const maxInt64AsUint64 = ^uint64(0) >> 1
	if handle.Offset > maxInt64AsUint64 {
		return nil, fmt.Errorf("block offset %d exceeds maximum: %w", handle.Offset, ErrInvalidSST)
	}
	if handle.Size > maxBlockSize {
		return nil, fmt.Errorf("block size %d exceeds maximum: %w", handle.Size, ErrInvalidSST)
	}

	totalSize := int(handle.Size) + block.BlockTrailerSize
	end := handle.Offset + uint64(totalSize)
	if end < handle.Offset || end > uint64(r.size) {
		return nil, fmt.Errorf("block at offset %d size %d exceeds file size %d: %w",
			handle.Offset, totalSize, r.size, ErrInvalidSST)
	}

	buf := make([]byte, totalSize)
	n, err := r.file.ReadAt(buf, int64(handle.Offset))
	if err != nil {
		return nil, err
	}
	if n < totalSize {
		return nil, ErrInvalidSST
	}

	payload := buf[:handle.Size]
	compressionTag := buf[len(buf)-block.BlockTrailerSize]
	storedChecksum := encoding.DecodeFixed32(buf[len(buf)-4:])

	if r.options.VerifyChecksums {
		crc := checksum.Value(payload)
		crc = checksum.Extend(crc, buf[len(buf)-block.BlockTrailerSize:len(buf)-4])
		if checksum.Mask(crc) != storedChecksum {
			return nil, ErrChecksumMismatch
		}
	}

	compressionType := compression.Type(compressionTag)
	if compressionType == compression.NoCompression {
		return payload, nil
	}
	return compression.Decompress(compressionType, payload, 0)
}

func (r *Reader) readBlock(handle block.Handle) (*block.Block, error) {
	data, err := r.readRawBlockCached(handle)
	if err != nil {
		return nil, err
	}
	return block.NewBlock(data)
}

// readRawBlockCached is readRawBlock fronted by the block cache (§4.4): a
// cache hit returns the already checksum-verified, already decompressed
// payload without touching the file.
func (r *Reader) readRawBlockCached(handle block.Handle) ([]byte, error) {
	if r.blockCache == nil {
		return r.readRawBlock(handle)
	}

	key := cache.CacheKey{FileNumber: r.fileNumber, BlockOffset: handle.Offset}
	if h := r.blockCache.Lookup(key); h != nil {
		data := h.Value()
		r.blockCache.Release(h)
		return data, nil
	}

	data, err := r.readRawBlock(handle)
	if err != nil {
		return nil, err
	}
	h := r.blockCache.Insert(key, data, uint64(len(data)))
	r.blockCache.Release(h)
	return data, nil
}

// NewIterator returns an iterator over the table's internal-key/value
// pairs. It starts invalid; call SeekToFirst, SeekToLast, or Seek first.
func (r *Reader) NewIterator() *TableIterator {
	return &TableIterator{
		reader:    r,
		indexIter: r.indexBlock.NewIterator(),
	}
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// Footer returns the table's footer.
func (r *Reader) Footer() *block.Footer {
	return r.footer
}

// Properties parses and returns the table's properties block, caching the
// result after the first call.
func (r *Reader) Properties() (*TableProperties, error) {
	if r.properties != nil {
		return r.properties, nil
	}
	data, err := r.readRawBlock(r.propertiesHandle)
	if err != nil {
		return nil, err
	}
	props, err := ParsePropertiesBlock(data)
	if err != nil {
		return nil, err
	}
	r.properties = props
	return props, nil
}

// TableIterator iterates over a table's internal-key/value pairs via a
// two-level scheme: an index-block iterator selects the current data
// block, whose own iterator is transparently advanced across (§4.3).
type TableIterator struct {
	reader    *Reader
	indexIter *block.Iterator

	dataBlock *block.Block
	dataIter  *block.Iterator

	err error
}

// Valid reports whether the iterator is positioned at an entry.
func (it *TableIterator) Valid() bool {
	return it.dataIter != nil && it.dataIter.Valid()
}

// SeekToFirst positions the iterator at the table's first entry.
func (it *TableIterator) SeekToFirst() {
	it.indexIter.SeekToFirst()
	it.loadDataBlock()
	if it.dataIter != nil {
		it.dataIter.SeekToFirst()
	}
}

// SeekToLast positions the iterator at the table's last entry.
func (it *TableIterator) SeekToLast() {
	it.indexIter.SeekToLast()
	it.loadDataBlock()
	if it.dataIter != nil {
		it.dataIter.SeekToLast()
	}
}

// Seek positions the iterator at the first entry with an internal key >=
// target.
func (it *TableIterator) Seek(target []byte) {
	it.indexIter.Seek(target)
	if !it.indexIter.Valid() {
		it.dataBlock = nil
		it.dataIter = nil
		return
	}
	it.loadDataBlock()
	if it.dataIter != nil {
		it.dataIter.Seek(target)
		if !it.dataIter.Valid() {
			// target fell after the last key in this block; the index
			// separator guarantees the next block (if any) starts there.
			it.indexIter.Next()
			it.loadDataBlock()
			if it.dataIter != nil {
				it.dataIter.SeekToFirst()
			}
		}
	}
}

// Next advances to the next entry, crossing into the following data block
// if the current one is exhausted.
func (it *TableIterator) Next() {
	if it.dataIter == nil {
		return
	}
	it.dataIter.Next()
	if !it.dataIter.Valid() {
		it.indexIter.Next()
		it.loadDataBlock()
		if it.dataIter != nil {
			it.dataIter.SeekToFirst()
		}
	}
}

// Prev moves to the previous entry, crossing into the preceding data block
// if the current one is exhausted.
func (it *TableIterator) Prev() {
	if it.dataIter == nil {
		return
	}
	it.dataIter.Prev()
	if !it.dataIter.Valid() {
		it.indexIter.Prev()
		it.loadDataBlock()
		if it.dataIter != nil {
			it.dataIter.SeekToLast()
		}
	}
}

// Key returns the current entry's internal key.
func (it *TableIterator) Key() []byte {
	if it.dataIter == nil {
		return nil
	}
	return it.dataIter.Key()
}

// Value returns the current entry's value.
func (it *TableIterator) Value() []byte {
	if it.dataIter == nil {
		return nil
	}
	return it.dataIter.Value()
}

// Error returns any error encountered during iteration.
func (it *TableIterator) Error() error {
	if it.err != nil {
		return it.err
	}
	return it.indexIter.Error()
}

func (it *TableIterator) loadDataBlock() {
	if !it.indexIter.Valid() {
		it.dataBlock = nil
		it.dataIter = nil
		return
	}

	handle, _, err := block.DecodeHandle(it.indexIter.Value())
	if err != nil {
		it.err = err
		it.dataBlock = nil
		it.dataIter = nil
		return
	}

	dataBlock, err := it.reader.readBlock(handle)
	if err != nil {
		it.err = err
		it.dataBlock = nil
		it.dataIter = nil
		return
	}

	it.dataBlock = dataBlock
	it.dataIter = dataBlock.NewIterator()
}
