// properties.go implements the table properties block: a small set of
// summary statistics written at the end of every SST file, used by
// compaction scoring and diagnostics without needing to scan data blocks.
package table

import (
	"github.com/lumenkv/lumenkv/internal/block"
	"github.com/lumenkv/lumenkv/internal/encoding"
)

// Property names stored in the properties block.
const (
	PropDataSize      = "lumenkv.data.size"
	PropIndexSize     = "lumenkv.index.size"
	PropFilterSize    = "lumenkv.filter.size"
	PropRawKeySize    = "lumenkv.raw.key.size"
	PropRawValueSize  = "lumenkv.raw.value.size"
	PropNumDataBlocks = "lumenkv.num.data.blocks"
	PropNumEntries    = "lumenkv.num.entries"
)

// PropertiesMetaindexKey is the metaindex block key pointing at the
// properties block.
const PropertiesMetaindexKey = "lumenkv.properties"

// FilterMetaindexKeyPrefix precedes the filter policy name in the
// metaindex key pointing at the filter block.
const FilterMetaindexKeyPrefix = "filter."

// FilterPolicyName is the name of the only filter policy this engine
// builds tables with.
const FilterPolicyName = "leveldb.BuiltinBloomFilter"

// TableProperties holds the parsed contents of a table's properties block.
type TableProperties struct {
	DataSize      uint64
	IndexSize     uint64
	FilterSize    uint64
	RawKeySize    uint64
	RawValueSize  uint64
	NumDataBlocks uint64
	NumEntries    uint64
}

// ParsePropertiesBlock decodes a properties block's entries into a
// TableProperties. Unknown keys are ignored so future additions don't break
// older readers.
func ParsePropertiesBlock(data []byte) (*TableProperties, error) {
	b, err := block.NewBlock(data)
	if err != nil {
		return nil, err
	}

	props := &TableProperties{}
	it := b.NewIterator()
	for it.SeekToFirst(); it.Valid(); it.Next() {
		value, _, err := encoding.DecodeVarint64(it.Value())
		if err != nil {
			continue
		}
		switch string(it.Key()) {
		case PropDataSize:
			props.DataSize = value
		case PropIndexSize:
			props.IndexSize = value
		case PropFilterSize:
			props.FilterSize = value
		case PropRawKeySize:
			props.RawKeySize = value
		case PropRawValueSize:
			props.RawValueSize = value
		case PropNumDataBlocks:
			props.NumDataBlocks = value
		case PropNumEntries:
			props.NumEntries = value
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}

	return props, nil
}
