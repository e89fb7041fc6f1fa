package pebble

import (
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/bloom"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/eigerco/kvbridge/pkg/db"
	"github.com/eigerco/kvbridge/pkg/log"
)

const numLevels = 7

// defaultBloomBitsPerKey is used when a filter is requested without a size.
const defaultBloomBitsPerKey = 10

// engineOptions translates db.Options into the engine's options. Fields left
// at their zero value keep the engine default.
func engineOptions(o *db.Options) *pebble.Options {
	opts := &pebble.Options{
		Comparer:                    newComparer(o.Comparator, o.PrefixExtractor),
		FS:                          o.FS,
		ErrorIfNotExists:            !o.CreateIfMissing,
		DisableWAL:                  o.DisableWAL,
		DisableAutomaticCompactions: o.DisableAutoCompact,
		MemTableSize:                o.MemTableSize,
		MemTableStopWritesThreshold: o.MemTableStopWrites,
		L0CompactionThreshold:       o.L0CompactionThreshold,
		L0StopWritesThreshold:       o.L0StopWritesThreshold,
		LBaseMaxBytes:               o.LBaseMaxBytes,
		MaxOpenFiles:                o.MaxOpenFiles,
	}
	if opts.FS == nil {
		opts.FS = vfs.Default
	}
	if n := o.MaxConcurrentCompactions; n > 0 {
		opts.MaxConcurrentCompactions = func() int { return n }
	}
	if o.Logger != nil {
		opts.Logger = log.NewPebbleLogger(*o.Logger)
	} else {
		opts.Logger = log.NewPebbleLogger(log.Storage)
	}

	opts.Levels = make([]pebble.LevelOptions, numLevels)
	for i := range opts.Levels {
		l := &opts.Levels[i]
		l.Compression = engineCompression(o.Compression)
		if o.TargetFileSize > 0 {
			l.TargetFileSize = o.TargetFileSize << i
		}
		// Filters are built over the split prefix, which is the whole key
		// when no extractor is set.
		if o.BloomFilter && (o.WholeKeyFiltering || o.PrefixExtractor != nil) {
			bits := int(o.BloomBitsPerKey)
			if bits <= 0 {
				bits = defaultBloomBitsPerKey
			}
			l.FilterPolicy = bloom.FilterPolicy(bits)
			l.FilterType = pebble.TableFilter
		}
	}
	return opts.EnsureDefaults()
}

func engineCompression(c db.Compression) pebble.Compression {
	switch c {
	case db.NoCompression:
		return pebble.NoCompression
	case db.SnappyCompression:
		return pebble.SnappyCompression
	case db.ZstdCompression:
		return pebble.ZstdCompression
	default:
		return pebble.DefaultCompression
	}
}
