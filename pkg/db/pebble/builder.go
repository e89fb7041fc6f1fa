package pebble

import (
	"github.com/cockroachdb/pebble/vfs"

	"github.com/eigerco/kvbridge/pkg/db"
)

// Builder assembles options and opens a store in one chain.
type Builder struct {
	path          string
	opts          *db.Options
	tdbOpts       *db.TransactionDBOptions
	optimistic    bool
	destroyOnExit bool
}

func NewBuilder() *Builder {
	return &Builder{opts: db.DefaultOptions()}
}

func (b *Builder) Path(path string) *Builder {
	b.path = path
	return b
}

func (b *Builder) CreateIfMissing(v bool) *Builder {
	b.opts.CreateIfMissing = v
	return b
}

func (b *Builder) UseBloomFilter(enable bool, bitsPerKey float64, wholeKeyFiltering bool) *Builder {
	if enable {
		b.opts.SetBloomFilter(bitsPerKey, wholeKeyFiltering)
	}
	return b
}

func (b *Builder) UseCappedPrefixExtractor(enable bool, n int) *Builder {
	if enable {
		b.opts.SetCappedPrefixExtractor(n)
	}
	return b
}

func (b *Builder) UseFixedPrefixExtractor(enable bool, n int) *Builder {
	if enable {
		b.opts.SetFixedPrefixExtractor(n)
	}
	return b
}

// UseCustomComparator orders keys with fn. name is persisted with the data.
func (b *Builder) UseCustomComparator(name string, fn db.CompareFunc, diffBytesCanBeEqual bool) *Builder {
	b.opts.SetComparator(db.NewComparator(name, fn, diffBytesCanBeEqual))
	return b
}

// Optimistic selects optimistic transactions for Build.
func (b *Builder) Optimistic(v bool) *Builder {
	b.optimistic = v
	return b
}

// DestroyOnExit removes the store when it is closed, for scratch stores.
func (b *Builder) DestroyOnExit(v bool) *Builder {
	b.destroyOnExit = v
	return b
}

func (b *Builder) TransactionDBOptions(o *db.TransactionDBOptions) *Builder {
	b.tdbOpts = o
	return b
}

func (b *Builder) FS(fs vfs.FS) *Builder {
	b.opts.FS = fs
	return b
}

// Options exposes the options being built for settings without a shortcut.
func (b *Builder) Options() *db.Options {
	return b.opts
}

// Build opens a transactional store, lock-based unless Optimistic was set.
func (b *Builder) Build() (*DB, error) {
	var (
		d   *DB
		err error
	)
	if b.optimistic {
		d, err = OpenOptimisticTransactionDB(b.path, b.opts)
	} else {
		d, err = OpenTransactionDB(b.path, b.opts, b.tdbOpts)
	}
	if err != nil {
		return nil, err
	}
	d.destroyOnExit = b.destroyOnExit
	return d, nil
}

// BuildRaw opens a plain store without transactions.
func (b *Builder) BuildRaw() (*DB, error) {
	d, err := Open(b.path, b.opts)
	if err != nil {
		return nil, err
	}
	d.destroyOnExit = b.destroyOnExit
	return d, nil
}
