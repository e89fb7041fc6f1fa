package db

import (
	"time"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/rs/zerolog"
)

// Compression selects the block compression used for tables.
type Compression uint8

const (
	DefaultCompression Compression = iota
	NoCompression
	SnappyCompression
	ZstdCompression
)

// Options configures a store. Setters only assign; the engine validates the
// resulting configuration when the store is opened.
type Options struct {
	CreateIfMissing bool
	ParanoidChecks  bool

	// Blob settings are recorded for compatibility; the pebble engine stores
	// values inline and ignores them.
	EnableBlobFiles             bool
	MinBlobSize                 uint64
	BlobFileSize                uint64
	EnableBlobGarbageCollection bool

	// Comparator must outlive every store opened with these options and must
	// never change for existing data.
	Comparator *Comparator

	BloomFilter        bool
	BloomBitsPerKey    float64
	WholeKeyFiltering  bool
	PrefixExtractor    PrefixExtractor
	Compression        Compression
	MemTableSize       uint64
	MaxOpenFiles       int
	DisableWAL         bool
	DisableAutoCompact bool

	L0CompactionThreshold    int
	L0StopWritesThreshold    int
	LBaseMaxBytes            int64
	TargetFileSize           int64
	MaxConcurrentCompactions int
	MemTableStopWrites       int

	// FS overrides the filesystem, vfs.NewMem() keeps the store in memory.
	FS     vfs.FS
	Logger *zerolog.Logger
}

// DefaultOptions returns options with every engine default in place.
func DefaultOptions() *Options {
	return &Options{WholeKeyFiltering: true}
}

func (o *Options) SetCreateIfMissing(v bool) *Options {
	o.CreateIfMissing = v
	return o
}

func (o *Options) SetParanoidChecks(v bool) *Options {
	o.ParanoidChecks = v
	return o
}

func (o *Options) SetEnableBlobFiles(v bool) *Options {
	o.EnableBlobFiles = v
	return o
}

func (o *Options) SetMinBlobSize(size uint64) *Options {
	o.MinBlobSize = size
	return o
}

func (o *Options) SetBlobFileSize(size uint64) *Options {
	o.BlobFileSize = size
	return o
}

func (o *Options) SetEnableBlobGarbageCollection(v bool) *Options {
	o.EnableBlobGarbageCollection = v
	return o
}

// SetComparator attaches a caller-supplied key ordering.
func (o *Options) SetComparator(c *Comparator) *Options {
	o.Comparator = c
	return o
}

// SetBloomFilter installs a bloom filter policy on every level.
func (o *Options) SetBloomFilter(bitsPerKey float64, wholeKeyFiltering bool) *Options {
	o.BloomFilter = true
	o.BloomBitsPerKey = bitsPerKey
	o.WholeKeyFiltering = wholeKeyFiltering
	return o
}

// SetFixedPrefixExtractor uses the first n bytes of each key as its prefix.
func (o *Options) SetFixedPrefixExtractor(n int) *Options {
	o.PrefixExtractor = NewFixedPrefixExtractor(n)
	return o
}

// SetCappedPrefixExtractor uses at most n leading bytes of each key as its prefix.
func (o *Options) SetCappedPrefixExtractor(n int) *Options {
	o.PrefixExtractor = NewCappedPrefixExtractor(n)
	return o
}

func (o *Options) SetCompression(c Compression) *Options {
	o.Compression = c
	return o
}

func (o *Options) SetMemTableSize(size uint64) *Options {
	o.MemTableSize = size
	return o
}

func (o *Options) SetMaxOpenFiles(n int) *Options {
	o.MaxOpenFiles = n
	return o
}

func (o *Options) SetDisableWAL(v bool) *Options {
	o.DisableWAL = v
	return o
}

func (o *Options) SetFS(fs vfs.FS) *Options {
	o.FS = fs
	return o
}

func (o *Options) SetLogger(l *zerolog.Logger) *Options {
	o.Logger = l
	return o
}

// PrepareForBulkLoad turns off automatic compactions and lifts the L0
// triggers so a large ingest is not throttled. Compact afterwards.
func (o *Options) PrepareForBulkLoad() *Options {
	o.DisableAutoCompact = true
	o.L0CompactionThreshold = 1 << 30
	o.L0StopWritesThreshold = 1 << 30
	o.MemTableSize = 256 << 20
	o.MemTableStopWrites = 6
	o.MaxOpenFiles = -1
	return o
}

// IncreaseParallelism lets the engine run up to n concurrent compactions.
func (o *Options) IncreaseParallelism(n int) *Options {
	if n < 1 {
		n = 1
	}
	o.MaxConcurrentCompactions = n
	return o
}

// OptimizeLevelStyleCompaction sizes memtables and levels around a memtable
// memory budget; 0 selects 512MB.
func (o *Options) OptimizeLevelStyleCompaction(memtableBudget uint64) *Options {
	if memtableBudget == 0 {
		memtableBudget = 512 << 20
	}
	o.MemTableSize = memtableBudget / 4
	o.MemTableStopWrites = 6
	o.L0CompactionThreshold = 2
	o.TargetFileSize = int64(memtableBudget / 8)
	o.LBaseMaxBytes = int64(memtableBudget)
	if o.Compression == DefaultCompression {
		o.Compression = SnappyCompression
	}
	return o
}

// ReadOptions configures point reads and cursors.
type ReadOptions struct {
	// VerifyChecksums is always on in the pebble engine; the flag is kept so
	// callers can express intent.
	VerifyChecksums   bool
	TotalOrderSeek    bool
	PrefixSameAsStart bool
	AutoPrefixMode    bool

	// Snapshot pins reads to a point in time. Nil reads the latest state.
	Snapshot Snapshot

	IterateLowerBound []byte
	IterateUpperBound []byte
}

// DefaultReadOptions returns read options with checksum verification on.
func DefaultReadOptions() *ReadOptions {
	return &ReadOptions{VerifyChecksums: true}
}

func (o *ReadOptions) SetVerifyChecksums(v bool) *ReadOptions {
	o.VerifyChecksums = v
	return o
}

func (o *ReadOptions) SetTotalOrderSeek(v bool) *ReadOptions {
	o.TotalOrderSeek = v
	return o
}

func (o *ReadOptions) SetPrefixSameAsStart(v bool) *ReadOptions {
	o.PrefixSameAsStart = v
	return o
}

func (o *ReadOptions) SetAutoPrefixMode(v bool) *ReadOptions {
	o.AutoPrefixMode = v
	return o
}

func (o *ReadOptions) SetSnapshot(s Snapshot) *ReadOptions {
	o.Snapshot = s
	return o
}

// SetIterateLowerBound restricts cursors to keys >= bound.
func (o *ReadOptions) SetIterateLowerBound(bound []byte) *ReadOptions {
	o.IterateLowerBound = bound
	return o
}

// SetIterateUpperBound restricts cursors to keys < bound.
func (o *ReadOptions) SetIterateUpperBound(bound []byte) *ReadOptions {
	o.IterateUpperBound = bound
	return o
}

// WriteOptions configures a single write or a transaction commit.
type WriteOptions struct {
	// DisableWAL skips the durability barrier for this write. Pebble has no
	// per-write WAL bypass, so the write is logged but not synced.
	DisableWAL bool
	Sync       bool
}

// DefaultWriteOptions returns write options that sync each write.
func DefaultWriteOptions() *WriteOptions {
	return &WriteOptions{Sync: true}
}

func (o *WriteOptions) SetDisableWAL(v bool) *WriteOptions {
	o.DisableWAL = v
	return o
}

func (o *WriteOptions) SetSync(v bool) *WriteOptions {
	o.Sync = v
	return o
}

// FlushOptions configures a memtable flush.
type FlushOptions struct {
	Wait            bool
	AllowWriteStall bool
}

// DefaultFlushOptions returns flush options that wait for completion.
func DefaultFlushOptions() *FlushOptions {
	return &FlushOptions{Wait: true}
}

func (o *FlushOptions) SetWait(v bool) *FlushOptions {
	o.Wait = v
	return o
}

func (o *FlushOptions) SetAllowWriteStall(v bool) *FlushOptions {
	o.AllowWriteStall = v
	return o
}

// TransactionOptions configures a lock-based transaction.
type TransactionOptions struct {
	SetSnapshot         bool
	DeadlockDetect      bool
	DeadlockDetectDepth int

	// LockTimeout bounds each lock wait. Negative uses the store default,
	// zero fails immediately on contention.
	LockTimeout time.Duration
}

// DefaultTransactionOptions returns options with deadlock detection off and
// the store's lock timeout.
func DefaultTransactionOptions() *TransactionOptions {
	return &TransactionOptions{
		DeadlockDetectDepth: 50,
		LockTimeout:         -1,
	}
}

func (o *TransactionOptions) SetSetSnapshot(v bool) *TransactionOptions {
	o.SetSnapshot = v
	return o
}

func (o *TransactionOptions) SetDeadlockDetect(v bool) *TransactionOptions {
	o.DeadlockDetect = v
	return o
}

func (o *TransactionOptions) SetDeadlockDetectDepth(depth int) *TransactionOptions {
	o.DeadlockDetectDepth = depth
	return o
}

func (o *TransactionOptions) SetLockTimeout(d time.Duration) *TransactionOptions {
	o.LockTimeout = d
	return o
}

// OptimisticTransactionOptions configures an optimistic transaction.
type OptimisticTransactionOptions struct {
	SetSnapshot bool

	// Comparator orders the transaction's tracked key set. Nil uses the
	// store's comparator.
	Comparator *Comparator
}

func DefaultOptimisticTransactionOptions() *OptimisticTransactionOptions {
	return &OptimisticTransactionOptions{}
}

func (o *OptimisticTransactionOptions) SetSetSnapshot(v bool) *OptimisticTransactionOptions {
	o.SetSnapshot = v
	return o
}

func (o *OptimisticTransactionOptions) SetComparator(c *Comparator) *OptimisticTransactionOptions {
	o.Comparator = c
	return o
}

// TransactionDBOptions configures the lock-based facade of a store.
type TransactionDBOptions struct {
	// TransactionLockTimeout is the lock wait used by transactions whose
	// own LockTimeout is negative.
	TransactionLockTimeout time.Duration

	// DefaultLockTimeout is the lock wait used by direct writes.
	DefaultLockTimeout time.Duration

	NumStripes  int
	MaxNumLocks int64
}

func DefaultTransactionDBOptions() *TransactionDBOptions {
	return &TransactionDBOptions{
		TransactionLockTimeout: time.Second,
		DefaultLockTimeout:     time.Second,
		NumStripes:             16,
	}
}

func (o *TransactionDBOptions) SetTransactionLockTimeout(d time.Duration) *TransactionDBOptions {
	o.TransactionLockTimeout = d
	return o
}

func (o *TransactionDBOptions) SetDefaultLockTimeout(d time.Duration) *TransactionDBOptions {
	o.DefaultLockTimeout = d
	return o
}

func (o *TransactionDBOptions) SetNumStripes(n int) *TransactionDBOptions {
	o.NumStripes = n
	return o
}

func (o *TransactionDBOptions) SetMaxNumLocks(n int64) *TransactionDBOptions {
	o.MaxNumLocks = n
	return o
}

// Range is a half-open key range [Start, Limit).
type Range struct {
	Start []byte
	Limit []byte
}
