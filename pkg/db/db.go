package db

// Reader is implemented by both a store handle and a transaction: point reads
// and cursors against a read view.
type Reader interface {
	Get(ro *ReadOptions, key []byte) ([]byte, error)
	NewIterator(ro *ReadOptions) (Iterator, error)
}

type Writer interface {
	Put(key, value []byte) error
	Delete(key []byte) error
}

type ReadWriter interface {
	Reader
	Writer
}

// Iterator is a positioned, bidirectional cursor over the keyspace.
// Iterators must be closed after use and must not outlive their source.
type Iterator interface {
	SeekToFirst()
	SeekToLast()
	// Seek positions at the first key >= target.
	Seek(target []byte)
	// SeekForPrev positions at the last key <= target.
	SeekForPrev(target []byte)
	Next()
	Prev()
	Valid() bool
	// Key and Value alias engine memory valid until the next movement.
	Key() ([]byte, error)
	Value() ([]byte, error)
	Err() error
	Refresh() error
	Close() error
}

// Snapshot is a consistent point-in-time read view.
type Snapshot interface {
	Release() error
}
