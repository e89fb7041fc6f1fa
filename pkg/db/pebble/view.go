package pebble

import (
	"io"

	"github.com/cockroachdb/pebble"
)

// ValueView is a reusable buffer for point reads. A read from the engine pins
// the engine's memory instead of copying it; a read served from a
// transaction's pending writes is copied into the view's own buffer, which is
// kept across resets. A pinned view is a dependent of its store.
type ValueView struct {
	owner  *DB
	data   []byte
	buf    []byte
	closer io.Closer
}

func NewValueView() *ValueView {
	return &ValueView{}
}

// Bytes is valid until the view is reset or filled again.
func (v *ValueView) Bytes() []byte {
	return v.data
}

func (v *ValueView) Len() int {
	return len(v.data)
}

// Pinned reports whether the view currently holds engine memory.
func (v *ValueView) Pinned() bool {
	return v.closer != nil
}

// Reset releases any pinned engine memory and empties the view.
func (v *ValueView) Reset() {
	if v.closer != nil {
		_ = v.closer.Close()
		v.closer = nil
		v.owner.dependents.Add(-1)
		v.owner = nil
	}
	v.data = nil
}

// load pins the engine value for key.
func (v *ValueView) load(d *DB, r pebble.Reader, key []byte) error {
	value, closer, err := r.Get(key)
	if err != nil {
		return translate(err)
	}
	d.dependents.Add(1)
	v.owner = d
	v.closer = closer
	v.data = value
	return nil
}

// fill copies value into the view's own buffer.
func (v *ValueView) fill(value []byte) {
	v.buf = append(v.buf[:0], value...)
	v.data = v.buf
}
