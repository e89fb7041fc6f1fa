package main

import (
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"golang.org/x/crypto/blake2b"

	"github.com/eigerco/kvbridge/pkg/db"
	"github.com/eigerco/kvbridge/pkg/db/pebble"
)

// walk visits every pair of the store in key order.
func walk(store *pebble.DB, fn func(k, v []byte)) error {
	it, err := store.NewIterator(db.DefaultReadOptions())
	if err != nil {
		return err
	}
	defer it.Close()

	for it.SeekToFirst(); it.Valid(); it.Next() {
		k, err := it.Key()
		if err != nil {
			return err
		}
		v, err := it.Value()
		if err != nil {
			return err
		}
		fn(k, v)
	}
	return it.Err()
}

// checksum hashes every pair, length-prefixed, so two stores with equal
// contents hash alike whatever their on-disk layout.
func checksum(store *pebble.DB) ([32]byte, error) {
	h, err := blake2b.New256(nil)
	if err != nil {
		return [32]byte{}, err
	}
	var n [binary.MaxVarintLen64]byte
	err = walk(store, func(k, v []byte) {
		h.Write(n[:binary.PutUvarint(n[:], uint64(len(k)))])
		h.Write(k)
		h.Write(n[:binary.PutUvarint(n[:], uint64(len(v)))])
		h.Write(v)
	})
	if err != nil {
		return [32]byte{}, err
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// dump renders one quoted pair per line.
func dump(store *pebble.DB) (string, error) {
	var b strings.Builder
	err := walk(store, func(k, v []byte) {
		fmt.Fprintf(&b, "%q\t%q\n", k, v)
	})
	return b.String(), err
}

// diff returns a unified diff of the contents of two stores, empty when they
// hold the same pairs.
func diff(a, b *pebble.DB, nameA, nameB string) (string, error) {
	dumpA, err := dump(a)
	if err != nil {
		return "", err
	}
	dumpB, err := dump(b)
	if err != nil {
		return "", err
	}
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(dumpA),
		B:        difflib.SplitLines(dumpB),
		FromFile: nameA,
		ToFile:   nameB,
		Context:  1,
	})
}
