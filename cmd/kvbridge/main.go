package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/cockroachdb/errors"

	"github.com/eigerco/kvbridge/pkg/db"
	"github.com/eigerco/kvbridge/pkg/db/pebble"
	"github.com/eigerco/kvbridge/pkg/db/status"
	"github.com/eigerco/kvbridge/pkg/log"
)

type config struct {
	path   string
	mode   string
	op     string
	key    string
	value  string
	end    string
	other  string
	limit  int
	create bool
}

// main runs one maintenance or data operation against a store.
// go run ./cmd/kvbridge -path /tmp/db -op put -key k -value v -create
func main() {
	var cfg config
	flag.StringVar(&cfg.path, "path", "", "store directory")
	flag.StringVar(&cfg.mode, "mode", "plain", "open mode: plain, lock or optimistic")
	flag.StringVar(&cfg.op, "op", "stats", "operation: stats, flush, compact, repair, destroy, scan, get, put, delete, delete-range, checksum, diff")
	flag.StringVar(&cfg.key, "key", "", "key, or range start")
	flag.StringVar(&cfg.value, "value", "", "value for put")
	flag.StringVar(&cfg.end, "end", "", "range end (exclusive)")
	flag.StringVar(&cfg.other, "other", "", "second store directory for diff")
	flag.IntVar(&cfg.limit, "limit", 0, "max keys printed by scan, 0 for all")
	flag.BoolVar(&cfg.create, "create", false, "create the store if missing")
	logLevel := flag.String("log-level", "info", "log level")
	jsonLogs := flag.Bool("json", false, "log as JSON")
	flag.Parse()

	level, err := log.ParseLogLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q: %v\n", *logLevel, err)
		os.Exit(2)
	}
	logType := log.ConsoleLogger
	if *jsonLogs {
		logType = log.JSONLogger
	}
	log.Init(log.Options{LogLevel: level, Type: logType, Out: os.Stderr})

	if cfg.path == "" {
		log.Root.Fatal().Msg("-path is required")
	}
	if err := run(cfg); err != nil {
		s := status.FromError(err)
		log.Root.Error().Err(err).
			Stringer("code", s.Code).
			Stringer("sub_code", s.SubCode).
			Stringer("bridge", s.Bridge).
			Str("op", cfg.op).
			Msg("operation failed")
		os.Exit(1)
	}
}

func run(cfg config) error {
	opts := db.DefaultOptions().SetCreateIfMissing(cfg.create)

	// these work on a closed store
	switch cfg.op {
	case "repair":
		return pebble.Repair(cfg.path, opts)
	case "destroy":
		return pebble.Destroy(cfg.path, opts)
	}

	store, err := open(cfg.path, cfg.mode, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Root.Error().Err(err).Msg("close failed")
		}
	}()

	switch cfg.op {
	case "stats":
		stats, err := store.Stats()
		if err != nil {
			return err
		}
		fmt.Println(stats)
		return nil
	case "flush":
		return store.Flush(db.DefaultFlushOptions())
	case "compact":
		return store.CompactAll()
	case "scan":
		return scan(store, cfg)
	case "get":
		v, err := store.Get(nil, []byte(cfg.key))
		if err != nil {
			return err
		}
		fmt.Printf("%s\n", v)
		return nil
	case "put":
		return store.Put(nil, []byte(cfg.key), []byte(cfg.value))
	case "delete":
		return store.Delete(nil, []byte(cfg.key))
	case "delete-range":
		return store.DeleteRange(nil, []byte(cfg.key), []byte(cfg.end))
	case "checksum":
		sum, err := checksum(store)
		if err != nil {
			return err
		}
		fmt.Printf("%x\n", sum)
		return nil
	case "diff":
		other, err := open(cfg.other, cfg.mode, db.DefaultOptions())
		if err != nil {
			return err
		}
		defer other.Close() //nolint:errcheck // read-only use
		d, err := diff(store, other, cfg.path, cfg.other)
		if err != nil {
			return err
		}
		fmt.Print(d)
		return nil
	default:
		return errors.Newf("unknown operation %q", cfg.op)
	}
}

func open(path, mode string, opts *db.Options) (*pebble.DB, error) {
	switch mode {
	case "plain":
		return pebble.Open(path, opts)
	case "lock":
		return pebble.OpenTransactionDB(path, opts, nil)
	case "optimistic":
		return pebble.OpenOptimisticTransactionDB(path, opts)
	default:
		return nil, errors.Newf("unknown mode %q", mode)
	}
}

func scan(store *pebble.DB, cfg config) error {
	ro := db.DefaultReadOptions()
	if cfg.end != "" {
		ro.SetIterateUpperBound([]byte(cfg.end))
	}
	it, err := store.NewIterator(ro)
	if err != nil {
		return err
	}
	defer it.Close()

	if cfg.key != "" {
		it.Seek([]byte(cfg.key))
	} else {
		it.SeekToFirst()
	}
	for n := 0; it.Valid() && (cfg.limit == 0 || n < cfg.limit); n++ {
		k, err := it.Key()
		if err != nil {
			return err
		}
		v, err := it.Value()
		if err != nil {
			return err
		}
		fmt.Printf("%q\t%q\n", k, v)
		it.Next()
	}
	return it.Err()
}
