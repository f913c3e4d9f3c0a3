package badgerdb

import (
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/timshannon/badgerhold/v4"
)

const valueLogGCInterval = 30 * time.Minute

func createDB(dbDir string, logger badger.Logger) (*badgerhold.Store, error) {
	isInMemory := len(dbDir) <= 0

	opts := badger.DefaultOptions(dbDir)
	opts.Logger = logger

	if isInMemory {
		opts.InMemory = true
	} else {
		opts.Compression = options.ZSTD
	}

	db, err := badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
	if err != nil {
		return nil, err
	}

	if !isInMemory {
		go runValueLogGC(db, logger)
	}

	return db, nil
}

func runValueLogGC(db *badgerhold.Store, logger badger.Logger) {
	ticker := time.NewTicker(valueLogGCInterval)
	defer ticker.Stop()

	for range ticker.C {
		if db.Badger().IsClosed() {
			return
		}
		err := db.Badger().RunValueLogGC(0.5)
		if err != nil && err != badger.ErrNoRewrite && logger != nil {
			logger.Errorf("%s", err)
		}
	}
}
