// Package blob stores raw .torrent files keyed by info hash. Scrapers that
// download torrent files feed it; providers that want the raw file instead
// of a magnet read from it.
package blob

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger/v2"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/doingodswork/streamfusion/pkg/catalog"
)

// ErrNotFound is returned for info hashes without a stored torrent file.
var ErrNotFound = errors.New("torrent file not found")

type Store struct {
	db     *badger.DB
	logger *zap.Logger
}

// Open opens the blob store at dir. An empty dir opens an in-memory store
// for tests.
func Open(dir string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("couldn't open torrent blob store: %v", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores a torrent file under its info hash.
func (s *Store) Put(infoHash string, data []byte) error {
	if !catalog.ValidInfoHash(infoHash) {
		return fmt.Errorf("invalid info hash %q", infoHash)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(infoHash), data)
	})
}

// Get returns the stored torrent file, or ErrNotFound.
func (s *Store) Get(infoHash string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(infoHash))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		} else if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	return data, err
}

// Has reports whether a torrent file is stored for the hash.
func (s *Store) Has(infoHash string) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(infoHash))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Export writes every stored torrent file as <hash>.torrent into dir.
func (s *Store) Export(fs afero.Fs, dir string) (int, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return 0, err
	}
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			data, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			name := dir + "/" + string(item.Key()) + ".torrent"
			if err = afero.WriteFile(fs, name, data, 0o644); err != nil {
				return err
			}
			count++
		}
		return nil
	})
	return count, err
}

// Import loads every <hash>.torrent file from dir, skipping files whose
// name isn't a valid info hash.
func (s *Store) Import(fs afero.Fs, dir string) (int, error) {
	entries, err := afero.ReadDir(fs, dir)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		infoHash := strings.TrimSuffix(entry.Name(), ".torrent")
		if !catalog.ValidInfoHash(infoHash) {
			s.logger.Debug("Skipping non-torrent file on import", zap.String("name", entry.Name()))
			continue
		}
		data, err := afero.ReadFile(fs, dir+"/"+entry.Name())
		if err != nil {
			return count, err
		}
		if err = s.Put(infoHash, data); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
