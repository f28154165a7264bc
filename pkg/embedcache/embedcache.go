// Package embedcache caches embedding vectors in BadgerDB keyed by model and
// input text, so repeated indexing runs skip texts that were already embedded.
package embedcache

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
)

// Cache stores embedding vectors keyed by sha256(model, text).
type Cache struct {
	db    *badger.DB
	model string
}

// badgerLoggerAdapter adapts slog.Logger to the badger.Logger interface.
type badgerLoggerAdapter struct {
	logger *slog.Logger
}

var _ badger.Logger = (*badgerLoggerAdapter)(nil)

func (bl *badgerLoggerAdapter) Errorf(msg string, items ...any) {
	bl.logger.Error(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Warningf(msg string, items ...any) {
	bl.logger.Warn(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Infof(msg string, items ...any) {
	bl.logger.Info(fmt.Sprintf(msg, items...))
}

func (bl *badgerLoggerAdapter) Debugf(msg string, items ...any) {
	bl.logger.Debug(fmt.Sprintf(msg, items...))
}

// Open opens (or creates) a cache at path for vectors produced by model.
// An empty path opens an in-memory cache that is lost on Close.
func Open(path, model string, logger *slog.Logger) (*Cache, error) {
	var opts badger.Options
	if path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, err
		}
		opts = badger.DefaultOptions(path)
	}
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("embedcache open: %w", err)
	}
	return &Cache{db: db, model: model}, nil
}

// Close closes the underlying database.
func (c *Cache) Close() error {
	return c.db.Close()
}

// key derives the cache key for text under the configured model. The model
// is part of the key so switching models never serves stale vectors.
func (c *Cache) key(text string) []byte {
	h := sha256.New()
	h.Write([]byte(c.model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return h.Sum(nil)
}

// Get returns the cached vector for text. Any lookup or decode failure is
// reported as a miss.
func (c *Cache) Get(text string) ([]float32, bool) {
	var vec []float32
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(c.key(text))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			v, err := decodeVector(val)
			if err != nil {
				return err
			}
			vec = v
			return nil
		})
	})
	if err != nil {
		return nil, false
	}
	return vec, true
}

// Put stores the vector for text.
func (c *Cache) Put(text string, vec []float32) error {
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(c.key(text), encodeVector(vec))
	})
}

// encodeVector packs a float32 slice as little-endian IEEE 754 bits.
func encodeVector(vec []float32) []byte {
	out := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, errors.New("embedcache: corrupt vector encoding")
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}
