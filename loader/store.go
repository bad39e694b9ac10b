package loader

import (
	"context"
	"sync"

	dbm "github.com/cometbft/cometbft-db"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-bridge/errors"
)

// Store keeps deferred modules by name. It backs the LoadDeferredWasm
// instance option.
type Store struct {
	db     dbm.DB
	logger *zap.Logger
	mu     sync.Mutex
	closed bool
}

// NewMemStore returns a store that lives in memory.
func NewMemStore() *Store {
	return &Store{db: dbm.NewMemDB(), logger: zap.NewNop()}
}

// OpenStore opens a goleveldb store named name under dir.
func OpenStore(name, dir string) (*Store, error) {
	db, err := dbm.NewDB(name, dbm.GoLevelDBBackend, dir)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "open module store "+dir)
	}
	return &Store{db: db, logger: zap.NewNop()}, nil
}

// WithLogger sets the store's logger and returns s.
func (s *Store) WithLogger(l *zap.Logger) *Store {
	if l != nil {
		s.logger = l
	}
	return s
}

func storeKey(name string) []byte { return []byte("module/" + name) }

// Put stores bin under name, replacing any previous module. The bytes must
// begin with the module header; they are fully validated when loaded.
func (s *Store) Put(name string, bin []byte) error {
	if name == "" {
		return errors.InvalidInput(errors.PhaseLoad, "module name is empty")
	}
	if len(bin) < 8 || string(bin[:4]) != "\x00asm" {
		return errors.Compile("stored module "+name+" has no module header", nil)
	}
	if err := s.check(); err != nil {
		return err
	}
	if err := s.db.Set(storeKey(name), bin); err != nil {
		return errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "store module "+name)
	}
	s.logger.Debug("deferred module stored", zap.String("name", name), zap.Int("bytes", len(bin)))
	return nil
}

// Get returns the module stored under name.
func (s *Store) Get(name string) ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	bin, err := s.db.Get(storeKey(name))
	if err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidInput, err, "read module "+name)
	}
	if bin == nil {
		return nil, errors.NotFound(errors.PhaseLoad, "deferred module", name)
	}
	return append([]byte(nil), bin...), nil
}

// Delete removes name. Deleting a missing module is not an error.
func (s *Store) Delete(name string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.db.Delete(storeKey(name))
}

// Names lists the stored module names in key order.
func (s *Store) Names() ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	prefix := storeKey("")
	end := append([]byte(nil), prefix...)
	end[len(end)-1]++
	it, err := s.db.Iterator(prefix, end)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var names []string
	for ; it.Valid(); it.Next() {
		names = append(names, string(it.Key()[len(prefix):]))
	}
	return names, it.Error()
}

// Loader adapts the store to the LoadDeferredWasm option.
func (s *Store) Loader() func(ctx context.Context, name string) ([]byte, error) {
	return func(ctx context.Context, name string) ([]byte, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return s.Get(name)
	}
}

func (s *Store) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Closed(errors.PhaseLoad, "module store")
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
