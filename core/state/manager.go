package state

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"poolrewards/storage"
)

// Manager reads and writes module state as RLP records under readable,
// prefixed keys.
type Manager struct {
	db storage.Database
	mu *sync.Mutex
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, mu: new(sync.Mutex)}
}

// Database exposes the backing store.
func (m *Manager) Database() storage.Database {
	return m.db
}

// RollbackError is returned by Atomic when the transaction did not commit.
// Nothing it wrote is visible.
type RollbackError struct {
	Op string
	// Discarded is the number of keys the transaction had touched.
	Discarded int
	Err       error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("state: %s rolled back (%d writes discarded): %v", e.Op, e.Discarded, e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }

// IsRollback reports whether err carries a RollbackError.
func IsRollback(err error) bool {
	var rb *RollbackError
	return errors.As(err, &rb)
}

// Atomic runs fn against a transaction-scoped manager whose writes are
// buffered. They reach the database in one batch when fn succeeds and are
// dropped otherwise. Transactions on the same manager are serialised.
func (m *Manager) Atomic(op string, fn func(tx *Manager) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	overlay := storage.NewOverlay(m.db)
	tx := &Manager{db: overlay, mu: new(sync.Mutex)}
	if err := fn(tx); err != nil {
		touched := overlay.Len()
		overlay.Discard()
		return &RollbackError{Op: op, Discarded: touched, Err: err}
	}
	touched := overlay.Len()
	if err := overlay.Commit(); err != nil {
		return &RollbackError{Op: op, Discarded: touched, Err: err}
	}
	return nil
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(key, encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("kv: decode %s: %w", key, err)
	}
	return true, nil
}

// KVDelete removes the key. Missing keys are not an error.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.db.Delete(key)
}

// BlockHeight returns the last committed block height, zero before genesis.
func (m *Manager) BlockHeight() (uint64, error) {
	var height uint64
	if _, err := m.KVGet(blockHeightKey, &height); err != nil {
		return 0, err
	}
	return height, nil
}

// SetBlockHeight records the current block height.
func (m *Manager) SetBlockHeight(height uint64) error {
	return m.KVPut(blockHeightKey, height)
}

// GenesisApplied reports whether the genesis state has been written.
func (m *Manager) GenesisApplied() (bool, error) {
	return m.KVGet(genesisKey, nil)
}

// MarkGenesisApplied records that genesis state exists.
func (m *Manager) MarkGenesisApplied() error {
	return m.KVPut(genesisKey, uint64(1))
}
