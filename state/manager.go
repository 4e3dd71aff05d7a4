package state

import (
	"encoding/json"
	"errors"
	"fmt"

	"termlend/core/types"
	"termlend/crypto"
	"termlend/native/fixedlending"
	"termlend/storage"
)

// Key prefixes. Every record lives under its own namespace so market state,
// positions and ledger accounts never collide.
const (
	prefixFixedPool       = "fl/pool/"
	prefixBorrowPosition  = "fl/borrow/"
	prefixDepositPosition = "fl/deposit/"
	prefixFloating        = "fl/floating/"
	prefixUserAccount     = "fl/user/"
	prefixFeeAccrual      = "fl/fees/"
	prefixAccount         = "acct/"
)

// Manager persists engine state as JSON records in a key-value store. It is
// the single writer for the daemon; the engine serialises operations above
// it, so no additional locking is needed here.
type Manager struct {
	db storage.Database
}

// NewManager wraps a database in the engine persistence interface.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func poolKey(marketID string, maturity uint64) []byte {
	return []byte(fmt.Sprintf("%s%s/%d", prefixFixedPool, marketID, maturity))
}

func positionKey(prefix, marketID string, maturity uint64, addr crypto.Address) []byte {
	return []byte(fmt.Sprintf("%s%s/%d/%x", prefix, marketID, maturity, addr.Bytes()))
}

func marketKey(prefix, marketID string) []byte {
	return []byte(prefix + marketID)
}

func userKey(marketID string, addr crypto.Address) []byte {
	return []byte(fmt.Sprintf("%s%s/%x", prefixUserAccount, marketID, addr.Bytes()))
}

func accountKey(addr crypto.Address) []byte {
	return []byte(fmt.Sprintf("%s%x", prefixAccount, addr.Bytes()))
}

// getJSON decodes the record at key into out, reporting false when the key
// has never been written.
func (m *Manager) getJSON(key []byte, out interface{}) (bool, error) {
	raw, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

func (m *Manager) putJSON(key []byte, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return m.db.Put(key, raw)
}

// GetFixedPool loads the pool at a maturity, nil when it was never touched.
func (m *Manager) GetFixedPool(marketID string, maturity uint64) (*fixedlending.Pool, error) {
	pool := new(fixedlending.Pool)
	ok, err := m.getJSON(poolKey(marketID, maturity), pool)
	if err != nil || !ok {
		return nil, err
	}
	pool.EnsureDefaults()
	return pool, nil
}

// PutFixedPool stores the pool at a maturity.
func (m *Manager) PutFixedPool(marketID string, maturity uint64, pool *fixedlending.Pool) error {
	if pool == nil {
		return m.db.Delete(poolKey(marketID, maturity))
	}
	return m.putJSON(poolKey(marketID, maturity), pool)
}

// GetBorrowPosition loads a fixed borrow position, nil when absent.
func (m *Manager) GetBorrowPosition(marketID string, maturity uint64, addr crypto.Address) (*fixedlending.Position, error) {
	position := new(fixedlending.Position)
	ok, err := m.getJSON(positionKey(prefixBorrowPosition, marketID, maturity, addr), position)
	if err != nil || !ok {
		return nil, err
	}
	position.EnsureDefaults()
	return position, nil
}

// PutBorrowPosition stores a fixed borrow position. Closed positions are
// deleted so user queries do not accumulate empty records.
func (m *Manager) PutBorrowPosition(marketID string, maturity uint64, addr crypto.Address, position *fixedlending.Position) error {
	key := positionKey(prefixBorrowPosition, marketID, maturity, addr)
	if position == nil || position.Empty() {
		return m.db.Delete(key)
	}
	return m.putJSON(key, position)
}

// GetDepositPosition loads a fixed deposit position, nil when absent.
func (m *Manager) GetDepositPosition(marketID string, maturity uint64, addr crypto.Address) (*fixedlending.Position, error) {
	position := new(fixedlending.Position)
	ok, err := m.getJSON(positionKey(prefixDepositPosition, marketID, maturity, addr), position)
	if err != nil || !ok {
		return nil, err
	}
	position.EnsureDefaults()
	return position, nil
}

// PutDepositPosition stores a fixed deposit position, deleting empty ones.
func (m *Manager) PutDepositPosition(marketID string, maturity uint64, addr crypto.Address, position *fixedlending.Position) error {
	key := positionKey(prefixDepositPosition, marketID, maturity, addr)
	if position == nil || position.Empty() {
		return m.db.Delete(key)
	}
	return m.putJSON(key, position)
}

// GetFloatingState loads the floating pool state, nil when the market has
// never seen a floating operation.
func (m *Manager) GetFloatingState(marketID string) (*fixedlending.FloatingState, error) {
	floating := new(fixedlending.FloatingState)
	ok, err := m.getJSON(marketKey(prefixFloating, marketID), floating)
	if err != nil || !ok {
		return nil, err
	}
	floating.EnsureDefaults()
	return floating, nil
}

// PutFloatingState stores the floating pool state.
func (m *Manager) PutFloatingState(marketID string, floating *fixedlending.FloatingState) error {
	return m.putJSON(marketKey(prefixFloating, marketID), floating)
}

// GetUserAccount loads a participant's market footprint, nil when absent.
func (m *Manager) GetUserAccount(marketID string, addr crypto.Address) (*fixedlending.UserAccount, error) {
	user := new(fixedlending.UserAccount)
	ok, err := m.getJSON(userKey(marketID, addr), user)
	if err != nil || !ok {
		return nil, err
	}
	user.Address = addr
	user.EnsureDefaults()
	return user, nil
}

// PutUserAccount stores a participant's market footprint.
func (m *Manager) PutUserAccount(marketID string, account *fixedlending.UserAccount) error {
	if account == nil {
		return nil
	}
	return m.putJSON(userKey(marketID, account.Address), account)
}

// GetAccount loads a ledger account, nil when it has no history.
func (m *Manager) GetAccount(addr crypto.Address) (*types.Account, error) {
	account := new(types.Account)
	ok, err := m.getJSON(accountKey(addr), account)
	if err != nil || !ok {
		return nil, err
	}
	return account, nil
}

// PutAccount stores a ledger account.
func (m *Manager) PutAccount(addr crypto.Address, account *types.Account) error {
	if account == nil {
		return nil
	}
	return m.putJSON(accountKey(addr), account)
}

// GetFeeAccrual loads the treasury fee record, nil when absent.
func (m *Manager) GetFeeAccrual(marketID string) (*fixedlending.FeeAccrual, error) {
	fees := new(fixedlending.FeeAccrual)
	ok, err := m.getJSON(marketKey(prefixFeeAccrual, marketID), fees)
	if err != nil || !ok {
		return nil, err
	}
	fees.EnsureDefaults()
	return fees, nil
}

// PutFeeAccrual stores the treasury fee record.
func (m *Manager) PutFeeAccrual(marketID string, fees *fixedlending.FeeAccrual) error {
	return m.putJSON(marketKey(prefixFeeAccrual, marketID), fees)
}
