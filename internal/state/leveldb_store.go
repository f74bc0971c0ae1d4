package state

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
)

// Key prefixes for the on-disk layout.
var (
	accountPrefix = []byte("a")
	storagePrefix = []byte("s")
	headKey       = []byte("h")
)

// accountRLP is the persisted form of an Account.
type accountRLP struct {
	Nonce   uint64
	Balance *big.Int
	Code    string
}

// LevelDBStore is a persistent single-node state store backed by LevelDB.
type LevelDBStore struct {
	db *leveldb.DB
}

// OpenLevelDB creates or opens a LevelDB database at path.
func OpenLevelDB(path string) (*LevelDBStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDBStore{db: db}, nil
}

// NewLevelDBMemory opens a LevelDB instance over volatile storage. Used in tests.
func NewLevelDBMemory() (*LevelDBStore, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &LevelDBStore{db: db}, nil
}

func accountKey(addr common.Address) []byte {
	return append(append([]byte{}, accountPrefix...), addr.Bytes()...)
}

func slotKey(addr common.Address, slot common.Hash) []byte {
	k := make([]byte, 0, len(storagePrefix)+common.AddressLength+common.HashLength)
	k = append(k, storagePrefix...)
	k = append(k, addr.Bytes()...)
	return append(k, slot.Bytes()...)
}

func (s *LevelDBStore) Account(_ context.Context, addr common.Address) (*Account, error) {
	raw, err := s.db.Get(accountKey(addr), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return NewAccount(), nil
	}
	if err != nil {
		return nil, wrapLevelErr(err)
	}

	var rec accountRLP
	if err := rlp.DecodeBytes(raw, &rec); err != nil {
		return nil, fmt.Errorf("%w: account %s: %v", ErrCorruptData, addr.Hex(), err)
	}
	bal, overflow := uint256.FromBig(rec.Balance)
	if overflow {
		return nil, fmt.Errorf("%w: balance overflow for %s", ErrCorruptData, addr.Hex())
	}
	return &Account{Nonce: rec.Nonce, Balance: bal, Code: rec.Code}, nil
}

func (s *LevelDBStore) Storage(_ context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	raw, err := s.db.Get(slotKey(addr, slot), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return common.Hash{}, nil
	}
	if err != nil {
		return common.Hash{}, wrapLevelErr(err)
	}
	return common.BytesToHash(raw), nil
}

func (s *LevelDBStore) Head(_ context.Context) (uint64, bool, error) {
	raw, err := s.db.Get(headKey, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, wrapLevelErr(err)
	}
	if len(raw) != 8 {
		return 0, false, fmt.Errorf("%w: head length %d", ErrCorruptData, len(raw))
	}
	return binary.BigEndian.Uint64(raw), true, nil
}

func (s *LevelDBStore) Commit(_ context.Context, cs *ChangeSet) error {
	batch := new(leveldb.Batch)
	for addr, acc := range cs.Accounts {
		bal := new(big.Int)
		if acc.Balance != nil {
			bal = acc.Balance.ToBig()
		}
		enc, err := rlp.EncodeToBytes(&accountRLP{Nonce: acc.Nonce, Balance: bal, Code: acc.Code})
		if err != nil {
			return fmt.Errorf("encode account %s: %w", addr.Hex(), err)
		}
		batch.Put(accountKey(addr), enc)
	}
	for addr, slots := range cs.Storage {
		for slot, value := range slots {
			if value == (common.Hash{}) {
				batch.Delete(slotKey(addr, slot))
				continue
			}
			batch.Put(slotKey(addr, slot), value.Bytes())
		}
	}
	if cs.Head != nil {
		var buf [8]byte
		binary.BigEndian.PutUint64(buf[:], *cs.Head)
		batch.Put(headKey, buf[:])
	}
	if err := s.db.Write(batch, &opt.WriteOptions{Sync: true}); err != nil {
		return wrapLevelErr(err)
	}
	return nil
}

func (s *LevelDBStore) Ping(_ context.Context) error {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return wrapLevelErr(err)
	}
	snap.Release()
	return nil
}

func (s *LevelDBStore) Close() error {
	return s.db.Close()
}

func wrapLevelErr(err error) error {
	if errors.Is(err, leveldb.ErrClosed) {
		return ErrClosed
	}
	return err
}

var _ Store = (*LevelDBStore)(nil)
