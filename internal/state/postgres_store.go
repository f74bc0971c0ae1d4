package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// PostgresStore persists world state in PostgreSQL. Tables are created by
// the goose migrations under migrations/.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed state store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func addrKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func (p *PostgresStore) Account(ctx context.Context, addr common.Address) (*Account, error) {
	var (
		nonce   int64
		balance string
		code    string
	)
	err := p.db.QueryRowContext(ctx,
		`SELECT nonce, balance::TEXT, code FROM accounts WHERE address = $1`,
		addrKey(addr),
	).Scan(&nonce, &balance, &code)
	if errors.Is(err, sql.ErrNoRows) {
		return NewAccount(), nil
	}
	if err != nil {
		return nil, err
	}

	bal, err := uint256.FromDecimal(balance)
	if err != nil {
		return nil, fmt.Errorf("%w: balance %q for %s", ErrCorruptData, balance, addr.Hex())
	}
	return &Account{Nonce: uint64(nonce), Balance: bal, Code: code}, nil
}

func (p *PostgresStore) Storage(ctx context.Context, addr common.Address, slot common.Hash) (common.Hash, error) {
	var value string
	err := p.db.QueryRowContext(ctx,
		`SELECT value FROM storage_slots WHERE address = $1 AND slot = $2`,
		addrKey(addr), slot.Hex(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return common.Hash{}, nil
	}
	if err != nil {
		return common.Hash{}, err
	}
	return common.HexToHash(value), nil
}

func (p *PostgresStore) Head(ctx context.Context) (uint64, bool, error) {
	var number int64
	err := p.db.QueryRowContext(ctx, `SELECT number FROM chain_head WHERE id = 1`).Scan(&number)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return uint64(number), true, nil
}

// Commit applies the change set in a single transaction.
func (p *PostgresStore) Commit(ctx context.Context, cs *ChangeSet) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for addr, acc := range cs.Accounts {
		bal := "0"
		if acc.Balance != nil {
			bal = acc.Balance.Dec()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO accounts (address, nonce, balance, code, updated_at)
			VALUES ($1, $2, $3::NUMERIC(78,0), $4, NOW())
			ON CONFLICT (address) DO UPDATE SET
				nonce = EXCLUDED.nonce,
				balance = EXCLUDED.balance,
				code = EXCLUDED.code,
				updated_at = NOW()`,
			addrKey(addr), int64(acc.Nonce), bal, acc.Code,
		)
		if err != nil {
			return fmt.Errorf("upsert account %s: %w", addr.Hex(), err)
		}
	}

	for addr, slots := range cs.Storage {
		for slot, value := range slots {
			if value == (common.Hash{}) {
				if _, err := tx.ExecContext(ctx,
					`DELETE FROM storage_slots WHERE address = $1 AND slot = $2`,
					addrKey(addr), slot.Hex(),
				); err != nil {
					return fmt.Errorf("clear slot %s/%s: %w", addr.Hex(), slot.Hex(), err)
				}
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO storage_slots (address, slot, value)
				VALUES ($1, $2, $3)
				ON CONFLICT (address, slot) DO UPDATE SET value = EXCLUDED.value`,
				addrKey(addr), slot.Hex(), value.Hex(),
			); err != nil {
				return fmt.Errorf("write slot %s/%s: %w", addr.Hex(), slot.Hex(), err)
			}
		}
	}

	if cs.Head != nil {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO chain_head (id, number, updated_at) VALUES (1, $1, NOW())
			ON CONFLICT (id) DO UPDATE SET number = EXCLUDED.number, updated_at = NOW()`,
			int64(*cs.Head),
		); err != nil {
			return fmt.Errorf("write head: %w", err)
		}
	}

	return tx.Commit()
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close is a no-op; the *sql.DB is owned by the server.
func (p *PostgresStore) Close() error {
	return nil
}

var _ Store = (*PostgresStore)(nil)
