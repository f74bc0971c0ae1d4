package receipts

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresStore persists receipt data in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed receipt store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, r *Receipt) error {
	logs, err := json.Marshal(r.Logs)
	if err != nil {
		return fmt.Errorf("marshal logs: %w", err)
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO receipts (
			tx_hash, block_number, from_address, to_address, contract_address,
			method, value, gas_used, gas_price, status,
			fee, logs, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7::NUMERIC(78,0), $8, $9::NUMERIC(78,0), $10,
			$11::NUMERIC(78,0), $12::JSONB, $13
		)`,
		r.TxHash, int64(r.BlockNumber), r.From, r.To, r.ContractAddress,
		r.Method, r.Value, int64(r.GasUsed), r.EffectiveGasPrice, int64(r.Status),
		r.Fee, string(logs), r.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, txHash string) (*Receipt, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+receiptColumns+`
		FROM receipts WHERE tx_hash = $1`, txHash)

	r, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReceiptNotFound
	}
	return r, err
}

func (p *PostgresStore) ListByAccount(ctx context.Context, addr string, limit int) ([]*Receipt, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+receiptColumns+`
		FROM receipts
		WHERE from_address = $1 OR to_address = $1 OR contract_address = $1
		ORDER BY block_number DESC
		LIMIT $2`, addr, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanReceipts(rows)
}

// --- scanners ---

const receiptColumns = `tx_hash, block_number, from_address, to_address, contract_address,
		       method, value::TEXT, gas_used, gas_price::TEXT, status,
		       fee::TEXT, logs, created_at`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReceipt(sc scanner) (*Receipt, error) {
	r := &Receipt{}
	var (
		block   int64
		gasUsed int64
		status  int64
		logs    []byte
	)

	err := sc.Scan(
		&r.TxHash, &block, &r.From, &r.To, &r.ContractAddress,
		&r.Method, &r.Value, &gasUsed, &r.EffectiveGasPrice, &status,
		&r.Fee, &logs, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.BlockNumber = uint64(block)
	r.GasUsed = uint64(gasUsed)
	r.Status = uint64(status)
	if err := json.Unmarshal(logs, &r.Logs); err != nil {
		return nil, fmt.Errorf("decode logs for %s: %w", r.TxHash, err)
	}
	return r, nil
}

func scanReceipts(rows *sql.Rows) ([]*Receipt, error) {
	var result []*Receipt
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

var _ Store = (*PostgresStore)(nil)
