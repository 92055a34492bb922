package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fastygo/taskledger/domain"
	"github.com/fastygo/taskledger/repository"
)

const journalColumns = `id, identity, operation, state, message_hash, anchor, last_valid_height, task_id,
	COALESCE(signature, ''), COALESCE(ledger_error, ''), slot, created_at, updated_at`

type journalRepository struct {
	pool *pgxpool.Pool
}

// NewJournalRepository returns a Postgres-backed TransactionJournal.
func NewJournalRepository(pool *pgxpool.Pool) repository.TransactionJournal {
	return &journalRepository{pool: pool}
}

func (r *journalRepository) Create(ctx context.Context, record *domain.TxRecord) error {
	if record == nil || record.ID == "" {
		return domain.ErrInvalidPayload
	}

	const query = `
	INSERT INTO tx_journal (id, identity, operation, state, message_hash, anchor, last_valid_height, task_id,
		signature, ledger_error, slot, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, COALESCE($12, NOW()), COALESCE($13, NOW()))
	RETURNING created_at, updated_at
	`
	err := r.pool.QueryRow(ctx, query,
		record.ID,
		record.Identity.String(),
		string(record.Operation),
		string(record.State),
		record.MessageHash,
		record.Anchor.String(),
		int64(record.LastValidHeight),
		int64(record.TaskID),
		nullString(record.Signature),
		nullString(record.LedgerError),
		int64(record.Slot),
		nullTime(record.CreatedAt),
		nullTime(record.UpdatedAt),
	).Scan(&record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return domain.ErrStateConflict.WithMessage("envelope %s already journaled", record.ID)
		}
		return err
	}
	return nil
}

func (r *journalRepository) Get(ctx context.Context, id string) (*domain.TxRecord, error) {
	query := `SELECT ` + journalColumns + ` FROM tx_journal WHERE id = $1`
	return scanRecord(r.pool.QueryRow(ctx, query, id))
}

func (r *journalRepository) Transition(ctx context.Context, record *domain.TxRecord, from domain.TxState) error {
	if record == nil {
		return domain.ErrInvalidPayload
	}

	const query = `
	UPDATE tx_journal
	SET state = $3,
		signature = $4,
		ledger_error = $5,
		slot = $6,
		updated_at = NOW()
	WHERE id = $1 AND state = $2
	RETURNING updated_at
	`
	err := r.pool.QueryRow(ctx, query,
		record.ID,
		string(from),
		string(record.State),
		nullString(record.Signature),
		nullString(record.LedgerError),
		int64(record.Slot),
	).Scan(&record.UpdatedAt)
	if err == nil {
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	if _, getErr := r.Get(ctx, record.ID); getErr != nil {
		return getErr
	}
	return domain.ErrStateConflict.WithMessage("envelope %s is no longer %s", record.ID, from)
}

func (r *journalRepository) List(ctx context.Context, filter repository.JournalFilter) ([]domain.TxRecord, error) {
	query := `SELECT ` + journalColumns + `
	FROM tx_journal
	WHERE ($1 = '' OR identity = $1)
	  AND ($2 = '' OR operation = $2)
	  AND (cardinality($3::text[]) = 0 OR state = ANY($3))
	  AND ($4::timestamptz IS NULL OR updated_at < $4)
	ORDER BY created_at ASC
	LIMIT $5
	`
	identity := ""
	if !filter.Identity.IsZero() {
		identity = filter.Identity.String()
	}
	rows, err := r.pool.Query(ctx, query,
		identity,
		string(filter.Operation),
		stateStrings(filter.States),
		nullTime(filter.UpdatedBefore),
		repository.ClampLimit(filter.Limit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.TxRecord
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

func scanRecord(row interface {
	Scan(dest ...interface{}) error
}) (*domain.TxRecord, error) {
	var (
		record                     domain.TxRecord
		identity, operation, state string
		anchor                     string
		lastValid, taskID, slot    int64
	)
	if err := row.Scan(
		&record.ID,
		&identity,
		&operation,
		&state,
		&record.MessageHash,
		&anchor,
		&lastValid,
		&taskID,
		&record.Signature,
		&record.LedgerError,
		&slot,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEnvelopeNotFound
		}
		return nil, err
	}

	var err error
	if record.Identity, err = domain.ParsePubkey(identity); err != nil {
		return nil, err
	}
	if record.Anchor, err = domain.ParseHash(anchor); err != nil {
		return nil, err
	}
	record.Operation = domain.Operation(operation)
	record.State = domain.TxState(state)
	record.LastValidHeight = uint64(lastValid)
	record.TaskID = uint64(taskID)
	record.Slot = uint64(slot)
	return &record, nil
}
