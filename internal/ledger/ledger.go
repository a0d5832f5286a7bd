// Package ledger is the append-only credit transaction log. The balance
// is always a fold over transactions, never a cached counter, and every
// debit is settled inside a single write transaction so concurrent
// requests cannot race a read-then-write balance update.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/pixelforge-studio/pixelforge/internal/design"
)

// Transaction types.
const (
	TypeInitial  = "initial"
	TypeAdd      = "add"
	TypeSubtract = "subtract"
)

// Transaction is one immutable ledger entry. Amount is signed: grants
// are positive, debits negative.
type Transaction struct {
	ID          string
	UserID      string
	Amount      int64
	Type        string
	Description string
	CreatedAt   time.Time
}

// Ledger is a sqlite-backed credit ledger.
type Ledger struct {
	db *sql.DB
}

// Open opens or creates the ledger database. _txlock=immediate makes
// every write transaction take the database lock up front, serializing
// concurrent debits at the storage boundary.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}

	l := &Ledger{db: db}
	if err := l.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating ledger schema: %w", err)
	}
	return l, nil
}

// Close releases the database connection.
func (l *Ledger) Close() error {
	return l.db.Close()
}

func (l *Ledger) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS credit_transactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			amount INTEGER NOT NULL,
			type TEXT NOT NULL,
			description TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_credit_transactions_user_id ON credit_transactions(user_id)`,
	}

	for _, stmt := range statements {
		if _, err := l.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Balance folds the user's transaction log into a balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := l.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE user_id = ?`,
		userID).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("computing balance: %w", err)
	}
	return balance, nil
}

// Grant appends a positive transaction (initial funding or a top-up).
func (l *Ledger) Grant(ctx context.Context, userID string, amount int64, txType, description string) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, fmt.Errorf("grant amount must be positive, got %d", amount)
	}
	if txType != TypeInitial && txType != TypeAdd {
		return Transaction{}, fmt.Errorf("invalid grant type %q", txType)
	}

	t := Transaction{
		ID:          uuid.NewString(),
		UserID:      userID,
		Amount:      amount,
		Type:        txType,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := l.insert(ctx, l.db, t); err != nil {
		return Transaction{}, err
	}
	return t, nil
}

// Debit appends a single negative transaction after verifying, inside
// the same write transaction, that the fold covers it. Fails with
// design.ErrInsufficientCredits otherwise.
func (l *Ledger) Debit(ctx context.Context, userID string, amount int64, description string) (Transaction, error) {
	txs, err := l.settle(ctx, userID, amount, 1, description)
	if err != nil {
		return Transaction{}, err
	}
	if len(txs) == 0 {
		return Transaction{}, design.ErrInsufficientCredits
	}
	return txs[0], nil
}

// ChargeBatch settles a generation batch: one debit of perVariantCost for
// each succeeded variant, all inside one write transaction. Failed
// variants are never charged. If a concurrent request drained the balance
// since pre-flight, only the affordable portion is debited so the balance
// never goes negative.
func (l *Ledger) ChargeBatch(ctx context.Context, userID string, perVariantCost int64, succeeded int, description string) ([]Transaction, error) {
	if succeeded <= 0 {
		return nil, nil
	}
	txs, err := l.settle(ctx, userID, perVariantCost, succeeded, description)
	if err != nil {
		return nil, err
	}
	if len(txs) < succeeded {
		slog.Warn("Batch settlement capped by balance",
			"user_id", userID, "succeeded", succeeded, "charged", len(txs))
	}
	return txs, nil
}

// settle debits up to count entries of amount each, capped by the
// balance fold computed under the same lock.
func (l *Ledger) settle(ctx context.Context, userID string, amount int64, count int, description string) ([]Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning settlement transaction: %w", err)
	}
	defer tx.Rollback()

	var balance int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM credit_transactions WHERE user_id = ?`,
		userID).Scan(&balance)
	if err != nil {
		return nil, fmt.Errorf("computing balance: %w", err)
	}

	affordable := int(balance / amount)
	if affordable <= 0 {
		return nil, nil
	}
	if count > affordable {
		count = affordable
	}

	now := time.Now().UTC()
	txs := make([]Transaction, 0, count)
	for i := 0; i < count; i++ {
		t := Transaction{
			ID:          uuid.NewString(),
			UserID:      userID,
			Amount:      -amount,
			Type:        TypeSubtract,
			Description: description,
			CreatedAt:   now,
		}
		if err := l.insert(ctx, tx, t); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing settlement: %w", err)
	}
	return txs, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (l *Ledger) insert(ctx context.Context, db execer, t Transaction) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO credit_transactions (id, user_id, amount, type, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, t.Amount, t.Type, t.Description, t.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("appending transaction: %w", err)
	}
	return nil
}

// Transactions returns a user's entries, oldest first.
func (l *Ledger) Transactions(ctx context.Context, userID string) ([]Transaction, error) {
	return l.query(ctx,
		`SELECT id, user_id, amount, type, description, created_at
		 FROM credit_transactions WHERE user_id = ? ORDER BY created_at, id`, userID)
}

// All returns every ledger entry, oldest first. Used by the export
// tooling.
func (l *Ledger) All(ctx context.Context) ([]Transaction, error) {
	return l.query(ctx,
		`SELECT id, user_id, amount, type, description, created_at
		 FROM credit_transactions ORDER BY created_at, id`)
}

func (l *Ledger) query(ctx context.Context, q string, args ...any) ([]Transaction, error) {
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		var created string
		if err := rows.Scan(&t.ID, &t.UserID, &t.Amount, &t.Type, &t.Description, &created); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		t.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parsing transaction timestamp %q: %w", created, err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
