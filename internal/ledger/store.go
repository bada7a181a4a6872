package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/blake2b"

	"github.com/kcnex/exchange/internal/assets"
	"github.com/kcnex/exchange/internal/marketdata"
	"github.com/kcnex/exchange/internal/xerrors"
)

// execer is the subset of *sql.DB / *sql.Tx that append() needs,
// letting AppendTx run against a caller-owned transaction while
// Append opens and manages its own.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store is the persistent ledger and balance cache described in
// spec.md §4.6, backed by PostgreSQL via database/sql + lib/pq.
type Store struct {
	db     *sql.DB
	assets *assets.Registry
}

// New wraps an already-opened *sql.DB. The caller is responsible for
// driver selection (lib/pq) and DSN parsing.
func New(db *sql.DB, registry *assets.Registry) *Store {
	return &Store{db: db, assets: registry}
}

// Open opens a PostgreSQL connection pool for the given DSN.
func Open(dsn string, registry *assets.Registry) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %w", err)
	}
	return New(db, registry), nil
}

// Bootstrap executes schema.sql against the connection, creating the
// users/balances/ledger_entries/orders/trades tables and the
// immutability trigger if they do not already exist. Mirrors the
// teacher's explicit bootstrap-at-startup pattern.
func (s *Store) Bootstrap(ctx context.Context, schemaSQL string) error {
	_, err := s.db.ExecContext(ctx, schemaSQL)
	if err != nil {
		return fmt.Errorf("ledger: bootstrap schema: %w", err)
	}
	return nil
}

func (s *Store) DB() *sql.DB { return s.db }

// LockKey computes the deterministic 64-bit advisory-lock key for a
// (user, asset) pair, per spec.md §4.6: low64(user_uuid) XOR
// hash64(asset). hash64 is the first 8 bytes of blake2b-256(asset),
// interpreted big-endian.
func LockKey(user uuid.UUID, asset string) int64 {
	sum := blake2b.Sum256([]byte(asset))
	var h uint64
	for i := 0; i < 8; i++ {
		h = h<<8 | uint64(sum[i])
	}
	return int64(marketdata.Low64(user) ^ h)
}

// acquireLock takes the transaction-scoped advisory lock for (user,
// asset). pg_advisory_xact_lock is reentrant within one transaction,
// so settlement's own up-front, deterministically ordered lock
// acquisition and this per-append lock never conflict with each other.
func acquireLock(ctx context.Context, tx execer, user uuid.UUID, asset string) error {
	_, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, LockKey(user, asset))
	if err != nil {
		return xerrors.Wrap(xerrors.TransientStore, fmt.Errorf("ledger: acquire advisory lock: %w", err))
	}
	return nil
}

// AcquireLock takes the transaction-scoped advisory lock for (user,
// asset) without performing an append. Settlement uses this to acquire
// every lock it needs, in its own deterministic order, before any
// AppendTx call re-acquires (harmlessly, reentrantly) the same locks.
func (s *Store) AcquireLock(ctx context.Context, tx *sql.Tx, user uuid.UUID, asset string) error {
	return acquireLock(ctx, tx, user, asset)
}

// Append validates, serializes, and commits a single ledger movement
// in its own transaction, per spec.md §4.6's append() contract.
func (s *Store) Append(ctx context.Context, user uuid.UUID, asset string, amount decimal.Decimal, typ EntryType, reference *uuid.UUID, description *string) (*Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.TransientStore, fmt.Errorf("ledger: begin tx: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck

	entry, err := s.AppendTx(ctx, tx, user, asset, amount, typ, reference, description)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, xerrors.Wrap(xerrors.TransientStore, fmt.Errorf("ledger: commit: %w", err))
	}
	return entry, nil
}

// AppendTx runs the append() contract against a transaction the
// caller already began (and will commit), so that settlement can chain
// several ledger movements atomically per fill.
func (s *Store) AppendTx(ctx context.Context, tx *sql.Tx, user uuid.UUID, asset string, amount decimal.Decimal, typ EntryType, reference *uuid.UUID, description *string) (*Entry, error) {
	if err := assets.ValidateSymbol(asset); err != nil {
		return nil, xerrors.Wrap(xerrors.Validation, err)
	}
	if err := s.assets.ValidatePrecision(asset, amount); err != nil {
		return nil, xerrors.Wrap(xerrors.Validation, fmt.Errorf("precision exceeded: %w", err))
	}
	if err := acquireLock(ctx, tx, user, asset); err != nil {
		return nil, err
	}

	cached, err := cachedAvailable(ctx, tx, user, asset)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.TransientStore, err)
	}

	// spec.md §3 and §4.6 describe Lock entries as exempt from the
	// non-negativity check, but §4.8 and §9 Open Question 3 both
	// require that locking funds a user does not have is rejected
	// with InsufficientBalance. This implementation resolves that
	// tension (documented in DESIGN.md) by applying the non-negativity
	// invariant uniformly: Lock is just a negative-amount entry like
	// Withdrawal, so "available" never goes negative and locking
	// doubles as the funds check §4.8 needs.
	newAvailable := cached.Add(amount)
	if newAvailable.IsNegative() {
		return nil, xerrors.New(xerrors.InsufficientBalance, "insufficient balance for %s %s: have %s, need %s", asset, typ, cached.String(), amount.Abs().String())
	}

	entry := &Entry{
		ID:           uuid.New(),
		User:         user,
		Asset:        asset,
		Amount:       amount,
		BalanceAfter: newAvailable,
		Type:         typ,
		Reference:    reference,
		Description:  description,
	}

	row := tx.QueryRowContext(ctx, `
		INSERT INTO ledger_entries (id, user_id, asset, amount, balance_after, entry_type, reference, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		entry.ID, entry.User, entry.Asset, entry.Amount, entry.BalanceAfter, string(entry.Type), entry.Reference, entry.Description)
	if err := row.Scan(&entry.CreatedAt); err != nil {
		return nil, xerrors.Wrap(xerrors.TransientStore, fmt.Errorf("ledger: insert entry: %w", err))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO balances (user_id, asset, available, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, asset) DO UPDATE SET available = $3, updated_at = now()`,
		user, asset, newAvailable)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.TransientStore, fmt.Errorf("ledger: upsert balance: %w", err))
	}

	return entry, nil
}

func cachedAvailable(ctx context.Context, tx execer, user uuid.UUID, asset string) (decimal.Decimal, error) {
	var available decimal.Decimal
	row := tx.QueryRowContext(ctx, `SELECT available FROM balances WHERE user_id = $1 AND asset = $2`, user, asset)
	err := row.Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger: read cached balance: %w", err)
	}
	return available, nil
}

// CachedAvailable returns the current balance cache for (user, asset),
// defaulting to zero, outside of any append transaction.
func (s *Store) CachedAvailable(ctx context.Context, user uuid.UUID, asset string) (decimal.Decimal, error) {
	return cachedAvailable(ctx, s.db, user, asset)
}

// DeriveBalance recomputes a (user, asset) balance from the full
// ledger history, per spec.md §4.6.
func (s *Store) DeriveBalance(ctx context.Context, user uuid.UUID, asset string) (decimal.Decimal, error) {
	var sum sql.NullString
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(amount), 0) FROM ledger_entries WHERE user_id = $1 AND asset = $2`, user, asset)
	if err := row.Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("ledger: derive balance: %w", err)
	}
	if !sum.Valid {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(sum.String)
}

// Reconcile reports whether the derived balance matches the cache, per
// spec.md §8 property 5.
func (s *Store) Reconcile(ctx context.Context, user uuid.UUID, asset string) (bool, error) {
	derived, err := s.DeriveBalance(ctx, user, asset)
	if err != nil {
		return false, err
	}
	cached, err := s.CachedAvailable(ctx, user, asset)
	if err != nil {
		return false, err
	}
	return derived.Equal(cached), nil
}
