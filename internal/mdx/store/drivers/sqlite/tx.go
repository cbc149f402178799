package sqlite

import (
	"context"
	"database/sql"

	"github.com/tamv/mdx/internal/mdx/store"
)

type txStore struct {
	tx *sql.Tx
}

func newTx(tx *sql.Tx) *txStore {
	return &txStore{tx: tx}
}

func (t *txStore) Commit() error   { return t.tx.Commit() }
func (t *txStore) Rollback() error { return t.tx.Rollback() }

func (t *txStore) Close() error { return nil } // caller commits/rollbacks; outer DB stays open

// Ping is a no-op for transactions; the connection already exists.
func (t *txStore) Ping(ctx context.Context) error { return nil }

func (t *txStore) Tx(ctx context.Context) (store.Tx, error) {
	// Nested tx not supported; could emulate with SAVEPOINT if needed
	return nil, sql.ErrTxDone
}

func (t *txStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return sql.ErrTxDone
}

func (t *txStore) Users() store.Users             { return &usersRepo{db: t.tx} }
func (t *txStore) Challenges() store.Challenges   { return &challengesRepo{db: t.tx} }
func (t *txStore) Credentials() store.Credentials { return &credentialsRepo{db: t.tx} }
func (t *txStore) Draws() store.Draws             { return &drawsRepo{db: t.tx} }
func (t *txStore) Tickets() store.Tickets         { return &ticketsRepo{db: t.tx} }
func (t *txStore) Wallets() store.Wallets         { return &walletsRepo{db: t.tx} }
func (t *txStore) AuditEvents() store.AuditEvents { return &auditEventsRepo{db: t.tx} }

func (t *txStore) ApplyMigrations() error { return nil } // applied before transactions start
