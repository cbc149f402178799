package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tamv/mdx/internal/mdx/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrConflict reports a conditional update that matched no rows: the
	// row exists but its current state forbids the transition (status CAS,
	// already-verified challenge, guarded counter).
	ErrConflict = errors.New("store: conflict")
)

// Store is the root data access interface. Concrete drivers (sqlite)
// implement this. Sub-repositories keep concerns tidy and testable.
type Store interface {
	Users() Users
	Challenges() Challenges
	Credentials() Credentials
	Draws() Draws
	Tickets() Tickets
	Wallets() Wallets
	AuditEvents() AuditEvents

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction, committing when fn returns
	// nil and rolling back otherwise.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Close releases any underlying resources.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds
// Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

type Users interface {
	// GetUserByID returns a profile by identity reference.
	GetUserByID(ctx context.Context, id string) (domain.User, error)

	// CreateUser inserts a new profile (id provided by the caller).
	CreateUser(ctx context.Context, u domain.User) error
}

type Challenges interface {
	// CreateChallenge persists a freshly issued challenge.
	CreateChallenge(ctx context.Context, c domain.Challenge) error

	// GetLatestActiveChallenge returns the most recent unverified,
	// unexpired challenge of the given type for the identity.
	GetLatestActiveChallenge(ctx context.Context, userID string, typ domain.ChallengeType, now time.Time) (domain.Challenge, error)

	// MarkChallengeVerified sets verified_at, conditional on the challenge
	// being unverified. Returns ErrConflict if it was already consumed.
	MarkChallengeVerified(ctx context.Context, id string, at time.Time) error
}

type Credentials interface {
	// CreateCredential inserts a new credential row.
	CreateCredential(ctx context.Context, c domain.Credential) error

	// GetCredential fetches by the external credential identifier within a
	// factor type namespace.
	GetCredential(ctx context.Context, typ domain.CredentialType, credentialID string) (domain.Credential, error)

	// ListUserCredentials returns all credentials of a type for an
	// identity, newest first.
	ListUserCredentials(ctx context.Context, userID string, typ domain.CredentialType) ([]domain.Credential, error)

	// RecordCredentialUse bumps the usage counter and last_used_at.
	RecordCredentialUse(ctx context.Context, id string, at time.Time) error

	// DeleteCredential removes a credential row by internal id.
	DeleteCredential(ctx context.Context, id string) error

	// DeleteUserCredentialsOfType removes every credential of a type for
	// an identity (backup code regeneration).
	DeleteUserCredentialsOfType(ctx context.Context, userID string, typ domain.CredentialType) error

	// UpsertTOTPCredential creates or replaces the single totp credential
	// for an identity, rotating the secret in place.
	UpsertTOTPCredential(ctx context.Context, c domain.Credential) error
}

type Draws interface {
	// CreateDraw inserts a new draw in active status.
	CreateDraw(ctx context.Context, d domain.Draw) error

	// GetDrawByID returns a draw by id.
	GetDrawByID(ctx context.Context, id string) (domain.Draw, error)

	// RequestDrawRandomness transitions active -> drawing and records the
	// randomness request id. The random value and proof columns stay NULL
	// until completion. Returns ErrConflict unless the draw is active.
	RequestDrawRandomness(ctx context.Context, id, requestID string) error

	// CompleteDraw transitions active|drawing -> completed and records the
	// winner and randomness artifact together. Returns ErrConflict unless
	// the draw is still open, which makes concurrent executions mutually
	// exclusive.
	CompleteDraw(ctx context.Context, id, winnerUserID string, artifact domain.RandomnessArtifact, at time.Time) error

	// IncrementTicketsSold bumps tickets_sold, guarded by the max_tickets
	// cap and active status. Returns the new count or ErrConflict.
	IncrementTicketsSold(ctx context.Context, id string) (int64, error)

	// CancelDraw transitions active -> cancelled.
	CancelDraw(ctx context.Context, id string) error
}

type Tickets interface {
	// CreateTicket inserts a ticket row.
	CreateTicket(ctx context.Context, t domain.Ticket) error

	// GetTicketByNumber returns the ticket with the given sequential
	// number within a draw.
	GetTicketByNumber(ctx context.Context, drawID string, number int64) (domain.Ticket, error)

	// MarkTicketWinner flips the winner flag.
	MarkTicketWinner(ctx context.Context, id string) error

	// CountTickets returns the live number of tickets in a draw.
	CountTickets(ctx context.Context, drawID string) (int64, error)
}

type Wallets interface {
	// GetAccount returns the wallet for an identity.
	GetAccount(ctx context.Context, userID string) (domain.WalletAccount, error)

	// CreditAccount adds amount to the identity's balance, creating the
	// account when absent.
	CreditAccount(ctx context.Context, userID string, amount decimal.Decimal) error

	// DebitAccount subtracts amount, guarded by sufficient balance.
	// Returns ErrConflict when the balance would go negative.
	DebitAccount(ctx context.Context, userID string, amount decimal.Decimal) error

	// CreateTransaction appends a ledger row.
	CreateTransaction(ctx context.Context, t domain.WalletTransaction) error

	// ListTransactions returns an identity's ledger rows, newest first.
	ListTransactions(ctx context.Context, userID string) ([]domain.WalletTransaction, error)
}

type AuditEvents interface {
	// CreateAuditEvent appends an audit row.
	CreateAuditEvent(ctx context.Context, e domain.AuditEvent) error
}
