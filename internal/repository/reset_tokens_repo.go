package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/tracmex/nip-reset/internal/domain"
)

// ResetTokensRepository handles NIP reset token persistence. It is a dumb,
// strongly consistent ledger: expiry and used-state policy live in the
// callers, not here.
type ResetTokensRepository struct {
	db *sql.DB
}

// NewResetTokensRepository creates a new reset tokens repository.
func NewResetTokensRepository(db *sql.DB) *ResetTokensRepository {
	return &ResetTokensRepository{db: db}
}

const tokenColumns = `id, customer_id, vehicle_id, token_hash, vehicle_label,
	       correlation, request_meta, created_at, expires_at, used_at`

// CreateTx inserts a new reset token within a transaction. The partial
// unique index over (customer_id, vehicle_id) WHERE used_at IS NULL rejects
// a second concurrent insert for the same subject.
func (r *ResetTokensRepository) CreateTx(ctx context.Context, q Querier, token *domain.ResetToken) error {
	query := `
		INSERT INTO nip_reset_tokens
			(id, customer_id, vehicle_id, token_hash, vehicle_label, correlation, request_meta, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := q.ExecContext(ctx, query,
		token.ID, token.CustomerID, token.VehicleID, token.TokenHash,
		token.VehicleLabel, token.Correlation, token.RequestMeta,
		token.CreatedAt, token.ExpiresAt,
	)
	return err
}

// SupersedeActiveTx marks every unconsumed token for a subject as consumed.
// Consumed-by-replacement and confirmed-use share the used_at column: both
// mean the token can never be presented again. Expired-but-unconsumed rows
// are swept here too so they never collide with the active-subject index.
func (r *ResetTokensRepository) SupersedeActiveTx(ctx context.Context, q Querier, customerID, vehicleID string) error {
	query := `
		UPDATE nip_reset_tokens
		SET used_at = NOW()
		WHERE customer_id = $1 AND vehicle_id = $2 AND used_at IS NULL
	`
	_, err := q.ExecContext(ctx, query, customerID, vehicleID)
	return err
}

// GetByTokenHash retrieves a token by hash without locking it. Used for
// read-only status queries.
func (r *ResetTokensRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*domain.ResetToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM nip_reset_tokens
		WHERE token_hash = $1
	`
	return r.scanToken(r.db.QueryRowContext(ctx, query, tokenHash))
}

// LockByTokenHashTx retrieves a token by hash with a row-exclusive lock.
// A concurrent confirmation of the same token blocks here until the
// holder's transaction completes.
func (r *ResetTokensRepository) LockByTokenHashTx(ctx context.Context, tx *sql.Tx, tokenHash string) (*domain.ResetToken, error) {
	query := `
		SELECT ` + tokenColumns + `
		FROM nip_reset_tokens
		WHERE token_hash = $1
		FOR UPDATE
	`
	return r.scanToken(tx.QueryRowContext(ctx, query, tokenHash))
}

// MarkUsedTx sets used_at on a still-active token. used_at is written once
// and never cleared.
func (r *ResetTokensRepository) MarkUsedTx(ctx context.Context, q Querier, tokenID uuid.UUID) error {
	query := `
		UPDATE nip_reset_tokens
		SET used_at = NOW()
		WHERE id = $1 AND used_at IS NULL
	`
	result, err := q.ExecContext(ctx, query, tokenID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return domain.ErrTokenAlreadyUsed
	}
	return nil
}

// CountIssuedSince counts tokens issued for a subject after the given
// instant. Pure read; feeds the rate limit decision.
func (r *ResetTokensRepository) CountIssuedSince(ctx context.Context, customerID, vehicleID string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM nip_reset_tokens
		WHERE customer_id = $1 AND vehicle_id = $2 AND created_at > $3
	`
	var count int
	err := r.db.QueryRowContext(ctx, query, customerID, vehicleID, since).Scan(&count)
	return count, err
}

func (r *ResetTokensRepository) scanToken(row *sql.Row) (*domain.ResetToken, error) {
	token := &domain.ResetToken{}
	var usedAt sql.NullTime
	err := row.Scan(
		&token.ID, &token.CustomerID, &token.VehicleID, &token.TokenHash,
		&token.VehicleLabel, &token.Correlation, &token.RequestMeta,
		&token.CreatedAt, &token.ExpiresAt, &usedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	if usedAt.Valid {
		token.UsedAt = &usedAt.Time
	}
	return token, nil
}
