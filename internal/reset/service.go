// Package reset implements the NIP reset token lifecycle: issuance with
// supersession, per-subject rate limiting, and the confirmation protocol
// that hands the new NIP off to the external system of record.
package reset

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/tracmex/nip-reset/internal/domain"
	"github.com/tracmex/nip-reset/internal/repository"
	"github.com/tracmex/nip-reset/internal/webhook"
)

const uniqueViolation = pq.ErrorCode("23505")

// Config holds token lifecycle configuration.
type Config struct {
	TokenTTL        time.Duration
	SecretLength    int
	RateLimitWindow time.Duration
	RateLimitMax    int
}

// Notifier delivers the signed finalization event to the external receiver.
type Notifier interface {
	Deliver(ctx context.Context, event webhook.Event) error
}

// Service drives the reset token lifecycle against the token ledger.
type Service struct {
	config   Config
	db       *sql.DB
	tokens   *repository.ResetTokensRepository
	notifier Notifier
}

// NewService creates a reset service.
func NewService(config Config, db *sql.DB, tokens *repository.ResetTokensRepository, notifier Notifier) *Service {
	if config.SecretLength == 0 {
		config.SecretLength = 32
	}
	return &Service{
		config:   config,
		db:       db,
		tokens:   tokens,
		notifier: notifier,
	}
}

// IssueParams carries the subject, the denormalized display label, the
// directory references needed later for the finalization payload, and the
// request context recorded with the token.
type IssueParams struct {
	CustomerID   string
	VehicleID    string
	VehicleLabel string
	Contract     string
	Plates       string
	Serial       string
	IP           string
	UserAgent    string
}

// correlation is the directory reference blob persisted with the token and
// replayed into the finalization payload.
type correlation struct {
	Contract string `json:"contract"`
	Plates   string `json:"plates"`
	Serial   string `json:"serial"`
}

// IsRateLimited reports whether another token may be issued for the
// subject. Pure read over the issuance history; no side effects.
func (s *Service) IsRateLimited(ctx context.Context, customerID, vehicleID string) (bool, error) {
	since := time.Now().Add(-s.config.RateLimitWindow)
	count, err := s.tokens.CountIssuedSince(ctx, customerID, vehicleID, since)
	if err != nil {
		return false, fmt.Errorf("failed to count issued tokens: %w", err)
	}
	return count >= s.config.RateLimitMax, nil
}

// Issue creates a new reset token for the subject, superseding any active
// one, and returns the plaintext secret exactly once. The caller delivers
// it out-of-band; it is never persisted or logged.
func (s *Service) Issue(ctx context.Context, params IssueParams) (string, error) {
	secret, err := GenerateSecret(s.config.SecretLength)
	if err != nil {
		return "", err
	}

	err = s.insertToken(ctx, params, HashSecret(secret))
	if isUniqueViolation(err) {
		// A concurrent issuance won the insert. Supersede it and try once
		// more so the last request holds the single active token.
		err = s.insertToken(ctx, params, HashSecret(secret))
	}
	if err != nil {
		return "", err
	}

	return secret, nil
}

func (s *Service) insertToken(ctx context.Context, params IssueParams, tokenHash string) error {
	corr, err := json.Marshal(correlation{
		Contract: params.Contract,
		Plates:   params.Plates,
		Serial:   params.Serial,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal correlation: %w", err)
	}

	meta, err := json.Marshal(map[string]string{
		"ip":         params.IP,
		"user_agent": params.UserAgent,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request metadata: %w", err)
	}

	now := time.Now()
	token := &domain.ResetToken{
		ID:           uuid.New(),
		CustomerID:   params.CustomerID,
		VehicleID:    params.VehicleID,
		TokenHash:    tokenHash,
		VehicleLabel: params.VehicleLabel,
		Correlation:  corr,
		RequestMeta:  meta,
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.config.TokenTTL),
	}

	return repository.Tx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.tokens.SupersedeActiveTx(ctx, tx, params.CustomerID, params.VehicleID); err != nil {
			return fmt.Errorf("failed to supersede active tokens: %w", err)
		}
		if err := s.tokens.CreateTx(ctx, tx, token); err != nil {
			return err
		}
		return nil
	})
}

// Invalidate supersedes any active token for the subject without issuing a
// replacement. Used when out-of-band delivery of a fresh link fails.
func (s *Service) Invalidate(ctx context.Context, customerID, vehicleID string) error {
	return s.tokens.SupersedeActiveTx(ctx, s.db, customerID, vehicleID)
}

// TokenInfo resolves a raw token to its subject for read-only status
// queries. Absent, consumed and expired tokens all come back as
// ErrTokenInvalid.
func (s *Service) TokenInfo(ctx context.Context, rawToken string) (*domain.ResetToken, error) {
	token, err := s.tokens.GetByTokenHash(ctx, HashSecret(rawToken))
	if err != nil {
		if errors.Is(err, domain.ErrTokenNotFound) {
			return nil, domain.ErrTokenInvalid
		}
		return nil, err
	}
	if !token.IsActive() {
		return nil, domain.ErrTokenInvalid
	}
	return token, nil
}

// Confirm validates the presented token and NIP pair, hands the new NIP
// off to the external receiver, and consumes the token. The handoff runs
// while the token row is locked: a token can never be finalized twice, at
// the cost of holding the lock for the webhook call's bounded duration.
func (s *Service) Confirm(ctx context.Context, rawToken, nip, nipConfirm string) error {
	if nip != nipConfirm {
		return domain.ErrNIPMismatch
	}

	tokenHash := HashSecret(rawToken)

	return repository.Tx(ctx, s.db, func(tx *sql.Tx) error {
		token, err := s.tokens.LockByTokenHashTx(ctx, tx, tokenHash)
		if err != nil {
			if errors.Is(err, domain.ErrTokenNotFound) {
				return domain.ErrTokenInvalid
			}
			return err
		}
		if !token.IsActive() {
			return domain.ErrTokenInvalid
		}

		var corr correlation
		if len(token.Correlation) > 0 {
			if err := json.Unmarshal(token.Correlation, &corr); err != nil {
				return fmt.Errorf("failed to unmarshal correlation: %w", err)
			}
		}

		event := webhook.Event{
			Evento:       webhook.EventNIPReset,
			RequestID:    uuid.NewString(),
			Timestamp:    time.Now().UTC(),
			CustomerID:   token.CustomerID,
			VehicleID:    token.VehicleID,
			VehicleLabel: token.VehicleLabel,
			Contract:     corr.Contract,
			Plates:       corr.Plates,
			Serial:       corr.Serial,
			NIP:          nip,
		}
		if err := s.notifier.Deliver(ctx, event); err != nil {
			// Roll back: the token stays active and the same caller can
			// retry once the receiver recovers.
			return fmt.Errorf("%w: %v", domain.ErrHandoffUnavailable, err)
		}

		if err := s.tokens.MarkUsedTx(ctx, tx, token.ID); err != nil {
			if errors.Is(err, domain.ErrTokenAlreadyUsed) {
				return domain.ErrTokenInvalid
			}
			return err
		}
		return nil
	})
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
