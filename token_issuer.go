package webauth

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ResetTokenTTL is the validity window for password-reset tokens
const ResetTokenTTL = time.Hour

// TokenIssuer manages single-use confirmation tokens. A token moves
// Issued -> Consumed or Issued -> Expired; verification never changes
// state and can be repeated.
type TokenIssuer struct {
	tokens Tokens
	logger Logger
	nowFn  func() time.Time
}

func NewTokenIssuer(tokens Tokens) *TokenIssuer {
	return &TokenIssuer{
		tokens: tokens,
		logger: defLogger{},
		nowFn:  time.Now,
	}
}

func (t *TokenIssuer) WithLogger(l Logger) *TokenIssuer {
	t.logger = l
	return t
}

// Issue persists a fresh opaque token for the user under the given
// subject and returns it. The caller picks the expiration.
func (t *TokenIssuer) Issue(ctx context.Context, subject string, user *User, expiresAt time.Time) (string, error) {
	if user == nil || user.ID == uuid.Nil {
		return "", errors.New("cannot issue token without a user", errors.CategoryBadInput).
			WithCode(errors.CodeBadRequest)
	}

	token := uuid.NewString()
	record := &Token{
		Subject:   subject,
		Token:     token,
		UserID:    &user.ID,
		ExpiresAt: &expiresAt,
	}

	if _, err := t.tokens.Create(ctx, record); err != nil {
		return "", err
	}

	return token, nil
}

// Verify resolves a token to its user without consuming it. Absent
// tokens are invalid; present but stale tokens are expired. Both match
// IsInvalidTokenError.
func (t *TokenIssuer) Verify(ctx context.Context, subject, token string) (*User, error) {
	if token == "" {
		return nil, ErrInvalidConfirmToken
	}

	record, err := t.tokens.GetBySubjectToken(ctx, subject, token)
	if err != nil {
		// the store reports misses with its own not-found category
		if repository.IsRecordNotFound(err) || errors.IsNotFound(err) {
			return nil, ErrInvalidConfirmToken
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to look up confirmation token")
	}

	if record.Expired(t.nowFn()) {
		return nil, ErrExpiredConfirmToken
	}

	if record.User == nil {
		t.logger.Error("confirmation token has no user", "subject", subject)
		return nil, ErrInvalidConfirmToken
	}

	return record.User, nil
}

// Consume removes the token and reports whether this caller removed it.
// The losing side of a concurrent submission gets false, not an error.
func (t *TokenIssuer) Consume(ctx context.Context, subject, token string) (bool, error) {
	return t.tokens.Consume(ctx, subject, token)
}

// ConsumeTx is Consume inside a caller-owned transaction
func (t *TokenIssuer) ConsumeTx(ctx context.Context, tx bun.IDB, subject, token string) (bool, error) {
	return t.tokens.ConsumeTx(ctx, tx, subject, token)
}
