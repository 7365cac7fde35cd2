package webauth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuerIssue(t *testing.T) {
	tokens := newFakeTokens()
	issuer := NewTokenIssuer(tokens)

	user := &User{ID: uuid.New(), Username: "admin@example.com"}
	expiresAt := time.Now().Add(ResetTokenTTL)

	token, err := issuer.Issue(context.Background(), SubjectPassword, user, expiresAt)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	record, err := tokens.GetBySubjectToken(context.Background(), SubjectPassword, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, *record.UserID)
	assert.WithinDuration(t, expiresAt, *record.ExpiresAt, time.Second)
}

func TestTokenIssuerIssueWithoutUser(t *testing.T) {
	issuer := NewTokenIssuer(newFakeTokens())

	_, err := issuer.Issue(context.Background(), SubjectPassword, nil, time.Now())
	assert.Error(t, err)

	_, err = issuer.Issue(context.Background(), SubjectPassword, &User{}, time.Now())
	assert.Error(t, err)
}

func TestTokenIssuerVerify(t *testing.T) {
	user := &User{ID: uuid.New(), Username: "admin@example.com"}
	tokens := newFakeTokens()
	tokens.attachUser = user

	issuer := NewTokenIssuer(tokens)

	token, err := issuer.Issue(context.Background(), SubjectPassword, user, time.Now().Add(ResetTokenTTL))
	require.NoError(t, err)

	// verification does not consume, so it can be repeated
	for i := 0; i < 2; i++ {
		got, err := issuer.Verify(context.Background(), SubjectPassword, token)
		require.NoError(t, err)
		assert.Equal(t, user.ID, got.ID)
	}
}

func TestTokenIssuerVerifyInvalid(t *testing.T) {
	issuer := NewTokenIssuer(newFakeTokens())

	_, err := issuer.Verify(context.Background(), SubjectPassword, "")
	assert.ErrorIs(t, err, ErrInvalidConfirmToken)

	_, err = issuer.Verify(context.Background(), SubjectPassword, "no-such-token")
	assert.ErrorIs(t, err, ErrInvalidConfirmToken)
	assert.True(t, IsInvalidTokenError(err))
}

func TestTokenIssuerVerifyExpired(t *testing.T) {
	user := &User{ID: uuid.New(), Username: "admin@example.com"}
	tokens := newFakeTokens()
	tokens.attachUser = user

	issuer := NewTokenIssuer(tokens)

	token, err := issuer.Issue(context.Background(), SubjectPassword, user, time.Now().Add(ResetTokenTTL))
	require.NoError(t, err)

	issuer.nowFn = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err = issuer.Verify(context.Background(), SubjectPassword, token)
	assert.ErrorIs(t, err, ErrExpiredConfirmToken)
	assert.True(t, IsInvalidTokenError(err))
}

func TestTokenIssuerVerifyWrongSubject(t *testing.T) {
	user := &User{ID: uuid.New(), Username: "admin@example.com"}
	tokens := newFakeTokens()
	tokens.attachUser = user

	issuer := NewTokenIssuer(tokens)

	token, err := issuer.Issue(context.Background(), SubjectPassword, user, time.Now().Add(ResetTokenTTL))
	require.NoError(t, err)

	_, err = issuer.Verify(context.Background(), "verification", token)
	assert.ErrorIs(t, err, ErrInvalidConfirmToken)
}

func TestTokenIssuerConsume(t *testing.T) {
	user := &User{ID: uuid.New(), Username: "admin@example.com"}
	tokens := newFakeTokens()
	tokens.attachUser = user

	issuer := NewTokenIssuer(tokens)

	token, err := issuer.Issue(context.Background(), SubjectPassword, user, time.Now().Add(ResetTokenTTL))
	require.NoError(t, err)

	removed, err := issuer.Consume(context.Background(), SubjectPassword, token)
	require.NoError(t, err)
	assert.True(t, removed)

	// the second consumer loses the race and removes nothing
	removed, err = issuer.Consume(context.Background(), SubjectPassword, token)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = issuer.Verify(context.Background(), SubjectPassword, token)
	assert.ErrorIs(t, err, ErrInvalidConfirmToken)
}

func TestTokenIssuerConsumeSingleWinner(t *testing.T) {
	user := &User{ID: uuid.New(), Username: "admin@example.com"}
	tokens := newFakeTokens()
	tokens.attachUser = user

	issuer := NewTokenIssuer(tokens)

	token, err := issuer.Issue(context.Background(), SubjectPassword, user, time.Now().Add(ResetTokenTTL))
	require.NoError(t, err)

	// two simultaneous submissions of the same token: exactly one may
	// remove it
	start := make(chan struct{})
	results := make(chan bool, 2)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start

			removed, err := issuer.Consume(context.Background(), SubjectPassword, token)
			assert.NoError(t, err)
			results <- removed
		}()
	}

	close(start)
	wg.Wait()
	close(results)

	winners := 0
	for removed := range results {
		if removed {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}
