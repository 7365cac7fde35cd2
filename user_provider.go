package webauth

import (
	"context"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
)

// UserStore is the store we use to retrieve users during authentication
type UserStore interface {
	GetByUsername(ctx context.Context, username string) (*User, error)
}

// LoginVeto can block an otherwise valid login. The returned error's
// message is shown to the user, so vetoes must return a presentable
// reason (see NewLoginCancelled).
type LoginVeto func(ctx context.Context, identity Identity) error

// UserProvider handles users
type UserProvider struct {
	store  UserStore
	logger Logger
	veto   LoginVeto
}

// NewUserProvider will create a new UserProvider
func NewUserProvider(store UserStore) *UserProvider {
	return &UserProvider{
		store:  store,
		logger: defLogger{},
	}
}

func (u *UserProvider) WithLogger(l Logger) *UserProvider {
	u.logger = l
	return u
}

// WithLoginVeto registers a hook that runs after password verification
// and can cancel the login with its own message.
func (u *UserProvider) WithLoginVeto(veto LoginVeto) *UserProvider {
	u.veto = veto
	return u
}

// VerifyIdentity will find the user, compare to the password, and return identity
func (u UserProvider) VerifyIdentity(ctx context.Context, username, password string) (Identity, error) {
	user, err := u.store.GetByUsername(ctx, username)
	if err != nil {
		if repository.IsRecordNotFound(err) || errors.IsNotFound(err) {
			// Fold misses into the mismatch error so responses don't
			// reveal which accounts exist.
			return nil, ErrMismatchedHashAndPassword
		}
		return nil, errors.Wrap(err, errors.CategoryInternal, "failed to retrieve user during verification")
	}

	if user == nil {
		return nil, ErrMismatchedHashAndPassword
	}

	if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
		return nil, ErrMismatchedHashAndPassword
	}

	aid := authIdentity{
		id:       user.ID.String(),
		username: user.Username,
	}

	if u.veto != nil {
		if err := u.veto(ctx, aid); err != nil {
			u.logger.Warn("login vetoed", "username", username, "error", err)
			return nil, err
		}
	}

	return aid, nil
}

func (u UserProvider) FindIdentityByUsername(ctx context.Context, username string) (Identity, error) {
	user, err := u.store.GetByUsername(ctx, username)
	if err != nil {
		return nil, err
	}

	if user == nil {
		return nil, ErrIdentityNotFound
	}

	return authIdentity{
		id:       user.ID.String(),
		username: user.Username,
	}, nil
}

type authIdentity struct {
	id       string
	username string
}

func (a authIdentity) ID() string {
	return a.id
}

func (a authIdentity) Username() string {
	return a.username
}

var _ Identity = authIdentity{}
