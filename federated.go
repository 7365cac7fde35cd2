package webauth

import (
	"fmt"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// Assertion is the already-validated statement the federated identity
// provider makes about the current request. It is never persisted.
type Assertion struct {
	Attributes map[string][]string
}

// LogoutOutcome is the recorded result of a federated logout round trip
type LogoutOutcome int

const (
	LogoutOutcomeUnknown LogoutOutcome = iota
	LogoutOutcomeSuccess
	LogoutOutcomeFailure
)

// FederatedProvider is the capability the bridge needs from a SAML (or
// similar) service provider implementation.
type FederatedProvider interface {
	// Enabled reports whether the provider is configured and usable
	Enabled() bool
	// CurrentAssertion returns the assertion attached to the request,
	// if the principal holds an IdP session.
	CurrentAssertion(ctx router.Context) (*Assertion, bool)
	// LogoutURL builds the IdP single-logout redirect carrying the
	// return URL and an opaque state correlation token.
	LogoutURL(ctx router.Context, returnTo, state string) (string, error)
	// LogoutOutcome recovers the result of a logout previously
	// initiated with the given state token.
	LogoutOutcome(state string) LogoutOutcome
}

// Bridge maps federated assertions onto local sessions. A nil bridge,
// or one without a provider, is inert: every method degrades to the
// non-federated behavior.
type Bridge struct {
	provider  FederatedProvider
	attribute string
	format    string
	session   *SessionManager
	logger    Logger
}

// NewBridge wires a provider to the session manager. The attribute
// names which assertion attribute carries the principal, and format is
// the printf template that turns an attribute value into a username
// (e.g. "%s@example.com").
func NewBridge(provider FederatedProvider, attribute, format string, session *SessionManager) *Bridge {
	return &Bridge{
		provider:  provider,
		attribute: attribute,
		format:    format,
		session:   session,
		logger:    defLogger{},
	}
}

func (b *Bridge) WithLogger(l Logger) *Bridge {
	b.logger = l
	return b
}

// Enabled is nil-safe so call sites can skip the nil checks
func (b *Bridge) Enabled() bool {
	return b != nil && b.provider != nil && b.provider.Enabled()
}

// TryLogin logs the principal in from the current assertion, when one
// is present and maps to an existing user. Every attribute value is
// attempted and the last matching user wins; unknown values are skipped
// silently so federated principals without local accounts see the
// ordinary login page.
func (b *Bridge) TryLogin(ctx router.Context) (bool, error) {
	if !b.Enabled() {
		return false, nil
	}

	assertion, ok := b.provider.CurrentAssertion(ctx)
	if !ok || assertion == nil {
		return false, nil
	}

	values, ok := assertion.Attributes[b.attribute]
	if !ok {
		return false, nil
	}

	loggedIn := false
	for _, value := range values {
		username := fmt.Sprintf(b.format, value)

		if err := b.session.LoginAs(ctx, username); err != nil {
			if repository.IsRecordNotFound(err) || errors.IsNotFound(err) {
				continue
			}
			return loggedIn, err
		}

		b.logger.Info("federated login", "username", username)
		loggedIn = true
	}

	return loggedIn, nil
}

// LogoutRedirect builds the IdP single-logout URL with a fresh state
// correlation token. The caller should redirect the principal there
// after clearing the local session.
func (b *Bridge) LogoutRedirect(ctx router.Context, returnTo string) (string, error) {
	state := uuid.NewString()

	url, err := b.provider.LogoutURL(ctx, returnTo, state)
	if err != nil {
		return "", errors.Wrap(err, errors.CategoryInternal, "failed to build federated logout URL")
	}

	return url, nil
}

// LogoutMessage recovers the outcome of a federated logout by its state
// token and translates it to the user-facing status message. Anything
// but an unambiguous success means sessions may survive at the IdP.
func (b *Bridge) LogoutMessage(state string) (message, level string, ok bool) {
	if state == "" || !b.Enabled() {
		return "", "", false
	}

	switch b.provider.LogoutOutcome(state) {
	case LogoutOutcomeSuccess:
		return MsgLoggedOut, LevelWarning, true
	case LogoutOutcomeFailure:
		return MsgLogoutIncomplete, LevelWarning, true
	default:
		return "", "", false
	}
}
