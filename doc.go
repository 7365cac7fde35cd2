// Package webauth implements the authentication surface of a web
// application: credential login, logout, emailed password-reset tokens,
// and optional federated login through an external SAML identity
// provider.
//
// Sessions are signed JWTs carried in an HTTP-only cookie and decoded on
// every request; the database is the only shared state. Reset tokens are
// single-use rows keyed by (subject, token) and consumed with a single
// conditional delete so concurrent submissions have exactly one winner.
//
// The federated bridge is optional: when no provider is configured it is
// inert and the credential flows behave identically. Federated login only
// ever maps an assertion onto an existing local user, it never creates
// accounts.
package webauth
