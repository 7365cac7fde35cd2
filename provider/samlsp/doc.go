// Package samlsp adapts a crewjam/saml service provider to the
// webauth.FederatedProvider contract: assertion attributes for
// auto-login, single-logout redirects, and per-state logout outcomes.
package samlsp
