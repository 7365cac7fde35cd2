package webauth

import (
	"strings"

	"github.com/goliatone/go-errors"
)

// Text codes attached to rich errors so transports can branch without
// string matching on messages.
const (
	TextCodeLoginFailed    = "LOGIN_FAILED"
	TextCodeLoginCancelled = "LOGIN_CANCELLED"
	TextCodeTokenInvalid   = "CONFIRM_TOKEN_INVALID"
	TextCodeTokenExpired   = "CONFIRM_TOKEN_EXPIRED"
	TextCodeDuplicate      = "DUPLICATE_RECORD"
	TextCodeRoute          = "ROUTE_RESOLUTION"
	TextCodeMail           = "MAIL_DELIVERY"
	TextCodeHashConfig     = "HASH_CONFIG"
)

// ErrIdentityNotFound is the error we return for non found identities
var ErrIdentityNotFound = errors.New("identity not found", errors.CategoryNotFound).
	WithCode(errors.CodeNotFound)

// ErrMismatchedHashAndPassword is returned when the password does not
// match the stored hash. Lookups that miss fold into this same error so
// callers cannot tell absent accounts from wrong passwords.
var ErrMismatchedHashAndPassword = errors.New("invalid credentials", errors.CategoryAuth).
	WithTextCode(TextCodeLoginFailed).
	WithCode(errors.CodeUnauthorized)

// ErrNoEmptyString rejects empty passwords before hashing
var ErrNoEmptyString = errors.New("password must not be empty", errors.CategoryBadInput).
	WithCode(errors.CodeBadRequest)

// ErrInvalidHashCost flags a bcrypt cost outside the supported range
var ErrInvalidHashCost = errors.New("bcrypt cost outside supported range", errors.CategoryInternal).
	WithTextCode(TextCodeHashConfig).
	WithCode(errors.CodeInternal)

// ErrInvalidConfirmToken is returned when a confirmation token does not
// exist for the subject, was already consumed, or never was issued.
var ErrInvalidConfirmToken = errors.New("confirmation token is invalid", errors.CategoryAuth).
	WithTextCode(TextCodeTokenInvalid).
	WithCode(errors.CodeUnauthorized)

// ErrExpiredConfirmToken is returned when a confirmation token exists but
// its expiration has passed.
var ErrExpiredConfirmToken = errors.New("confirmation token has expired", errors.CategoryAuth).
	WithTextCode(TextCodeTokenExpired).
	WithCode(errors.CodeUnauthorized)

// ErrTokenExpired is the rich error for expired session JWTs
var ErrTokenExpired = errors.New("session token is expired", errors.CategoryAuth).
	WithTextCode("TOKEN_EXPIRED").
	WithCode(errors.CodeUnauthorized)

// ErrTokenMalformed is the rich error for undecodable session JWTs
var ErrTokenMalformed = errors.New("session token is malformed", errors.CategoryAuth).
	WithTextCode("TOKEN_MALFORMED").
	WithCode(errors.CodeUnauthorized)

// ErrUnableToFindSession is the error when our request has no cookie
var ErrUnableToFindSession = errors.New("unable to find session", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized)

// ErrUnableToDecodeSession unable to decode JWT from session cookie
var ErrUnableToDecodeSession = errors.New("unable to decode session", errors.CategoryAuth).
	WithCode(errors.CodeUnauthorized)

// NewLoginCancelled builds the error for a provider veto during login.
// The reason is surfaced to the user verbatim, so it must already be a
// presentable sentence fragment.
func NewLoginCancelled(reason string) *errors.Error {
	return errors.New(reason, errors.CategoryAuth).
		WithTextCode(TextCodeLoginCancelled).
		WithCode(errors.CodeUnauthorized)
}

// NewDuplicateError wraps a storage unique-violation as a conflict
func NewDuplicateError(err error, msg string) *errors.Error {
	return errors.Wrap(err, errors.CategoryConflict, msg).
		WithTextCode(TextCodeDuplicate).
		WithCode(errors.CodeConflict)
}

// IsLoginCancelled reports whether a provider vetoed the login
func IsLoginCancelled(err error) bool {
	return hasTextCode(err, TextCodeLoginCancelled)
}

// LoginCancelledReason returns the provider message carried by a
// cancelled login error.
func LoginCancelledReason(err error) string {
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return richErr.Message
	}
	return ""
}

// IsInvalidTokenError matches both invalid and expired confirmation
// tokens; the reset flow presents them identically.
func IsInvalidTokenError(err error) bool {
	return hasTextCode(err, TextCodeTokenInvalid) || hasTextCode(err, TextCodeTokenExpired)
}

// IsDuplicateError reports whether the error is a unique violation
func IsDuplicateError(err error) bool {
	return hasTextCode(err, TextCodeDuplicate)
}

func hasTextCode(err error, code string) bool {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == code
}

// IsTokenExpiredError will check for expired session JWTs
func IsTokenExpiredError(err error) bool {
	if err == nil {
		return false
	}
	return hasTextCode(err, "TOKEN_EXPIRED") ||
		strings.Contains(err.Error(), "token is expired")
}

// IsMalformedError will check for error message
func IsMalformedError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "token is malformed") ||
		strings.Contains(err.Error(), "missing or malformed JWT")
}
