package webauth

import (
	"net/http"
	"net/url"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// SessionManager owns the session cookie: it logs principals in and out
// and answers whether the current request carries a valid session.
type SessionManager struct {
	auth           Authenticator
	cfg            Config
	cookieDuration time.Duration
	Logger         Logger
	ErrorHandler   func(c router.Context, err error) error
}

func NewSessionManager(auther Authenticator, cfg Config) (*SessionManager, error) {
	cookieDuration := 24 * time.Hour
	if cfg.GetTokenExpiration() > 0 {
		cookieDuration = time.Duration(cfg.GetTokenExpiration()) * time.Hour
	}

	m := &SessionManager{
		cfg:            cfg,
		auth:           auther,
		Logger:         defLogger{},
		cookieDuration: cookieDuration,
	}

	m.ErrorHandler = m.defaultErrHandler

	return m, nil
}

func (a SessionManager) GetCookieDuration() time.Duration {
	return a.cookieDuration
}

// Current decodes the session cookie into a Session. A missing cookie
// returns ErrUnableToFindSession.
func (a *SessionManager) Current(ctx router.Context) (Session, error) {
	raw := ctx.Cookies(a.cfg.GetContextKey())
	if raw == "" {
		return nil, ErrUnableToFindSession
	}

	session, err := a.auth.SessionFromToken(raw)
	if err != nil {
		return nil, err
	}

	return session, nil
}

// IsLoggedIn reports whether the request carries a valid session
func (a *SessionManager) IsLoggedIn(ctx router.Context) bool {
	_, err := a.Current(ctx)
	return err == nil
}

// IsLoggedOut is the complement of IsLoggedIn
func (a *SessionManager) IsLoggedOut(ctx router.Context) bool {
	return !a.IsLoggedIn(ctx)
}

// Login verifies the credentials and establishes the session cookie
func (a *SessionManager) Login(ctx router.Context, username, password string) error {
	token, err := a.auth.Login(ctx.Context(), username, password)
	if err != nil {
		a.Logger.Error("Login error", "error", err)
		return err
	}

	a.setCookieToken(ctx, token, a.cookieDuration)
	return nil
}

// LoginAs establishes a session for a known user without a password
// check. Reserved for the federated bridge.
func (a *SessionManager) LoginAs(ctx router.Context, username string) error {
	token, err := a.auth.LoginAs(ctx.Context(), username)
	if err != nil {
		a.Logger.Error("LoginAs authentication error", "error", err)
		return err
	}

	a.setCookieToken(ctx, token, a.cookieDuration)
	return nil
}

// Logout expires the session cookie. Safe to call for requests that
// carry no session.
func (a *SessionManager) Logout(ctx router.Context) {
	a.cookieDel(ctx, a.cfg.GetContextKey())
}

// RequireAuth guards a route: logged-out requests are redirected to the
// login page with the original URL in the return parameter.
func (a *SessionManager) RequireAuth(loginPath string) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if a.IsLoggedIn(ctx) {
				return hf(ctx)
			}

			target := loginPath + "?return=" + url.QueryEscape(ctx.OriginalURL())

			statusCode := http.StatusSeeOther
			if ctx.Method() == string(router.GET) {
				statusCode = http.StatusFound
			}
			return ctx.Redirect(target, statusCode)
		}
	}
}

func (a *SessionManager) setCookieToken(c router.Context, val string, duration time.Duration) {
	c.Cookie(&router.Cookie{
		Name:     a.cfg.GetContextKey(),
		Value:    val,
		Expires:  time.Now().Add(duration),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *SessionManager) cookieDel(c router.Context, name string) {
	c.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   true,
		SameSite: "Lax",
	})
}

func (a *SessionManager) defaultErrHandler(c router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithCode(errors.CodeInternal)
	}

	a.Logger.Info(
		"Session error handler",
		"error", richErr.Message,
		"category", richErr.Category,
		"details", print.MaybePrettyJSON(richErr.Metadata),
	)

	return c.Status(richErr.Code).Render("errors/500", router.ViewContext{
		"error": richErr,
	})
}
