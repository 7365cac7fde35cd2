package webauth

import (
	"context"
	"net/url"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"
	"github.com/uptrace/bun"
)

// Status message levels drained by the next rendered page
const (
	LevelSuccess = "success"
	LevelWarning = "warning"
	LevelFailure = "failure"
)

// User-facing status messages. The reset-request message is identical
// whether or not the account exists.
const (
	MsgUsernameRequired    = "A username must be specified."
	MsgPasswordRequired    = "A password must be specified."
	MsgLoginInvalid        = "The username or password is invalid."
	MsgLoggedOut           = "You have been logged out."
	MsgLogoutIncomplete    = "Could not logout from all sessions, please close your browser."
	MsgEmailRequired       = "You must provide a valid email address."
	MsgResetRequested      = "Check your email for instructions on how to change your password."
	MsgTokenInvalid        = "The link to change your password is invalid or has expired. Please make another request."
	MsgNewPasswordRequired = "You must provide a valid new password."
	MsgConfirmRequired     = "You must confirm your new password."
	MsgPasswordUpdated     = "Your password has been updated. Please log in to continue."
)

// RegisterAuthRoutes mounts the auth surface on the router
func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) {

	controller := NewAuthController(opts...)

	app.
		Get(controller.Routes.Index,
			controller.IndexShow,
			controller.Session.RequireAuth(controller.Routes.Login),
		).
		SetName("index.get")

	app.Get(controller.Routes.Login, controller.LoginShow).SetName("login.get")
	app.Post(controller.Routes.Login, controller.LoginPost).SetName("login.post")

	app.Get(controller.Routes.Logout, controller.Logout).SetName("logout.get")
	app.Post(controller.Routes.Logout, controller.Logout).SetName("logout.post")

	app.Get(controller.Routes.Password, controller.PasswordShow).SetName("password.get")
	app.Post(controller.Routes.Password, controller.PasswordPost).SetName("password.post")
}

type AuthControllerRoutes struct {
	Index    string
	Login    string
	Logout   string
	Password string
}

type AuthControllerViews struct {
	Index             string
	Login             string
	Password          string
	MailPasswordReset string
}

type AuthController struct {
	Debug        bool
	Logger       Logger
	Repo         RepositoryManager
	Session      *SessionManager
	Tokens       *TokenIssuer
	Mailer       Mailer
	Bridge       *Bridge
	BaseURL      string
	Routes       *AuthControllerRoutes
	Views        *AuthControllerViews
	ErrorHandler router.ErrorHandler
}

type AuthControllerOption func(*AuthController) *AuthController

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:       defLogger{},
		ErrorHandler: defaultErrHandler,
		Routes: &AuthControllerRoutes{
			Index:    "/",
			Login:    "/login",
			Logout:   "/logout",
			Password: "/password",
		},
		Views: &AuthControllerViews{
			Index:             "index",
			Login:             "login",
			Password:          "password",
			MailPasswordReset: "mail/password",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in auth controller...")
	}

	if c.Session == nil {
		panic("Missing SessionManager in auth controller...")
	}

	if c.Tokens == nil {
		panic("Missing TokenIssuer in auth controller...")
	}

	if c.Mailer == nil {
		panic("Missing Mailer in auth controller...")
	}

	return c
}

func (a *AuthController) WithLogger(l Logger) *AuthController {
	a.Logger = l
	return a
}

// IndexShow renders the landing page. It sits behind RequireAuth, so a
// session is always present here.
func (a *AuthController) IndexShow(ctx router.Context) error {
	session, err := a.Session.Current(ctx)
	if err != nil {
		return a.fail(ctx, err)
	}

	user, err := a.Repo.Users().GetByID(ctx.Context(), session.GetUserID())
	if err != nil {
		return a.fail(ctx, err)
	}

	return ctx.Render(a.Views.Index, router.ViewContext{
		"show_chrome": true,
		"user":        user,
	})
}

// LoginShow renders the login form. When a federated provider holds an
// assertion for the request it logs the principal in first, and when a
// state parameter references a finished federated logout it surfaces
// that outcome.
func (a *AuthController) LoginShow(ctx router.Context) error {
	returnURL := ctx.Query("return", "")

	// the federated login sets the cookie on the response, so the
	// request alone cannot answer whether we are logged in
	loggedIn := a.Session.IsLoggedIn(ctx)

	var stateMessage, stateLevel string
	if a.Bridge.Enabled() {
		ok, err := a.Bridge.TryLogin(ctx)
		if err != nil {
			return a.fail(ctx, err)
		}
		loggedIn = loggedIn || ok

		stateMessage, stateLevel, _ = a.Bridge.LogoutMessage(ctx.Query("state", ""))
	}

	if loggedIn {
		target := a.Routes.Index
		if returnURL != "" {
			target = returnURL
		}

		if stateMessage != "" {
			return flash.WithSuccess(ctx, router.ViewContext{
				"level":   stateLevel,
				"message": stateMessage,
			}).Redirect(target, fiber.StatusFound)
		}

		return ctx.Redirect(target, fiber.StatusFound)
	}

	data := router.ViewContext{
		"show_chrome": false,
		"return":      returnURL,
	}

	// the notice goes straight into this render; flash would only
	// surface it on the request after this one
	if stateMessage != "" {
		data["level"] = stateLevel
		data["message"] = stateMessage
	}

	return ctx.Render(a.Views.Login, data)
}

// LoginRequest payload
type LoginRequest struct {
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
	Return   string `form:"return" json:"return"`
}

// LoginPost answers with a redirect in every branch: back to the login
// page with a message on failure, to the return URL on success.
func (a *AuthController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.fail(ctx, errors.Wrap(err, errors.CategoryBadInput, "failed to parse login form").
			WithCode(errors.CodeBadRequest))
	}

	redirect, err := a.loginURL(payload.Return)
	if err != nil {
		return a.fail(ctx, err)
	}

	if a.Session.IsLoggedIn(ctx) {
		return ctx.Redirect(redirect, fiber.StatusSeeOther)
	}

	username, ok := OptionalField(payload.Username)
	if !ok {
		return a.redirectMessage(ctx, redirect, LevelFailure, MsgUsernameRequired)
	}

	password, ok := OptionalField(payload.Password)
	if !ok {
		return a.redirectMessage(ctx, redirect, LevelFailure, MsgPasswordRequired)
	}

	if err := a.Session.Login(ctx, username, password); err != nil {
		if IsLoginCancelled(err) {
			return a.redirectMessage(ctx, redirect, LevelFailure, LoginCancelledReason(err)+".")
		}

		// only credential failures get the generic message; a store or
		// signing failure is a broken deployment, not a wrong password
		var richErr *errors.Error
		if !errors.As(err, &richErr) || richErr.Category != errors.CategoryAuth {
			return a.fail(ctx, err)
		}

		a.Logger.Info("login rejected", "username", username)
		return a.redirectMessage(ctx, redirect, LevelFailure, MsgLoginInvalid)
	}

	target := a.Routes.Index
	if payload.Return != "" {
		target = payload.Return
	}

	return ctx.Redirect(target, fiber.StatusSeeOther)
}

// Logout clears the local session and, when the principal also holds a
// federated session, forwards to the identity provider's single logout
// with the login page as the return target. The logged-out notice for
// the federated path is queued later by LoginShow from the recovered
// logout state.
func (a *AuthController) Logout(ctx router.Context) error {
	loginURL, err := a.loginURL(ctx.Query("return", ""))
	if err != nil {
		return a.fail(ctx, err)
	}

	a.Session.Logout(ctx)

	if a.Bridge.Enabled() {
		if _, ok := a.Bridge.provider.CurrentAssertion(ctx); ok {
			slo, err := a.Bridge.LogoutRedirect(ctx, a.BaseURL+loginURL)
			if err != nil {
				return a.fail(ctx, err)
			}
			return ctx.Redirect(slo, fiber.StatusSeeOther)
		}
	}

	return a.redirectMessage(ctx, loginURL, LevelWarning, MsgLoggedOut)
}

// PasswordShow renders the reset-request form, or the new-password form
// when the query carries a token that still verifies.
func (a *AuthController) PasswordShow(ctx router.Context) error {
	token := ctx.Query("token", "")

	if token != "" {
		if _, err := a.Tokens.Verify(ctx.Context(), SubjectPassword, token); err != nil {
			return a.tokenFailure(ctx, err)
		}
	}

	return ctx.Render(a.Views.Password, router.ViewContext{
		"show_chrome": a.Session.IsLoggedIn(ctx),
		"token":       token,
	})
}

// PasswordRequest payload covers both phases of the reset flow; the
// token field decides which one the submission belongs to.
type PasswordRequest struct {
	Token    string `form:"token" json:"token"`
	Username string `form:"username" json:"username"`
	Password string `form:"password" json:"password"`
	Confirm  string `form:"confirm" json:"confirm"`
}

// ValidateEmail will run validation rules for the request phase
func (r PasswordRequest) ValidateEmail() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Username,
			validation.Required,
			is.Email,
		),
	)
}

func (a *AuthController) PasswordPost(ctx router.Context) error {
	payload := new(PasswordRequest)
	if err := ctx.Bind(payload); err != nil {
		return a.fail(ctx, errors.Wrap(err, errors.CategoryBadInput, "failed to parse password form").
			WithCode(errors.CodeBadRequest))
	}

	if payload.Token != "" {
		return a.passwordUpdate(ctx, payload)
	}

	return a.passwordRequest(ctx, payload)
}

// passwordRequest handles the first phase: issue a token and mail the
// reset link. The response is the same whether or not the address maps
// to an account, so the endpoint cannot be used to enumerate users.
func (a *AuthController) passwordRequest(ctx router.Context, payload *PasswordRequest) error {
	redirect, err := a.passwordURL("")
	if err != nil {
		return a.fail(ctx, err)
	}

	if err := payload.ValidateEmail(); err != nil {
		return a.redirectMessage(ctx, redirect, LevelFailure, MsgEmailRequired)
	}

	user, err := a.Repo.Users().GetByUsername(ctx.Context(), payload.Username)
	if err != nil && !repository.IsRecordNotFound(err) && !errors.IsNotFound(err) {
		return a.fail(ctx, err)
	}

	if user != nil {
		expiresAt := time.Now().Add(ResetTokenTTL)

		token, err := a.Tokens.Issue(ctx.Context(), SubjectPassword, user, expiresAt)
		if err != nil {
			return a.fail(ctx, err)
		}

		link, err := a.passwordURL(token)
		if err != nil {
			return a.fail(ctx, err)
		}

		err = a.Mailer.Send(ctx.Context(), user.Username, "Change Password", a.Views.MailPasswordReset, map[string]any{
			"link":  a.BaseURL + link,
			"token": token,
			"user":  user,
		})
		if err != nil {
			return a.fail(ctx, errors.Wrap(err, errors.CategoryInternal, "could not send password confirmation email").
				WithTextCode(TextCodeMail).
				WithCode(errors.CodeInternal))
		}

		if a.Debug {
			a.Logger.Debug("password reset issued", "details", print.MaybePrettyJSON(map[string]any{
				"username":   user.Username,
				"expires_at": expiresAt,
			}))
		}
	}

	return a.redirectMessage(ctx, redirect, LevelSuccess, MsgResetRequested)
}

// passwordUpdate handles the second phase: verify, validate the new
// password, then consume the token and replace the hash in one
// transaction. A concurrent submission that loses the consume race is
// answered like any other invalid token and changes nothing.
func (a *AuthController) passwordUpdate(ctx router.Context, payload *PasswordRequest) error {
	user, err := a.Tokens.Verify(ctx.Context(), SubjectPassword, payload.Token)
	if err != nil {
		return a.tokenFailure(ctx, err)
	}

	redirect, err := a.passwordURL(payload.Token)
	if err != nil {
		return a.fail(ctx, err)
	}

	password, ok := OptionalField(payload.Password)
	if !ok {
		return a.redirectMessage(ctx, redirect, LevelFailure, MsgNewPasswordRequired)
	}

	// compare against the trimmed value that gets hashed, so padding
	// cannot pass the confirm check while a different password is stored
	confirm, _ := OptionalField(payload.Confirm)
	if confirm != password {
		return a.redirectMessage(ctx, redirect, LevelFailure, MsgConfirmRequired)
	}

	hash, err := HashPassword(password)
	if err != nil {
		return a.fail(ctx, err)
	}

	err = a.Repo.RunInTx(ctx.Context(), nil, func(c context.Context, tx bun.Tx) error {
		removed, err := a.Tokens.ConsumeTx(c, tx, SubjectPassword, payload.Token)
		if err != nil {
			return err
		}

		if !removed {
			return ErrInvalidConfirmToken
		}

		return a.Repo.Users().ResetPasswordTx(c, tx, user.ID, hash)
	})
	if err != nil {
		return a.tokenFailure(ctx, err)
	}

	a.Session.Logout(ctx)

	loginURL, err := a.loginURL("")
	if err != nil {
		return a.fail(ctx, err)
	}

	return a.redirectMessage(ctx, loginURL, LevelSuccess, MsgPasswordUpdated)
}

// tokenFailure answers an invalid or expired confirmation token with
// the single generic message; anything else is a server error.
func (a *AuthController) tokenFailure(ctx router.Context, err error) error {
	if IsInvalidTokenError(err) {
		redirect, rerr := a.passwordURL("")
		if rerr != nil {
			return a.fail(ctx, rerr)
		}
		return a.redirectMessage(ctx, redirect, LevelFailure, MsgTokenInvalid)
	}

	return a.fail(ctx, err)
}

func (a *AuthController) redirectMessage(ctx router.Context, target, level, message string) error {
	data := router.ViewContext{
		"level":   level,
		"message": message,
	}

	if level == LevelFailure {
		return flash.WithError(ctx, data).Redirect(target, fiber.StatusSeeOther)
	}

	return flash.WithSuccess(ctx, data).Redirect(target, fiber.StatusSeeOther)
}

func (a *AuthController) loginURL(returnURL string) (string, error) {
	base, err := a.routeURL(a.Routes.Login)
	if err != nil {
		return "", err
	}

	if returnURL != "" {
		base += "?return=" + url.QueryEscape(returnURL)
	}

	return base, nil
}

func (a *AuthController) passwordURL(token string) (string, error) {
	base, err := a.routeURL(a.Routes.Password)
	if err != nil {
		return "", err
	}

	if token != "" {
		base += "?token=" + url.QueryEscape(token)
	}

	return base, nil
}

func (a *AuthController) routeURL(path string) (string, error) {
	if path == "" {
		return "", errors.New("could not determine URL for redirect", errors.CategoryInternal).
			WithTextCode(TextCodeRoute).
			WithCode(errors.CodeInternal)
	}
	return path, nil
}

func (a *AuthController) fail(ctx router.Context, err error) error {
	var richErr *errors.Error
	if !errors.As(err, &richErr) {
		richErr = errors.Wrap(err, errors.CategoryInternal, "An unexpected server error occurred").
			WithCode(errors.CodeInternal)
	}

	a.Logger.Error(
		"auth controller error",
		"error", richErr.Message,
		"category", richErr.Category,
		"details", print.MaybePrettyJSON(richErr.Metadata),
	)

	return a.ErrorHandler(ctx, richErr)
}

func defaultErrHandler(c router.Context, err error) error {
	return c.Render("errors/500", router.ViewContext{
		"message": err.Error(),
	})
}
