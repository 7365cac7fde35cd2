package main

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"database/sql"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/authkit/go-webauth"
	"github.com/authkit/go-webauth/mailer"
	samlbridge "github.com/authkit/go-webauth/provider/samlsp"
	crewjam "github.com/crewjam/saml/samlsp"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/template/django/v3"
	"github.com/goliatone/go-router"
	mflash "github.com/goliatone/go-router/middleware/flash"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-envconfig"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// AppConfig is loaded from the environment and implements the getter
// contracts the library packages consume.
type AppConfig struct {
	Addr    string `env:"HTTP_ADDR, default=:8572"`
	BaseURL string `env:"BASE_URL, default=http://localhost:8572"`
	DSN     string `env:"DATABASE_DSN, default=file:webauth.db?cache=shared"`

	SigningKey    string   `env:"SESSION_SIGNING_KEY, default=insecure-dev-signing-key"`
	CookieName    string   `env:"SESSION_COOKIE_NAME, default=app_session"`
	SessionHours  int      `env:"SESSION_HOURS, default=24"`
	SessionIssuer string   `env:"SESSION_ISSUER, default=webauthd"`
	SessionAud    []string `env:"SESSION_AUDIENCE"`

	SMTPHost     string `env:"SMTP_HOST, default=localhost"`
	SMTPPort     int    `env:"SMTP_PORT, default=587"`
	SMTPUsername string `env:"SMTP_USERNAME"`
	SMTPPassword string `env:"SMTP_PASSWORD"`
	MailFrom     string `env:"MAIL_FROM, default=noreply@localhost"`

	SAMLMetadataURL string `env:"SAML_IDP_METADATA_URL"`
	SAMLCertFile    string `env:"SAML_SP_CERT_FILE"`
	SAMLKeyFile     string `env:"SAML_SP_KEY_FILE"`
	SAMLCookieName  string `env:"SAML_COOKIE_NAME, default=saml_session"`
	SAMLAttribute   string `env:"SAML_ATTRIBUTE, default=uid"`
	SAMLFormat      string `env:"SAML_FORMAT, default=%s@example.com"`

	SeedUsername string `env:"SEED_USERNAME"`
	SeedPassword string `env:"SEED_PASSWORD"`

	LogLevel  string `env:"LOG_LEVEL, default=info"`
	LogPretty bool   `env:"LOG_PRETTY, default=true"`
}

func (c *AppConfig) GetSigningKey() string   { return c.SigningKey }
func (c *AppConfig) GetContextKey() string   { return c.CookieName }
func (c *AppConfig) GetTokenExpiration() int { return c.SessionHours }
func (c *AppConfig) GetIssuer() string       { return c.SessionIssuer }
func (c *AppConfig) GetAudience() []string   { return c.SessionAud }

func (c *AppConfig) GetSMTPHost() string     { return c.SMTPHost }
func (c *AppConfig) GetSMTPPort() int        { return c.SMTPPort }
func (c *AppConfig) GetSMTPUsername() string { return c.SMTPUsername }
func (c *AppConfig) GetSMTPPassword() string { return c.SMTPPassword }
func (c *AppConfig) GetMailFrom() string     { return c.MailFrom }

var (
	_ webauth.Config = (*AppConfig)(nil)
	_ mailer.Config  = (*AppConfig)(nil)
)

// userStoreAdapter narrows the Users repository to the lookup the
// identity provider needs.
type userStoreAdapter struct {
	users webauth.Users
}

func (a userStoreAdapter) GetByUsername(ctx context.Context, username string) (*webauth.User, error) {
	return a.users.GetByUsername(ctx, username)
}

// zeroLogger adapts zerolog to the webauth.Logger contract. Printf
// style formats are rendered as the message; otherwise the args are
// treated as key/value pairs.
type zeroLogger struct {
	log zerolog.Logger
}

func newZeroLogger(cfg *AppConfig, name string) zeroLogger {
	var out = zerolog.New(os.Stdout)
	if cfg.LogPretty {
		out = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return zeroLogger{
		log: out.Level(parseLevel(cfg.LogLevel)).
			With().
			Timestamp().
			Str("component", name).
			Logger(),
	}
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (l zeroLogger) Debug(format string, args ...any) { l.emit(l.log.Debug(), format, args) }
func (l zeroLogger) Info(format string, args ...any)  { l.emit(l.log.Info(), format, args) }
func (l zeroLogger) Warn(format string, args ...any)  { l.emit(l.log.Warn(), format, args) }
func (l zeroLogger) Error(format string, args ...any) { l.emit(l.log.Error(), format, args) }

func (l zeroLogger) emit(ev *zerolog.Event, format string, args []any) {
	if len(args) == 0 {
		ev.Msg(format)
		return
	}

	if strings.Contains(format, "%") {
		ev.Msgf(format, args...)
		return
	}

	if len(args)%2 == 0 {
		ev.Fields(args).Msg(format)
		return
	}

	ev.Msgf("%s %v", format, args)
}

func main() {
	ctx := context.Background()

	cfg := &AppConfig{}
	if err := envconfig.Process(ctx, cfg); err != nil {
		panic(err)
	}

	lgr := newZeroLogger(cfg, "app")

	db, err := openDatabase(cfg)
	if err != nil {
		panic(err)
	}

	if err := ensureSchema(ctx, db); err != nil {
		panic(err)
	}

	repo := webauth.NewRepositoryManager(db)
	if err := repo.Validate(); err != nil {
		panic(err)
	}

	if err := seedUser(ctx, cfg, repo); err != nil {
		panic(err)
	}

	views := django.New("./views", ".html")
	// load eagerly: the mailer renders templates outside the request path
	if err := views.Load(); err != nil {
		panic(err)
	}

	provider, sloHandler, samlMW, err := newSAMLProvider(ctx, cfg)
	if err != nil {
		panic(err)
	}

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		app := router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			PassLocalsToViews: true,
			Views:             views,
		}))

		if samlMW != nil {
			app.All("/saml/slo", adaptor.HTTPHandler(sloHandler))
			app.All("/saml/*", adaptor.HTTPHandler(samlMW))
		}

		return app
	})

	srv.Router().Use(mflash.New(mflash.ConfigDefault))

	userProvider := webauth.NewUserProvider(userStoreAdapter{users: repo.Users()}).
		WithLogger(newZeroLogger(cfg, "auth:provider"))

	auther := webauth.NewAuthenticator(userProvider, cfg).
		WithLogger(newZeroLogger(cfg, "auth:core"))

	session, err := webauth.NewSessionManager(auther, cfg)
	if err != nil {
		panic(err)
	}
	session.Logger = newZeroLogger(cfg, "auth:session")

	tokenIssuer := webauth.NewTokenIssuer(repo.Tokens()).
		WithLogger(newZeroLogger(cfg, "auth:tokens"))

	var bridge *webauth.Bridge
	if provider != nil {
		bridge = webauth.NewBridge(provider, cfg.SAMLAttribute, cfg.SAMLFormat, session).
			WithLogger(newZeroLogger(cfg, "auth:saml"))
	}

	webauth.RegisterAuthRoutes(srv.Router(),
		func(ac *webauth.AuthController) *webauth.AuthController {
			ac.Repo = repo
			ac.Session = session
			ac.Tokens = tokenIssuer
			ac.Mailer = mailer.New(cfg, views)
			ac.Bridge = bridge
			ac.BaseURL = cfg.BaseURL
			return ac.WithLogger(newZeroLogger(cfg, "auth:ctrl"))
		})

	lgr.Info("server listening", "addr", cfg.Addr)

	srv.Serve(cfg.Addr)

	WaitExitSignal()
}

func openDatabase(cfg *AppConfig) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, cfg.DSN)
	if err != nil {
		return nil, err
	}

	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

func ensureSchema(ctx context.Context, db *bun.DB) error {
	if _, err := db.NewCreateTable().
		Model((*webauth.User)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return err
	}

	if _, err := db.NewCreateTable().
		Model((*webauth.Token)(nil)).
		IfNotExists().
		Exec(ctx); err != nil {
		return err
	}

	_, err := db.NewCreateIndex().
		Model((*webauth.Token)(nil)).
		Index("tokens_subject_token_idx").
		Unique().
		Column("subject", "token").
		IfNotExists().
		Exec(ctx)

	return err
}

// seedUser provisions a bootstrap account so a fresh database has a
// principal to log in with.
func seedUser(ctx context.Context, cfg *AppConfig, repo webauth.RepositoryManager) error {
	if cfg.SeedUsername == "" || cfg.SeedPassword == "" {
		return nil
	}

	hash, err := webauth.HashPassword(cfg.SeedPassword)
	if err != nil {
		return err
	}

	_, err = repo.Users().Create(ctx, &webauth.User{
		Username:     cfg.SeedUsername,
		PasswordHash: hash,
	})

	if webauth.IsDuplicateError(err) {
		return nil
	}

	return err
}

func newSAMLProvider(ctx context.Context, cfg *AppConfig) (*samlbridge.Provider, http.Handler, http.Handler, error) {
	if cfg.SAMLMetadataURL == "" {
		return nil, nil, nil, nil
	}

	keyPair, err := tls.LoadX509KeyPair(cfg.SAMLCertFile, cfg.SAMLKeyFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load SAML keypair: %w", err)
	}

	keyPair.Leaf, err = x509.ParseCertificate(keyPair.Certificate[0])
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse SAML certificate: %w", err)
	}

	metadataURL, err := url.Parse(cfg.SAMLMetadataURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse IdP metadata URL: %w", err)
	}

	metadata, err := crewjam.FetchMetadata(ctx, http.DefaultClient, *metadataURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("fetch IdP metadata: %w", err)
	}

	rootURL, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("parse base URL: %w", err)
	}

	mw, err := crewjam.New(crewjam.Options{
		URL:         *rootURL,
		Key:         keyPair.PrivateKey.(*rsa.PrivateKey),
		Certificate: keyPair.Leaf,
		IDPMetadata: metadata,
		CookieName:  cfg.SAMLCookieName,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("build SAML middleware: %w", err)
	}

	provider := samlbridge.New(mw, cfg.SAMLCookieName)

	return provider, provider.SLOHandler(), mw, nil
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
