package webauth

import (
	"context"
	"database/sql"
	"io"
	"mime/multipart"
	"sync"

	"github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// testConfig implements Config for tests
type testConfig struct {
	signingKey string
	contextKey string
	expiration int
	issuer     string
	audience   []string
}

func newTestConfig() testConfig {
	return testConfig{
		signingKey: "test-signing-key",
		contextKey: "app_session",
		expiration: 1,
	}
}

func (c testConfig) GetSigningKey() string   { return c.signingKey }
func (c testConfig) GetContextKey() string   { return c.contextKey }
func (c testConfig) GetTokenExpiration() int { return c.expiration }
func (c testConfig) GetIssuer() string       { return c.issuer }
func (c testConfig) GetAudience() []string   { return c.audience }

// stubUserStore serves users from a map keyed by username
type stubUserStore struct {
	users map[string]*User
	err   error
}

func (s *stubUserStore) GetByUsername(ctx context.Context, username string) (*User, error) {
	if s.err != nil {
		return nil, s.err
	}

	user, ok := s.users[username]
	if !ok {
		return nil, errors.New("record not found", errors.CategoryNotFound).
			WithCode(errors.CodeNotFound)
	}

	return user, nil
}

// stubAuth is a canned Authenticator. loginAsFn, when set, decides the
// outcome per username.
type stubAuth struct {
	token      string
	loginErr   error
	loginAsErr error
	loginAsFn  func(username string) (string, error)
	session    Session
	sessionErr error

	loginCalls   []string
	loginAsCalls []string
}

func (s *stubAuth) Login(ctx context.Context, username, password string) (string, error) {
	s.loginCalls = append(s.loginCalls, username)
	if s.loginErr != nil {
		return "", s.loginErr
	}
	return s.token, nil
}

func (s *stubAuth) LoginAs(ctx context.Context, username string) (string, error) {
	s.loginAsCalls = append(s.loginAsCalls, username)
	if s.loginAsFn != nil {
		return s.loginAsFn(username)
	}
	if s.loginAsErr != nil {
		return "", s.loginAsErr
	}
	return s.token, nil
}

func (s *stubAuth) SessionFromToken(token string) (Session, error) {
	if s.sessionErr != nil {
		return nil, s.sessionErr
	}
	return s.session, nil
}

// fakeTokens is an in-memory Tokens repository. The embedded interface
// covers the methods the tests never reach.
type fakeTokens struct {
	Tokens

	mu      sync.Mutex
	records map[string]*Token

	// attachUser emulates the User relation the real repository loads
	attachUser *User
	createErr  error
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{records: map[string]*Token{}}
}

func tokenKey(subject, token string) string {
	return subject + "/" + token
}

func (f *fakeTokens) Create(ctx context.Context, record *Token, criteria ...repository.InsertCriteria) (*Token, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if record.User == nil {
		record.User = f.attachUser
	}

	f.records[tokenKey(record.Subject, record.Token)] = record
	return record, nil
}

func (f *fakeTokens) GetBySubjectToken(ctx context.Context, subject, token string) (*Token, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	record, ok := f.records[tokenKey(subject, token)]
	if !ok {
		return nil, repository.NewRecordNotFound()
	}

	return record, nil
}

func (f *fakeTokens) Consume(ctx context.Context, subject, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := tokenKey(subject, token)
	if _, ok := f.records[key]; !ok {
		return false, nil
	}

	delete(f.records, key)
	return true, nil
}

func (f *fakeTokens) ConsumeTx(ctx context.Context, tx bun.IDB, subject, token string) (bool, error) {
	return f.Consume(ctx, subject, token)
}

// stubUsers is a partial Users repository for controller tests
type stubUsers struct {
	Users

	byUsername map[string]*User
	lookupErr  error

	resetErr   error
	resetCalls []string
}

func (s *stubUsers) GetByUsername(ctx context.Context, username string, criteria ...repository.SelectCriteria) (*User, error) {
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}

	user, ok := s.byUsername[username]
	if !ok {
		return nil, repository.NewRecordNotFound()
	}

	return user, nil
}

func (s *stubUsers) ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	if s.resetErr != nil {
		return s.resetErr
	}
	s.resetCalls = append(s.resetCalls, id.String())
	return nil
}

// stubRepo wires the stub repositories into a RepositoryManager.
// RunInTx hands the callback a zero transaction; the stubs ignore it.
type stubRepo struct {
	users  *stubUsers
	tokens Tokens
}

func (s *stubRepo) Validate() error { return nil }
func (s *stubRepo) MustValidate()   {}

func (s *stubRepo) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	return f(ctx, bun.Tx{})
}

func (s *stubRepo) Users() Users   { return s.users }
func (s *stubRepo) Tokens() Tokens { return s.tokens }

// stubMailer records deliveries
type stubMailer struct {
	err error

	to       []string
	subjects []string
	views    []string
	data     []map[string]any
}

func (s *stubMailer) Send(ctx context.Context, to, subject, template string, data map[string]any) error {
	if s.err != nil {
		return s.err
	}

	s.to = append(s.to, to)
	s.subjects = append(s.subjects, subject)
	s.views = append(s.views, template)
	s.data = append(s.data, data)
	return nil
}

// stubProvider is a canned FederatedProvider
type stubProvider struct {
	enabled   bool
	assertion *Assertion

	logoutURL string
	logoutErr error

	outcomes map[string]LogoutOutcome

	states  []string
	returns []string
}

func (s *stubProvider) Enabled() bool { return s.enabled }

func (s *stubProvider) CurrentAssertion(ctx router.Context) (*Assertion, bool) {
	if s.assertion == nil {
		return nil, false
	}
	return s.assertion, true
}

func (s *stubProvider) LogoutURL(ctx router.Context, returnTo, state string) (string, error) {
	if s.logoutErr != nil {
		return "", s.logoutErr
	}
	s.states = append(s.states, state)
	s.returns = append(s.returns, returnTo)
	return s.logoutURL, nil
}

func (s *stubProvider) LogoutOutcome(state string) LogoutOutcome {
	outcome, ok := s.outcomes[state]
	if !ok {
		return LogoutOutcomeUnknown
	}
	delete(s.outcomes, state)
	return outcome
}

// fakeCtx is a recording router.Context. Every method has a benign
// default so handlers can run end to end without a server.
type fakeCtx struct {
	ctx      context.Context
	method   string
	path     string
	original string
	referer  string

	cookies map[string]string
	queries map[string]string
	params  map[string]string
	headers map[string]string
	values  map[string]any
	locals  map[any]any

	bindFn func(any) error

	setCookies []*router.Cookie
	statusCode int

	redirectTo   string
	redirectCode int

	renderedView string
	renderedData router.ViewContext

	sent        []byte
	nextCalled  bool
	onNextFuncs []func() error
}

func newFakeCtx() *fakeCtx {
	return &fakeCtx{
		ctx:     context.Background(),
		method:  "GET",
		path:    "/",
		cookies: map[string]string{},
		queries: map[string]string{},
		params:  map[string]string{},
		headers: map[string]string{},
		values:  map[string]any{},
		locals:  map[any]any{},
	}
}

func (f *fakeCtx) Next() error {
	f.nextCalled = true
	return nil
}

func (f *fakeCtx) Context() context.Context        { return f.ctx }
func (f *fakeCtx) SetContext(ctx context.Context)  { f.ctx = ctx }
func (f *fakeCtx) Path() string                    { return f.path }
func (f *fakeCtx) Method() string                  { return f.method }
func (f *fakeCtx) Body() []byte                    { return nil }
func (f *fakeCtx) OriginalURL() string             { return f.original }
func (f *fakeCtx) Referer() string                 { return f.referer }
func (f *fakeCtx) OnNext(callback func() error)    { f.onNextFuncs = append(f.onNextFuncs, callback) }
func (f *fakeCtx) Status(code int) router.Context  { f.statusCode = code; return f }
func (f *fakeCtx) SendString(s string) error       { f.sent = []byte(s); return nil }
func (f *fakeCtx) Send(b []byte) error             { f.sent = b; return nil }
func (f *fakeCtx) JSON(code int, val any) error    { f.statusCode = code; return nil }
func (f *fakeCtx) NoContent(code int) error        { f.statusCode = code; return nil }
func (f *fakeCtx) SetHeader(k, v string) router.Context {
	f.headers[k] = v
	return f
}
func (f *fakeCtx) Header(key string) string { return f.headers[key] }

func (f *fakeCtx) Render(name string, bind any, layout ...string) error {
	f.renderedView = name
	if vc, ok := bind.(router.ViewContext); ok {
		f.renderedData = vc
	}
	return nil
}

func (f *fakeCtx) Redirect(path string, status ...int) error {
	f.redirectTo = path
	if len(status) > 0 {
		f.redirectCode = status[0]
	}
	return nil
}

func (f *fakeCtx) RedirectToRoute(name string, data router.ViewContext, status ...int) error {
	return f.Redirect(name, status...)
}

func (f *fakeCtx) RedirectBack(fallback string, status ...int) error {
	return f.Redirect(fallback, status...)
}

func (f *fakeCtx) Get(key string, defaultValue any) any {
	if val, ok := f.values[key]; ok {
		return val
	}
	return defaultValue
}

func (f *fakeCtx) GetString(key string, defaultValue string) string {
	if val, ok := f.values[key].(string); ok {
		return val
	}
	return defaultValue
}

func (f *fakeCtx) GetBool(key string, defaultValue bool) bool {
	if val, ok := f.values[key].(bool); ok {
		return val
	}
	return defaultValue
}

func (f *fakeCtx) GetInt(key string, defaultValue int) int {
	if val, ok := f.values[key].(int); ok {
		return val
	}
	return defaultValue
}

func (f *fakeCtx) Set(key string, val any) { f.values[key] = val }

func (f *fakeCtx) Bind(i any) error {
	if f.bindFn != nil {
		return f.bindFn(i)
	}
	return nil
}

func (f *fakeCtx) BindJSON(i any) error  { return f.Bind(i) }
func (f *fakeCtx) BindXML(i any) error   { return f.Bind(i) }
func (f *fakeCtx) BindQuery(i any) error { return f.Bind(i) }

func (f *fakeCtx) CookieParser(i any) error { return nil }

func (f *fakeCtx) Cookie(cookie *router.Cookie) {
	f.setCookies = append(f.setCookies, cookie)
}

func (f *fakeCtx) Cookies(key string, defaultValue ...string) string {
	if val, ok := f.cookies[key]; ok {
		return val
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (f *fakeCtx) Param(key string, defaultValue ...string) string {
	if val, ok := f.params[key]; ok {
		return val
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (f *fakeCtx) ParamsInt(key string, defaultValue int) int { return defaultValue }

func (f *fakeCtx) Query(key string, defaultValue ...string) string {
	if val, ok := f.queries[key]; ok {
		return val
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (f *fakeCtx) QueryInt(key string, defaultValue int) int { return defaultValue }

func (f *fakeCtx) Queries() map[string]string { return f.queries }

func (f *fakeCtx) Locals(key any, value ...any) any {
	if len(value) > 0 {
		f.locals[key] = value[0]
		return value[0]
	}
	return f.locals[key]
}

// lastCookie returns the most recent cookie set under a name
func (f *fakeCtx) lastCookie(name string) *router.Cookie {
	for i := len(f.setCookies) - 1; i >= 0; i-- {
		if f.setCookies[i].Name == name {
			return f.setCookies[i]
		}
	}
	return nil
}

func (f *fakeCtx) FormFile(key string) (*multipart.FileHeader, error) { return nil, nil }

func (f *fakeCtx) FormValue(key string, defaultValue ...string) string {
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return ""
}

func (f *fakeCtx) IP() string { return "" }

func (f *fakeCtx) LocalsMerge(key any, data map[string]any) map[string]any { return data }

func (f *fakeCtx) QueryValues(key string) []string { return nil }

func (f *fakeCtx) RouteName() string { return "" }

func (f *fakeCtx) RouteParams() map[string]string { return f.params }

func (f *fakeCtx) SendStatus(code int) error { f.statusCode = code; return nil }

func (f *fakeCtx) SendStream(r io.Reader) error { return nil }

var _ router.Context = (*fakeCtx)(nil)
