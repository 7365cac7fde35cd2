package samlsp

import (
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/authkit/go-webauth"
	saml "github.com/crewjam/saml/samlsp"
	"github.com/goliatone/go-router"
)

// DefaultCookieName is the session cookie crewjam's middleware uses
// unless configured otherwise.
const DefaultCookieName = "token"

// Provider implements webauth.FederatedProvider over a configured
// crewjam/saml middleware. The middleware owns the SAML session cookie;
// the provider only reads it.
type Provider struct {
	mw         *saml.Middleware
	cookieName string

	mu       sync.Mutex
	outcomes map[string]webauth.LogoutOutcome
	returns  map[string]string
}

func New(mw *saml.Middleware, cookieName string) *Provider {
	if cookieName == "" {
		cookieName = DefaultCookieName
	}

	return &Provider{
		mw:         mw,
		cookieName: cookieName,
		outcomes:   map[string]webauth.LogoutOutcome{},
		returns:    map[string]string{},
	}
}

func (p *Provider) Enabled() bool {
	return p != nil && p.mw != nil
}

// CurrentAssertion reads the SAML session cookie and returns the
// attributes asserted by the identity provider.
func (p *Provider) CurrentAssertion(ctx router.Context) (*webauth.Assertion, bool) {
	session, ok := p.currentSession(ctx)
	if !ok {
		return nil, false
	}

	sa, ok := session.(saml.SessionWithAttributes)
	if !ok {
		return nil, false
	}

	return &webauth.Assertion{
		Attributes: map[string][]string(sa.GetAttributes()),
	}, true
}

// LogoutURL builds the IdP single-logout redirect for the current SAML
// session and remembers where to send the browser once the IdP answers.
func (p *Provider) LogoutURL(ctx router.Context, returnTo, state string) (string, error) {
	nameID := p.nameID(ctx)

	u, err := p.mw.ServiceProvider.MakeRedirectLogoutRequest(nameID, state)
	if err != nil {
		return "", err
	}

	p.mu.Lock()
	p.returns[state] = returnTo
	p.mu.Unlock()

	return u.String(), nil
}

// LogoutOutcome recovers a recorded logout result. Outcomes are
// one-shot: reading removes the entry.
func (p *Provider) LogoutOutcome(state string) webauth.LogoutOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	outcome, ok := p.outcomes[state]
	if !ok {
		return webauth.LogoutOutcomeUnknown
	}

	delete(p.outcomes, state)
	return outcome
}

// SLOHandler terminates the IdP's LogoutResponse: it validates the
// response, records the outcome under the relay state, clears the SAML
// session cookie, and bounces the browser back to the URL captured when
// the logout started.
func (p *Provider) SLOHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		outcome := webauth.LogoutOutcomeSuccess
		if err := p.mw.ServiceProvider.ValidateLogoutResponseRequest(r); err != nil {
			outcome = webauth.LogoutOutcomeFailure
		}

		state := r.URL.Query().Get("RelayState")
		if state == "" {
			_ = r.ParseForm()
			state = r.FormValue("RelayState")
		}

		returnTo := "/"
		if state != "" {
			p.mu.Lock()
			p.outcomes[state] = outcome
			if target, ok := p.returns[state]; ok {
				returnTo = target
				delete(p.returns, state)
			}
			p.mu.Unlock()
		}

		http.SetCookie(w, &http.Cookie{
			Name:     p.cookieName,
			Value:    "",
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   true,
			Path:     "/",
		})

		sep := "?"
		if strings.Contains(returnTo, "?") {
			sep = "&"
		}

		http.Redirect(w, r, returnTo+sep+"state="+url.QueryEscape(state), http.StatusFound)
	})
}

func (p *Provider) currentSession(ctx router.Context) (saml.Session, bool) {
	raw := ctx.Cookies(p.cookieName)
	if raw == "" {
		return nil, false
	}

	r, err := http.NewRequest(http.MethodGet, "/", nil)
	if err != nil {
		return nil, false
	}
	r.AddCookie(&http.Cookie{Name: p.cookieName, Value: raw})

	session, err := p.mw.Session.GetSession(r)
	if err != nil || session == nil {
		return nil, false
	}

	return session, true
}

func (p *Provider) nameID(ctx router.Context) string {
	session, ok := p.currentSession(ctx)
	if !ok {
		return ""
	}

	switch claims := session.(type) {
	case saml.JWTSessionClaims:
		return claims.Subject
	case *saml.JWTSessionClaims:
		return claims.Subject
	}

	return ""
}

var _ webauth.FederatedProvider = (*Provider)(nil)
