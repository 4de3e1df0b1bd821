/*
 * Copyright 2019 Kopano and its licensors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License, version 3,
 * as published by the Free Software Foundation.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package endsession

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kc/kuma/clients"
	"stash.kopano.io/kc/kuma/grants"
	"stash.kopano.io/kc/kuma/managers"
	"stash.kopano.io/kc/kuma/oidc"
	"stash.kopano.io/kc/kuma/oidc/payload"
	"stash.kopano.io/kc/kuma/session"
	"stash.kopano.io/kc/kuma/signing"
	"stash.kopano.io/kc/kuma/utils"
)

const defaultLogoutTokenLifetime = 1 * time.Hour

// Config bundles the settings and collaborators for an end session Provider.
type Config struct {
	Issuer *url.URL

	// RequireIDTokenHint makes the id_token_hint parameter mandatory.
	RequireIDTokenHint bool
	// AllowHintAsAccessToken additionally tries to resolve an unresolved
	// id_token_hint as an access token.
	AllowHintAsAccessToken bool
	// RejectUnresolvedHints fails requests whose id_token_hint does not
	// resolve to a stored grant, skipping the signature fallback.
	RejectUnresolvedHints bool
	// AllowMismatchedSid skips the sid consistency checks between the
	// id_token_hint sid claim, the sid parameter and the resolved session.
	AllowMismatchedSid bool
	// DisableRedirectErrorDelivery turns off delivering classified errors
	// as redirects when a validated post logout redirect URI is known.
	DisableRedirectErrorDelivery bool
	// TrustedPostLogoutRedirectURIs are accepted without client
	// association checks.
	TrustedPostLogoutRedirectURIs []string

	LogoutTokenLifetime time.Duration

	Sessions session.Manager
	Grants   grants.Manager
	Clients  *clients.Registry
	Signer   *signing.Signer

	EndSessionHook       EndSessionHook
	FrontchannelPageHook FrontchannelPageHook

	HTTPClient *http.Client
	Logger     logrus.FieldLogger
}

// Provider implements the OIDC RP initiated logout endpoint with front and
// back channel logout notification towards the relying parties of the ended
// session.
type Provider struct {
	issuer *url.URL

	requireIDTokenHint            bool
	allowHintAsAccessToken        bool
	rejectUnresolvedHints         bool
	allowMismatchedSid            bool
	disableRedirectErrorDelivery  bool
	trustedPostLogoutRedirectURIs map[string]bool

	sessions session.Manager
	grants   grants.Manager
	clients  *clients.Registry
	signer   *signing.Signer

	endSessionHook       EndSessionHook
	frontchannelPageHook FrontchannelPageHook

	logoutTokens *LogoutTokenFactory
	notifier     *backchannelNotifier

	logger logrus.FieldLogger
}

// NewProvider creates a new Provider from the provided Config.
func NewProvider(c *Config) (*Provider, error) {
	if c.Issuer == nil {
		return nil, fmt.Errorf("issuer is required")
	}
	if c.Sessions == nil || c.Grants == nil || c.Clients == nil || c.Signer == nil {
		return nil, fmt.Errorf("sessions, grants, clients and signer are required")
	}

	logoutTokenLifetime := c.LogoutTokenLifetime
	if logoutTokenLifetime == 0 {
		logoutTokenLifetime = defaultLogoutTokenLifetime
	}
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = utils.DefaultHTTPClient
	}

	trusted := make(map[string]bool)
	for _, uri := range c.TrustedPostLogoutRedirectURIs {
		trusted[uri] = true
	}

	p := &Provider{
		issuer: c.Issuer,

		requireIDTokenHint:            c.RequireIDTokenHint,
		allowHintAsAccessToken:        c.AllowHintAsAccessToken,
		rejectUnresolvedHints:         c.RejectUnresolvedHints,
		allowMismatchedSid:            c.AllowMismatchedSid,
		disableRedirectErrorDelivery:  c.DisableRedirectErrorDelivery,
		trustedPostLogoutRedirectURIs: trusted,

		sessions: c.Sessions,
		grants:   c.Grants,
		clients:  c.Clients,
		signer:   c.Signer,

		endSessionHook:       c.EndSessionHook,
		frontchannelPageHook: c.FrontchannelPageHook,

		logoutTokens: NewLogoutTokenFactory(c.Issuer.String(), logoutTokenLifetime, c.Signer),
		notifier:     newBackchannelNotifier(httpClient, c.Logger),

		logger: c.Logger,
	}

	return p, nil
}

// RegisterManagers picks up the optional hooks registered by embedding
// consumers from the provided managers.
func (p *Provider) RegisterManagers(mgrs *managers.Managers) error {
	if hook, ok := mgrs.Get("endSessionHook"); ok {
		p.endSessionHook = hook.(EndSessionHook)
	}
	if hook, ok := mgrs.Get("frontchannelPageHook"); ok {
		p.frontchannelPageHook = hook.(FrontchannelPageHook)
	}

	return nil
}

// AddRoutes adds the end session routes of the associated Provider to the
// provided router.
func (p *Provider) AddRoutes(ctx context.Context, router *mux.Router) {
	router.Handle("/end_session", http.HandlerFunc(p.EndSessionHandler)).Methods(http.MethodGet, http.MethodPost)
}

// EndSessionHandler implements the HTTP endpoint for OIDC RP initiated
// logout requests.
func (p *Provider) EndSessionHandler(rw http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		p.writeError(rw, oidc.NewRequestError(http.StatusBadRequest, oidc.ErrorOAuth2InvalidRequest, "failed to parse request form"), nil, "")
		return
	}

	esr, err := payload.DecodeEndSessionRequest(req)
	if err != nil {
		p.writeError(rw, oidc.NewRequestError(http.StatusBadRequest, oidc.ErrorOAuth2InvalidRequest, "failed to decode request parameters"), nil, "")
		return
	}

	p.handleEndSession(rw, req, esr)
}

// writeError delivers the provided error. Classified errors pass through
// unchanged, everything else is logged and converted to a generic server
// error without internal detail. When a validated redirect target is known
// classified errors are delivered redirect based.
func (p *Provider) writeError(rw http.ResponseWriter, err error, redirectURI *url.URL, state string) {
	var reqErr *oidc.RequestError

	switch typed := err.(type) {
	case *oidc.RequestError:
		reqErr = typed
	default:
		p.logger.WithError(err).Errorln("end session request failed")
		reqErr = oidc.NewRequestError(http.StatusInternalServerError, oidc.ErrorServerError, "")
	}

	if redirectURI != nil && !p.disableRedirectErrorDelivery && reqErr.RedirectURI == nil {
		reqErr.WithRedirect(redirectURI, state)
	}

	p.logger.WithFields(utils.ErrorAsFields(reqErr)).Debugln("end session request rejected")
	if writeErr := reqErr.Write(rw); writeErr != nil {
		p.logger.WithError(writeErr).Errorln("failed to write end session error response")
	}
}
