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
	"net/http"
	"net/url"
	"strings"

	mapset "github.com/deckarep/golang-set"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kc/kuma/grants"
	"stash.kopano.io/kc/kuma/oidc"
	"stash.kopano.io/kc/kuma/oidc/payload"
	"stash.kopano.io/kc/kuma/session"
	"stash.kopano.io/kc/kuma/utils"
)

type redirectParams struct {
	State string `url:"state,omitempty"`
}

func (p *Provider) handleEndSession(rw http.ResponseWriter, req *http.Request, esr *payload.EndSessionRequest) {
	ctx := req.Context()

	// Resolve the session referenced by the sid parameter. A sid which
	// does not resolve is an error, a missing sid is not.
	var sidSession *session.Session
	if esr.Sid != "" {
		s, ok := p.sessions.GetBySid(ctx, esr.Sid)
		if !ok {
			p.writeError(rw, oidc.NewRequestError(http.StatusBadRequest, oidc.ErrorInvalidGrantAndSession, "sid parameter does not resolve to a known session"), nil, "")
			return
		}
		sidSession = s
	}

	grant, hintSid, err := p.validateIDTokenHint(req, esr)
	if err != nil {
		p.writeError(rw, err, nil, "")
		return
	}

	// Session precedence: cookie, then sid parameter, then the sid claim
	// of the validated id_token_hint.
	resolved, ok := p.sessions.GetFromCookie(ctx, req)
	if !ok {
		resolved = sidSession
	}
	if resolved == nil && hintSid != "" {
		resolved, _ = p.sessions.GetBySid(ctx, hintSid)
	}
	if resolved == nil {
		p.writeError(rw, oidc.NewRequestError(http.StatusBadRequest, oidc.ErrorInvalidGrantAndSession, "failed to identify session by session_id query parameter or by session_id cookie"), nil, "")
		return
	}

	postLogoutRedirectURI, err := p.validatePostLogoutRedirectURI(req, esr, grant, resolved)
	if err != nil {
		p.writeError(rw, err, nil, "")
		return
	}

	if hintSid != "" && hintSid != resolved.Sid && !p.allowMismatchedSid {
		p.writeError(rw, oidc.NewRequestError(http.StatusBadRequest, oidc.ErrorOAuth2InvalidRequest, "sid claim of id_token_hint does not match the resolved session"), postLogoutRedirectURI, esr.State)
		return
	}

	// A validated redirect target is known from here on, classified
	// failures are delivered redirect based.

	affectedGrants, err := p.endSession(rw, req, resolved, grant)
	if err != nil {
		p.writeError(rw, err, postLogoutRedirectURI, esr.State)
		return
	}

	frontchannelURIs, backchannelDeliveries := p.partitionLogoutTargets(ctx, resolved, grant, affectedGrants)

	if err := p.notifier.Notify(ctx, backchannelDeliveries); err != nil {
		p.writeError(rw, err, postLogoutRedirectURI, esr.State)
		return
	}

	if len(frontchannelURIs) == 0 && postLogoutRedirectURI != nil {
		var params interface{}
		if esr.State != "" {
			params = &redirectParams{State: esr.State}
		}
		if err := utils.WriteRedirect(rw, http.StatusFound, postLogoutRedirectURI, params, false); err != nil {
			p.logger.WithError(err).Errorln("failed to write end session redirect")
		}
		return
	}

	p.writeFrontchannelPage(rw, req, frontchannelURIs, postLogoutRedirectURI, esr.State)
}

// validateIDTokenHint resolves the id_token_hint parameter to a stored grant
// or, failing that, validates it as a token signed by this service. It
// returns the resolved grant, if any, and the sid the hint is bound to.
func (p *Provider) validateIDTokenHint(req *http.Request, esr *payload.EndSessionRequest) (*grants.Grant, string, error) {
	ctx := req.Context()

	if esr.RawIDTokenHint == "" {
		if p.requireIDTokenHint {
			return nil, "", oidc.NewRequestError(http.StatusBadRequest, oidc.ErrorOAuth2InvalidRequest, "id_token_hint parameter is required")
		}
		return nil, "", nil
	}

	grant, ok := p.grants.GetByIDTokenHash(ctx, oidc.HashToken(esr.RawIDTokenHint))
	if !ok {
		grant, ok = p.grants.GetByIDTokenValue(ctx, esr.RawIDTokenHint)
	}
	if !ok && p.allowHintAsAccessToken {
		grant, ok = p.grants.GetByAccessToken(ctx, esr.RawIDTokenHint)
	}
	if ok {
		// Stored grants were validated at issuance, trust as is.
		return grant, grant.Sid, nil
	}

	if p.rejectUnresolvedHints {
		return nil, "", oidc.NewRequestError(http.StatusBadRequest, oidc.ErrorInvalidGrantAndSession, "id_token_hint does not resolve to a known grant")
	}

	claims := &oidc.IDTokenClaims{}
	if _, err := p.signer.ValidateToken(esr.RawIDTokenHint, claims); err != nil {
		return nil, "", oidc.NewRequestError(http.StatusBadRequest, oidc.ErrorInvalidGrantAndSession, "id_token_hint signature validation failed")
	}

	if claims.SessionID != "" && !p.allowMismatchedSid {
		if _, ok := p.sessions.GetBySid(ctx, claims.SessionID); !ok {
			return nil, "", oidc.NewRequestError(http.StatusBadRequest, oidc.ErrorInvalidGrantAndSession, "sid claim of id_token_hint does not resolve to a known session")
		}
		if esr.Sid != "" && esr.Sid != claims.SessionID {
			return nil, "", oidc.NewRequestError(http.StatusBadRequest, oidc.ErrorInvalidGrantAndSession, "sid claim of id_token_hint does not match sid parameter")
		}
	}

	return nil, claims.SessionID, nil
}

// validatePostLogoutRedirectURI checks the post_logout_redirect_uri
// parameter against the client of the resolved grant with the granted
// clients of the session as fallback. Blank input short circuits to no
// redirect.
func (p *Provider) validatePostLogoutRedirectURI(req *http.Request, esr *payload.EndSessionRequest, grant *grants.Grant, resolved *session.Session) (*url.URL, error) {
	if esr.RawPostLogoutRedirectURI == "" {
		return nil, nil
	}
	if esr.PostLogoutRedirectURI == nil || esr.PostLogoutRedirectURI.Host == "" {
		return nil, oidc.NewRequestError(http.StatusBadRequest, oidc.ErrorOAuth2InvalidRequest, "invalid post_logout_redirect_uri")
	}

	if p.trustedPostLogoutRedirectURIs[esr.RawPostLogoutRedirectURI] {
		return esr.PostLogoutRedirectURI, nil
	}

	ctx := req.Context()

	if grant != nil {
		if client, ok := p.clients.Get(ctx, grant.ClientID); ok && client.HasPostLogoutRedirectURI(esr.RawPostLogoutRedirectURI) {
			return esr.PostLogoutRedirectURI, nil
		}
	}
	for clientID := range resolved.GrantedClientIDs {
		if client, ok := p.clients.Get(ctx, clientID); ok && client.HasPostLogoutRedirectURI(esr.RawPostLogoutRedirectURI) {
			return esr.PostLogoutRedirectURI, nil
		}
	}

	return nil, oidc.NewRequestError(http.StatusBadRequest, oidc.ErrorPostLogoutURINotAssociatedWithClient, "post_logout_redirect_uri is not registered for any associated client")
}

// endSession performs the actual logout of the resolved session. Consent
// session cleanup and session removal are best effort, a failing end session
// hook aborts the operation.
func (p *Provider) endSession(rw http.ResponseWriter, req *http.Request, resolved *session.Session, grant *grants.Grant) ([]*grants.Grant, error) {
	ctx := req.Context()

	if consentSession, ok := p.sessions.GetFromConsentCookie(ctx, req); ok {
		if _, err := p.sessions.Remove(ctx, consentSession); err != nil {
			p.logger.WithError(err).Warnln("failed to remove consent session")
		}
	}

	if removed, err := p.sessions.Remove(ctx, resolved); err != nil {
		p.logger.WithError(err).Warnln("failed to remove session")
	} else if !removed {
		p.logger.WithField("sid", resolved.Sid).Debugln("session was already removed")
	}

	// The external hook runs after the session is gone, its failure aborts
	// the request but must not keep the session alive.
	if p.endSessionHook != nil {
		if err := p.endSessionHook.EndSession(ctx, req, resolved); err != nil {
			p.logger.WithError(err).Warnln("external end session hook failed")
			return nil, oidc.NewRequestError(http.StatusUnauthorized, oidc.ErrorOAuth2InvalidGrant, "external logout failed")
		}
	}

	affectedGrants := p.grants.Logout(ctx, resolved.Sid)
	if grant != nil {
		grant.Logout()
	}

	p.sessions.RemoveCookies(rw)

	metricSessionsEnded.Inc()
	auditFields := logrus.Fields{
		"sid":  resolved.Sid,
		"user": resolved.UserID,
	}
	if grant != nil {
		auditFields["client_id"] = grant.ClientID
		auditFields["scopes"] = grant.Scopes
	}
	p.logger.WithFields(auditFields).Infoln("session ended")

	return affectedGrants, nil
}

// partitionLogoutTargets splits the SSO client set of the ended session into
// front channel URIs and back channel deliveries. A client with a back
// channel logout URI is routed through back channel only, even when it also
// registered a front channel URI.
func (p *Provider) partitionLogoutTargets(ctx context.Context, resolved *session.Session, grant *grants.Grant, affectedGrants []*grants.Grant) ([]string, []*backchannelDelivery) {
	ssoSet := mapset.NewSet()
	for clientID := range resolved.GrantedClientIDs {
		ssoSet.Add(clientID)
	}
	for _, affected := range affectedGrants {
		ssoSet.Add(affected.ClientID)
	}
	if grant != nil {
		ssoSet.Add(grant.ClientID)
	}

	frontchannelSet := mapset.NewSet()
	var frontchannelURIs []string
	var deliveries []*backchannelDelivery

	for _, raw := range ssoSet.ToSlice() {
		clientID := raw.(string)
		client, ok := p.clients.Get(ctx, clientID)
		if !ok {
			p.logger.WithField("client_id", clientID).Debugln("skipping logout for unknown client")
			continue
		}

		switch {
		case client.UsesBackchannelLogout():
			logoutToken, err := p.logoutTokens.Create(client, resolved.Sid, resolved.UserID)
			if err != nil {
				p.logger.WithError(err).WithField("client_id", clientID).Warnln("skipping back channel logout, failed to create logout token")
				continue
			}
			backchannelSet := mapset.NewSet()
			for _, uri := range client.BackchannelLogoutURIs {
				if !backchannelSet.Add(uri) {
					continue
				}
				deliveries = append(deliveries, &backchannelDelivery{
					clientID:    clientID,
					uri:         uri,
					logoutToken: logoutToken,
				})
			}

		case client.UsesFrontchannelLogout():
			uri := client.FrontchannelLogoutURI
			if client.FrontchannelLogoutSessionRequired {
				uri = frontchannelURIWithSession(uri, resolved.Sid, p.issuer.String())
			}
			if frontchannelSet.Add(uri) {
				frontchannelURIs = append(frontchannelURIs, uri)
			}
		}
	}

	return frontchannelURIs, deliveries
}

func (p *Provider) writeFrontchannelPage(rw http.ResponseWriter, req *http.Request, frontchannelURIs []string, postLogoutRedirectURI *url.URL, state string) {
	redirectTarget := ""
	if postLogoutRedirectURI != nil {
		target := *postLogoutRedirectURI
		if state != "" {
			query := target.Query()
			query.Set("state", state)
			target.RawQuery = query.Encode()
		}
		redirectTarget = target.String()
	}

	data := &FrontchannelPageData{
		FrontchannelURIs: frontchannelURIs,
		RedirectURI:      redirectTarget,
	}

	var page string
	if p.frontchannelPageHook != nil {
		page = p.frontchannelPageHook.FrontchannelPage(req.Context(), data)
	}
	if page == "" {
		rendered, err := renderFrontchannelPage(data)
		if err != nil {
			p.writeError(rw, err, nil, "")
			return
		}
		page = rendered
	}

	rw.Header().Set("Content-Type", "text/html; charset=utf-8")
	rw.Header().Set("Cache-Control", "no-store")
	rw.Header().Set("Pragma", "no-cache")
	rw.WriteHeader(http.StatusOK)
	if _, err := rw.Write([]byte(page)); err != nil {
		p.logger.WithError(err).Errorln("failed to write front channel logout page")
	}
}

// frontchannelURIWithSession appends the sid and iss query parameters to the
// provided front channel logout URI.
func frontchannelURIWithSession(uri string, sid string, issuer string) string {
	separator := "?"
	if strings.Contains(uri, "?") {
		separator = "&"
	}
	return uri + separator + "sid=" + url.QueryEscape(sid) + "&iss=" + url.QueryEscape(issuer)
}
