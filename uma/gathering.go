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

package uma

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"stash.kopano.io/kc/kuma/oidc"
	"stash.kopano.io/kc/kuma/oidc/payload"
	"stash.kopano.io/kc/kuma/session"
	"stash.kopano.io/kc/kuma/utils"
)

// GatherClaimsHandler implements the HTTP endpoint for UMA interactive
// claims gathering.
func (s *Service) GatherClaimsHandler(rw http.ResponseWriter, req *http.Request) {
	if err := req.ParseForm(); err != nil {
		s.writeError(rw, oidc.NewRequestError(http.StatusBadRequest, oidc.ErrorOAuth2InvalidRequest, "failed to parse request form"), nil, "")
		return
	}

	cgr, err := payload.DecodeClaimsGatheringRequest(req)
	if err != nil {
		s.writeError(rw, oidc.NewRequestError(http.StatusBadRequest, oidc.ErrorOAuth2InvalidRequest, "failed to decode request parameters"), nil, "")
		return
	}

	s.gatherClaims(rw, req, cgr)
}

func (s *Service) gatherClaims(rw http.ResponseWriter, req *http.Request, cgr *payload.ClaimsGatheringRequest) {
	ctx := req.Context()

	currentSession, _ := s.sessions.GetFromCookie(ctx, req)

	var gathering *session.GatheringState
	var redirectURI *url.URL

	if cgr.IsAuthenticationRedirect() {
		// Continuation of a script driven sub authentication redirect,
		// the correlating parameters come from the session, not from the
		// request.
		if currentSession == nil || currentSession.Gathering == nil {
			s.writeError(rw, oidc.NewRequestError(http.StatusBadRequest, oidc.ErrorUmaInvalidSession, "no gathering session for authentication continuation"), nil, "")
			return
		}
		gathering = currentSession.Gathering
		redirectURI, _ = url.Parse(gathering.ClaimsRedirectURI)
	} else {
		client, ok := s.clients.Get(ctx, cgr.ClientID)
		if !ok {
			s.writeError(rw, oidc.NewRequestError(http.StatusBadRequest, oidc.ErrorUmaInvalidClientID, "unknown client_id"), nil, "")
			return
		}
		if cgr.RawClaimsRedirectURI == "" || !client.HasClaimsRedirectURI(cgr.RawClaimsRedirectURI) {
			s.writeError(rw, oidc.NewRequestError(http.StatusBadRequest, oidc.ErrorUmaInvalidClaimsRedirectURI, "claims_redirect_uri is not registered for the client"), nil, "")
			return
		}
		redirectURI = cgr.ClaimsRedirectURI

		// The redirect target is validated from here on, classified
		// failures are delivered redirect based.

		permissions := s.manager.GetPermissionsByTicket(ctx, cgr.Ticket)
		if len(permissions) == 0 {
			s.writeError(rw, oidc.NewRequestError(http.StatusBadRequest, oidc.ErrorUmaInvalidTicket, "ticket does not resolve to any permission"), redirectURI, cgr.State)
			return
		}
		valid := make([]*Permission, 0, len(permissions))
		for _, permission := range permissions {
			if permission.IsValid() {
				valid = append(valid, permission)
			}
		}
		if len(valid) == 0 {
			s.writeError(rw, oidc.NewRequestError(http.StatusBadRequest, oidc.ErrorUmaExpiredTicket, "all permissions of the ticket are expired"), redirectURI, cgr.State)
			return
		}

		scriptName := valid[0].ScriptName
		for _, permission := range valid {
			if permission.ScriptName != scriptName {
				scriptName = ""
				break
			}
		}
		if scriptName == "" {
			s.writeError(rw, oidc.NewRequestError(http.StatusBadRequest, oidc.ErrorUmaInvalidScriptName, "permissions of the ticket do not agree on a claims gathering script"), redirectURI, cgr.State)
			return
		}

		if currentSession == nil {
			created, err := s.sessions.Create(ctx, "")
			if err != nil {
				s.writeError(rw, err, redirectURI, cgr.State)
				return
			}
			if err := s.sessions.SetCookie(rw, created); err != nil {
				s.writeError(rw, err, redirectURI, cgr.State)
				return
			}
			currentSession = created
		}

		// Persist the flow state, keeping the step counter when the same
		// flow is re-entered. The counter itself is only advanced by the
		// external script's step completion, never here.
		err := s.sessions.Update(ctx, currentSession.ID, func(target *session.Session) error {
			if target.Gathering == nil || target.Gathering.Ticket != cgr.Ticket {
				target.Gathering = &session.GatheringState{}
			}
			target.Gathering.ClientID = cgr.ClientID
			target.Gathering.Ticket = cgr.Ticket
			target.Gathering.ClaimsRedirectURI = cgr.RawClaimsRedirectURI
			target.Gathering.State = cgr.State
			target.Gathering.ScriptName = scriptName
			gathering = target.Gathering
			return nil
		})
		if err != nil {
			s.writeError(rw, err, redirectURI, cgr.State)
			return
		}
	}

	script, ok := s.scripts.Get(gathering.ScriptName)
	if !ok {
		s.writeError(rw, oidc.NewRequestError(http.StatusBadRequest, oidc.ErrorUmaInvalidScriptName, "no claims gathering script registered under the requested name"), redirectURI, gathering.State)
		return
	}

	scriptContext := &ScriptContext{
		ClientID:          gathering.ClientID,
		Ticket:            gathering.Ticket,
		ClaimsRedirectURI: gathering.ClaimsRedirectURI,
		State:             gathering.State,

		Permissions: s.manager.GetPermissionsByTicket(ctx, gathering.Ticket),

		Step: gathering.Step,
	}

	total := script.StepsCount(ctx, scriptContext)
	if gathering.Step >= total {
		// The script reported fewer steps than the flow already took, a
		// logic error. Do not synthesize a partial success. The requesting
		// party sits in a browser here, deliver a plain error page.
		s.logger.WithFields(logrus.Fields{
			"script": gathering.ScriptName,
			"step":   gathering.Step,
			"total":  total,
		}).Errorln("claims gathering step out of range")
		utils.WriteErrorPage(rw, http.StatusInternalServerError, "", "claims gathering flow failed")
		return
	}

	page := script.PageForStep(ctx, gathering.Step, scriptContext)
	target, err := url.Parse(s.stepPageURL(page))
	if err != nil {
		s.writeError(rw, err, redirectURI, gathering.State)
		return
	}

	if err := utils.WriteRedirect(rw, http.StatusFound, target, nil, false); err != nil {
		s.logger.WithError(err).Errorln("failed to write claims gathering redirect")
	}
}

// AdvanceGatheringStep increments the stored step counter of the provided
// session's gathering flow. It is called by script integrations when the
// requesting party completes a step, the gathering endpoint itself never
// advances the counter.
func (s *Service) AdvanceGatheringStep(ctx context.Context, sessionID string) error {
	return s.sessions.Update(ctx, sessionID, func(target *session.Session) error {
		if target.Gathering == nil {
			return oidc.NewOAuth2Error(oidc.ErrorUmaInvalidSession, "session has no gathering flow")
		}
		target.Gathering.Step++
		return nil
	})
}

// stepPageURL resolves the provided script page path against the configured
// gathering page base, swapping a legacy .xhtml suffix for .htm.
func (s *Service) stepPageURL(page string) string {
	if strings.HasSuffix(page, ".xhtml") {
		page = strings.TrimSuffix(page, ".xhtml") + ".htm"
	}
	return strings.TrimRight(s.gatheringPageBase, "/") + "/" + strings.TrimLeft(page, "/")
}
