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

	"stash.kopano.io/kc/kuma/oidc"
	"stash.kopano.io/kc/kuma/oidc/payload"
	"stash.kopano.io/kc/kuma/utils"
)

// Introspect resolves the provided RPT code into an introspection response.
// Invalid or unknown tokens yield an inactive response, never an error. The
// RPT level validity gates the response, per permission validity is only
// evaluated for RPTs which are themselves still valid.
func (s *Service) Introspect(ctx context.Context, tokenString string) *payload.IntrospectionResponse {
	rpt, ok := s.manager.GetRPT(ctx, tokenString)
	if !ok || !rpt.IsValid() {
		return &payload.IntrospectionResponse{Active: false}
	}

	response := &payload.IntrospectionResponse{
		Active:    true,
		ExpiresAt: rpt.ExpiresAt.Unix(),
		IssuedAt:  rpt.CreatedAt.Unix(),
		ClientID:  rpt.ClientID,
		Audience:  rpt.ClientID,
		Subject:   rpt.Subject,
	}

	pctCode := rpt.PCTCode
	for _, permission := range rpt.Permissions {
		if !permission.IsValid() {
			// Since expired, silently dropped from the response.
			continue
		}
		response.Permissions = append(response.Permissions, &payload.IntrospectionPermission{
			ResourceID:     permission.ResourceID,
			ResourceScopes: permission.ResourceScopes,
			ExpiresAt:      permission.ExpiresAt.Unix(),
		})
		if pctCode == "" && permission.PCTCode != "" {
			pctCode = permission.PCTCode
		}
	}

	if pctCode != "" {
		if pct, ok := s.manager.GetPCT(ctx, pctCode); ok && pct.IsValid() {
			response.PctClaims = pct.Claims
		} else {
			s.logger.WithField("pct", pctCode).Warnln("pct code set but does not resolve")
		}
	}

	return response
}

// IntrospectionHandler implements the HTTP endpoint for RPT status checks.
func (s *Service) IntrospectionHandler(rw http.ResponseWriter, req *http.Request) {
	if _, err := s.authorizeCaller(req); err != nil {
		s.logger.WithError(err).Debugln("rpt introspection rejected")
		oidc.WriteWWWAuthenticateError(rw, http.StatusUnauthorized, oidc.NewOAuth2Error(oidc.ErrorUmaInvalidClientID, "client authorization failed"))
		return
	}

	if err := req.ParseForm(); err != nil {
		s.writeError(rw, oidc.NewRequestError(http.StatusBadRequest, oidc.ErrorOAuth2InvalidRequest, "failed to parse request form"), nil, "")
		return
	}

	tokenString := req.Form.Get("token")
	response := s.Introspect(req.Context(), tokenString)
	metricIntrospections.WithLabelValues(boolLabel(response.Active)).Inc()

	if s.introspectionModifyHook != nil {
		modified, err := response.Map()
		if err == nil && s.introspectionModifyHook.ModifyResponse(req.Context(), modified) {
			if err := utils.WriteJSON(rw, http.StatusOK, modified, ""); err != nil {
				s.logger.WithError(err).Errorln("failed to write introspection response")
			}
			return
		}
		// Hook cancelled or mapping failed, revert to the unmodified
		// response.
	}

	if err := utils.WriteJSON(rw, http.StatusOK, response, ""); err != nil {
		s.logger.WithError(err).Errorln("failed to write introspection response")
	}
}

func boolLabel(value bool) string {
	if value {
		return "true"
	}
	return "false"
}
