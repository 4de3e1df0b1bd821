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
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"stash.kopano.io/kc/kuma/clients"
	"stash.kopano.io/kc/kuma/managers"
	"stash.kopano.io/kc/kuma/oidc"
	"stash.kopano.io/kc/kuma/oidc/payload"
	"stash.kopano.io/kc/kuma/session"
	"stash.kopano.io/kc/kuma/utils"
)

// An IntrospectionModifyHook can rewrite the introspection response before
// delivery. It returns true when its modifications apply, false reverts to
// the unmodified response.
type IntrospectionModifyHook interface {
	ModifyResponse(ctx context.Context, response map[string]interface{}) bool
}

// Config bundles the settings and collaborators for a uma Service.
type Config struct {
	Issuer *url.URL

	// GatheringPageBase is the base URI for claims gathering step pages.
	GatheringPageBase string

	// DefaultGatheringScript is the script name stamped onto permissions
	// registered through the permission endpoint.
	DefaultGatheringScript string

	Manager  Manager
	Sessions session.Manager
	Clients  *clients.Registry
	Scripts  *ScriptRegistry

	IntrospectionModifyHook IntrospectionModifyHook

	// TrustedSourceIPs and TrustedSourceNets authorize callers of the
	// permission and introspection endpoints which do not present client
	// credentials.
	TrustedSourceIPs  []*net.IP
	TrustedSourceNets []*net.IPNet

	RPTLifetime time.Duration
	PCTLifetime time.Duration

	Logger logrus.FieldLogger
}

// Service implements the UMA endpoints of this service.
type Service struct {
	issuer *url.URL

	gatheringPageBase      string
	defaultGatheringScript string

	manager  Manager
	sessions session.Manager
	clients  *clients.Registry
	scripts  *ScriptRegistry

	introspectionModifyHook IntrospectionModifyHook

	trustedSourceIPs  []*net.IP
	trustedSourceNets []*net.IPNet

	rptLifetime time.Duration
	pctLifetime time.Duration

	discovery *discoveryCache

	logger logrus.FieldLogger
}

// NewService creates a new Service from the provided Config.
func NewService(c *Config) (*Service, error) {
	if c.Issuer == nil {
		return nil, fmt.Errorf("issuer is required")
	}
	if c.Manager == nil || c.Sessions == nil || c.Clients == nil {
		return nil, fmt.Errorf("manager, sessions and clients are required")
	}

	scripts := c.Scripts
	if scripts == nil {
		scripts = NewScriptRegistry()
	}

	gatheringPageBase := c.GatheringPageBase
	if gatheringPageBase == "" {
		gatheringPageBase = c.Issuer.String() + "/uma/gather_claims/pages"
	}

	s := &Service{
		issuer: c.Issuer,

		gatheringPageBase:      gatheringPageBase,
		defaultGatheringScript: c.DefaultGatheringScript,

		manager:  c.Manager,
		sessions: c.Sessions,
		clients:  c.Clients,
		scripts:  scripts,

		introspectionModifyHook: c.IntrospectionModifyHook,

		trustedSourceIPs:  c.TrustedSourceIPs,
		trustedSourceNets: c.TrustedSourceNets,

		rptLifetime: c.RPTLifetime,
		pctLifetime: c.PCTLifetime,

		discovery: newDiscoveryCache(defaultDiscoveryTTL),

		logger: c.Logger,
	}

	return s, nil
}

// RegisterManagers picks up the optional claims gathering script registry
// and introspection modify hook registered by embedding consumers from the
// provided managers.
func (s *Service) RegisterManagers(mgrs *managers.Managers) error {
	if scripts, ok := mgrs.Get("umaScripts"); ok {
		s.scripts = scripts.(*ScriptRegistry)
	}
	if hook, ok := mgrs.Get("introspectionModifyHook"); ok {
		s.introspectionModifyHook = hook.(IntrospectionModifyHook)
	}

	return nil
}

// AddRoutes adds the UMA routes of the associated Service to the provided
// router.
func (s *Service) AddRoutes(ctx context.Context, router *mux.Router) {
	chain := cors.AllowAll()

	router.Handle("/host/rsrc_pr", http.HandlerFunc(s.PermissionHandler)).Methods(http.MethodPost)
	router.Handle("/uma/gather_claims", http.HandlerFunc(s.GatherClaimsHandler)).Methods(http.MethodGet, http.MethodPost)
	router.Handle("/rpt/status", chain.Handler(http.HandlerFunc(s.IntrospectionHandler)))
	router.Handle("/.well-known/uma2-configuration", chain.Handler(http.HandlerFunc(s.WellKnownHandler)))
}

// authorizeCaller authorizes endpoint callers either by client credentials
// basic auth or by trusted source address.
func (s *Service) authorizeCaller(req *http.Request) (string, error) {
	if clientID, clientSecret, ok := req.BasicAuth(); ok {
		client, err := s.clients.Authenticate(req.Context(), clientID, clientSecret)
		if err != nil {
			return "", err
		}
		return client.ID, nil
	}

	trusted, err := utils.IsRequestFromTrustedSource(req, s.trustedSourceIPs, s.trustedSourceNets)
	if err != nil {
		return "", err
	}
	if !trusted {
		return "", fmt.Errorf("no client credentials and not a trusted source")
	}
	return "", nil
}

// PermissionHandler implements the HTTP endpoint for UMA permission
// registration.
func (s *Service) PermissionHandler(rw http.ResponseWriter, req *http.Request) {
	clientID, err := s.authorizeCaller(req)
	if err != nil {
		s.logger.WithError(err).Debugln("permission registration rejected")
		oidc.WriteWWWAuthenticateError(rw, http.StatusUnauthorized, oidc.NewOAuth2Error(oidc.ErrorUmaInvalidClientID, "client authorization failed"))
		return
	}

	requests, err := payload.DecodePermissionRequest(req.Body)
	if err != nil {
		s.writeError(rw, oidc.NewRequestError(http.StatusBadRequest, oidc.ErrorUmaInvalidPermissionRequest, "request body holds no permissions"), nil, "")
		return
	}

	permissions := make([]*Permission, 0, len(requests))
	for _, request := range requests {
		if request.ResourceID == "" || len(request.ResourceScopes) == 0 {
			s.writeError(rw, oidc.NewRequestError(http.StatusBadRequest, oidc.ErrorUmaInvalidPermissionRequest, "permission without resource_id or resource_scopes"), nil, "")
			return
		}
		permissions = append(permissions, &Permission{
			ResourceID:     request.ResourceID,
			ResourceScopes: request.ResourceScopes,

			ScriptName: s.defaultGatheringScript,
		})
	}

	ticket, err := s.manager.RegisterPermissions(req.Context(), permissions, clientID)
	if err != nil {
		s.writeError(rw, err, nil, "")
		return
	}

	metricTicketsIssued.Inc()
	s.logger.WithFields(logrus.Fields{
		"client_id": clientID,
		"count":     len(permissions),
	}).Debugln("permission ticket issued")

	if err := utils.WriteJSON(rw, http.StatusCreated, &payload.PermissionTicketResponse{Ticket: ticket}, ""); err != nil {
		s.logger.WithError(err).Errorln("failed to write permission ticket response")
	}
}

// IssueRPT creates a requesting party token for the still valid permissions
// of the provided ticket.
func (s *Service) IssueRPT(ctx context.Context, ticket string, clientID string, subject string, pctCode string) (*RPT, error) {
	permissions := s.manager.GetPermissionsByTicket(ctx, ticket)
	if len(permissions) == 0 {
		return nil, oidc.NewRequestError(http.StatusBadRequest, oidc.ErrorUmaInvalidTicket, "ticket does not resolve to any permission")
	}

	valid := make([]*Permission, 0, len(permissions))
	for _, permission := range permissions {
		if permission.IsValid() {
			valid = append(valid, permission)
		}
	}
	if len(valid) == 0 {
		return nil, oidc.NewRequestError(http.StatusBadRequest, oidc.ErrorUmaExpiredTicket, "all permissions of the ticket are expired")
	}

	now := time.Now()
	rpt := &RPT{
		ClientID: clientID,
		Subject:  subject,

		PCTCode: pctCode,

		Permissions: valid,

		CreatedAt: now,
	}
	if s.rptLifetime > 0 {
		rpt.ExpiresAt = now.Add(s.rptLifetime)
	}
	if err := s.manager.SaveRPT(ctx, rpt); err != nil {
		return nil, err
	}

	metricRPTsIssued.Inc()
	return rpt, nil
}

// CreatePCT persists the provided gathered claims as a new PCT.
func (s *Service) CreatePCT(ctx context.Context, claims map[string][]string) (*PCT, error) {
	now := time.Now()
	pct := &PCT{
		Claims: claims,

		CreatedAt: now,
	}
	if s.pctLifetime > 0 {
		pct.ExpiresAt = now.Add(s.pctLifetime)
	}
	if err := s.manager.SavePCT(ctx, pct); err != nil {
		return nil, err
	}
	return pct, nil
}

// writeError delivers the provided error. Classified errors pass through
// unchanged, everything else is logged and converted to a generic server
// error. When a validated claims redirect target is known classified errors
// are delivered redirect based with error and state query parameters.
func (s *Service) writeError(rw http.ResponseWriter, err error, redirectURI *url.URL, state string) {
	var reqErr *oidc.RequestError

	switch typed := err.(type) {
	case *oidc.RequestError:
		reqErr = typed
	default:
		s.logger.WithError(err).Errorln("uma request failed")
		reqErr = oidc.NewRequestError(http.StatusInternalServerError, oidc.ErrorServerError, "")
	}

	if redirectURI != nil && reqErr.RedirectURI == nil {
		reqErr.WithRedirect(redirectURI, state)
	}

	s.logger.WithFields(utils.ErrorAsFields(reqErr)).Debugln("uma request rejected")
	if writeErr := reqErr.Write(rw); writeErr != nil {
		s.logger.WithError(writeErr).Errorln("failed to write uma error response")
	}
}
