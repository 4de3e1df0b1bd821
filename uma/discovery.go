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
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"stash.kopano.io/kc/kuma/oidc"
)

const defaultDiscoveryTTL = 5 * time.Minute

// DiscoveryDocument is the UMA 2.0 configuration data of this service as
// served from the well known endpoint.
type DiscoveryDocument struct {
	Issuer string `json:"issuer"`

	EndSessionEndpoint        string `json:"end_session_endpoint"`
	PermissionEndpoint        string `json:"permission_endpoint"`
	IntrospectionEndpoint     string `json:"introspection_endpoint"`
	ClaimsInteractionEndpoint string `json:"claims_interaction_endpoint"`

	GrantTypesSupported []string `json:"grant_types_supported"`
}

// discoveryCache holds the serialized discovery document for its TTL,
// owned by the service instance rather than being a global singleton.
type discoveryCache struct {
	mutex sync.Mutex

	ttl        time.Duration
	validUntil time.Time
	serialized []byte
}

func newDiscoveryCache(ttl time.Duration) *discoveryCache {
	return &discoveryCache{
		ttl: ttl,
	}
}

func (c *discoveryCache) get(build func() ([]byte, error)) ([]byte, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := time.Now()
	if c.serialized != nil && now.Before(c.validUntil) {
		return c.serialized, nil
	}

	serialized, err := build()
	if err != nil {
		return nil, err
	}
	c.serialized = serialized
	c.validUntil = now.Add(c.ttl)
	return serialized, nil
}

// WellKnownHandler implements the HTTP endpoint for UMA 2.0 discovery.
func (s *Service) WellKnownHandler(rw http.ResponseWriter, req *http.Request) {
	serialized, err := s.discovery.get(func() ([]byte, error) {
		issuer := s.issuer.String()
		return json.MarshalIndent(&DiscoveryDocument{
			Issuer: issuer,

			EndSessionEndpoint:        issuer + "/end_session",
			PermissionEndpoint:        issuer + "/host/rsrc_pr",
			IntrospectionEndpoint:     issuer + "/rpt/status",
			ClaimsInteractionEndpoint: issuer + "/uma/gather_claims",

			GrantTypesSupported: []string{
				oidc.GrantTypeAuthorizationCode,
				oidc.GrantTypeUmaTicket,
			},
		}, "", "  ")
	})
	if err != nil {
		s.writeError(rw, err, nil, "")
		return
	}

	rw.Header().Set("Content-Type", "application/json; charset=utf-8")
	rw.WriteHeader(http.StatusOK)
	if _, err := rw.Write(serialized); err != nil {
		s.logger.WithError(err).Errorln("failed to write discovery document")
	}
}
