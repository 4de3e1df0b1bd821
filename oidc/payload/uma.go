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

package payload

import (
	"encoding/json"
	"errors"
	"io"
	"io/ioutil"
)

// PermissionRequest holds a single requested permission as sent by a
// resource server to the permission registration endpoint.
type PermissionRequest struct {
	ResourceID     string   `json:"resource_id"`
	ResourceScopes []string `json:"resource_scopes"`
}

// ErrNoPermissionsInRequest is returned by DecodePermissionRequest when the
// request body neither decodes as a single permission nor as a non empty
// permission list.
var ErrNoPermissionsInRequest = errors.New("no permissions in request")

// DecodePermissionRequest decodes the provided reader as either a single
// permission object or a list of permission objects. The single object
// variant is tried first, the list variant second. This is an explicit
// two variant decode, matching the two body forms allowed by UMA 2.0
// federated authorization for the permission endpoint.
func DecodePermissionRequest(r io.Reader) ([]*PermissionRequest, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}

	single := &PermissionRequest{}
	if err := json.Unmarshal(data, single); err == nil {
		return []*PermissionRequest{single}, nil
	}

	var list []*PermissionRequest
	if err := json.Unmarshal(data, &list); err == nil {
		if len(list) == 0 {
			return nil, ErrNoPermissionsInRequest
		}
		return list, nil
	}

	return nil, ErrNoPermissionsInRequest
}

// PermissionTicketResponse is the response of the permission registration
// endpoint, holding the opaque correlation ticket.
type PermissionTicketResponse struct {
	Ticket string `json:"ticket"`
}

// IntrospectionPermission describes a single still valid permission attached
// to an introspected RPT.
type IntrospectionPermission struct {
	ResourceID     string   `json:"resource_id"`
	ResourceScopes []string `json:"resource_scopes"`
	ExpiresAt      int64    `json:"exp,omitempty"`
}

// IntrospectionResponse is the response of the RPT status endpoint as
// specified at
// https://docs.kantarainitiative.org/uma/wg/rec-oauth-uma-federated-authz-2.0.html#uma-bearer-token-profile
type IntrospectionResponse struct {
	Active      bool                       `json:"active"`
	ExpiresAt   int64                      `json:"exp,omitempty"`
	IssuedAt    int64                      `json:"iat,omitempty"`
	ClientID    string                     `json:"client_id,omitempty"`
	Audience    string                     `json:"aud,omitempty"`
	Subject     string                     `json:"sub,omitempty"`
	Permissions []*IntrospectionPermission `json:"permissions,omitempty"`
	PctClaims   map[string][]string        `json:"pct_claims,omitempty"`
}

// Map converts the associated IntrospectionResponse to a generic map so
// that external modify hooks can rewrite it before delivery.
func (ir *IntrospectionResponse) Map() (map[string]interface{}, error) {
	intermediate, err := json.Marshal(ir)
	if err != nil {
		return nil, err
	}
	result := make(map[string]interface{})
	err = json.Unmarshal(intermediate, &result)
	if err != nil {
		return nil, err
	}

	return result, nil
}
