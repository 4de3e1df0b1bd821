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

// Package uma implements the UMA 2.0 grant flows of this service, permission
// registration with tickets, interactive claims gathering and RPT issuance
// with introspection.
package uma

import (
	"time"
)

// A Permission is a single registered resource and scope combination,
// correlated to other permissions of the same registration request by a
// shared ticket.
type Permission struct {
	ID string

	ResourceID     string
	ResourceScopes []string

	Ticket   string
	ClientID string

	// ScriptName names the claims gathering script responsible for this
	// permission. All permissions of one ticket carry the same name.
	ScriptName string

	// PCTCode optionally references a persisted claims token whose claims
	// were gathered for this permission.
	PCTCode string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsValid reports whether the associated Permission is currently usable.
// Expiration is re-evaluated on every call, there is no separate expiry
// check to run first.
func (p *Permission) IsValid() bool {
	if p.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Before(p.ExpiresAt)
}

// An RPT is a requesting party token, the UMA analogue of an access token
// scoped to the permissions it was issued for.
type RPT struct {
	Code string

	ClientID string
	Subject  string

	PCTCode string

	Permissions []*Permission

	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsValid reports whether the associated RPT is currently usable.
// Expiration is re-evaluated on every call, there is no separate expiry
// check to run first.
func (r *RPT) IsValid() bool {
	if r.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Before(r.ExpiresAt)
}

// A PCT is a persisted claims token, carrying previously gathered claims
// forward across UMA interactions.
type PCT struct {
	Code string

	Claims map[string][]string

	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsValid reports whether the associated PCT is currently usable.
func (p *PCT) IsValid() bool {
	if p.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().Before(p.ExpiresAt)
}
