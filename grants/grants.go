/*
 * Copyright 2018 Kopano and its licensors
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

package grants

import (
	"time"
)

// A Grant is the record of tokens issued to a client for a user within a
// session. It carries enough token material to find it again from the hints
// a relying party sends back during end session.
type Grant struct {
	ID string

	ClientID string
	UserID   string
	Sid      string

	// Scopes are the scope values the tokens of this grant were issued
	// with.
	Scopes []string

	// IDToken is the raw serialized identifier token issued with this
	// grant. IDTokenHash is its lowercase hex encoded SHA-256 sum.
	IDToken     string
	IDTokenHash string

	AccessToken string

	CreatedAt time.Time
	ExpiresAt time.Time

	LoggedOut bool
}

// Expired returns true when the associated Grant is expired at the provided
// point in time.
func (g *Grant) Expired(now time.Time) bool {
	return !g.ExpiresAt.IsZero() && now.After(g.ExpiresAt)
}

// Logout marks the associated Grant as logged out. Logged out grants stay in
// the store until they expire but no longer resolve through token lookups.
func (g *Grant) Logout() {
	g.LoggedOut = true
}
