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

package session

import (
	"time"
)

// State is the authentication state of a Session.
type State int

// States of a Session.
const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateLoggedOut
)

// GatheringState holds the cross request state of a multi step UMA claims
// gathering interaction bound to a Session. It replaces the generic string
// attribute bag such protocol state is commonly stashed in, so presence or
// absence of a gathering interaction is a typed question.
type GatheringState struct {
	ClientID          string
	Ticket            string
	ClaimsRedirectURI string
	State             string
	ScriptName        string
	Step              int
}

// Session is a single sign on session of an end user at this server. The
// Sid value is the externally visible session identifier which is exposed
// to relying parties and placed into tokens, distinct from the internal ID.
type Session struct {
	ID  string
	Sid string

	State    State
	AuthTime time.Time

	UserID string

	// GrantedClientIDs records the ids of all clients which were granted
	// permission during this session. They take part in single sign out.
	GrantedClientIDs map[string]bool

	Gathering *GatheringState

	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired returns true if the associated Session is expired at the provided
// point in time.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// GrantClient records the provided client id as granted in the associated
// Session.
func (s *Session) GrantClient(clientID string) {
	if s.GrantedClientIDs == nil {
		s.GrantedClientIDs = make(map[string]bool)
	}
	s.GrantedClientIDs[clientID] = true
}
