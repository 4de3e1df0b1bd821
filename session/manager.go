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
	"context"
	"net/http"
)

// Manager is the interface for Session stores.
type Manager interface {
	// Create creates and stores a new Session for the provided user.
	Create(ctx context.Context, userID string) (*Session, error)

	// Save persists the provided Session.
	Save(ctx context.Context, session *Session) error

	// GetByID looks up the Session with the provided internal id.
	GetByID(ctx context.Context, id string) (*Session, bool)

	// GetBySid looks up the Session with the provided outside sid.
	GetBySid(ctx context.Context, sid string) (*Session, bool)

	// Update applies the provided function to the Session with the provided
	// internal id. The update is atomic per session record, concurrent
	// updates to the same Session do not lose writes.
	Update(ctx context.Context, id string, updater func(*Session) error) error

	// Remove removes the provided Session. It returns false when the
	// Session was not found in the store.
	Remove(ctx context.Context, session *Session) (bool, error)

	// GetFromCookie looks up the Session referenced by the session cookie
	// of the provided request, if any.
	GetFromCookie(ctx context.Context, req *http.Request) (*Session, bool)

	// GetFromConsentCookie looks up the Session referenced by the consent
	// session cookie of the provided request, if any.
	GetFromConsentCookie(ctx context.Context, req *http.Request) (*Session, bool)

	// SetCookie adds a session cookie for the provided Session to the
	// provided response.
	SetCookie(rw http.ResponseWriter, session *Session) error

	// RemoveCookies expires the session and consent session cookies in the
	// provided response.
	RemoveCookies(rw http.ResponseWriter)
}
