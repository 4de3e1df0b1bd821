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
	"context"
)

// Manager is the interface for Grant stores.
type Manager interface {
	// Save persists the provided Grant, indexing its token material for
	// the token based lookups.
	Save(ctx context.Context, grant *Grant) error

	// GetByIDTokenHash looks up the Grant whose identifier token matches
	// the provided lowercase hex encoded SHA-256 sum.
	GetByIDTokenHash(ctx context.Context, hash string) (*Grant, bool)

	// GetByIDTokenValue looks up the Grant whose raw serialized identifier
	// token matches the provided value.
	GetByIDTokenValue(ctx context.Context, value string) (*Grant, bool)

	// GetByAccessToken looks up the Grant whose access token matches the
	// provided value.
	GetByAccessToken(ctx context.Context, value string) (*Grant, bool)

	// GetBySid returns all grants bound to the provided session sid.
	GetBySid(ctx context.Context, sid string) []*Grant

	// Logout marks all grants bound to the provided session sid as logged
	// out. It returns the affected grants.
	Logout(ctx context.Context, sid string) []*Grant
}
