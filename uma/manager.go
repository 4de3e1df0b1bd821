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
)

// Manager is the interface for UMA record stores.
type Manager interface {
	// RegisterPermissions persists the provided permissions under a fresh
	// ticket and returns that ticket.
	RegisterPermissions(ctx context.Context, permissions []*Permission, clientID string) (string, error)

	// GetPermissionsByTicket returns all permissions registered under the
	// provided ticket, expired ones included. Callers check IsValid.
	GetPermissionsByTicket(ctx context.Context, ticket string) []*Permission

	// SaveRPT persists the provided RPT.
	SaveRPT(ctx context.Context, rpt *RPT) error

	// GetRPT looks up the RPT with the provided code.
	GetRPT(ctx context.Context, code string) (*RPT, bool)

	// SavePCT persists the provided PCT.
	SavePCT(ctx context.Context, pct *PCT) error

	// GetPCT looks up the PCT with the provided code.
	GetPCT(ctx context.Context, code string) (*PCT, bool)
}
