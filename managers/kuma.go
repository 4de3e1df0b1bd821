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

package managers

import (
	"stash.kopano.io/kc/kuma/clients"
	"stash.kopano.io/kc/kuma/grants"
	"stash.kopano.io/kc/kuma/session"
	"stash.kopano.io/kc/kuma/signing"
)

// Names of the managers registered by the bootstrap of this service.
const (
	SessionManagerName = "sessions"
	GrantManagerName   = "grants"
	UmaManagerName     = "uma"
	ClientRegistryName = "clients"
	SignerName         = "signer"
)

// MustSessions returns the registered session manager or panics.
func (m *Managers) MustSessions() session.Manager {
	return m.Must(SessionManagerName).(session.Manager)
}

// MustGrants returns the registered grant manager or panics.
func (m *Managers) MustGrants() grants.Manager {
	return m.Must(GrantManagerName).(grants.Manager)
}

// MustClients returns the registered client registry or panics.
func (m *Managers) MustClients() *clients.Registry {
	return m.Must(ClientRegistryName).(*clients.Registry)
}

// MustSigner returns the registered token signer or panics.
func (m *Managers) MustSigner() *signing.Signer {
	return m.Must(SignerName).(*signing.Signer)
}
