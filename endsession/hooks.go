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

package endsession

import (
	"context"
	"net/http"

	"stash.kopano.io/kc/kuma/session"
)

// An EndSessionHook runs while a session is being ended. When the hook
// returns an error the whole end session operation fails.
type EndSessionHook interface {
	EndSession(ctx context.Context, req *http.Request, session *session.Session) error
}

// A FrontchannelPageHook can replace the generated front channel logout
// page. When it returns a non empty string that string is delivered verbatim
// instead of the generated page.
type FrontchannelPageHook interface {
	FrontchannelPage(ctx context.Context, data *FrontchannelPageData) string
}
