/*
 * Copyright 2017 Kopano and its licensors
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
	"net/http"
	"net/url"
)

// EndSessionRequest holds the incoming parameters and request data for OpenID
// Connect RP initiated logout requests as specified at
// https://openid.net/specs/openid-connect-rpinitiated-1_0.html#RPLogout
type EndSessionRequest struct {
	RawIDTokenHint           string `schema:"id_token_hint"`
	RawPostLogoutRedirectURI string `schema:"post_logout_redirect_uri"`
	State                    string `schema:"state"`
	Sid                      string `schema:"sid"`

	PostLogoutRedirectURI *url.URL `schema:"-"`
}

// DecodeEndSessionRequest returns a EndSessionRequest holding the
// provided requests form data.
func DecodeEndSessionRequest(req *http.Request) (*EndSessionRequest, error) {
	return NewEndSessionRequest(req.Form)
}

// NewEndSessionRequest returns a EndSessionRequest holding the
// provided url values.
func NewEndSessionRequest(values url.Values) (*EndSessionRequest, error) {
	esr := &EndSessionRequest{}
	err := DecodeSchema(esr, values)
	if err != nil {
		return nil, err
	}

	if esr.RawPostLogoutRedirectURI != "" {
		esr.PostLogoutRedirectURI, _ = url.Parse(esr.RawPostLogoutRedirectURI)
	}

	return esr, nil
}
