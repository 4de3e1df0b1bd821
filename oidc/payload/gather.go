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
	"net/http"
	"net/url"
)

// ClaimsGatheringRequest holds the incoming parameters of a UMA 2.0
// interactive claims gathering request as specified at
// https://docs.kantarainitiative.org/uma/wg/rec-oauth-uma-grant-2.0.html#claim-redirect
type ClaimsGatheringRequest struct {
	ClientID              string `schema:"client_id"`
	Ticket                string `schema:"ticket"`
	RawClaimsRedirectURI  string `schema:"claims_redirect_uri"`
	State                 string `schema:"state"`
	RawAuthenticationFlag string `schema:"authentication"`

	ClaimsRedirectURI *url.URL `schema:"-"`
}

// DecodeClaimsGatheringRequest returns a ClaimsGatheringRequest holding the
// provided requests form data.
func DecodeClaimsGatheringRequest(req *http.Request) (*ClaimsGatheringRequest, error) {
	return NewClaimsGatheringRequest(req.Form)
}

// NewClaimsGatheringRequest returns a ClaimsGatheringRequest holding the
// provided url values.
func NewClaimsGatheringRequest(values url.Values) (*ClaimsGatheringRequest, error) {
	cgr := &ClaimsGatheringRequest{}
	err := DecodeSchema(cgr, values)
	if err != nil {
		return nil, err
	}

	if cgr.RawClaimsRedirectURI != "" {
		cgr.ClaimsRedirectURI, _ = url.Parse(cgr.RawClaimsRedirectURI)
	}

	return cgr, nil
}

// IsAuthenticationRedirect returns true if the associated request is the
// continuation of a script driven sub authentication redirect flow. In that
// case the correlating parameters are restored from the session rather than
// from the request.
func (cgr *ClaimsGatheringRequest) IsAuthenticationRedirect() bool {
	return cgr.RawAuthenticationFlag == "true" || cgr.RawAuthenticationFlag == "1"
}
