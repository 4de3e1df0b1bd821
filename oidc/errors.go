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

package oidc

import (
	"fmt"
	"net/http"
	"net/url"

	"stash.kopano.io/kc/kuma/utils"
)

// Error ids used by the end session endpoint.
const (
	ErrorOAuth2InvalidRequest = "invalid_request"
	ErrorOAuth2InvalidGrant   = "invalid_grant"

	ErrorInvalidGrantAndSession               = "invalid_grant_and_session"
	ErrorPostLogoutURINotAssociatedWithClient = "post_logout_uri_not_associated_with_client"

	ErrorServerError = "server_error"
)

// Error ids used by the UMA endpoints.
const (
	ErrorUmaInvalidClientID          = "invalid_client_id"
	ErrorUmaInvalidClaimsRedirectURI = "invalid_claims_redirect_uri"
	ErrorUmaInvalidTicket            = "invalid_ticket"
	ErrorUmaExpiredTicket            = "expired_ticket"
	ErrorUmaInvalidScriptName        = "invalid_claims_gathering_script_name"
	ErrorUmaInvalidSession           = "invalid_session"
	ErrorUmaInvalidPermissionRequest = "invalid_permission_request"
	ErrorUmaInvalidRPT               = "invalid_rpt"
	ErrorUmaInvalidPCT               = "invalid_pct"
)

// OAuth2Error defines a general OAuth2 error with id and decription.
type OAuth2Error struct {
	ErrorID          string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// Error implements the error interface.
func (err *OAuth2Error) Error() string {
	return err.ErrorID
}

// Description implements the ErrorWithDescription interface.
func (err *OAuth2Error) Description() string {
	return err.ErrorDescription
}

// NewOAuth2Error creates a new error with id and description.
func NewOAuth2Error(id string, description string) *OAuth2Error {
	return &OAuth2Error{id, description}
}

// RequestError is a classified request aborting error which already carries
// the HTTP response it wants delivered. Code upstream which catches a
// RequestError delivers it unchanged and never rewraps it as a generic
// server error.
type RequestError struct {
	*OAuth2Error

	Code        int
	RedirectURI *url.URL
	State       string
}

// NewRequestError creates a new RequestError with the provided HTTP status
// code, error id and description.
func NewRequestError(code int, id string, description string) *RequestError {
	return &RequestError{
		OAuth2Error: NewOAuth2Error(id, description),

		Code: code,
	}
}

// WithRedirect marks the associated RequestError for redirect based error
// delivery to the provided uri, appending the error fields and the provided
// state as query parameters.
func (err *RequestError) WithRedirect(uri *url.URL, state string) *RequestError {
	err.RedirectURI = uri
	err.State = state

	return err
}

type errorRedirectParams struct {
	Error            string `url:"error"`
	ErrorDescription string `url:"error_description,omitempty"`
	State            string `url:"state,omitempty"`
}

// Write delivers the associated RequestError to the provided
// http.ResponseWriter, either as a redirect carrying the error in the query
// string or as a JSON body with the associated HTTP status code.
func (err *RequestError) Write(rw http.ResponseWriter) error {
	if err.RedirectURI != nil {
		return utils.WriteRedirect(rw, http.StatusFound, err.RedirectURI, &errorRedirectParams{
			Error:            err.ErrorID,
			ErrorDescription: err.ErrorDescription,
			State:            err.State,
		}, false)
	}

	return utils.WriteJSON(rw, err.Code, err.OAuth2Error, "")
}

// WriteWWWAuthenticateError writes the provided error with the provided
// http status code to the provided http response writer as a
// WWW-Authenticate header with comma seperated fields for id and
// description.
func WriteWWWAuthenticateError(rw http.ResponseWriter, code int, err error) {
	if code == 0 {
		code = http.StatusUnauthorized
	}

	var description string
	switch err.(type) {
	case utils.ErrorWithDescription:
		description = err.(utils.ErrorWithDescription).Description()
	default:
	}

	rw.Header().Set("WWW-Authenticate", fmt.Sprintf("error=\"%s\", error_description=\"%s\"", err.Error(), description))
	rw.WriteHeader(code)
}

// IsErrorWithID returns true if the given error is an OAuth2Error or
// RequestError with the given ID.
func IsErrorWithID(err error, id string) bool {
	if err == nil {
		return false
	}

	switch e := err.(type) {
	case *OAuth2Error:
		return e.ErrorID == id
	case *RequestError:
		return e.ErrorID == id
	}

	return false
}
