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
	"errors"

	"github.com/dgrijalva/jwt-go"
)

// Standard claims as used in JSON Web Tokens.
const (
	IssuerIdentifierClaim  = "iss"
	SubjectIdentifierClaim = "sub"
	AudienceClaim          = "aud"
	ExpirationClaim        = "exp"
	IssuedAtClaim          = "iat"
	SessionIdentifierClaim = "sid"
)

// BackchannelLogoutEvent is the member name of the events claim which marks
// a token as a OIDC back-channel logout token as specified at
// https://openid.net/specs/openid-connect-backchannel-1_0.html#LogoutToken
const BackchannelLogoutEvent = "http://schemas.openid.net/event/backchannel-logout"

// IDTokenClaims define the claims found in OIDC ID Tokens.
type IDTokenClaims struct {
	AuthTime  int64  `json:"auth_time,omitempty"`
	SessionID string `json:"sid,omitempty"`
	jwt.StandardClaims
}

// Valid implements the jwt.Claims interface.
func (c IDTokenClaims) Valid() (err error) {
	return c.StandardClaims.Valid()
}

// LogoutTokenClaims define the claims used by OIDC back-channel logout
// tokens.
type LogoutTokenClaims struct {
	SessionID string                 `json:"sid,omitempty"`
	Events    map[string]interface{} `json:"events"`
	jwt.StandardClaims
}

// Valid implements the jwt.Claims interface.
func (c LogoutTokenClaims) Valid() error {
	if err := c.StandardClaims.Valid(); err != nil {
		return err
	}
	if _, ok := c.Events[BackchannelLogoutEvent]; !ok {
		return errors.New("events claim not valid")
	}

	return nil
}
