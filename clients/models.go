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

package clients

import (
	"crypto"
	"crypto/subtle"
	"errors"
	"fmt"

	"github.com/mendsley/gojwk"
	_ "gopkg.in/yaml.v2" // Make sure we have yaml.
)

// RegistryData is the base structure of our client registry configuration
// file.
type RegistryData struct {
	Clients []*ClientRegistration `yaml:"clients,flow"`
}

// ClientRegistration defines a client with its properties.
type ClientRegistration struct {
	ID     string `yaml:"id"`
	Secret string `yaml:"secret"`

	Trusted  bool `yaml:"trusted"`
	Insecure bool `yaml:"insecure"`

	Name            string `yaml:"name"`
	URI             string `yaml:"uri"`
	ApplicationType string `yaml:"application_type"`

	RedirectURIs []string `yaml:"redirect_uris,flow"`
	Origins      []string `yaml:"origins,flow"`

	JWKS *gojwk.Key `yaml:"jwks"`

	PostLogoutRedirectURIs []string `yaml:"post_logout_redirect_uris,flow"`

	FrontchannelLogoutURI             string   `yaml:"frontchannel_logout_uri"`
	FrontchannelLogoutSessionRequired bool     `yaml:"frontchannel_logout_session_required"`
	BackchannelLogoutURIs             []string `yaml:"backchannel_logout_uris,flow"`
	BackchannelLogoutSessionRequired  bool     `yaml:"backchannel_logout_session_required"`

	ClaimsRedirectURIs []string `yaml:"claims_redirect_uris,flow"`
}

// UsesBackchannelLogout returns true when the associated client registration
// has at least one back channel logout URI. Back channel takes precedence
// when a client registers both logout channels.
func (cr *ClientRegistration) UsesBackchannelLogout() bool {
	return len(cr.BackchannelLogoutURIs) > 0
}

// UsesFrontchannelLogout returns true when the associated client registration
// has a front channel logout URI and no back channel logout URIs.
func (cr *ClientRegistration) UsesFrontchannelLogout() bool {
	return cr.FrontchannelLogoutURI != "" && len(cr.BackchannelLogoutURIs) == 0
}

// HasPostLogoutRedirectURI returns true when the provided URI string exactly
// matches one of the registered post logout redirect URIs of the associated
// client registration.
func (cr *ClientRegistration) HasPostLogoutRedirectURI(uri string) bool {
	for _, registered := range cr.PostLogoutRedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

// HasClaimsRedirectURI returns true when the provided URI string exactly
// matches one of the registered claims redirect URIs of the associated client
// registration.
func (cr *ClientRegistration) HasClaimsRedirectURI(uri string) bool {
	for _, registered := range cr.ClaimsRedirectURIs {
		if registered == uri {
			return true
		}
	}
	return false
}

func (cr *ClientRegistration) validateSecret(secret string) (bool, error) {
	if cr.Secret == "" {
		return false, errors.New("no client secret registered")
	}
	if subtle.ConstantTimeCompare([]byte(cr.Secret), []byte(secret)) != 1 {
		return false, errors.New("client secret mismatch")
	}
	return true, nil
}

// Secure looks up a matching key from the associated client registration and
// returns its public key part as a secured client. A non empty use value
// restricts the lookup to keys registered for that use.
func (cr *ClientRegistration) Secure(rawKid interface{}, use string) (*Secured, error) {
	var kid string
	var key crypto.PublicKey
	var err error

	if cr.JWKS == nil {
		return nil, fmt.Errorf("no client keys registered")
	}

	var candidates []*gojwk.Key
	for _, k := range cr.JWKS.Keys {
		if use != "" && k.Use != use {
			continue
		}
		candidates = append(candidates, k)
	}

	switch len(candidates) {
	case 0:
		// breaks
	case 1:
		// Use the one and only, no matter what kid says.
		key, err = candidates[0].DecodePublicKey()
		if err != nil {
			return nil, err
		}
		kid = candidates[0].Kid
	default:
		// Find by kid.
		kid, _ = rawKid.(string)
		if kid == "" {
			kid = "default"
		}
		for _, k := range candidates {
			if kid == k.Kid {
				key, err = k.DecodePublicKey()
				if err != nil {
					return nil, err
				}
				break
			}
		}
	}

	if key == nil {
		return nil, fmt.Errorf("unknown kid")
	}

	return &Secured{
		ID:          cr.ID,
		DisplayName: cr.Name,

		Kid:       kid,
		PublicKey: key,

		Registration: cr,
	}, nil
}

// Secured is a client registration resolved to a single public key.
type Secured struct {
	ID          string
	DisplayName string

	Kid       string
	PublicKey crypto.PublicKey

	Registration *ClientRegistration
}
