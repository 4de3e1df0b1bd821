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
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
	"stash.kopano.io/kgol/oidc-go"
)

// Registry implements the registry for registered clients.
type Registry struct {
	mutex sync.RWMutex

	clients map[string]*ClientRegistration

	logger logrus.FieldLogger
}

// NewRegistry creates a new client Registry, loading registrations from the
// provided configuration file when a path is given.
func NewRegistry(ctx context.Context, registrationConfFilepath string, logger logrus.FieldLogger) (*Registry, error) {
	registryData := &RegistryData{}

	if registrationConfFilepath != "" {
		logger.Debugf("parsing client registration conf from %v", registrationConfFilepath)
		registryFile, err := ioutil.ReadFile(registrationConfFilepath)
		if err != nil {
			return nil, err
		}

		err = yaml.Unmarshal(registryFile, registryData)
		if err != nil {
			return nil, err
		}
	}

	r := &Registry{
		clients: make(map[string]*ClientRegistration),

		logger: logger,
	}

	for _, client := range registryData.Clients {
		registerErr := r.Register(client)
		fields := logrus.Fields{
			"client_id":                 client.ID,
			"with_client_secret":        client.Secret != "",
			"trusted":                   client.Trusted,
			"insecure":                  client.Insecure,
			"post_logout_redirect_uris": client.PostLogoutRedirectURIs,
			"frontchannel_logout_uri":   client.FrontchannelLogoutURI,
			"backchannel_logout_uris":   client.BackchannelLogoutURIs,
			"claims_redirect_uris":      client.ClaimsRedirectURIs,
		}

		if registerErr != nil {
			logger.WithError(registerErr).WithFields(fields).Warnln("skipped registration of invalid client")
			continue
		}
		logger.WithFields(fields).Debugln("registered client")
	}

	return r, nil
}

// Register validates the provided client registration and adds the client
// to the associated registry if valid. Returns error otherwise.
func (r *Registry) Register(client *ClientRegistration) error {
	if client.ID == "" {
		return errors.New("invalid client_id")
	}

	if client.ApplicationType == "" {
		client.ApplicationType = oidc.ApplicationTypeWeb
	}

	for _, urlString := range client.PostLogoutRedirectURIs {
		if err := validateRedirectURIString(urlString, client.Insecure); err != nil {
			return fmt.Errorf("invalid post_logout_redirect_uri %v - %v", urlString, err)
		}
	}
	for _, urlString := range client.ClaimsRedirectURIs {
		if err := validateRedirectURIString(urlString, client.Insecure); err != nil {
			return fmt.Errorf("invalid claims_redirect_uri %v - %v", urlString, err)
		}
	}
	if client.FrontchannelLogoutURI != "" {
		if err := validateRedirectURIString(client.FrontchannelLogoutURI, client.Insecure); err != nil {
			return fmt.Errorf("invalid frontchannel_logout_uri - %v", err)
		}
	}
	for _, urlString := range client.BackchannelLogoutURIs {
		if err := validateRedirectURIString(urlString, client.Insecure); err != nil {
			return fmt.Errorf("invalid backchannel_logout_uri %v - %v", urlString, err)
		}
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.clients[client.ID] = client
	return nil
}

func validateRedirectURIString(urlString string, insecure bool) error {
	// http://openid.net/specs/openid-connect-registration-1_0.html#ClientMetadata
	parsed, _ := url.Parse(urlString)
	if parsed == nil || parsed.Host == "" {
		return errors.New("invalid uri or no hostname")
	}
	if !insecure && parsed.Scheme != "https" {
		return errors.New("make sure to use https")
	}
	return nil
}

// Get returns the registered client registration for the provided client ID.
func (r *Registry) Get(ctx context.Context, clientID string) (*ClientRegistration, bool) {
	r.mutex.RLock()
	registration, ok := r.clients[clientID]
	r.mutex.RUnlock()

	return registration, ok
}

// GetMulti returns the registered client registrations for the provided
// client IDs. Unknown IDs are skipped.
func (r *Registry) GetMulti(ctx context.Context, clientIDs []string) []*ClientRegistration {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	result := make([]*ClientRegistration, 0, len(clientIDs))
	for _, clientID := range clientIDs {
		if registration, ok := r.clients[clientID]; ok {
			result = append(result, registration)
		}
	}
	return result
}

// Authenticate looks up the client registration for the provided client ID
// and validates the provided secret against it.
func (r *Registry) Authenticate(ctx context.Context, clientID string, clientSecret string) (*ClientRegistration, error) {
	registration, ok := r.Get(ctx, clientID)
	if !ok {
		return nil, fmt.Errorf("unknown client_id: %v", clientID)
	}

	if valid, err := registration.validateSecret(clientSecret); !valid {
		return nil, fmt.Errorf("invalid client_secret: %v", err)
	}

	return registration, nil
}
