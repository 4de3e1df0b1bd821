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
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/satori/go.uuid"
	jose "gopkg.in/square/go-jose.v2"

	"stash.kopano.io/kc/kuma/clients"
	"stash.kopano.io/kc/kuma/oidc"
	"stash.kopano.io/kc/kuma/signing"
)

// LogoutTokenFactory creates signed OIDC back-channel logout tokens bound to
// a specific client as specified at
// https://openid.net/specs/openid-connect-backchannel-1_0.html#LogoutToken
type LogoutTokenFactory struct {
	issuer   string
	lifetime time.Duration

	signer *signing.Signer
}

// NewLogoutTokenFactory creates a new LogoutTokenFactory for the provided
// issuer, token lifetime and signer.
func NewLogoutTokenFactory(issuer string, lifetime time.Duration, signer *signing.Signer) *LogoutTokenFactory {
	return &LogoutTokenFactory{
		issuer:   issuer,
		lifetime: lifetime,

		signer: signer,
	}
}

// Create builds and signs a logout token for the provided client. The sid
// claim is only included when the client registered back channel logout as
// session required. When the client registered an encryption key the signed
// token is additionally encrypted to that key.
func (f *LogoutTokenFactory) Create(client *clients.ClientRegistration, outsideSid string, userID string) (string, error) {
	now := time.Now()

	claims := &oidc.LogoutTokenClaims{
		Events: map[string]interface{}{
			oidc.BackchannelLogoutEvent: struct{}{},
		},
		StandardClaims: jwt.StandardClaims{
			Issuer:    f.issuer,
			Audience:  client.ID,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(f.lifetime).Unix(),
			Id:        uuid.NewV4().String(),
			Subject:   scopedSubject(client.ID, userID),
		},
	}
	if client.BackchannelLogoutSessionRequired {
		claims.SessionID = outsideSid
	}

	token, err := f.signer.SignToken(claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign logout token: %v", err)
	}

	if secured, securedErr := client.Secure(nil, "enc"); securedErr == nil {
		token, err = encryptToken(token, secured.PublicKey)
		if err != nil {
			return "", fmt.Errorf("failed to encrypt logout token: %v", err)
		}
	}

	return token, nil
}

// scopedSubject derives a client scoped subject identifier, the same user
// yields different sub values towards different clients.
func scopedSubject(clientID string, userID string) string {
	return oidc.HashToken(clientID + ":" + userID)
}

func encryptToken(token string, key interface{}) (string, error) {
	encrypter, err := jose.NewEncrypter(jose.A128CBC_HS256, jose.Recipient{
		Algorithm: jose.RSA_OAEP,
		Key:       key,
	}, (&jose.EncrypterOptions{}).WithContentType("JWT"))
	if err != nil {
		return "", err
	}

	encrypted, err := encrypter.Encrypt([]byte(token))
	if err != nil {
		return "", err
	}

	return encrypted.CompactSerialize()
}
