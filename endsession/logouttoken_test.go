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
	"crypto/rand"
	"crypto/rsa"
	"io/ioutil"
	"strings"
	"testing"
	"time"

	"github.com/mendsley/gojwk"
	"github.com/sirupsen/logrus"
	jose "gopkg.in/square/go-jose.v2"

	"stash.kopano.io/kc/kuma/clients"
	"stash.kopano.io/kc/kuma/oidc"
	"stash.kopano.io/kc/kuma/signing"
)

func newTestLogoutTokenFactory(t *testing.T) (*LogoutTokenFactory, *signing.Signer) {
	logger := logrus.New()
	logger.SetOutput(ioutil.Discard)

	signer, err := signing.NewSignerFromFile(context.Background(), "", "test-kid", logger)
	if err != nil {
		t.Fatal(err)
	}

	return NewLogoutTokenFactory("https://provider.example.com", time.Minute, signer), signer
}

func TestLogoutTokenClaims(t *testing.T) {
	factory, signer := newTestLogoutTokenFactory(t)

	client := &clients.ClientRegistration{
		ID:                               "rp",
		BackchannelLogoutURIs:            []string{"https://rp.example/bc"},
		BackchannelLogoutSessionRequired: true,
	}

	tokenString, err := factory.Create(client, "sid-1", "user-1")
	if err != nil {
		t.Fatal(err)
	}

	claims := &oidc.LogoutTokenClaims{}
	token, err := signer.ValidateToken(tokenString, claims)
	if err != nil {
		t.Fatal(err)
	}
	if !token.Valid {
		t.Fatal("logout token not valid")
	}

	if claims.Issuer != "https://provider.example.com" {
		t.Errorf("iss mismatch: %v", claims.Issuer)
	}
	if claims.Audience != "rp" {
		t.Errorf("aud mismatch: %v", claims.Audience)
	}
	if claims.SessionID != "sid-1" {
		t.Errorf("sid mismatch: %v", claims.SessionID)
	}
	if claims.Id == "" {
		t.Error("jti missing")
	}
	if claims.Subject == "" {
		t.Error("sub missing")
	}
	if _, ok := claims.Events[oidc.BackchannelLogoutEvent]; !ok {
		t.Error("back channel logout event member missing")
	}
}

func TestLogoutTokenOmitsSidWhenNotRequired(t *testing.T) {
	factory, signer := newTestLogoutTokenFactory(t)

	client := &clients.ClientRegistration{
		ID:                    "rp",
		BackchannelLogoutURIs: []string{"https://rp.example/bc"},
	}

	tokenString, err := factory.Create(client, "sid-1", "user-1")
	if err != nil {
		t.Fatal(err)
	}

	claims := &oidc.LogoutTokenClaims{}
	if _, err := signer.ValidateToken(tokenString, claims); err != nil {
		t.Fatal(err)
	}
	if claims.SessionID != "" {
		t.Errorf("sid present although not session required: %v", claims.SessionID)
	}
}

func TestScopedSubjectIsClientScoped(t *testing.T) {
	if scopedSubject("client-a", "user-1") == scopedSubject("client-b", "user-1") {
		t.Error("subject not scoped per client")
	}
	if scopedSubject("client-a", "user-1") != scopedSubject("client-a", "user-1") {
		t.Error("subject not stable")
	}
}

func TestLogoutTokenEncryptedForClientKey(t *testing.T) {
	factory, signer := newTestLogoutTokenFactory(t)

	private, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	encKey, err := gojwk.PublicKey(private.Public())
	if err != nil {
		t.Fatal(err)
	}
	encKey.Kid = "enc-key"
	encKey.Use = "enc"

	client := &clients.ClientRegistration{
		ID:                    "rp",
		BackchannelLogoutURIs: []string{"https://rp.example/bc"},
		JWKS: &gojwk.Key{
			Keys: []*gojwk.Key{encKey},
		},
	}

	tokenString, err := factory.Create(client, "sid-1", "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if parts := strings.Split(tokenString, "."); len(parts) != 5 {
		t.Fatalf("token is not a compact JWE, %d parts", len(parts))
	}

	encrypted, err := jose.ParseEncrypted(tokenString)
	if err != nil {
		t.Fatal(err)
	}
	decrypted, err := encrypted.Decrypt(private)
	if err != nil {
		t.Fatal(err)
	}

	claims := &oidc.LogoutTokenClaims{}
	if _, err := signer.ValidateToken(string(decrypted), claims); err != nil {
		t.Fatal(err)
	}
	if claims.Audience != "rp" {
		t.Errorf("aud mismatch: %v", claims.Audience)
	}
}
