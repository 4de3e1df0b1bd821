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

package signing

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/ioutil"

	"github.com/dgrijalva/jwt-go"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ed25519"
	"stash.kopano.io/kgol/rndm"
)

// A Signer signs and validates tokens issued by this service with the
// configured issuer key set.
type Signer struct {
	method     jwt.SigningMethod
	signingKid string

	signingKey     crypto.PrivateKey
	validationKeys map[string]crypto.PublicKey

	logger logrus.FieldLogger
}

// NewSignerFromFile creates a new Signer with the private key loaded from
// the PEM file at the provided path. When the path is empty an ephemeral
// Ed25519 key is generated, tokens signed with it do not survive restarts.
func NewSignerFromFile(ctx context.Context, pemFilepath string, kid string, logger logrus.FieldLogger) (*Signer, error) {
	var signingKey crypto.PrivateKey
	var publicKey crypto.PublicKey

	if pemFilepath == "" {
		_, privateKey, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, err
		}
		signingKey = privateKey
		publicKey = privateKey.Public()
		if kid == "" {
			kid = rndm.GenerateRandomString(8)
		}
		logger.WithField("kid", kid).Warnln("using random ephemeral signing key")
	} else {
		pemBytes, err := ioutil.ReadFile(pemFilepath)
		if err != nil {
			return nil, fmt.Errorf("failed to read signing key: %v", err)
		}
		block, _ := pem.Decode(pemBytes)
		if block == nil {
			return nil, errors.New("no PEM block found in signing key")
		}
		signingKey, err = parsePrivateKey(block)
		if err != nil {
			return nil, err
		}
		publicKey, err = publicFromPrivate(signingKey)
		if err != nil {
			return nil, err
		}
		if kid == "" {
			kid = "default"
		}
	}

	method, err := methodForKey(signingKey)
	if err != nil {
		return nil, err
	}

	return &Signer{
		method:     method,
		signingKid: kid,

		signingKey: signingKey,
		validationKeys: map[string]crypto.PublicKey{
			kid: publicKey,
		},

		logger: logger,
	}, nil
}

func parsePrivateKey(block *pem.Block) (crypto.PrivateKey, error) {
	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(block.Bytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(block.Bytes)
	default:
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse signing key: %v", err)
		}
		return key, nil
	}
}

func publicFromPrivate(key crypto.PrivateKey) (crypto.PublicKey, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k.Public(), nil
	case *ecdsa.PrivateKey:
		return k.Public(), nil
	case ed25519.PrivateKey:
		return k.Public(), nil
	default:
		return nil, fmt.Errorf("unsupported signing key type %T", key)
	}
}

func methodForKey(key crypto.PrivateKey) (jwt.SigningMethod, error) {
	switch key.(type) {
	case *rsa.PrivateKey:
		return jwt.SigningMethodPS256, nil
	case *ecdsa.PrivateKey:
		return jwt.SigningMethodES256, nil
	case ed25519.PrivateKey:
		return SigningMethodEdDSA, nil
	default:
		return nil, fmt.Errorf("unsupported signing key type %T", key)
	}
}

// SigningMethod returns the signing method of the associated Signer.
func (s *Signer) SigningMethod() jwt.SigningMethod {
	return s.method
}

// SignToken signs the provided claims into a serialized token with the
// signing key of the associated Signer. The resulting token carries the kid
// of the used key in its header.
func (s *Signer) SignToken(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(s.method, claims)
	token.Header["kid"] = s.signingKid

	return token.SignedString(s.signingKey)
}

// AddValidationKey adds the provided public key under the provided kid to
// the validation key set of the associated Signer.
func (s *Signer) AddValidationKey(kid string, key crypto.PublicKey) {
	s.validationKeys[kid] = key
}

// Keyfunc provides the validation key lookup for parsing tokens issued by
// this service.
func (s *Signer) Keyfunc(token *jwt.Token) (interface{}, error) {
	if token.Method.Alg() != s.method.Alg() {
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}

	rawKid, _ := token.Header["kid"]
	kid, _ := rawKid.(string)
	if kid == "" {
		kid = s.signingKid
	}

	key, ok := s.validationKeys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown kid: %v", kid)
	}
	return key, nil
}

// ValidateToken parses and validates the provided serialized token with the
// validation key set of the associated Signer.
func (s *Signer) ValidateToken(tokenString string, claims jwt.Claims) (*jwt.Token, error) {
	return jwt.ParseWithClaims(tokenString, claims, s.Keyfunc)
}
