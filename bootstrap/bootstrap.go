/*
 * Copyright 2017-2019 Kopano and its licensors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 *
 */

package bootstrap

import (
	"context"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"stash.kopano.io/kgol/rndm"

	"stash.kopano.io/kc/kuma/clients"
	"stash.kopano.io/kc/kuma/config"
	"stash.kopano.io/kc/kuma/encryption"
	"stash.kopano.io/kc/kuma/endsession"
	grantsManagers "stash.kopano.io/kc/kuma/grants/managers"
	"stash.kopano.io/kc/kuma/managers"
	sessionManagers "stash.kopano.io/kc/kuma/session/managers"
	"stash.kopano.io/kc/kuma/signing"
	"stash.kopano.io/kc/kuma/uma"
	umaManagers "stash.kopano.io/kc/kuma/uma/managers"
	"stash.kopano.io/kc/kuma/utils"
)

// Defaults.
const (
	defaultSigningKid        = "default"
	defaultSessionCookieName = "__Secure-KKTS" // Kopano-Kuma-Token-Session
	defaultConsentCookieName = "__Secure-KKC"  // Kopano-Kuma-Consent
)

// Config is a typed application config which represents the user accessible
// config params.
type Config struct {
	Iss    string
	Listen string

	Insecure bool

	EncryptionSecretFile  string
	SigningPrivateKeyFile string
	SigningKid            string

	RegistrationConfFile string

	TrustedProxy  []string
	TrustedSource []string

	TrustedPostLogoutRedirectURIs []string

	RequireIDTokenHint           bool
	AllowHintAsAccessToken       bool
	RejectUnresolvedHints        bool
	AllowMismatchedSid           bool
	DisableRedirectErrorDelivery bool

	GatheringPageBase      string
	DefaultGatheringScript string

	LogoutTokenDurationSeconds uint64
	TicketDurationSeconds      uint64
	RPTDurationSeconds         uint64
	PCTDurationSeconds         uint64
}

// Bootstrap is a data structure to hold configuration required to start
// kumad.
type Bootstrap interface {
	Config() *config.Config
	Managers() *managers.Managers

	EndSessionProvider() *endsession.Provider
	UmaService() *uma.Service
}

// Implementation of the bootstrap interface.
type bootstrap struct {
	issuerIdentifierURI *url.URL

	encryptionSecret    *[encryption.KeySize]byte
	signingKid          string
	signingPrivateKeyFn string
	registrationConfFn  string

	trustedSourceIPs  []*net.IP
	trustedSourceNets []*net.IPNet

	cfg      *config.Config
	managers *managers.Managers

	endSessionProvider *endsession.Provider
	umaService         *uma.Service
}

// Config returns the server configuration.
func (bs *bootstrap) Config() *config.Config {
	return bs.cfg
}

// Managers returns the bootstrapped managers.
func (bs *bootstrap) Managers() *managers.Managers {
	return bs.managers
}

// EndSessionProvider returns the bootstrapped end session provider.
func (bs *bootstrap) EndSessionProvider() *endsession.Provider {
	return bs.endSessionProvider
}

// UmaService returns the bootstrapped UMA service.
func (bs *bootstrap) UmaService() *uma.Service {
	return bs.umaService
}

// Boot is the main entry point to bootstrap the kumad service after
// validating the given configuration. The resulting Bootstrap struct can be
// used to retrieve the configured managers, services and their config.
//
// This function should be used by consumers which want to embed kuma as a
// library.
func Boot(ctx context.Context, bsConf *Config, serverConf *config.Config) (Bootstrap, error) {
	bs := &bootstrap{
		cfg: serverConf,
	}

	err := bs.initialize(bsConf)
	if err != nil {
		return nil, err
	}

	err = bs.setup(ctx, bsConf)
	if err != nil {
		return nil, err
	}

	return bs, nil
}

// initialize parses parameters from the commandline with validation and adds
// them to the associated Bootstrap data.
func (bs *bootstrap) initialize(cfg *Config) error {
	logger := bs.cfg.Logger
	var err error

	if cfg.Iss == "" {
		return fmt.Errorf("missing iss value, did you provide the --iss parameter?")
	}
	bs.issuerIdentifierURI, err = url.Parse(cfg.Iss)
	if err != nil {
		return fmt.Errorf("invalid iss value, iss is not a valid URL, %v", err)
	} else if bs.issuerIdentifierURI.Host == "" {
		return fmt.Errorf("invalid iss value, URL must have a host")
	} else if bs.issuerIdentifierURI.Scheme != "https" && !cfg.Insecure {
		return fmt.Errorf("invalid iss value, URL must start with https://")
	}

	for _, trustedProxy := range cfg.TrustedProxy {
		if ip := net.ParseIP(trustedProxy); ip != nil {
			bs.cfg.TrustedProxyIPs = append(bs.cfg.TrustedProxyIPs, &ip)
			continue
		}
		if _, ipNet, errParseCIDR := net.ParseCIDR(trustedProxy); errParseCIDR == nil {
			bs.cfg.TrustedProxyNets = append(bs.cfg.TrustedProxyNets, ipNet)
			continue
		}
	}
	if len(bs.cfg.TrustedProxyIPs) > 0 {
		logger.Infoln("trusted proxy IPs", bs.cfg.TrustedProxyIPs)
	}
	if len(bs.cfg.TrustedProxyNets) > 0 {
		logger.Infoln("trusted proxy networks", bs.cfg.TrustedProxyNets)
	}

	for _, trustedSource := range cfg.TrustedSource {
		if ip := net.ParseIP(trustedSource); ip != nil {
			bs.trustedSourceIPs = append(bs.trustedSourceIPs, &ip)
			continue
		}
		if _, ipNet, errParseCIDR := net.ParseCIDR(trustedSource); errParseCIDR == nil {
			bs.trustedSourceNets = append(bs.trustedSourceNets, ipNet)
			continue
		}
		return fmt.Errorf("invalid trusted-source value: %v", trustedSource)
	}
	if len(bs.trustedSourceIPs) > 0 {
		logger.Infoln("trusted source IPs", bs.trustedSourceIPs)
	}
	if len(bs.trustedSourceNets) > 0 {
		logger.Infoln("trusted source networks", bs.trustedSourceNets)
	}

	encryptionSecretFn := cfg.EncryptionSecretFile
	if encryptionSecretFn != "" {
		logger.WithField("file", encryptionSecretFn).Infoln("loading encryption secret from file")
		encryptionSecret, readErr := ioutil.ReadFile(encryptionSecretFn)
		if readErr != nil {
			return fmt.Errorf("failed to load encryption secret from file: %v", readErr)
		}
		if len(encryptionSecret) != encryption.KeySize {
			return fmt.Errorf("invalid encryption secret size - must be %d bytes", encryption.KeySize)
		}
		bs.encryptionSecret = new([encryption.KeySize]byte)
		copy(bs.encryptionSecret[:], encryptionSecret)
	} else {
		logger.Warnf("missing --encryption-secret parameter, using random encyption secret with %d bytes", encryption.KeySize)
		bs.encryptionSecret = new([encryption.KeySize]byte)
		copy(bs.encryptionSecret[:], rndm.GenerateRandomBytes(encryption.KeySize))
	}

	bs.signingKid = cfg.SigningKid
	if bs.signingKid == "" {
		bs.signingKid = defaultSigningKid
	}
	bs.signingPrivateKeyFn = cfg.SigningPrivateKeyFile

	bs.registrationConfFn = cfg.RegistrationConfFile
	if bs.registrationConfFn != "" {
		bs.registrationConfFn, _ = filepath.Abs(bs.registrationConfFn)
		if _, errStat := os.Stat(bs.registrationConfFn); errStat != nil {
			return fmt.Errorf("registration-conf file not found or unable to access: %v", errStat)
		}
	}

	bs.cfg.ListenAddr = cfg.Listen

	if bs.cfg.HTTPTransport == nil {
		if cfg.Insecure {
			bs.cfg.HTTPTransport = utils.HTTPTransportWithTLSClientConfig(utils.InsecureSkipVerifyTLSConfig)
			logger.Warnln("insecure mode, TLS client connections are susceptible to man-in-the-middle attacks")
		} else {
			bs.cfg.HTTPTransport = utils.HTTPTransportWithTLSClientConfig(nil)
		}
	}

	return nil
}

// setup takes care of setting up the managers and services based on the
// associated Bootstrap's data.
func (bs *bootstrap) setup(ctx context.Context, cfg *Config) error {
	logger := bs.cfg.Logger

	mgrs := managers.New()
	mgrs.Set(managers.SessionManagerName, sessionManagers.NewMemoryMapManager(ctx, defaultSessionCookieName, defaultConsentCookieName, bs.encryptionSecret, logger))
	mgrs.Set(managers.GrantManagerName, grantsManagers.NewMemoryMapManager(ctx, logger))
	mgrs.Set(managers.UmaManagerName, umaManagers.NewMemoryMapManager(ctx,
		time.Duration(cfg.TicketDurationSeconds)*time.Second,
		time.Duration(cfg.RPTDurationSeconds)*time.Second,
		time.Duration(cfg.PCTDurationSeconds)*time.Second,
		logger,
	))

	registry, err := clients.NewRegistry(ctx, bs.registrationConfFn, logger)
	if err != nil {
		return fmt.Errorf("failed to create client registry: %v", err)
	}
	mgrs.Set(managers.ClientRegistryName, registry)

	signer, err := signing.NewSignerFromFile(ctx, bs.signingPrivateKeyFn, bs.signingKid, logger)
	if err != nil {
		return fmt.Errorf("failed to create signer: %v", err)
	}
	mgrs.Set(managers.SignerName, signer)

	endSessionProvider, err := endsession.NewProvider(&endsession.Config{
		Issuer: bs.issuerIdentifierURI,

		RequireIDTokenHint:           cfg.RequireIDTokenHint,
		AllowHintAsAccessToken:       cfg.AllowHintAsAccessToken,
		RejectUnresolvedHints:        cfg.RejectUnresolvedHints,
		AllowMismatchedSid:           cfg.AllowMismatchedSid,
		DisableRedirectErrorDelivery: cfg.DisableRedirectErrorDelivery,

		TrustedPostLogoutRedirectURIs: cfg.TrustedPostLogoutRedirectURIs,

		LogoutTokenLifetime: time.Duration(cfg.LogoutTokenDurationSeconds) * time.Second,

		Sessions: mgrs.MustSessions(),
		Grants:   mgrs.MustGrants(),
		Clients:  mgrs.MustClients(),
		Signer:   mgrs.MustSigner(),

		HTTPClient: &http.Client{
			Timeout:   60 * time.Second,
			Transport: bs.cfg.HTTPTransport,
		},

		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create end session provider: %v", err)
	}
	mgrs.Set("endsession", endSessionProvider)

	umaScripts := uma.NewScriptRegistry()
	mgrs.Set("umaScripts", umaScripts)

	umaService, err := uma.NewService(&uma.Config{
		Issuer: bs.issuerIdentifierURI,

		GatheringPageBase:      cfg.GatheringPageBase,
		DefaultGatheringScript: cfg.DefaultGatheringScript,

		Manager:  mgrs.Must(managers.UmaManagerName).(uma.Manager),
		Sessions: mgrs.MustSessions(),
		Clients:  mgrs.MustClients(),

		Scripts: umaScripts,

		TrustedSourceIPs:  bs.trustedSourceIPs,
		TrustedSourceNets: bs.trustedSourceNets,

		RPTLifetime: time.Duration(cfg.RPTDurationSeconds) * time.Second,
		PCTLifetime: time.Duration(cfg.PCTDurationSeconds) * time.Second,

		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create uma service: %v", err)
	}
	mgrs.Set("uma-service", umaService)

	err = mgrs.Apply()
	if err != nil {
		return fmt.Errorf("failed to apply managers: %v", err)
	}

	endsession.MustRegisterMetrics(prometheus.DefaultRegisterer)
	uma.MustRegisterMetrics(prometheus.DefaultRegisterer)

	bs.managers = mgrs
	bs.endSessionProvider = endSessionProvider
	bs.umaService = umaService

	return nil
}
