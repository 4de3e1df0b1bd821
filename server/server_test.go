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

package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

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
)

var logger = &logrus.Logger{
	Out:       os.Stderr,
	Formatter: &logrus.TextFormatter{DisableColors: true},
	Level:     logrus.DebugLevel,
}

func newTestServer(ctx context.Context, t *testing.T) (*httptest.Server, *Server, http.Handler, *config.Config) {
	encryptionKey, err := encryption.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	mgrs := managers.New()
	mgrs.Set(managers.SessionManagerName, sessionManagers.NewMemoryMapManager(ctx, "kuma-session", "kuma-consent", encryptionKey, logger))
	mgrs.Set(managers.GrantManagerName, grantsManagers.NewMemoryMapManager(ctx, logger))
	mgrs.Set(managers.UmaManagerName, umaManagers.NewMemoryMapManager(ctx, 0, 0, 0, logger))

	registry, err := clients.NewRegistry(ctx, "", logger)
	if err != nil {
		t.Fatal(err)
	}
	mgrs.Set(managers.ClientRegistryName, registry)

	signer, err := signing.NewSignerFromFile(ctx, "", "default", logger)
	if err != nil {
		t.Fatal(err)
	}
	mgrs.Set(managers.SignerName, signer)

	cfg := &config.Config{
		Logger: logger,
	}

	issuer, _ := url.Parse("http://localhost:8778")

	p, err := endsession.NewProvider(&endsession.Config{
		Issuer: issuer,

		Sessions: mgrs.MustSessions(),
		Grants:   mgrs.MustGrants(),
		Clients:  mgrs.MustClients(),
		Signer:   mgrs.MustSigner(),

		Logger: logger,
	})
	if err != nil {
		t.Fatal(err)
	}

	umaService, err := uma.NewService(&uma.Config{
		Issuer: issuer,

		Manager:  mgrs.Must(managers.UmaManagerName).(uma.Manager),
		Sessions: mgrs.MustSessions(),
		Clients:  mgrs.MustClients(),

		Logger: logger,
	})
	if err != nil {
		t.Fatal(err)
	}

	if err = mgrs.Apply(); err != nil {
		t.Fatal(err)
	}

	server, err := NewServer(&Config{
		Config: cfg,

		EndSession: p,
		Uma:        umaService,
	})
	if err != nil {
		t.Fatal(err)
	}
	router := mux.NewRouter()
	server.AddRoutes(ctx, router)
	server.mux = router

	s := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		router.ServeHTTP(rw, req)
	}))

	return s, server, router, cfg
}

func TestNewTestServer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	newTestServer(ctx, t)
}

func TestHealthCheck(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, _, _, _ := newTestServer(ctx, t)
	defer s.Close()

	response, err := http.Get(s.URL + "/health-check")
	if err != nil {
		t.Fatal(err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Errorf("health-check got status %v, want %v", response.StatusCode, http.StatusOK)
	}
}

func TestWellKnownRoute(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, _, _, _ := newTestServer(ctx, t)
	defer s.Close()

	request, _ := http.NewRequest(http.MethodGet, s.URL+"/.well-known/uma2-configuration", nil)
	request.Header.Set("Origin", "http://elsewhere.example")
	response, err := http.DefaultClient.Do(request)
	if err != nil {
		t.Fatal(err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Fatalf("well-known got status %v, want %v", response.StatusCode, http.StatusOK)
	}
	if got := response.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("well-known got CORS allow origin %q, want %q", got, "*")
	}

	var document map[string]interface{}
	if err = json.NewDecoder(response.Body).Decode(&document); err != nil {
		t.Fatal(err)
	}
	if document["issuer"] != "http://localhost:8778" {
		t.Errorf("well-known got issuer %v", document["issuer"])
	}
}

func TestMetricsRoute(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s, _, _, _ := newTestServer(ctx, t)
	defer s.Close()

	response, err := http.Get(s.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer response.Body.Close()
	if response.StatusCode != http.StatusOK {
		t.Errorf("metrics got status %v, want %v", response.StatusCode, http.StatusOK)
	}
}
