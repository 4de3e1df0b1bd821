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
	"io/ioutil"
	"testing"

	"github.com/sirupsen/logrus"

	"stash.kopano.io/kc/kuma/config"
	"stash.kopano.io/kc/kuma/uma"
)

func newTestConfig() *config.Config {
	logger := logrus.New()
	logger.SetOutput(ioutil.Discard)

	return &config.Config{
		Logger: logger,
	}
}

func TestBootRejectsHTTPIssuer(t *testing.T) {
	ctx := context.Background()

	_, err := Boot(ctx, &Config{
		Iss:    "http://provider.example.com",
		Listen: "127.0.0.1:8778",
	}, newTestConfig())
	if err == nil {
		t.Fatal("expected error for http issuer without insecure")
	}
}

func TestBootRejectsMissingIssuer(t *testing.T) {
	ctx := context.Background()

	_, err := Boot(ctx, &Config{
		Listen: "127.0.0.1:8778",
	}, newTestConfig())
	if err == nil {
		t.Fatal("expected error for missing issuer")
	}
}

func TestBoot(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bs, err := Boot(ctx, &Config{
		Iss:      "http://localhost:8778",
		Listen:   "127.0.0.1:8778",
		Insecure: true,

		TrustedSource: []string{"192.0.2.0/24"},
	}, newTestConfig())
	if err != nil {
		t.Fatal(err)
	}

	if bs.Config() == nil {
		t.Error("bootstrap has no config")
	}
	if bs.Managers() == nil {
		t.Error("bootstrap has no managers")
	}
	if bs.EndSessionProvider() == nil {
		t.Error("bootstrap has no end session provider")
	}
	if bs.UmaService() == nil {
		t.Error("bootstrap has no uma service")
	}

	mgrs := bs.Managers()
	if mgrs.MustSessions() == nil {
		t.Error("bootstrap has no session manager")
	}
	if mgrs.MustSigner() == nil {
		t.Error("bootstrap has no signer")
	}
	if scripts, ok := mgrs.Get("umaScripts"); !ok {
		t.Error("bootstrap has no claims gathering script registry")
	} else if _, ok := scripts.(*uma.ScriptRegistry); !ok {
		t.Errorf("unexpected script registry type: %T", scripts)
	}
}
