/*
 * Copyright 2018 Kopano and its licensors
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

package managers

import (
	"context"
	"io/ioutil"
	"testing"

	"github.com/sirupsen/logrus"

	"stash.kopano.io/kc/kuma/grants"
	"stash.kopano.io/kc/kuma/oidc"
)

func newTestGrantsManager(ctx context.Context) grants.Manager {
	logger := logrus.New()
	logger.SetOutput(ioutil.Discard)

	return NewMemoryMapManager(ctx, logger)
}

func TestTokenLookups(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gm := newTestGrantsManager(ctx)

	grant := &grants.Grant{
		ClientID:    "client-1",
		UserID:      "user-1",
		Sid:         "sid-1",
		Scopes:      []string{"openid", "profile"},
		IDToken:     "raw.id.token",
		AccessToken: "access-token-1",
	}
	if err := gm.Save(ctx, grant); err != nil {
		t.Fatal(err)
	}
	if grant.IDTokenHash == "" {
		t.Fatal("save did not index the identifier token hash")
	}
	if grant.IDTokenHash != oidc.HashToken("raw.id.token") {
		t.Error("identifier token hash mismatch")
	}

	if found, ok := gm.GetByIDTokenHash(ctx, grant.IDTokenHash); !ok || found.ID != grant.ID {
		t.Error("lookup by identifier token hash failed")
	} else if len(found.Scopes) != 2 || found.Scopes[0] != "openid" {
		t.Errorf("unexpected scopes on resolved grant: %v", found.Scopes)
	}
	if found, ok := gm.GetByIDTokenValue(ctx, "raw.id.token"); !ok || found.ID != grant.ID {
		t.Error("lookup by identifier token value failed")
	}
	if found, ok := gm.GetByAccessToken(ctx, "access-token-1"); !ok || found.ID != grant.ID {
		t.Error("lookup by access token failed")
	}
	if _, ok := gm.GetByAccessToken(ctx, "no-such-token"); ok {
		t.Error("lookup by unknown access token succeeded")
	}
}

func TestLogoutHidesGrants(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gm := newTestGrantsManager(ctx)

	for _, clientID := range []string{"client-1", "client-2"} {
		grant := &grants.Grant{
			ClientID:    clientID,
			UserID:      "user-1",
			Sid:         "sid-1",
			AccessToken: "access-" + clientID,
		}
		if err := gm.Save(ctx, grant); err != nil {
			t.Fatal(err)
		}
	}

	other := &grants.Grant{
		ClientID:    "client-3",
		UserID:      "user-2",
		Sid:         "sid-2",
		AccessToken: "access-other",
	}
	if err := gm.Save(ctx, other); err != nil {
		t.Fatal(err)
	}

	affected := gm.Logout(ctx, "sid-1")
	if len(affected) != 2 {
		t.Fatalf("logout affected %d grants, want 2", len(affected))
	}

	if got := gm.GetBySid(ctx, "sid-1"); len(got) != 0 {
		t.Errorf("logged out sid still resolves %d grants", len(got))
	}
	if _, ok := gm.GetByAccessToken(ctx, "access-client-1"); ok {
		t.Error("logged out grant still resolves by access token")
	}
	if _, ok := gm.GetByAccessToken(ctx, "access-other"); !ok {
		t.Error("unrelated grant no longer resolves")
	}
}
