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
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"stash.kopano.io/kc/kuma/encryption"
	"stash.kopano.io/kc/kuma/session"
)

func newTestManager(ctx context.Context, t *testing.T) session.Manager {
	key, err := encryption.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	logger := logrus.New()
	logger.SetOutput(ioutil.Discard)

	return NewMemoryMapManager(ctx, "__Secure-KST", "__Secure-KCT", key, logger)
}

func TestSidRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sm := newTestManager(ctx, t)

	s, err := sm.Create(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Sid == "" {
		t.Fatal("created session has no sid")
	}

	found, ok := sm.GetBySid(ctx, s.Sid)
	if !ok {
		t.Fatal("session not found by sid")
	}
	if found.ID != s.ID {
		t.Errorf("session lookup by sid returned wrong session: got %v want %v", found.ID, s.ID)
	}

	removed, err := sm.Remove(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if !removed {
		t.Fatal("remove reported not found")
	}
	if s.State != session.StateLoggedOut {
		t.Errorf("removed session state was not logged out: got %v", s.State)
	}

	if _, ok := sm.GetBySid(ctx, s.Sid); ok {
		t.Error("session still found by sid after remove")
	}
	if _, ok := sm.GetByID(ctx, s.ID); ok {
		t.Error("session still found by id after remove")
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sm := newTestManager(ctx, t)

	s, err := sm.Create(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}

	if removed, _ := sm.Remove(ctx, s); !removed {
		t.Fatal("first remove reported not found")
	}
	if removed, _ := sm.Remove(ctx, s); removed {
		t.Error("second remove reported found")
	}
}

func TestUpdateIsAtomic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sm := newTestManager(ctx, t)

	s, err := sm.Create(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}

	const workers = 16
	const rounds = 50

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < rounds; j++ {
				updateErr := sm.Update(ctx, s.ID, func(target *session.Session) error {
					if target.Gathering == nil {
						target.Gathering = &session.GatheringState{}
					}
					target.Gathering.Step++
					return nil
				})
				if updateErr != nil {
					t.Error(updateErr)
					return
				}
			}
		}()
	}
	wg.Wait()

	updated, ok := sm.GetByID(ctx, s.ID)
	if !ok {
		t.Fatal("session vanished")
	}
	if updated.Gathering == nil || updated.Gathering.Step != workers*rounds {
		t.Errorf("lost updates: got %v want %v", updated.Gathering, workers*rounds)
	}
}

func TestSessionCookieRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sm := newTestManager(ctx, t)

	s, err := sm.Create(ctx, "user-1")
	if err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	if err := sm.SetCookie(rr, s); err != nil {
		t.Fatal(err)
	}

	cookies := rr.Result().Cookies()
	if len(cookies) != 1 {
		t.Fatalf("expected one cookie, got %d", len(cookies))
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])

	found, ok := sm.GetFromCookie(ctx, req)
	if !ok {
		t.Fatal("session not found from cookie")
	}
	if found.ID != s.ID {
		t.Errorf("cookie lookup returned wrong session: got %v want %v", found.ID, s.ID)
	}
}
