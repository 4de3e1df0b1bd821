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

package uma

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"stash.kopano.io/kgol/rndm"

	"stash.kopano.io/kc/kuma/clients"
	"stash.kopano.io/kc/kuma/encryption"
	"stash.kopano.io/kc/kuma/managers"
	"stash.kopano.io/kc/kuma/oidc/payload"
	"stash.kopano.io/kc/kuma/session"
	sessionmanagers "stash.kopano.io/kc/kuma/session/managers"
)

// testStoreManager is an in package Manager for tests, stamping records the
// same way the in memory manager from the managers sub package does.
type testStoreManager struct {
	mutex sync.Mutex

	tickets map[string][]*Permission
	rpts    map[string]*RPT
	pcts    map[string]*PCT
}

func newTestStoreManager() *testStoreManager {
	return &testStoreManager{
		tickets: make(map[string][]*Permission),
		rpts:    make(map[string]*RPT),
		pcts:    make(map[string]*PCT),
	}
}

func (tm *testStoreManager) RegisterPermissions(ctx context.Context, permissions []*Permission, clientID string) (string, error) {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	ticket := rndm.GenerateRandomString(32)
	now := time.Now()
	for _, permission := range permissions {
		if permission.ID == "" {
			permission.ID = rndm.GenerateRandomString(24)
		}
		permission.Ticket = ticket
		permission.ClientID = clientID
		permission.CreatedAt = now
		if permission.ExpiresAt.IsZero() {
			permission.ExpiresAt = now.Add(time.Hour)
		}
	}

	tm.tickets[ticket] = permissions
	return ticket, nil
}

func (tm *testStoreManager) GetPermissionsByTicket(ctx context.Context, ticket string) []*Permission {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	return tm.tickets[ticket]
}

func (tm *testStoreManager) SaveRPT(ctx context.Context, rpt *RPT) error {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	if rpt.Code == "" {
		rpt.Code = rndm.GenerateRandomString(64)
	}
	if rpt.CreatedAt.IsZero() {
		rpt.CreatedAt = time.Now()
	}
	if rpt.ExpiresAt.IsZero() {
		rpt.ExpiresAt = rpt.CreatedAt.Add(time.Hour)
	}

	tm.rpts[rpt.Code] = rpt
	return nil
}

func (tm *testStoreManager) GetRPT(ctx context.Context, code string) (*RPT, bool) {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	rpt, ok := tm.rpts[code]
	return rpt, ok
}

func (tm *testStoreManager) SavePCT(ctx context.Context, pct *PCT) error {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	if pct.Code == "" {
		pct.Code = rndm.GenerateRandomString(64)
	}
	if pct.CreatedAt.IsZero() {
		pct.CreatedAt = time.Now()
	}
	if pct.ExpiresAt.IsZero() {
		pct.ExpiresAt = pct.CreatedAt.Add(24 * time.Hour)
	}

	tm.pcts[pct.Code] = pct
	return nil
}

func (tm *testStoreManager) GetPCT(ctx context.Context, code string) (*PCT, bool) {
	tm.mutex.Lock()
	defer tm.mutex.Unlock()

	pct, ok := tm.pcts[code]
	return pct, ok
}

type umaTestEnv struct {
	service  *Service
	manager  Manager
	sessions session.Manager
	clients  *clients.Registry
	scripts  *ScriptRegistry
}

func newUmaTestEnv(ctx context.Context, t *testing.T, mutate func(*Config)) *umaTestEnv {
	logger := logrus.New()
	logger.SetOutput(ioutil.Discard)

	key, err := encryption.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}

	sessions := sessionmanagers.NewMemoryMapManager(ctx, "__Secure-KST", "__Secure-KCT", key, logger)
	manager := newTestStoreManager()

	registry, err := clients.NewRegistry(ctx, "", logger)
	if err != nil {
		t.Fatal(err)
	}

	scripts := NewScriptRegistry()

	issuer, _ := url.Parse("https://provider.example.com")
	_, trustedNet, _ := net.ParseCIDR("192.0.2.0/24")
	config := &Config{
		Issuer: issuer,

		Manager:  manager,
		Sessions: sessions,
		Clients:  registry,
		Scripts:  scripts,

		TrustedSourceNets: []*net.IPNet{trustedNet},

		Logger: logger,
	}
	if mutate != nil {
		mutate(config)
	}

	service, err := NewService(config)
	if err != nil {
		t.Fatal(err)
	}

	return &umaTestEnv{
		service:  service,
		manager:  manager,
		sessions: sessions,
		clients:  registry,
		scripts:  scripts,
	}
}

func TestPermissionRegistrationList(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newUmaTestEnv(ctx, t, nil)

	body := `[{"resource_id":"r1","resource_scopes":["read"]},{"resource_id":"r2","resource_scopes":["write"]}]`
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/host/rsrc_pr", strings.NewReader(body))
	env.service.PermissionHandler(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("unexpected status: got %d body %s", rr.Code, rr.Body.String())
	}

	response := &payload.PermissionTicketResponse{}
	if err := json.Unmarshal(rr.Body.Bytes(), response); err != nil {
		t.Fatal(err)
	}
	if response.Ticket == "" {
		t.Fatal("no ticket in response")
	}

	permissions := env.manager.GetPermissionsByTicket(ctx, response.Ticket)
	if len(permissions) != 2 {
		t.Fatalf("ticket resolves to %d permissions, want 2", len(permissions))
	}
	for _, permission := range permissions {
		if permission.Ticket != response.Ticket {
			t.Error("permission not correlated to the returned ticket")
		}
		if !permission.IsValid() {
			t.Error("freshly registered permission not valid")
		}
	}
}

func TestPermissionRegistrationSingleObject(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newUmaTestEnv(ctx, t, nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/host/rsrc_pr", strings.NewReader(`{"resource_id":"r1","resource_scopes":["read"]}`))
	env.service.PermissionHandler(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("unexpected status: got %d body %s", rr.Code, rr.Body.String())
	}
}

func TestPermissionRegistrationEmptyList(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newUmaTestEnv(ctx, t, nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/host/rsrc_pr", strings.NewReader(`[]`))
	env.service.PermissionHandler(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "invalid_permission_request") {
		t.Errorf("unexpected error body: %s", rr.Body.String())
	}
}

func TestIntrospectExpiredRPT(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newUmaTestEnv(ctx, t, nil)

	now := time.Now()
	rpt := &RPT{
		Code:     "expired-rpt-code",
		ClientID: "rp",
		Subject:  "user-1",
		Permissions: []*Permission{
			{
				ResourceID:     "r1",
				ResourceScopes: []string{"read"},
				CreatedAt:      now,
				ExpiresAt:      now.Add(time.Hour),
			},
		},
		CreatedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}
	if err := env.manager.SaveRPT(ctx, rpt); err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/rpt/status?token=expired-rpt-code", nil)
	env.service.IntrospectionHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d", rr.Code)
	}

	response := &payload.IntrospectionResponse{}
	if err := json.Unmarshal(rr.Body.Bytes(), response); err != nil {
		t.Fatal(err)
	}
	if response.Active {
		t.Error("expired rpt introspects active")
	}
	if len(response.Permissions) != 0 {
		t.Error("expired rpt exposes permissions despite still valid permission records")
	}
	if response.ClientID != "" || response.Subject != "" {
		t.Error("inactive introspection leaks token detail")
	}
}

func TestIntrospectValidRPTWithPctClaims(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newUmaTestEnv(ctx, t, nil)

	pct, err := env.service.CreatePCT(ctx, map[string][]string{"country": {"de"}})
	if err != nil {
		t.Fatal(err)
	}

	now := time.Now()
	rpt := &RPT{
		Code:     "valid-rpt-code",
		ClientID: "rp",
		Subject:  "user-1",
		PCTCode:  pct.Code,
		Permissions: []*Permission{
			{
				ResourceID:     "r1",
				ResourceScopes: []string{"read"},
				CreatedAt:      now,
				ExpiresAt:      now.Add(time.Hour),
			},
			{
				// Since expired, must be dropped silently.
				ResourceID:     "r2",
				ResourceScopes: []string{"write"},
				CreatedAt:      now.Add(-2 * time.Hour),
				ExpiresAt:      now.Add(-time.Hour),
			},
		},
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}
	if err := env.manager.SaveRPT(ctx, rpt); err != nil {
		t.Fatal(err)
	}

	response := env.service.Introspect(ctx, "valid-rpt-code")
	if !response.Active {
		t.Fatal("valid rpt introspects inactive")
	}
	if len(response.Permissions) != 1 || response.Permissions[0].ResourceID != "r1" {
		t.Errorf("unexpected permissions in response: %+v", response.Permissions)
	}
	if response.ClientID != "rp" || response.Audience != "rp" {
		t.Error("client id not present as both client_id and aud")
	}
	if got := response.PctClaims["country"]; len(got) != 1 || got[0] != "de" {
		t.Errorf("pct claims not merged: %+v", response.PctClaims)
	}
}

type staticScript struct {
	steps int
	pages map[int]string
}

func (s *staticScript) StepsCount(ctx context.Context, sc *ScriptContext) int {
	return s.steps
}

func (s *staticScript) PageForStep(ctx context.Context, step int, sc *ScriptContext) string {
	return s.pages[step]
}

func TestGatherClaimsRedirectsToStepPage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newUmaTestEnv(ctx, t, nil)

	if err := env.scripts.Register("country-check", &staticScript{
		steps: 2,
		pages: map[int]string{
			0: "country/step0.xhtml",
			1: "country/step1.xhtml",
		},
	}); err != nil {
		t.Fatal(err)
	}

	if err := env.clients.Register(&clients.ClientRegistration{
		ID:                 "rp",
		ClaimsRedirectURIs: []string{"https://rp.example/claims-cb"},
	}); err != nil {
		t.Fatal(err)
	}

	ticket, err := env.manager.RegisterPermissions(ctx, []*Permission{
		{ResourceID: "r1", ResourceScopes: []string{"read"}, ScriptName: "country-check"},
	}, "rp")
	if err != nil {
		t.Fatal(err)
	}

	query := url.Values{
		"client_id":           {"rp"},
		"ticket":              {ticket},
		"claims_redirect_uri": {"https://rp.example/claims-cb"},
		"state":               {"abc"},
	}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/uma/gather_claims?"+query.Encode(), nil)
	env.service.GatherClaimsHandler(rr, req)

	if rr.Code != http.StatusFound {
		t.Fatalf("unexpected status: got %d body %s", rr.Code, rr.Body.String())
	}
	location := rr.Header().Get("Location")
	if !strings.HasSuffix(location, "/country/step0.htm") {
		t.Errorf("unexpected step page target: %v", location)
	}
	if strings.Contains(location, ".xhtml") {
		t.Errorf("legacy page suffix not rewritten: %v", location)
	}

	// The endpoint itself never advances the counter, re-entering the
	// flow yields the same step page.
	cookie := rr.Result().Cookies()
	if len(cookie) == 0 {
		t.Fatal("no gathering session cookie set")
	}
	again := httptest.NewRequest(http.MethodGet, "/uma/gather_claims?"+query.Encode(), nil)
	again.AddCookie(cookie[0])
	rrAgain := httptest.NewRecorder()
	env.service.GatherClaimsHandler(rrAgain, again)
	if !strings.HasSuffix(rrAgain.Header().Get("Location"), "/country/step0.htm") {
		t.Errorf("step advanced by gathering endpoint: %v", rrAgain.Header().Get("Location"))
	}

	// Step completion is driven externally, afterwards the next page is
	// served.
	gatheringSession, ok := env.sessions.GetFromCookie(ctx, again)
	if !ok {
		t.Fatal("gathering session not resolvable from cookie")
	}
	if err := env.service.AdvanceGatheringStep(ctx, gatheringSession.ID); err != nil {
		t.Fatal(err)
	}
	next := httptest.NewRequest(http.MethodGet, "/uma/gather_claims?"+query.Encode(), nil)
	next.AddCookie(cookie[0])
	rrNext := httptest.NewRecorder()
	env.service.GatherClaimsHandler(rrNext, next)
	if !strings.HasSuffix(rrNext.Header().Get("Location"), "/country/step1.htm") {
		t.Errorf("unexpected step page after advance: %v", rrNext.Header().Get("Location"))
	}
}

func TestGatherClaimsErrorsRedirectWithState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newUmaTestEnv(ctx, t, nil)

	if err := env.clients.Register(&clients.ClientRegistration{
		ID:                 "rp",
		ClaimsRedirectURIs: []string{"https://rp.example/claims-cb"},
	}); err != nil {
		t.Fatal(err)
	}

	query := url.Values{
		"client_id":           {"rp"},
		"ticket":              {"no-such-ticket"},
		"claims_redirect_uri": {"https://rp.example/claims-cb"},
		"state":               {"abc"},
	}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/uma/gather_claims?"+query.Encode(), nil)
	env.service.GatherClaimsHandler(rr, req)

	if rr.Code != http.StatusFound {
		t.Fatalf("unexpected status: got %d body %s", rr.Code, rr.Body.String())
	}
	location := rr.Header().Get("Location")
	if !strings.HasPrefix(location, "https://rp.example/claims-cb?") {
		t.Fatalf("error not delivered to claims redirect uri: %v", location)
	}
	if !strings.Contains(location, "error=invalid_ticket") {
		t.Errorf("error code missing from redirect: %v", location)
	}
	if !strings.Contains(location, "state=abc") {
		t.Errorf("state missing from redirect: %v", location)
	}
}

func TestGatherClaimsAuthenticationContinuationNeedsSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newUmaTestEnv(ctx, t, nil)

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/uma/gather_claims?authentication=true", nil)
	env.service.GatherClaimsHandler(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "invalid_session") {
		t.Errorf("unexpected error body: %s", rr.Body.String())
	}
}

type upperCaseSubjectHook struct{}

func (h *upperCaseSubjectHook) ModifyResponse(ctx context.Context, response map[string]interface{}) bool {
	if sub, ok := response["sub"].(string); ok {
		response["sub"] = strings.ToUpper(sub)
		return true
	}
	return false
}

func TestIntrospectionModifyHook(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newUmaTestEnv(ctx, t, func(c *Config) {
		c.IntrospectionModifyHook = &upperCaseSubjectHook{}
	})

	now := time.Now()
	if err := env.manager.SaveRPT(ctx, &RPT{
		Code:      "hooked-rpt",
		ClientID:  "rp",
		Subject:   "user-1",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/rpt/status?token=hooked-rpt", nil)
	env.service.IntrospectionHandler(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "USER-1") {
		t.Errorf("modify hook output not delivered: %s", rr.Body.String())
	}
}

func TestRegisterManagersPicksUpScriptsAndHook(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newUmaTestEnv(ctx, t, nil)

	scripts := NewScriptRegistry()
	if err := scripts.Register("country-check", &staticScript{
		steps: 1,
		pages: map[int]string{0: "country/step0.xhtml"},
	}); err != nil {
		t.Fatal(err)
	}

	mgrs := managers.New()
	mgrs.Set("umaScripts", scripts)
	mgrs.Set("introspectionModifyHook", &upperCaseSubjectHook{})
	mgrs.Set("uma-service", env.service)
	if err := mgrs.Apply(); err != nil {
		t.Fatal(err)
	}

	// The externally registered script must serve the gathering flow now.
	if err := env.clients.Register(&clients.ClientRegistration{
		ID:                 "rp",
		ClaimsRedirectURIs: []string{"https://rp.example/claims-cb"},
	}); err != nil {
		t.Fatal(err)
	}
	ticket, err := env.manager.RegisterPermissions(ctx, []*Permission{
		{ResourceID: "r1", ResourceScopes: []string{"read"}, ScriptName: "country-check"},
	}, "rp")
	if err != nil {
		t.Fatal(err)
	}
	query := url.Values{
		"client_id":           {"rp"},
		"ticket":              {ticket},
		"claims_redirect_uri": {"https://rp.example/claims-cb"},
		"state":               {"abc"},
	}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/uma/gather_claims?"+query.Encode(), nil)
	env.service.GatherClaimsHandler(rr, req)
	if rr.Code != http.StatusFound {
		t.Fatalf("unexpected status: got %d body %s", rr.Code, rr.Body.String())
	}
	if location := rr.Header().Get("Location"); !strings.HasSuffix(location, "/country/step0.htm") {
		t.Errorf("unexpected step page target: %v", location)
	}

	// The externally registered modify hook must apply as well.
	now := time.Now()
	if err := env.manager.SaveRPT(ctx, &RPT{
		Code:      "registered-hook-rpt",
		ClientID:  "rp",
		Subject:   "user-1",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}
	rrIntrospect := httptest.NewRecorder()
	env.service.IntrospectionHandler(rrIntrospect, httptest.NewRequest(http.MethodGet, "/rpt/status?token=registered-hook-rpt", nil))
	if !strings.Contains(rrIntrospect.Body.String(), "USER-1") {
		t.Errorf("modify hook output not delivered: %s", rrIntrospect.Body.String())
	}
}

func TestGatherClaimsExhaustedStepsServesErrorPage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	env := newUmaTestEnv(ctx, t, nil)

	if err := env.scripts.Register("one-step", &staticScript{
		steps: 1,
		pages: map[int]string{0: "one/step0.xhtml"},
	}); err != nil {
		t.Fatal(err)
	}
	if err := env.clients.Register(&clients.ClientRegistration{
		ID:                 "rp",
		ClaimsRedirectURIs: []string{"https://rp.example/claims-cb"},
	}); err != nil {
		t.Fatal(err)
	}
	ticket, err := env.manager.RegisterPermissions(ctx, []*Permission{
		{ResourceID: "r1", ResourceScopes: []string{"read"}, ScriptName: "one-step"},
	}, "rp")
	if err != nil {
		t.Fatal(err)
	}

	query := url.Values{
		"client_id":           {"rp"},
		"ticket":              {ticket},
		"claims_redirect_uri": {"https://rp.example/claims-cb"},
		"state":               {"abc"},
	}
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/uma/gather_claims?"+query.Encode(), nil)
	env.service.GatherClaimsHandler(rr, req)
	if rr.Code != http.StatusFound {
		t.Fatalf("unexpected status: got %d body %s", rr.Code, rr.Body.String())
	}
	cookie := rr.Result().Cookies()
	if len(cookie) == 0 {
		t.Fatal("no gathering session cookie set")
	}

	// Step past the last page, re-entering the flow must not redirect
	// anywhere but deliver a plain error page to the browser.
	again := httptest.NewRequest(http.MethodGet, "/uma/gather_claims?"+query.Encode(), nil)
	again.AddCookie(cookie[0])
	gatheringSession, ok := env.sessions.GetFromCookie(ctx, again)
	if !ok {
		t.Fatal("gathering session not resolvable from cookie")
	}
	if err := env.service.AdvanceGatheringStep(ctx, gatheringSession.ID); err != nil {
		t.Fatal(err)
	}
	rrAgain := httptest.NewRecorder()
	env.service.GatherClaimsHandler(rrAgain, again)

	if rrAgain.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status: got %d body %s", rrAgain.Code, rrAgain.Body.String())
	}
	if location := rrAgain.Header().Get("Location"); location != "" {
		t.Errorf("unexpected redirect: %v", location)
	}
	if !strings.Contains(rrAgain.Body.String(), "500 Internal Server Error - claims gathering flow failed") {
		t.Errorf("unexpected error page body: %s", rrAgain.Body.String())
	}
}
