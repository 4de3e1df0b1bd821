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
	"bytes"
	"context"
	"encoding/base64"
	"encoding/gob"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/orcaman/concurrent-map"
	"github.com/sirupsen/logrus"
	"stash.kopano.io/kgol/rndm"

	"stash.kopano.io/kc/kuma/encryption"
	"stash.kopano.io/kc/kuma/session"
)

const (
	defaultSessionDuration = 24 * time.Hour

	purgeInterval = 60 * time.Second
)

var farPastExpiryTime = time.Unix(0, 0)

// cookieData is the encrypted payload of session cookies. Only the internal
// session id travels in the cookie, everything else stays in the store.
type cookieData struct {
	Version int
	ID      string
}

type sessionRecord struct {
	sync.Mutex
	session *session.Session
}

// memoryMapManager is an in memory session.Manager backed by concurrent
// maps. Its methods are safe to call from multiple Go routines. Mutations
// of a single session record are serialized by a per record mutex, so
// concurrent requests racing on the same session do not lose updates.
type memoryMapManager struct {
	table    cmap.ConcurrentMap
	sidTable cmap.ConcurrentMap

	sessionDuration time.Duration

	cookieName        string
	consentCookieName string
	cookiePath        string
	encryptionKey     *[encryption.KeySize]byte

	logger logrus.FieldLogger
}

// NewMemoryMapManager creates a new in memory session.Manager using the
// provided cookie names and encryption key for session cookie payloads. The
// contained expiration sweep runs until the provided context is done.
func NewMemoryMapManager(ctx context.Context, cookieName string, consentCookieName string, encryptionKey *[encryption.KeySize]byte, logger logrus.FieldLogger) session.Manager {
	sm := &memoryMapManager{
		table:    cmap.New(),
		sidTable: cmap.New(),

		sessionDuration: defaultSessionDuration,

		cookieName:        cookieName,
		consentCookieName: consentCookieName,
		cookiePath:        "/",
		encryptionKey:     encryptionKey,

		logger: logger,
	}

	// Cleanup function.
	go func() {
		ticker := time.NewTicker(purgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				sm.purgeExpired()
			case <-ctx.Done():
				return
			}
		}
	}()

	return sm
}

func (sm *memoryMapManager) purgeExpired() {
	var expired []*session.Session
	now := time.Now()
	for entry := range sm.table.IterBuffered() {
		record := entry.Val.(*sessionRecord)
		record.Lock()
		if record.session.Expired(now) {
			expired = append(expired, record.session)
		}
		record.Unlock()
	}
	for _, s := range expired {
		sm.Remove(context.Background(), s)
	}
}

// Create creates and stores a new Session for the provided user.
func (sm *memoryMapManager) Create(ctx context.Context, userID string) (*session.Session, error) {
	now := time.Now()
	s := &session.Session{
		ID:  rndm.GenerateRandomString(32),
		Sid: rndm.GenerateRandomString(24),

		State:    session.StateAuthenticated,
		AuthTime: now,

		UserID: userID,

		CreatedAt: now,
		ExpiresAt: now.Add(sm.sessionDuration),
	}

	if err := sm.Save(ctx, s); err != nil {
		return nil, err
	}

	return s, nil
}

// Save persists the provided Session.
func (sm *memoryMapManager) Save(ctx context.Context, s *session.Session) error {
	if s.ID == "" {
		return fmt.Errorf("session has no id")
	}

	sm.table.Set(s.ID, &sessionRecord{session: s})
	if s.Sid != "" {
		sm.sidTable.Set(s.Sid, s.ID)
	}

	return nil
}

// GetByID looks up the Session with the provided internal id.
func (sm *memoryMapManager) GetByID(ctx context.Context, id string) (*session.Session, bool) {
	stored, found := sm.table.Get(id)
	if !found {
		return nil, false
	}
	record := stored.(*sessionRecord)

	record.Lock()
	defer record.Unlock()
	if record.session.Expired(time.Now()) {
		return nil, false
	}

	return record.session, true
}

// GetBySid looks up the Session with the provided outside sid.
func (sm *memoryMapManager) GetBySid(ctx context.Context, sid string) (*session.Session, bool) {
	stored, found := sm.sidTable.Get(sid)
	if !found {
		return nil, false
	}

	return sm.GetByID(ctx, stored.(string))
}

// Update applies the provided function to the stored Session with the
// provided id while holding the record lock.
func (sm *memoryMapManager) Update(ctx context.Context, id string, updater func(*session.Session) error) error {
	stored, found := sm.table.Get(id)
	if !found {
		return fmt.Errorf("no such session")
	}
	record := stored.(*sessionRecord)

	record.Lock()
	defer record.Unlock()

	return updater(record.session)
}

// Remove removes the provided Session from the store.
func (sm *memoryMapManager) Remove(ctx context.Context, s *session.Session) (bool, error) {
	if s == nil {
		return false, nil
	}

	_, found := sm.table.Pop(s.ID)
	if s.Sid != "" {
		sm.sidTable.Remove(s.Sid)
	}
	if found {
		s.State = session.StateLoggedOut
	}

	return found, nil
}

// GetFromCookie looks up the Session referenced by the session cookie of
// the provided request.
func (sm *memoryMapManager) GetFromCookie(ctx context.Context, req *http.Request) (*session.Session, bool) {
	return sm.getFromNamedCookie(ctx, req, sm.cookieName)
}

// GetFromConsentCookie looks up the Session referenced by the consent
// session cookie of the provided request.
func (sm *memoryMapManager) GetFromConsentCookie(ctx context.Context, req *http.Request) (*session.Session, bool) {
	return sm.getFromNamedCookie(ctx, req, sm.consentCookieName)
}

func (sm *memoryMapManager) getFromNamedCookie(ctx context.Context, req *http.Request, name string) (*session.Session, bool) {
	cookie, err := req.Cookie(name)
	if err != nil {
		return nil, false
	}

	data, err := sm.unserializeCookie(cookie.Value)
	if err != nil {
		sm.logger.WithError(err).Debugln("failed to decode session cookie")
		return nil, false
	}

	return sm.GetByID(ctx, data.ID)
}

// SetCookie adds a session cookie for the provided Session to the provided
// response.
func (sm *memoryMapManager) SetCookie(rw http.ResponseWriter, s *session.Session) error {
	serialized, err := sm.serializeCookie(&cookieData{
		Version: 1,
		ID:      s.ID,
	})
	if err != nil {
		return err
	}

	http.SetCookie(rw, &http.Cookie{
		Name:  sm.cookieName,
		Value: serialized,

		Path:     sm.cookiePath,
		Secure:   true,
		HttpOnly: true,
	})

	return nil
}

// RemoveCookies expires the session and consent session cookies in the
// provided response.
func (sm *memoryMapManager) RemoveCookies(rw http.ResponseWriter) {
	for _, name := range []string{sm.cookieName, sm.consentCookieName} {
		http.SetCookie(rw, &http.Cookie{
			Name: name,

			Path:     sm.cookiePath,
			Secure:   true,
			HttpOnly: true,

			Expires: farPastExpiryTime,
		})
	}
}

func (sm *memoryMapManager) serializeCookie(data *cookieData) (string, error) {
	var b bytes.Buffer
	enc := gob.NewEncoder(&b)
	err := enc.Encode(data)
	if err != nil {
		return "", err
	}

	ciphertext, err := encryption.Encrypt(b.Bytes(), sm.encryptionKey)
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

func (sm *memoryMapManager) unserializeCookie(value string) (*cookieData, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, err
	}

	raw, err := encryption.Decrypt(ciphertext, sm.encryptionKey)
	if err != nil {
		return nil, err
	}

	var data cookieData

	r := bytes.NewReader(raw)
	dec := gob.NewDecoder(r)

	err = dec.Decode(&data)
	if err != nil {
		return nil, err
	}

	return &data, nil
}
