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
	"time"

	"github.com/orcaman/concurrent-map"
	"github.com/sirupsen/logrus"
	"stash.kopano.io/kgol/rndm"

	"stash.kopano.io/kc/kuma/grants"
	"stash.kopano.io/kc/kuma/oidc"
)

const (
	defaultGrantDuration = 24 * time.Hour

	purgeInterval = 60 * time.Second
)

// memoryMapManager is an in memory grants.Manager backed by concurrent maps.
// Besides the primary table it keeps secondary indices for the hash, value
// and access token lookups and for sid fan out.
type memoryMapManager struct {
	table       cmap.ConcurrentMap
	hashTable   cmap.ConcurrentMap
	valueTable  cmap.ConcurrentMap
	accessTable cmap.ConcurrentMap
	sidTable    cmap.ConcurrentMap

	grantDuration time.Duration

	logger logrus.FieldLogger
}

// NewMemoryMapManager creates a new in memory grants.Manager. The contained
// expiration sweep runs until the provided context is done.
func NewMemoryMapManager(ctx context.Context, logger logrus.FieldLogger) grants.Manager {
	gm := &memoryMapManager{
		table:       cmap.New(),
		hashTable:   cmap.New(),
		valueTable:  cmap.New(),
		accessTable: cmap.New(),
		sidTable:    cmap.New(),

		grantDuration: defaultGrantDuration,

		logger: logger,
	}

	go func() {
		ticker := time.NewTicker(purgeInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				gm.purgeExpired()
			}
		}
	}()

	return gm
}

func (gm *memoryMapManager) purgeExpired() {
	var expired []*grants.Grant
	deadline := time.Now()
	for entry := range gm.table.IterBuffered() {
		grant := entry.Val.(*grants.Grant)
		if grant.Expired(deadline) {
			expired = append(expired, grant)
		}
	}
	for _, grant := range expired {
		gm.remove(grant)
	}
	if len(expired) > 0 {
		gm.logger.WithField("count", len(expired)).Debugln("purged expired grants")
	}
}

func (gm *memoryMapManager) remove(grant *grants.Grant) {
	gm.table.Remove(grant.ID)
	if grant.IDTokenHash != "" {
		gm.hashTable.Remove(grant.IDTokenHash)
	}
	if grant.IDToken != "" {
		gm.valueTable.Remove(grant.IDToken)
	}
	if grant.AccessToken != "" {
		gm.accessTable.Remove(grant.AccessToken)
	}
	gm.removeFromSidTable(grant)
}

func (gm *memoryMapManager) removeFromSidTable(grant *grants.Grant) {
	if grant.Sid == "" {
		return
	}
	gm.sidTable.Upsert(grant.Sid, nil, func(exists bool, valueInMap interface{}, _ interface{}) interface{} {
		if !exists {
			return map[string]*grants.Grant{}
		}
		ids := valueInMap.(map[string]*grants.Grant)
		delete(ids, grant.ID)
		return ids
	})
}

// Save implements grants.Manager.
func (gm *memoryMapManager) Save(ctx context.Context, grant *grants.Grant) error {
	if grant.ID == "" {
		grant.ID = rndm.GenerateRandomString(32)
	}
	if grant.CreatedAt.IsZero() {
		grant.CreatedAt = time.Now()
	}
	if grant.ExpiresAt.IsZero() {
		grant.ExpiresAt = grant.CreatedAt.Add(gm.grantDuration)
	}
	if grant.IDToken != "" && grant.IDTokenHash == "" {
		grant.IDTokenHash = oidc.HashToken(grant.IDToken)
	}

	gm.table.Set(grant.ID, grant)
	if grant.IDTokenHash != "" {
		gm.hashTable.Set(grant.IDTokenHash, grant)
	}
	if grant.IDToken != "" {
		gm.valueTable.Set(grant.IDToken, grant)
	}
	if grant.AccessToken != "" {
		gm.accessTable.Set(grant.AccessToken, grant)
	}
	if grant.Sid != "" {
		gm.sidTable.Upsert(grant.Sid, nil, func(exists bool, valueInMap interface{}, _ interface{}) interface{} {
			var ids map[string]*grants.Grant
			if exists {
				ids = valueInMap.(map[string]*grants.Grant)
			} else {
				ids = map[string]*grants.Grant{}
			}
			ids[grant.ID] = grant
			return ids
		})
	}

	return nil
}

func (gm *memoryMapManager) getFromTable(table cmap.ConcurrentMap, key string) (*grants.Grant, bool) {
	if key == "" {
		return nil, false
	}
	stored, ok := table.Get(key)
	if !ok {
		return nil, false
	}
	grant := stored.(*grants.Grant)
	if grant.LoggedOut || grant.Expired(time.Now()) {
		return nil, false
	}
	return grant, true
}

// GetByIDTokenHash implements grants.Manager.
func (gm *memoryMapManager) GetByIDTokenHash(ctx context.Context, hash string) (*grants.Grant, bool) {
	return gm.getFromTable(gm.hashTable, hash)
}

// GetByIDTokenValue implements grants.Manager.
func (gm *memoryMapManager) GetByIDTokenValue(ctx context.Context, value string) (*grants.Grant, bool) {
	return gm.getFromTable(gm.valueTable, value)
}

// GetByAccessToken implements grants.Manager.
func (gm *memoryMapManager) GetByAccessToken(ctx context.Context, value string) (*grants.Grant, bool) {
	return gm.getFromTable(gm.accessTable, value)
}

// GetBySid implements grants.Manager.
func (gm *memoryMapManager) GetBySid(ctx context.Context, sid string) []*grants.Grant {
	stored, ok := gm.sidTable.Get(sid)
	if !ok {
		return nil
	}
	ids := stored.(map[string]*grants.Grant)
	result := make([]*grants.Grant, 0, len(ids))
	for _, grant := range ids {
		if grant.LoggedOut || grant.Expired(time.Now()) {
			continue
		}
		result = append(result, grant)
	}
	return result
}

// Logout implements grants.Manager.
func (gm *memoryMapManager) Logout(ctx context.Context, sid string) []*grants.Grant {
	affected := gm.GetBySid(ctx, sid)
	for _, grant := range affected {
		grant.Logout()
	}
	if len(affected) > 0 {
		gm.logger.WithFields(logrus.Fields{
			"sid":   sid,
			"count": len(affected),
		}).Debugln("grants logged out")
	}
	return affected
}

// NumActive returns the number of grants currently in the store, logged out
// grants not yet purged included.
func (gm *memoryMapManager) NumActive() int {
	return gm.table.Count()
}
