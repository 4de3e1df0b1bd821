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

package managers

import (
	"context"
	"time"

	"github.com/orcaman/concurrent-map"
	"github.com/sirupsen/logrus"
	"stash.kopano.io/kgol/rndm"

	"stash.kopano.io/kc/kuma/uma"
)

const (
	defaultTicketLifetime = 1 * time.Hour
	defaultRPTLifetime    = 1 * time.Hour
	defaultPCTLifetime    = 24 * time.Hour

	purgeInterval = 60 * time.Second
)

// memoryMapManager is an in memory uma.Manager backed by concurrent maps.
type memoryMapManager struct {
	ticketTable cmap.ConcurrentMap
	rptTable    cmap.ConcurrentMap
	pctTable    cmap.ConcurrentMap

	ticketLifetime time.Duration
	rptLifetime    time.Duration
	pctLifetime    time.Duration

	logger logrus.FieldLogger
}

// NewMemoryMapManager creates a new in memory uma.Manager with the provided
// lifetimes, zero values select the defaults. The contained expiration sweep
// runs until the provided context is done.
func NewMemoryMapManager(ctx context.Context, ticketLifetime time.Duration, rptLifetime time.Duration, pctLifetime time.Duration, logger logrus.FieldLogger) uma.Manager {
	if ticketLifetime == 0 {
		ticketLifetime = defaultTicketLifetime
	}
	if rptLifetime == 0 {
		rptLifetime = defaultRPTLifetime
	}
	if pctLifetime == 0 {
		pctLifetime = defaultPCTLifetime
	}

	um := &memoryMapManager{
		ticketTable: cmap.New(),
		rptTable:    cmap.New(),
		pctTable:    cmap.New(),

		ticketLifetime: ticketLifetime,
		rptLifetime:    rptLifetime,
		pctLifetime:    pctLifetime,

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
				um.purgeExpired()
			}
		}
	}()

	return um
}

func (um *memoryMapManager) purgeExpired() {
	count := 0
	deadline := time.Now()

	var expiredTickets []string
	for entry := range um.ticketTable.IterBuffered() {
		permissions := entry.Val.([]*uma.Permission)
		expired := true
		for _, permission := range permissions {
			if deadline.Before(permission.ExpiresAt) {
				expired = false
				break
			}
		}
		if expired {
			expiredTickets = append(expiredTickets, entry.Key)
		}
	}
	for _, ticket := range expiredTickets {
		um.ticketTable.Remove(ticket)
		count++
	}

	var expiredRPTs []string
	for entry := range um.rptTable.IterBuffered() {
		rpt := entry.Val.(*uma.RPT)
		if !deadline.Before(rpt.ExpiresAt) {
			expiredRPTs = append(expiredRPTs, entry.Key)
		}
	}
	for _, code := range expiredRPTs {
		um.rptTable.Remove(code)
		count++
	}

	var expiredPCTs []string
	for entry := range um.pctTable.IterBuffered() {
		pct := entry.Val.(*uma.PCT)
		if !deadline.Before(pct.ExpiresAt) {
			expiredPCTs = append(expiredPCTs, entry.Key)
		}
	}
	for _, code := range expiredPCTs {
		um.pctTable.Remove(code)
		count++
	}

	if count > 0 {
		um.logger.WithField("count", count).Debugln("purged expired uma records")
	}
}

// RegisterPermissions implements uma.Manager.
func (um *memoryMapManager) RegisterPermissions(ctx context.Context, permissions []*uma.Permission, clientID string) (string, error) {
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
			permission.ExpiresAt = now.Add(um.ticketLifetime)
		}
	}

	um.ticketTable.Set(ticket, permissions)
	return ticket, nil
}

// GetPermissionsByTicket implements uma.Manager.
func (um *memoryMapManager) GetPermissionsByTicket(ctx context.Context, ticket string) []*uma.Permission {
	if ticket == "" {
		return nil
	}
	stored, ok := um.ticketTable.Get(ticket)
	if !ok {
		return nil
	}
	return stored.([]*uma.Permission)
}

// SaveRPT implements uma.Manager.
func (um *memoryMapManager) SaveRPT(ctx context.Context, rpt *uma.RPT) error {
	if rpt.Code == "" {
		rpt.Code = rndm.GenerateRandomString(64)
	}
	if rpt.CreatedAt.IsZero() {
		rpt.CreatedAt = time.Now()
	}
	if rpt.ExpiresAt.IsZero() {
		rpt.ExpiresAt = rpt.CreatedAt.Add(um.rptLifetime)
	}

	um.rptTable.Set(rpt.Code, rpt)
	return nil
}

// GetRPT implements uma.Manager.
func (um *memoryMapManager) GetRPT(ctx context.Context, code string) (*uma.RPT, bool) {
	if code == "" {
		return nil, false
	}
	stored, ok := um.rptTable.Get(code)
	if !ok {
		return nil, false
	}
	return stored.(*uma.RPT), true
}

// SavePCT implements uma.Manager.
func (um *memoryMapManager) SavePCT(ctx context.Context, pct *uma.PCT) error {
	if pct.Code == "" {
		pct.Code = rndm.GenerateRandomString(64)
	}
	if pct.CreatedAt.IsZero() {
		pct.CreatedAt = time.Now()
	}
	if pct.ExpiresAt.IsZero() {
		pct.ExpiresAt = pct.CreatedAt.Add(um.pctLifetime)
	}

	um.pctTable.Set(pct.Code, pct)
	return nil
}

// GetPCT implements uma.Manager.
func (um *memoryMapManager) GetPCT(ctx context.Context, code string) (*uma.PCT, bool) {
	if code == "" {
		return nil, false
	}
	stored, ok := um.pctTable.Get(code)
	if !ok {
		return nil, false
	}
	return stored.(*uma.PCT), true
}
