// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/apereo/cas-sub078/pkg/errors"
	"github.com/apereo/cas-sub078/pkg/logger"
	"github.com/apereo/cas-sub078/pkg/ticket"
)

const defaultCleanupInterval = time.Minute

// MemoryRegistry is an in-process Registry backed by per-partition maps.
// Suitable for single-node deployments and tests. A background goroutine
// sweeps expired tickets so abandoned sessions do not accumulate.
type MemoryRegistry struct {
	catalog *ticket.Catalog
	cipher  Cipher

	mu         sync.RWMutex
	partitions map[string]map[string]ticket.Ticket

	stopCleanup chan struct{}
	cleanupDone chan struct{}
	closeOnce   sync.Once
}

// NewMemoryRegistry creates a memory registry routing tickets to partitions
// per the catalog. A nil cipher disables at-rest encoding.
func NewMemoryRegistry(catalog *ticket.Catalog, cipher Cipher) *MemoryRegistry {
	return newMemoryRegistry(catalog, cipher, defaultCleanupInterval)
}

func newMemoryRegistry(catalog *ticket.Catalog, cipher Cipher, cleanupInterval time.Duration) *MemoryRegistry {
	if cipher == nil {
		cipher = NoOpCipher{}
	}
	r := &MemoryRegistry{
		catalog:     catalog,
		cipher:      cipher,
		partitions:  make(map[string]map[string]ticket.Ticket),
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}
	for _, def := range catalog.Definitions() {
		r.partitions[def.StoragePartition] = make(map[string]ticket.Ticket)
	}
	go r.cleanupLoop(cleanupInterval)
	return r
}

// Close stops the cleanup goroutine and waits for it to exit.
func (r *MemoryRegistry) Close() error {
	r.closeOnce.Do(func() {
		close(r.stopCleanup)
		<-r.cleanupDone
	})
	return nil
}

func (r *MemoryRegistry) cleanupLoop(interval time.Duration) {
	defer close(r.cleanupDone)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.cleanupExpired()
		case <-r.stopCleanup:
			return
		}
	}
}

// cleanupExpired removes expired tickets. Candidates are collected under the
// read lock, then re-checked and deleted under the write lock so a ticket
// refreshed in between survives.
func (r *MemoryRegistry) cleanupExpired() {
	now := time.Now()

	type entry struct{ partition, key string }
	var expired []entry

	r.mu.RLock()
	for partition, tickets := range r.partitions {
		for key, t := range tickets {
			if t.IsExpiredAt(now) {
				expired = append(expired, entry{partition: partition, key: key})
			}
		}
	}
	r.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	removed := 0
	r.mu.Lock()
	for _, e := range expired {
		if t, ok := r.partitions[e.partition][e.key]; ok && t.IsExpiredAt(now) {
			delete(r.partitions[e.partition], e.key)
			removed++
		}
	}
	r.mu.Unlock()

	logger.Debugf("Ticket cleanup removed %d expired tickets", removed)
}

// locate resolves a ticket id to its partition and encoded key. The second
// return is false when the id's prefix is unknown or the id cannot be
// encoded, which callers treat as "not found".
func (r *MemoryRegistry) locate(id string) (partition, key string, ok bool) {
	def, found := r.catalog.ByID(id)
	if !found {
		return "", "", false
	}
	encoded, err := r.cipher.EncodeID(id)
	if err != nil {
		return "", "", false
	}
	return def.StoragePartition, encoded, true
}

// AddTicket implements Registry.
func (r *MemoryRegistry) AddTicket(ctx context.Context, t ticket.Ticket) error {
	if err := ctx.Err(); err != nil {
		return errors.NewStorageError("context cancelled", err)
	}
	if t == nil {
		return errors.NewStorageError("cannot add nil ticket", nil)
	}
	def, ok := r.catalog.ByKind(t.Kind())
	if !ok {
		return errors.NewStorageError(fmt.Sprintf("no catalog definition for ticket kind %q", t.Kind()), nil)
	}
	key, err := r.cipher.EncodeID(t.ID())
	if err != nil {
		return errors.NewStorageError(fmt.Sprintf("failed to encode id for %s", t.ID()), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.partitions[def.StoragePartition][key] = t.Clone()
	return nil
}

// GetTicket implements Registry.
func (r *MemoryRegistry) GetTicket(ctx context.Context, id string, predicate Predicate) (ticket.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewStorageError("context cancelled", err)
	}
	partition, key, ok := r.locate(id)
	if !ok {
		return nil, nil
	}

	r.mu.RLock()
	stored, found := r.partitions[partition][key]
	r.mu.RUnlock()
	if !found {
		return nil, nil
	}

	t := stored.Clone()
	if predicate != nil && !predicate(t) {
		return nil, nil
	}
	return t, nil
}

// UpdateTicket implements Registry. Updates are upserts; when both the stored
// and incoming tickets are granting tickets, their service maps are merged
// with the incoming entries winning on conflict.
func (r *MemoryRegistry) UpdateTicket(ctx context.Context, t ticket.Ticket) (ticket.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewStorageError("context cancelled", err)
	}
	if t == nil {
		return nil, errors.NewStorageError("cannot update nil ticket", nil)
	}
	def, ok := r.catalog.ByKind(t.Kind())
	if !ok {
		return nil, errors.NewStorageError(fmt.Sprintf("no catalog definition for ticket kind %q", t.Kind()), nil)
	}
	key, err := r.cipher.EncodeID(t.ID())
	if err != nil {
		return nil, errors.NewStorageError(fmt.Sprintf("failed to encode id for %s", t.ID()), err)
	}

	incoming := t.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()
	if gt, isGranting := incoming.(*ticket.GrantingTicket); isGranting {
		if stored, exists := r.partitions[def.StoragePartition][key].(*ticket.GrantingTicket); exists {
			mergeServices(gt, stored)
		}
	}
	r.partitions[def.StoragePartition][key] = incoming
	return incoming.Clone(), nil
}

// mergeServices folds the services registered on old into dst, keeping dst's
// entry when both sides registered the same service id.
func mergeServices(dst, old *ticket.GrantingTicket) {
	current := dst.Services()
	for id, svc := range old.Services() {
		if _, present := current[id]; !present {
			dst.AddService(svc)
		}
	}
}

// DeleteTicket implements Registry.
func (r *MemoryRegistry) DeleteTicket(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, errors.NewStorageError("context cancelled", err)
	}
	partition, key, ok := r.locate(id)
	if !ok {
		return false, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, found := r.partitions[partition][key]; !found {
		return false, nil
	}
	delete(r.partitions[partition], key)
	return true, nil
}

// DeleteAll implements Registry.
func (r *MemoryRegistry) DeleteAll(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, errors.NewStorageError("context cancelled", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for partition, tickets := range r.partitions {
		removed += len(tickets)
		r.partitions[partition] = make(map[string]ticket.Ticket)
	}
	return removed, nil
}

// GetTickets implements Registry. Expired tickets still awaiting cleanup are
// filtered out.
func (r *MemoryRegistry) GetTickets(ctx context.Context) ([]ticket.Ticket, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.NewStorageError("context cancelled", err)
	}
	now := time.Now()

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []ticket.Ticket
	for _, tickets := range r.partitions {
		for _, t := range tickets {
			if !t.IsExpiredAt(now) {
				out = append(out, t.Clone())
			}
		}
	}
	return out, nil
}

// Stats returns the live ticket count per storage partition.
func (r *MemoryRegistry) Stats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := make(map[string]int, len(r.partitions))
	for partition, tickets := range r.partitions {
		stats[partition] = len(tickets)
	}
	return stats
}

// Compile-time interface compliance check
var _ Registry = (*MemoryRegistry)(nil)
