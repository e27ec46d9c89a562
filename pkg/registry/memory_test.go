// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apereo/cas-sub078/pkg/ticket"
	"github.com/apereo/cas-sub078/pkg/ticket/expiration"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testCatalog(t *testing.T) *ticket.Catalog {
	t.Helper()
	catalog, err := ticket.DefaultCatalog()
	require.NoError(t, err)
	return catalog
}

func newTestMemoryRegistry(t *testing.T, cipher Cipher) *MemoryRegistry {
	t.Helper()
	r := NewMemoryRegistry(testCatalog(t), cipher)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func newTGT(id string) *ticket.GrantingTicket {
	return ticket.NewTicketGrantingTicket(id,
		ticket.Authentication{Principal: "casuser"},
		expiration.NewTicketGranting(8*time.Hour, 2*time.Hour, 0), testTime)
}

func TestMemoryRegistryAddGetDelete(t *testing.T) {
	r := newTestMemoryRegistry(t, nil)
	ctx := context.Background()

	tgt := newTGT("TGT-1")
	require.NoError(t, r.AddTicket(ctx, tgt))

	got, err := r.GetTicket(ctx, "TGT-1", Any)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "TGT-1", got.ID())
	assert.Equal(t, ticket.KindTicketGranting, got.Kind())

	deleted, err := r.DeleteTicket(ctx, "TGT-1")
	require.NoError(t, err)
	assert.True(t, deleted)

	got, err = r.GetTicket(ctx, "TGT-1", Any)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Deleting an absent id is not an error.
	deleted, err = r.DeleteTicket(ctx, "TGT-1")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestMemoryRegistryUnknownIDReturnsNil(t *testing.T) {
	r := newTestMemoryRegistry(t, nil)
	ctx := context.Background()

	got, err := r.GetTicket(ctx, "XYZ-unknown", Any)
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = r.GetTicket(ctx, "noprefix", Any)
	require.NoError(t, err)
	assert.Nil(t, got)

	deleted, err := r.DeleteTicket(ctx, "XYZ-unknown")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestMemoryRegistryPredicateRejection(t *testing.T) {
	r := newTestMemoryRegistry(t, nil)
	ctx := context.Background()

	require.NoError(t, r.AddTicket(ctx, newTGT("TGT-1")))

	onlyService := func(tk ticket.Ticket) bool { return tk.Kind() == ticket.KindService }
	got, err := r.GetTicket(ctx, "TGT-1", onlyService)
	require.NoError(t, err)
	assert.Nil(t, got)

	// nil predicate accepts everything.
	got, err = r.GetTicket(ctx, "TGT-1", nil)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestMemoryRegistryReturnsClones(t *testing.T) {
	r := newTestMemoryRegistry(t, nil)
	ctx := context.Background()

	require.NoError(t, r.AddTicket(ctx, newTGT("TGT-1")))

	first, err := r.GetTicket(ctx, "TGT-1", Any)
	require.NoError(t, err)
	first.MarkUsed(testTime.Add(time.Minute))
	first.(*ticket.GrantingTicket).AddService(ticket.Service{ID: "https://rogue.example.org"})

	second, err := r.GetTicket(ctx, "TGT-1", Any)
	require.NoError(t, err)
	assert.Equal(t, 0, second.CountOfUses())
	assert.Empty(t, second.(*ticket.GrantingTicket).Services())
}

func TestMemoryRegistryUpdateMergesServiceMaps(t *testing.T) {
	r := newTestMemoryRegistry(t, nil)
	ctx := context.Background()

	tgt := newTGT("TGT-1")
	require.NoError(t, r.AddTicket(ctx, tgt))

	// Two callers read the same TGT, register different services, and
	// write back. Neither write may clobber the other's entry.
	a, err := r.GetTicket(ctx, "TGT-1", Any)
	require.NoError(t, err)
	b, err := r.GetTicket(ctx, "TGT-1", Any)
	require.NoError(t, err)

	a.(*ticket.GrantingTicket).AddService(ticket.Service{ID: "https://app-a.example.org"})
	b.(*ticket.GrantingTicket).AddService(ticket.Service{ID: "https://app-b.example.org"})

	_, err = r.UpdateTicket(ctx, a)
	require.NoError(t, err)
	merged, err := r.UpdateTicket(ctx, b)
	require.NoError(t, err)

	assert.Len(t, merged.(*ticket.GrantingTicket).Services(), 2)

	stored, err := r.GetTicket(ctx, "TGT-1", Any)
	require.NoError(t, err)
	assert.Len(t, stored.(*ticket.GrantingTicket).Services(), 2)
}

func TestMemoryRegistryConcurrentServiceGrants(t *testing.T) {
	r := newTestMemoryRegistry(t, nil)
	ctx := context.Background()

	require.NoError(t, r.AddTicket(ctx, newTGT("TGT-1")))

	const n = 32
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got, err := r.GetTicket(ctx, "TGT-1", Any)
			assert.NoError(t, err)
			gt := got.(*ticket.GrantingTicket)
			gt.AddService(ticket.Service{ID: fmt.Sprintf("https://app-%d.example.org", i)})
			_, err = r.UpdateTicket(ctx, gt)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	stored, err := r.GetTicket(ctx, "TGT-1", Any)
	require.NoError(t, err)
	assert.Len(t, stored.(*ticket.GrantingTicket).Services(), n)
}

func TestMemoryRegistryDeleteAllAndGetTickets(t *testing.T) {
	r := newTestMemoryRegistry(t, nil)
	ctx := context.Background()

	require.NoError(t, r.AddTicket(ctx, newTGT("TGT-1")))
	require.NoError(t, r.AddTicket(ctx, ticket.NewServiceTicket("ST-1", "TGT-1",
		ticket.Service{ID: "https://app.example.org"}, false, &expiration.NeverExpires{}, time.Now())))

	live, err := r.GetTickets(ctx)
	require.NoError(t, err)
	assert.Len(t, live, 2)

	stats := r.Stats()
	assert.Equal(t, 1, stats[ticket.PartitionTicketGranting])
	assert.Equal(t, 1, stats[ticket.PartitionService])

	removed, err := r.DeleteAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	live, err = r.GetTickets(ctx)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestMemoryRegistryGetTicketsFiltersExpired(t *testing.T) {
	r := newTestMemoryRegistry(t, nil)
	ctx := context.Background()

	expired := ticket.NewServiceTicket("ST-old", "TGT-1",
		ticket.Service{ID: "https://app.example.org"}, false,
		expiration.NewHardTimeout(time.Second), time.Now().Add(-time.Minute))
	require.NoError(t, r.AddTicket(ctx, expired))
	require.NoError(t, r.AddTicket(ctx, newTGT("TGT-1")))

	live, err := r.GetTickets(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "TGT-1", live[0].ID())
}

func TestMemoryRegistryCleanupRemovesExpired(t *testing.T) {
	r := newMemoryRegistry(testCatalog(t), nil, 10*time.Millisecond)
	t.Cleanup(func() { _ = r.Close() })
	ctx := context.Background()

	expired := ticket.NewServiceTicket("ST-old", "TGT-1",
		ticket.Service{ID: "https://app.example.org"}, false,
		expiration.NewHardTimeout(time.Second), time.Now().Add(-time.Minute))
	require.NoError(t, r.AddTicket(ctx, expired))

	assert.Eventually(t, func() bool {
		return r.Stats()[ticket.PartitionService] == 0
	}, time.Second, 20*time.Millisecond)
}

func TestMemoryRegistryWithCipherStoresEncodedKeys(t *testing.T) {
	cipher, err := NewAESCipher(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)
	r := newTestMemoryRegistry(t, cipher)
	ctx := context.Background()

	require.NoError(t, r.AddTicket(ctx, newTGT("TGT-1")))

	got, err := r.GetTicket(ctx, "TGT-1", Any)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "TGT-1", got.ID())

	// The plaintext id is not a storage key.
	r.mu.RLock()
	_, rawKeyPresent := r.partitions[ticket.PartitionTicketGranting]["TGT-1"]
	r.mu.RUnlock()
	assert.False(t, rawKeyPresent)
}

func TestMemoryRegistryContextCancelled(t *testing.T) {
	r := newTestMemoryRegistry(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := r.AddTicket(ctx, newTGT("TGT-1"))
	assert.Error(t, err)

	_, err = r.GetTicket(ctx, "TGT-1", Any)
	assert.Error(t, err)
}
