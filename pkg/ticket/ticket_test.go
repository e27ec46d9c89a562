// SPDX-License-Identifier: Apache-2.0

package ticket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apereo/cas-sub078/pkg/errors"
	"github.com/apereo/cas-sub078/pkg/ticket/expiration"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testAuth() Authentication {
	return Authentication{
		Principal:  "casuser",
		Attributes: map[string]any{"email": "casuser@example.org"},
	}
}

func TestGrantingTicketRootInvariant(t *testing.T) {
	tgt := NewTicketGrantingTicket("TGT-1", testAuth(), &expiration.NeverExpires{}, testTime)
	assert.True(t, tgt.IsRoot())
	assert.Equal(t, tgt.ID(), tgt.RootID())
	assert.Nil(t, tgt.ProxiedBy())

	pgt := NewProxyGrantingTicket("PGT-1", testAuth(), Service{ID: "https://proxy.example.org"},
		tgt.ID(), &expiration.NeverExpires{}, testTime)
	assert.False(t, pgt.IsRoot())
	assert.Equal(t, tgt.ID(), pgt.RootID())
	require.NotNil(t, pgt.ProxiedBy())
	assert.Equal(t, "https://proxy.example.org", pgt.ProxiedBy().ID)
}

func TestMarkUsedMaintainsInvariants(t *testing.T) {
	tgt := NewTicketGrantingTicket("TGT-1", testAuth(), &expiration.NeverExpires{}, testTime)
	assert.Equal(t, 0, tgt.CountOfUses())
	assert.Equal(t, tgt.CreationTime(), tgt.LastTimeUsed())

	tgt.MarkUsed(testTime.Add(time.Minute))
	assert.Equal(t, 1, tgt.CountOfUses())
	assert.Equal(t, testTime.Add(time.Minute), tgt.LastTimeUsed())

	// A use stamped with a stale clock bumps the count but never moves
	// last-used backwards.
	tgt.MarkUsed(testTime.Add(-time.Hour))
	assert.Equal(t, 2, tgt.CountOfUses())
	assert.Equal(t, testTime.Add(time.Minute), tgt.LastTimeUsed())
	assert.False(t, tgt.LastTimeUsed().Before(tgt.CreationTime()))
}

func TestServiceMapRegistration(t *testing.T) {
	tgt := NewTicketGrantingTicket("TGT-1", testAuth(), &expiration.NeverExpires{}, testTime)

	tgt.AddService(Service{ID: "https://app-a.example.org"})
	tgt.AddService(Service{ID: "https://app-b.example.org"})
	// Idempotent per service id, last write wins.
	tgt.AddService(Service{ID: "https://app-a.example.org"})

	assert.Len(t, tgt.Services(), 2)
}

func TestCloneIsDeep(t *testing.T) {
	tgt := NewTicketGrantingTicket("TGT-1", testAuth(), &expiration.NeverExpires{}, testTime)
	tgt.AddService(Service{ID: "https://app-a.example.org"})

	clone := tgt.Clone().(*GrantingTicket)
	clone.AddService(Service{ID: "https://app-b.example.org"})
	clone.MarkUsed(testTime.Add(time.Second))

	assert.Len(t, tgt.Services(), 1)
	assert.Equal(t, 0, tgt.CountOfUses())

	tst := NewTransientSessionTicket("TST-1", map[string]any{"state": "abc"}, &expiration.NeverExpires{}, testTime)
	tstClone := tst.Clone().(*TransientSessionTicket)
	tstClone.properties["state"] = "mutated"
	v, ok := tst.Property("state")
	require.True(t, ok)
	assert.Equal(t, "abc", v)
}

func TestIsExpiredNilTicket(t *testing.T) {
	assert.True(t, IsExpired(nil))

	tgt := NewTicketGrantingTicket("TGT-1", testAuth(), &expiration.NeverExpires{}, time.Now())
	assert.False(t, IsExpired(tgt))

	// A ticket that lost its policy is unconditionally expired.
	tgt.policy = nil
	assert.True(t, IsExpired(tgt))
}

func TestServiceTicketFields(t *testing.T) {
	svc := Service{ID: "https://app.example.org"}
	st := NewServiceTicket("ST-1", "TGT-1", svc, true, expiration.NewMultiTimeUseOrTimeout(1, 10*time.Second), testTime)

	assert.Equal(t, KindService, st.Kind())
	assert.Equal(t, "TGT-1", st.GrantingTicketID())
	assert.Equal(t, svc, st.Service())
	assert.True(t, st.FromNewLogin())
	assert.Nil(t, st.ProxiedBy())

	pt := NewProxyTicket("PT-1", "PGT-1", svc, Service{ID: "https://proxy.example.org"},
		expiration.NewMultiTimeUseOrTimeout(1, 10*time.Second), testTime)
	assert.Equal(t, KindProxy, pt.Kind())
	require.NotNil(t, pt.ProxiedBy())
	assert.Equal(t, "https://proxy.example.org", pt.ProxiedBy().ID)
}

func TestCatalogLookup(t *testing.T) {
	catalog, err := DefaultCatalog()
	require.NoError(t, err)

	for _, kind := range []Kind{KindTicketGranting, KindService, KindProxyGranting, KindProxy, KindTransientSession} {
		def, ok := catalog.ByKind(kind)
		require.True(t, ok, "missing definition for %s", kind)
		assert.Equal(t, string(kind), def.Prefix)
		assert.NotEmpty(t, def.StoragePartition)
		assert.NotNil(t, def.PolicyBuilder())
	}

	def, ok := catalog.ByID("ST-abc123")
	require.True(t, ok)
	assert.Equal(t, KindService, def.Kind)

	_, ok = catalog.ByID("XYZ-abc123")
	assert.False(t, ok)
	_, ok = catalog.ByID("noprefix")
	assert.False(t, ok)

	assert.Len(t, catalog.Definitions(), 5)
}

func TestCatalogRejectsBadDefinitions(t *testing.T) {
	builder := func() expiration.Policy { return &expiration.NeverExpires{} }

	tests := []struct {
		name string
		defs []Definition
	}{
		{
			name: "missing partition",
			defs: []Definition{{Kind: KindService, Prefix: "ST", PolicyBuilder: builder}},
		},
		{
			name: "missing policy builder",
			defs: []Definition{{Kind: KindService, Prefix: "ST", StoragePartition: PartitionService}},
		},
		{
			name: "duplicate kind",
			defs: []Definition{
				{Kind: KindService, Prefix: "ST", StoragePartition: PartitionService, PolicyBuilder: builder},
				{Kind: KindService, Prefix: "ST2", StoragePartition: "other", PolicyBuilder: builder},
			},
		},
		{
			name: "duplicate prefix",
			defs: []Definition{
				{Kind: KindService, Prefix: "ST", StoragePartition: PartitionService, PolicyBuilder: builder},
				{Kind: KindProxy, Prefix: "ST", StoragePartition: PartitionProxy, PolicyBuilder: builder},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.defs...)
			require.Error(t, err)
			assert.True(t, errors.IsTicketCreation(err))
		})
	}
}

func TestIDGeneratorFormat(t *testing.T) {
	gen := DefaultIDGenerator()

	id, err := gen.NewTicketID("TGT")
	require.NoError(t, err)
	assert.Regexp(t, `^TGT-[A-Za-z0-9_-]+$`, id)

	_, err = gen.NewTicketID("")
	assert.Error(t, err)

	_, err = NewRandomIDGenerator(8)
	assert.Error(t, err)
}

func TestIDGeneratorUniqueness(t *testing.T) {
	// Scaled-down stand-in for the one-million-id property: with 256 bits
	// of entropy per suffix a collision in any practical sample is
	// cryptographically negligible.
	const n = 100_000
	gen := DefaultIDGenerator()

	seen := make(map[string]struct{}, n)
	for i := 0; i < n; i++ {
		id, err := gen.NewTicketID("ST")
		require.NoError(t, err)
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate ticket id generated: %s", id)
		}
		seen[id] = struct{}{}
	}
}
