// SPDX-License-Identifier: Apache-2.0

package ticket

import (
	"fmt"
	"strings"
	"time"

	"github.com/apereo/cas-sub078/pkg/errors"
	"github.com/apereo/cas-sub078/pkg/ticket/expiration"
)

// Default storage partition names, one per ticket kind. A registry backend
// uses the partition name as its table/collection/map name, so each kind can
// carry independent storage characteristics.
const (
	PartitionTicketGranting   = "ticket_granting_tickets"
	PartitionService          = "service_tickets"
	PartitionProxyGranting    = "proxy_granting_tickets"
	PartitionProxy            = "proxy_tickets"
	PartitionTransientSession = "transient_session_tickets"
)

// Definition is a catalog entry: the static metadata for one ticket kind.
// Definitions are created at process start and immutable thereafter.
type Definition struct {
	// Kind is the ticket kind this definition describes.
	Kind Kind

	// Prefix is the human-readable id prefix, e.g. "TGT".
	Prefix string

	// StoragePartition is the table/collection/map name the registry
	// routes this kind's operations to.
	StoragePartition string

	// PolicyBuilder constructs the default expiration policy for new
	// tickets of this kind.
	PolicyBuilder func() expiration.Policy
}

func (d Definition) validate() error {
	if d.Kind == "" || d.Prefix == "" || d.StoragePartition == "" {
		return errors.NewTicketCreationError(
			fmt.Sprintf("incomplete ticket definition for kind %q", d.Kind), nil)
	}
	if d.PolicyBuilder == nil {
		return errors.NewTicketCreationError(
			fmt.Sprintf("ticket definition for kind %q has no policy builder", d.Kind), nil)
	}
	return nil
}

// Catalog maps ticket kinds to their definitions. It is built once during
// initialization and read-only afterwards, so lookups need no locking.
type Catalog struct {
	byKind   map[Kind]Definition
	byPrefix map[string]Definition
}

// NewCatalog builds an immutable catalog from the given definitions.
// Duplicate kinds or prefixes are a ticket_creation error.
func NewCatalog(defs ...Definition) (*Catalog, error) {
	c := &Catalog{
		byKind:   make(map[Kind]Definition, len(defs)),
		byPrefix: make(map[string]Definition, len(defs)),
	}
	for _, d := range defs {
		if err := d.validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byKind[d.Kind]; dup {
			return nil, errors.NewTicketCreationError(
				fmt.Sprintf("duplicate ticket definition for kind %q", d.Kind), nil)
		}
		if _, dup := c.byPrefix[d.Prefix]; dup {
			return nil, errors.NewTicketCreationError(
				fmt.Sprintf("duplicate ticket prefix %q", d.Prefix), nil)
		}
		c.byKind[d.Kind] = d
		c.byPrefix[d.Prefix] = d
	}
	return c, nil
}

// ByKind returns the definition for a ticket kind.
func (c *Catalog) ByKind(k Kind) (Definition, bool) {
	d, ok := c.byKind[k]
	return d, ok
}

// ByID returns the definition matching a ticket id's prefix.
func (c *Catalog) ByID(id string) (Definition, bool) {
	prefix, _, found := strings.Cut(id, "-")
	if !found {
		return Definition{}, false
	}
	d, ok := c.byPrefix[prefix]
	return d, ok
}

// Definitions returns all registered definitions.
func (c *Catalog) Definitions() []Definition {
	defs := make([]Definition, 0, len(c.byKind))
	for _, d := range c.byKind {
		defs = append(defs, d)
	}
	return defs
}

// DefaultCatalog builds the standard five-kind catalog with conventional
// lifetimes: an 8h/2h TGT window, 10s single-use STs and PTs, a 2h PGT
// window, and 5m transient session tickets.
func DefaultCatalog() (*Catalog, error) {
	return NewCatalog(
		Definition{
			Kind:             KindTicketGranting,
			Prefix:           string(KindTicketGranting),
			StoragePartition: PartitionTicketGranting,
			PolicyBuilder: func() expiration.Policy {
				return expiration.NewTicketGranting(8*time.Hour, 2*time.Hour, 0)
			},
		},
		Definition{
			Kind:             KindService,
			Prefix:           string(KindService),
			StoragePartition: PartitionService,
			PolicyBuilder: func() expiration.Policy {
				return expiration.NewMultiTimeUseOrTimeout(1, 10*time.Second)
			},
		},
		Definition{
			Kind:             KindProxyGranting,
			Prefix:           string(KindProxyGranting),
			StoragePartition: PartitionProxyGranting,
			PolicyBuilder: func() expiration.Policy {
				return expiration.NewTicketGranting(8*time.Hour, 2*time.Hour, 0)
			},
		},
		Definition{
			Kind:             KindProxy,
			Prefix:           string(KindProxy),
			StoragePartition: PartitionProxy,
			PolicyBuilder: func() expiration.Policy {
				return expiration.NewMultiTimeUseOrTimeout(1, 10*time.Second)
			},
		},
		Definition{
			Kind:             KindTransientSession,
			Prefix:           string(KindTransientSession),
			StoragePartition: PartitionTransientSession,
			PolicyBuilder: func() expiration.Policy {
				return expiration.NewHardTimeout(5 * time.Minute)
			},
		},
	)
}
