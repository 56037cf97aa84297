// Package custody adapts the external asset registry that holds auctioned
// assets. The registry exposes ownership queries and an approve-then-transfer
// protocol, and calls back into the receiving party when an asset lands in
// its custody.
package custody

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	apperrors "github.com/xtrntr/escrow/internal/errors"
	"github.com/xtrntr/escrow/internal/models"
)

// Token is the acknowledgement a Receiver returns when it accepts custody.
type Token [4]byte

// ReceivedToken is the recognised acknowledgement: the selector of
// onERC721Received(address,address,uint256,bytes).
var ReceivedToken = Token{0x15, 0x0b, 0x7a, 0x02}

// String returns the 0x-prefixed hex form of the token
func (t Token) String() string {
	return "0x" + hex.EncodeToString(t[:])
}

// Custodian is an asset registry instance holding auctioned assets.
type Custodian interface {
	// OwnerOf returns the current holder of assetID.
	OwnerOf(ctx context.Context, assetID string) (models.Address, error)
	// Approve lets spender take assetID from holder.
	Approve(ctx context.Context, holder, spender models.Address, assetID string) error
	// TransferCustody moves assetID from one holder to another. operator is
	// the party issuing the call and must be the holder or approved.
	TransferCustody(ctx context.Context, operator, from, to models.Address, assetID string) error
}

// Receiver accepts incoming custody transfers.
type Receiver interface {
	OnCustodyReceived(ctx context.Context, operator, from models.Address, assetID string, data []byte) (Token, error)
}

// Directory resolves custodian addresses to instances.
type Directory interface {
	Lookup(addr models.Address) (Custodian, bool)
}

// Transfer runs the approve-then-transfer protocol on c. Both steps must
// succeed; any failure is reported as CustodyTransferFailed. When the
// transfer step fails the approval is revoked again, even if ctx has been
// cancelled in between.
func Transfer(ctx context.Context, c Custodian, operator, from, to models.Address, assetID string) error {
	if err := c.Approve(ctx, from, to, assetID); err != nil {
		return apperrors.Wrap(apperrors.CodeCustodyTransferFailed, "custody approve failed", err)
	}
	if err := c.TransferCustody(ctx, operator, from, to, assetID); err != nil {
		if revokeErr := c.Approve(context.WithoutCancel(ctx), from, models.ZeroAddress, assetID); revokeErr != nil {
			err = errors.Join(err, fmt.Errorf("failed to revoke approval: %w", revokeErr))
		}
		return apperrors.Wrap(apperrors.CodeCustodyTransferFailed, "custody transfer failed", err)
	}
	return nil
}

// Registry is a concurrency-safe Directory backed by a map.
type Registry struct {
	mu         sync.RWMutex
	custodians map[models.Address]Custodian
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{custodians: make(map[models.Address]Custodian)}
}

// Register binds addr to c, replacing any previous binding
func (r *Registry) Register(addr models.Address, c Custodian) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.custodians[addr] = c
}

// Lookup returns the custodian bound to addr
func (r *Registry) Lookup(addr models.Address) (Custodian, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.custodians[addr]
	return c, ok
}
