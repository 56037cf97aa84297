package custody

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/xtrntr/escrow/internal/errors"
	"github.com/xtrntr/escrow/internal/models"
)

type deed struct {
	owner    models.Address
	approved models.Address
	metadata string
}

// DeedRegistry is an in-memory asset registry. Assets are minted once,
// carry a metadata string and move between holders through Approve and
// TransferCustody.
type DeedRegistry struct {
	mu        sync.Mutex
	deeds     map[string]*deed
	receivers map[models.Address]Receiver
}

var _ Custodian = (*DeedRegistry)(nil)

// NewDeedRegistry creates an empty registry
func NewDeedRegistry() *DeedRegistry {
	return &DeedRegistry{
		deeds:     make(map[string]*deed),
		receivers: make(map[models.Address]Receiver),
	}
}

// RegisterReceiver makes transfers to addr invoke r's callback
func (d *DeedRegistry) RegisterReceiver(addr models.Address, r Receiver) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.receivers[addr] = r
}

// Mint creates assetID owned by minter
func (d *DeedRegistry) Mint(ctx context.Context, minter models.Address, assetID, metadata string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if minter.IsZero() {
		return fmt.Errorf("minter address is required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.deeds[assetID]; exists {
		return apperrors.New(apperrors.CodeAssetAlreadyMinted, "token already minted")
	}
	d.deeds[assetID] = &deed{owner: minter, metadata: metadata}
	return nil
}

// SetMetadata replaces the asset's metadata. Only the holder may do so.
func (d *DeedRegistry) SetMetadata(ctx context.Context, caller models.Address, assetID, metadata string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	dd, ok := d.deeds[assetID]
	if !ok {
		return apperrors.New(apperrors.CodeUnknownAsset, "no asset by id")
	}
	if dd.owner != caller {
		return apperrors.New(apperrors.CodeNotAssetOwner, "Only deed owner")
	}
	dd.metadata = metadata
	return nil
}

// Metadata returns the asset's metadata
func (d *DeedRegistry) Metadata(ctx context.Context, assetID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	dd, ok := d.deeds[assetID]
	if !ok {
		return "", apperrors.New(apperrors.CodeUnknownAsset, "no asset by id")
	}
	return dd.metadata, nil
}

// OwnerOf returns the asset's holder
func (d *DeedRegistry) OwnerOf(ctx context.Context, assetID string) (models.Address, error) {
	if err := ctx.Err(); err != nil {
		return models.ZeroAddress, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	dd, ok := d.deeds[assetID]
	if !ok {
		return models.ZeroAddress, apperrors.New(apperrors.CodeUnknownAsset, "no asset by id")
	}
	return dd.owner, nil
}

// Approve lets spender move the asset. holder must be its current owner.
func (d *DeedRegistry) Approve(ctx context.Context, holder, spender models.Address, assetID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	dd, ok := d.deeds[assetID]
	if !ok {
		return apperrors.New(apperrors.CodeUnknownAsset, "no asset by id")
	}
	if dd.owner != holder {
		return fmt.Errorf("approve caller is not owner")
	}
	if spender == holder {
		return fmt.Errorf("approval to current owner")
	}
	dd.approved = spender
	return nil
}

// TransferCustody moves the asset and, when the destination registered a
// Receiver, asks it to acknowledge. A refused acknowledgement reverts the
// move. The registry lock is not held during the callback, so the receiver
// may call back into the registry.
func (d *DeedRegistry) TransferCustody(ctx context.Context, operator, from, to models.Address, assetID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if to.IsZero() {
		return fmt.Errorf("transfer to the zero address")
	}

	d.mu.Lock()
	dd, ok := d.deeds[assetID]
	if !ok {
		d.mu.Unlock()
		return apperrors.New(apperrors.CodeUnknownAsset, "no asset by id")
	}
	if dd.owner != from {
		d.mu.Unlock()
		return fmt.Errorf("transfer of token that is not own")
	}
	if operator != from && dd.approved != operator && dd.approved != to {
		d.mu.Unlock()
		return fmt.Errorf("transfer caller is not owner nor approved")
	}
	prevApproved := dd.approved
	dd.owner = to
	dd.approved = models.ZeroAddress
	receiver := d.receivers[to]
	d.mu.Unlock()

	if receiver == nil {
		return nil
	}

	token, err := receiver.OnCustodyReceived(ctx, operator, from, assetID, nil)
	if err == nil && token != ReceivedToken {
		err = fmt.Errorf("transfer to non receiver implementer")
	}
	if err != nil {
		d.mu.Lock()
		dd.owner = from
		dd.approved = prevApproved
		d.mu.Unlock()
		return err
	}
	return nil
}
