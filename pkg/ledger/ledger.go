// Package ledger is the module's view of the chain. The core only needs
// three capabilities: read delegated permissions, verify transfers, and
// delegate a permission. Everything chain-specific stays behind these
// interfaces.
package ledger

import (
	"context"
	"math/big"
)

// PermissionSource exposes the full delegated-permission set. The permission
// cache reloads this wholesale on a timer.
type PermissionSource interface {
	// DelegatedPermissions returns capability path -> grantee addresses.
	DelegatedPermissions(ctx context.Context) (map[string][]string, error)
}

// Transfer is a verified on-chain transfer.
type Transfer struct {
	// Amount in base units as a decimal integer.
	Amount *big.Int
	// BlockNumber the transfer landed in.
	BlockNumber int64
}

// TransferVerifier checks that a claimed transfer exists, came from the given
// address, and paid the expected recipient.
type TransferVerifier interface {
	VerifyTransfer(ctx context.Context, txHash, blockHash, from string) (*Transfer, error)
}

// PermissionDelegator performs the on-chain delegation of a capability path.
type PermissionDelegator interface {
	DelegatePermission(ctx context.Context, recipient, path string) (txHash string, err error)
}

// Ledger bundles all chain capabilities the server needs.
type Ledger interface {
	PermissionSource
	TransferVerifier
	PermissionDelegator
}
