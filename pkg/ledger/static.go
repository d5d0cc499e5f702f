package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
)

// StaticLedger is an in-memory ledger for tests and local development.
type StaticLedger struct {
	mu          sync.Mutex
	permissions map[string][]string
	transfers   map[string]*Transfer
	nextTx      int
	// FailDelegation forces DelegatePermission to error.
	FailDelegation bool
}

// NewStaticLedger creates an empty in-memory ledger.
func NewStaticLedger() *StaticLedger {
	return &StaticLedger{
		permissions: make(map[string][]string),
		transfers:   make(map[string]*Transfer),
	}
}

// AddPermission records a delegation in the static set.
func (l *StaticLedger) AddPermission(path, address string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.permissions[path] = append(l.permissions[path], address)
}

// AddTransfer registers a transfer that VerifyTransfer will find.
func (l *StaticLedger) AddTransfer(txHash string, amount int64, blockNumber int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transfers[txHash] = &Transfer{Amount: big.NewInt(amount), BlockNumber: blockNumber}
}

func (l *StaticLedger) DelegatedPermissions(ctx context.Context) (map[string][]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string][]string, len(l.permissions))
	for path, addrs := range l.permissions {
		out[path] = append([]string(nil), addrs...)
	}
	return out, nil
}

func (l *StaticLedger) VerifyTransfer(ctx context.Context, txHash, blockHash, from string) (*Transfer, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	transfer, ok := l.transfers[txHash]
	if !ok {
		return nil, fmt.Errorf("transfer %s not found on chain", txHash)
	}
	return transfer, nil
}

func (l *StaticLedger) DelegatePermission(ctx context.Context, recipient, path string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.FailDelegation {
		return "", fmt.Errorf("delegation rejected by chain")
	}
	l.permissions[path] = append(l.permissions[path], recipient)
	l.nextTx++
	return fmt.Sprintf("0xstatic%06d", l.nextTx), nil
}
