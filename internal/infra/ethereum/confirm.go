package ethereum

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

var transferEventSignature = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// DefaultPollInterval is how often a pending transaction is re-checked.
const DefaultPollInterval = 2 * time.Second

// ReceiptClient is the subset of the Ethereum RPC used for confirmation.
type ReceiptClient interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// ErrReverted reports a mined transaction with failed status.
var ErrReverted = errors.New("transaction reverted")

// errNotYet means "poll again".
var errNotYet = errors.New("not yet confirmed")

// Confirmer polls for transaction receipts.
type Confirmer struct {
	client        ReceiptClient
	confirmations uint64
	interval      time.Duration
}

// NewConfirmer creates a confirmer requiring confirmations blocks (0 and 1
// both mean "mined").
func NewConfirmer(client ReceiptClient, confirmations uint64, interval time.Duration) *Confirmer {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Confirmer{client: client, confirmations: confirmations, interval: interval}
}

// Wait polls until txHash is confirmed, reverted, or ctx ends. On ctx end
// the returned error wraps ctx.Err().
func (c *Confirmer) Wait(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		receipt, err := c.check(ctx, txHash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, errNotYet) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", txHash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Confirmer) check(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	receipt, err := c.client.TransactionReceipt(ctx, txHash)
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, errNotYet
		}
		if ctx.Err() != nil {
			return nil, errNotYet
		}
		return nil, fmt.Errorf("fetch receipt: %w", err)
	}
	if receipt == nil {
		return nil, errNotYet
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return nil, fmt.Errorf("%w: %s", ErrReverted, txHash.Hex())
	}
	if c.confirmations <= 1 {
		return receipt, nil
	}

	header, err := c.client.HeaderByNumber(ctx, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errNotYet
		}
		return nil, fmt.Errorf("fetch head: %w", err)
	}
	if header == nil || header.Number == nil || receipt.BlockNumber == nil {
		return nil, fmt.Errorf("block metadata unavailable")
	}
	if header.Number.Cmp(receipt.BlockNumber) < 0 {
		return nil, errNotYet
	}
	confirmed := new(big.Int).Sub(header.Number, receipt.BlockNumber)
	confirmed.Add(confirmed, big.NewInt(1))
	if confirmed.Cmp(new(big.Int).SetUint64(c.confirmations)) < 0 {
		return nil, errNotYet
	}
	return receipt, nil
}
