package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Backend is the RPC surface a ContractRPC needs. *ethclient.Client
// satisfies it.
type Backend interface {
	bind.ContractBackend
	ReceiptClient
}

// ContractRPC implements domain.LedgerRPC for one deployed contract.
type ContractRPC struct {
	address   common.Address
	contract  *bind.BoundContract
	opts      *bind.TransactOpts
	confirmer *Confirmer
}

// NewContractRPC binds the contract at address. opts may be nil for a
// read-only client; Mint then fails.
func NewContractRPC(backend Backend, address string, opts *bind.TransactOpts, confirmations uint64, pollInterval time.Duration) (*ContractRPC, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("invalid contract address %q", address)
	}
	parsed, err := abi.JSON(strings.NewReader(CredentialNFTABI))
	if err != nil {
		return nil, fmt.Errorf("parse abi: %w", err)
	}
	addr := common.HexToAddress(address)
	return &ContractRPC{
		address:   addr,
		contract:  bind.NewBoundContract(addr, parsed, backend, backend, backend),
		opts:      opts,
		confirmer: NewConfirmer(backend, confirmations, pollInterval),
	}, nil
}

// Address returns the contract address.
func (c *ContractRPC) Address() string {
	return c.address.Hex()
}

// BalanceOf returns owner's token count.
func (c *ContractRPC) BalanceOf(ctx context.Context, owner string) (int, error) {
	addr, err := parseAddress(owner)
	if err != nil {
		return 0, err
	}
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", addr); err != nil {
		return 0, err
	}
	bal := out[0].(*big.Int)
	if !bal.IsInt64() || bal.Int64() > int64(^uint32(0)) {
		return 0, fmt.Errorf("balance %s out of range", bal)
	}
	return int(bal.Int64()), nil
}

// TokenOfOwnerByIndex returns the decimal id of owner's index-th token.
func (c *ContractRPC) TokenOfOwnerByIndex(ctx context.Context, owner string, index int) (string, error) {
	addr, err := parseAddress(owner)
	if err != nil {
		return "", err
	}
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "tokenOfOwnerByIndex", addr, big.NewInt(int64(index))); err != nil {
		return "", err
	}
	return out[0].(*big.Int).String(), nil
}

// TokenURI returns the metadata URI of tokenID.
func (c *ContractRPC) TokenURI(ctx context.Context, tokenID string) (string, error) {
	var out []interface{}
	if err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "tokenURI", TokenNumber(tokenID)); err != nil {
		return "", err
	}
	return out[0].(string), nil
}

// Mint submits mint(to, tokenId, uri) and returns the transaction hash.
func (c *ContractRPC) Mint(ctx context.Context, to, tokenID, uri string) (string, error) {
	if c.opts == nil {
		return "", fmt.Errorf("contract %s is read-only: no signing key configured", c.address.Hex())
	}
	addr, err := parseAddress(to)
	if err != nil {
		return "", err
	}
	opts := *c.opts
	opts.Context = ctx
	tx, err := c.contract.Transact(&opts, "mint", addr, TokenNumber(tokenID), uri)
	if err != nil {
		return "", err
	}
	return tx.Hash().Hex(), nil
}

// WaitForConfirmation blocks until txHash is mined, successful and
// sufficiently confirmed, and checks it emitted a Transfer from this contract.
func (c *ContractRPC) WaitForConfirmation(ctx context.Context, txHash string) error {
	receipt, err := c.confirmer.Wait(ctx, common.HexToHash(txHash))
	if err != nil {
		return err
	}
	if _, ok := mintedTokenID(receipt, c.address); !ok {
		return fmt.Errorf("transaction %s emitted no Transfer from %s", txHash, c.address.Hex())
	}
	return nil
}

// TokenNumber maps a token id string to its uint256 form. Decimal strings
// are used as-is; anything else is hashed with keccak256.
func TokenNumber(tokenID string) *big.Int {
	if n, ok := new(big.Int).SetString(tokenID, 10); ok && n.Sign() >= 0 {
		return n
	}
	return new(big.Int).SetBytes(crypto.Keccak256([]byte(tokenID)))
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

// mintedTokenID extracts the token id from a receipt's Transfer log.
func mintedTokenID(receipt *types.Receipt, contract common.Address) (*big.Int, bool) {
	for _, l := range receipt.Logs {
		if l == nil || l.Address != contract || len(l.Topics) < 4 {
			continue
		}
		if l.Topics[0] != transferEventSignature {
			continue
		}
		return new(big.Int).SetBytes(l.Topics[3].Bytes()), true
	}
	return nil, false
}
