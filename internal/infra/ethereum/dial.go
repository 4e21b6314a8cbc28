package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/log"
)

// Config describes the network ledger endpoint.
type Config struct {
	RPCURL             string
	BadgeContract      string
	CredentialContract string
	ChainID            int64 // 0 asks the node
	KeyFile            string
	Confirmations      uint64
	PollInterval       time.Duration
}

// Client holds one ContractRPC per ledger contract over a shared connection.
type Client struct {
	eth         *ethclient.Client
	ChainID     *big.Int
	Badges      *ContractRPC
	Credentials *ContractRPC
}

// Dial connects to cfg.RPCURL and binds both contracts. Without a KeyFile
// the contracts are read-only.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	eth, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.RPCURL, err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		if chainID, err = eth.ChainID(ctx); err != nil {
			eth.Close()
			return nil, fmt.Errorf("query chain id: %w", err)
		}
	}

	var opts *bind.TransactOpts
	if cfg.KeyFile != "" {
		key, err := crypto.LoadECDSA(cfg.KeyFile)
		if err != nil {
			eth.Close()
			return nil, fmt.Errorf("load signing key: %w", err)
		}
		if opts, err = bind.NewKeyedTransactorWithChainID(key, chainID); err != nil {
			eth.Close()
			return nil, fmt.Errorf("build transactor: %w", err)
		}
	}

	badges, err := NewContractRPC(eth, cfg.BadgeContract, opts, cfg.Confirmations, cfg.PollInterval)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("badge contract: %w", err)
	}
	creds, err := NewContractRPC(eth, cfg.CredentialContract, opts, cfg.Confirmations, cfg.PollInterval)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("credential contract: %w", err)
	}

	log.Info("Connected to ledger RPC", "url", cfg.RPCURL, "chain", chainID, "signer", opts != nil)
	return &Client{eth: eth, ChainID: chainID, Badges: badges, Credentials: creds}, nil
}

// Close releases the RPC connection.
func (c *Client) Close() {
	c.eth.Close()
}
