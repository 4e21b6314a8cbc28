package ethereum

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// KeyAccount is a wallet account backed by a local secp256k1 key.
type KeyAccount struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewKeyAccount wraps key as an account.
func NewKeyAccount(key *ecdsa.PrivateKey) *KeyAccount {
	return &KeyAccount{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// Address returns the checksummed hex address.
func (a *KeyAccount) Address() string {
	return a.address.Hex()
}

// SignMessage signs payload as an EIP-191 personal message and returns the
// 65-byte [R || S || V] signature hex encoded, with V in {27, 28}.
func (a *KeyAccount) SignMessage(ctx context.Context, payload []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sig, err := crypto.Sign(accounts.TextHash(payload), a.key)
	if err != nil {
		return "", fmt.Errorf("sign message: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}

// RecoverSigner returns the address that produced a SignMessage signature.
func RecoverSigner(payload []byte, signature string) (string, error) {
	sig, err := hexutil.Decode(signature)
	if err != nil {
		return "", fmt.Errorf("decode signature: %w", err)
	}
	if len(sig) != crypto.SignatureLength {
		return "", fmt.Errorf("signature length %d, want %d", len(sig), crypto.SignatureLength)
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(accounts.TextHash(payload), sig)
	if err != nil {
		return "", fmt.Errorf("recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub).Hex(), nil
}

// EncodeKey returns key as hex without a 0x prefix, the format LoadECDSA reads.
func EncodeKey(key *ecdsa.PrivateKey) string {
	return hex.EncodeToString(crypto.FromECDSA(key))
}

// DecodeKey parses a key produced by EncodeKey. A 0x prefix is tolerated.
func DecodeKey(s string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	return key, nil
}
