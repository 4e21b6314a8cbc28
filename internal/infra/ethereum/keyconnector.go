package ethereum

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/starkpass/starkpass/internal/domain"
)

// KeyConnectorID is the id of the keyfile-backed connector.
const KeyConnectorID = "keyfile"

// KeyConnector is a wallet backed by a hex secp256k1 key on disk. It is
// installed when the file exists and reports a fixed network.
type KeyConnector struct {
	path    string
	network string

	mu        sync.Mutex
	connected bool
}

// NewKeyConnector creates a connector for the key at path on network.
func NewKeyConnector(path, network string) *KeyConnector {
	if network == "" {
		network = domain.NetworkSepolia
	}
	return &KeyConnector{path: path, network: network}
}

func (k *KeyConnector) ID() string { return KeyConnectorID }
func (k *KeyConnector) DisplayName() string { return "Key File" }
func (k *KeyConnector) Icon() string { return "/icons/keyfile.svg" }

// Probe reports whether the key file exists.
func (k *KeyConnector) Probe() bool {
	if k.path == "" {
		return false
	}
	info, err := os.Stat(k.path)
	return err == nil && !info.IsDir()
}

// Connect loads the key. A missing or malformed file is a rejection.
func (k *KeyConnector) Connect(ctx context.Context) (domain.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := crypto.LoadECDSA(k.path)
	if err != nil {
		return nil, fmt.Errorf("load key file: %w", err)
	}
	k.mu.Lock()
	k.connected = true
	k.mu.Unlock()
	return NewKeyAccount(key), nil
}

// Disconnect forgets the connection.
func (k *KeyConnector) Disconnect(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if !k.connected {
		return errors.New("key file wallet not connected")
	}
	k.connected = false
	return nil
}

// NetworkID returns the configured network.
func (k *KeyConnector) NetworkID(ctx context.Context) (string, error) {
	return k.network, nil
}

// OnNetworkChanged never fires: the network is fixed by configuration.
func (k *KeyConnector) OnNetworkChanged(fn func()) func() {
	return func() {}
}
