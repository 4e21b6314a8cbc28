package daemon

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	"github.com/starkpass/starkpass/internal/api"
	"github.com/starkpass/starkpass/internal/app/ledger"
	"github.com/starkpass/starkpass/internal/app/profile"
	"github.com/starkpass/starkpass/internal/app/wallet"
	"github.com/starkpass/starkpass/internal/domain"
	"github.com/starkpass/starkpass/internal/infra/content"
	"github.com/starkpass/starkpass/internal/infra/ethereum"
	"github.com/starkpass/starkpass/internal/infra/observability"
	"github.com/starkpass/starkpass/internal/infra/sqlite"
)

// MockKeyPersistKey holds the mock wallet's private key so the mock address
// survives restarts.
const MockKeyPersistKey = "starkpass_mock_key"

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// Daemon is the assembled application.
type Daemon struct {
	Config   Config
	DB       *sqlite.DB
	Catalog  *content.Catalog
	Registry *wallet.Registry
	Sessions *wallet.Store
	Ledger   domain.Ledger
	Profile  *profile.Aggregator
	Events   *api.EventHub
	Tracer   *observability.Tracer

	eth *ethereum.Client
	log log.Logger
}

// New builds every component from cfg. Nothing touches the network except
// the remote ledger dial.
func New(ctx context.Context, cfg Config) (*Daemon, error) {
	d := &Daemon{Config: cfg, log: log.New("component", "daemon")}

	db, err := sqlite.Open(cfg.Storage.Dir)
	if err != nil {
		return nil, err
	}
	d.DB = db

	if err := d.build(ctx); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) build(ctx context.Context) error {
	cfg := d.Config

	var err error
	if cfg.Content.File != "" {
		d.Catalog, err = content.LoadFile(cfg.Content.File)
	} else {
		d.Catalog, err = content.Load()
	}
	if err != nil {
		return fmt.Errorf("load content: %w", err)
	}

	// Wallet
	storage := d.DB.LocalStorage()
	key, err := mockKey(storage)
	if err != nil {
		return err
	}
	mock, err := wallet.NewMockConnector(key)
	if err != nil {
		return err
	}
	d.Registry = wallet.NewRegistry(mock)
	if cfg.Wallet.KeyFile != "" {
		d.Registry.Register(ethereum.NewKeyConnector(cfg.Wallet.KeyFile, cfg.Wallet.Network))
	}
	d.Sessions = wallet.NewStore(d.Registry, storage)

	// Ledger
	d.Tracer = observability.NewTracer(observability.TracerConfig{
		Enabled:  cfg.Tracing.Enabled,
		MaxSpans: cfg.Tracing.MaxSpans,
	})
	mode, err := ledger.ParseMode(cfg.Ledger.Mode)
	if err != nil {
		return err
	}
	inner, err := ledger.Select(mode, d.mockLedger, func() (domain.Ledger, error) {
		return d.remoteLedger(ctx)
	})
	if err != nil {
		return fmt.Errorf("build %s ledger: %w", mode, err)
	}
	d.Ledger = ledger.Guard(inner, cfg.Ledger.MintTimeout, d.Tracer)

	// Profile
	d.Profile = profile.New(profile.Deps{
		Ledger:      d.Ledger,
		Session:     d.Sessions,
		Content:     d.Catalog,
		Completions: d.DB,
		Campaigns:   d.DB,
		Stats:       d.DB,
		Tracer:      d.Tracer,
	})
	d.Events = api.NewEventHub()
	d.Profile.Subscribe(d.Events.Publish)

	d.log.Debug("Daemon assembled", "ledger", d.Ledger.Name(), "connectors", len(d.Registry.All()))
	return nil
}

func (d *Daemon) mockLedger() (domain.Ledger, error) {
	mc := ledger.DefaultMockConfig()
	mc.ReadLatency = d.Config.Ledger.MockReadLatency
	mc.MintLatency = d.Config.Ledger.MockMintLatency
	mc.Starter = d.Catalog.StarterHoldings()
	return ledger.NewMock(mc), nil
}

func (d *Daemon) remoteLedger(ctx context.Context) (domain.Ledger, error) {
	lc := d.Config.Ledger
	client, err := ethereum.Dial(ctx, ethereum.Config{
		RPCURL:             lc.RPCURL,
		BadgeContract:      lc.BadgeContract,
		CredentialContract: lc.CredentialContract,
		ChainID:            lc.ChainID,
		KeyFile:            lc.KeyFile,
		Confirmations:      lc.Confirmations,
		PollInterval:       lc.PollInterval,
	})
	if err != nil {
		return nil, err
	}
	d.eth = client
	return ledger.NewRemote(client.Badges, client.Credentials, lc.RatePerSecond), nil
}

// mockKey loads the persisted mock wallet key, generating one on first run.
func mockKey(storage domain.LocalStorage) (*ecdsa.PrivateKey, error) {
	raw, ok, err := storage.Get(MockKeyPersistKey)
	if err != nil {
		return nil, fmt.Errorf("read mock wallet key: %w", err)
	}
	if ok {
		if key, err := ethereum.DecodeKey(raw); err == nil {
			return key, nil
		}
		log.Warn("Discarding unreadable mock wallet key")
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate mock wallet key: %w", err)
	}
	if err := storage.Set(MockKeyPersistKey, ethereum.EncodeKey(key)); err != nil {
		return nil, fmt.Errorf("persist mock wallet key: %w", err)
	}
	return key, nil
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// Restore reconnects the persisted wallet and, if that succeeds, loads its
// profile.
func (d *Daemon) Restore(ctx context.Context) (domain.Session, error) {
	sess := d.Sessions.Restore(ctx)
	if !sess.IsConnected() {
		return sess, nil
	}
	if _, err := d.Profile.LoadForAddress(ctx, sess.Address); err != nil {
		return sess, fmt.Errorf("load profile: %w", err)
	}
	return sess, nil
}

// Handler builds the HTTP handler.
func (d *Daemon) Handler() http.Handler {
	srv := api.NewServer(d.Registry, d.Sessions, d.Profile)
	srv.SetEventHub(d.Events)
	if d.Config.Tracing.Enabled {
		srv.SetTracer(d.Tracer)
	}
	if d.Config.API.Metrics {
		srv.EnableMetrics()
	}
	return srv.Handler()
}

// Serve follows session transitions and runs the HTTP server until ctx ends.
func (d *Daemon) Serve(ctx context.Context) error {
	unsubscribe := d.Sessions.Subscribe(d.Profile.OnSession)
	defer unsubscribe()

	if sess, err := d.Restore(ctx); err != nil {
		d.log.Warn("Profile restore failed", "address", sess.Address, "err", err)
	}

	httpServer := &http.Server{
		Addr:              d.Config.API.Addr(),
		Handler:           d.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		d.log.Info("StarkPass API listening", "addr", httpServer.Addr, "ledger", d.Ledger.Name())
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		err := httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		d.log.Info("StarkPass API stopped")
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// Close releases the database and any RPC connection.
func (d *Daemon) Close() error {
	if d.eth != nil {
		d.eth.Close()
		d.eth = nil
	}
	if d.DB != nil {
		err := d.DB.Close()
		d.DB = nil
		return err
	}
	return nil
}
