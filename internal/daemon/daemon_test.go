package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/starkpass/starkpass/internal/app/wallet"
	"github.com/starkpass/starkpass/internal/domain"
	"github.com/starkpass/starkpass/internal/infra/ethereum"
)

func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Storage.Dir = t.TempDir()
	cfg.Ledger.MockReadLatency = 0
	cfg.Ledger.MockMintLatency = 0
	return cfg
}

func newDaemon(t *testing.T, cfg Config) *Daemon {
	t.Helper()
	d, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestNew_MockStack(t *testing.T) {
	d := newDaemon(t, testConfig(t))

	if d.Ledger.Name() != "mock" {
		t.Errorf("ledger = %q, want mock", d.Ledger.Name())
	}
	if n := len(d.Registry.All()); n != 1 {
		t.Errorf("connectors = %d, want 1", n)
	}

	ctx := context.Background()
	sess, err := d.Sessions.Connect(ctx, wallet.MockConnectorID)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	state, err := d.Profile.LoadForAddress(ctx, sess.Address)
	if err != nil {
		t.Fatalf("LoadForAddress: %v", err)
	}
	if len(state.Badges) != 3 || len(state.Credentials) != 3 {
		t.Errorf("starter holdings = %d badges, %d credentials; want 3 and 3", len(state.Badges), len(state.Credentials))
	}
}

func TestNew_KeyFileConnector(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	cfg := testConfig(t)
	cfg.Wallet.KeyFile = t.TempDir() + "/wallet.key"
	if err := crypto.SaveECDSA(cfg.Wallet.KeyFile, key); err != nil {
		t.Fatal(err)
	}
	d := newDaemon(t, cfg)

	if n := len(d.Registry.ListAvailable()); n != 2 {
		t.Fatalf("available connectors = %d, want 2", n)
	}
	sess, err := d.Sessions.Connect(context.Background(), ethereum.KeyConnectorID)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if want := crypto.PubkeyToAddress(key.PublicKey).Hex(); domain.NormalizeAddress(sess.Address) != domain.NormalizeAddress(want) {
		t.Errorf("address = %s, want %s", sess.Address, want)
	}
}

func TestMockKey_PersistsAcrossRestarts(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	d1, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s1, err := d1.Sessions.Connect(ctx, wallet.MockConnectorID)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	d1.Close()

	d2 := newDaemon(t, cfg)
	s2, err := d2.Restore(ctx)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if !s2.IsConnected() {
		t.Fatalf("session not restored: %+v", s2)
	}
	if s1.Address != s2.Address {
		t.Errorf("mock address changed across restart: %s -> %s", s1.Address, s2.Address)
	}
	if got := d2.Profile.State().Address; got != s2.Address {
		t.Errorf("profile address = %q, want restored %q", got, s2.Address)
	}
}

func TestNew_Errors(t *testing.T) {
	cfg := testConfig(t)
	cfg.Content.File = t.TempDir() + "/missing.toml"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Error("expected content load error")
	}

	cfg = testConfig(t)
	cfg.Ledger.Mode = "remote"
	if _, err := New(context.Background(), cfg); err == nil {
		t.Error("expected remote dial error without rpc url")
	}
}

func TestHandler_Routes(t *testing.T) {
	cfg := testConfig(t)
	cfg.API.Metrics = true
	d := newDaemon(t, cfg)
	h := d.Handler()

	for _, path := range []string{"/health", "/metrics", "/api/debug/spans", "/api/wallet/connectors"} {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, w.Code)
		}
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/profile/reload", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("POST /api/profile/reload = %d, want 401", w.Code)
	}
}

func TestServe_FollowsSession(t *testing.T) {
	cfg := testConfig(t)
	cfg.API.Port = freePort(t)
	d := newDaemon(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx) }()

	base := "http://" + cfg.API.Addr()
	waitFor(t, func() bool {
		resp, err := http.Get(base + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	})

	// Connecting through the store (not the API) must still load the profile.
	sess, err := d.Sessions.Connect(context.Background(), wallet.MockConnectorID)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	waitFor(t, func() bool { return d.Profile.State().Address == sess.Address })

	resp, err := http.Get(base + "/api/profile")
	if err != nil {
		t.Fatalf("GET profile: %v", err)
	}
	var state domain.ProfileState
	err = json.NewDecoder(resp.Body).Decode(&state)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.Address != sess.Address {
		t.Errorf("served profile address = %q, want %q", state.Address, sess.Address)
	}

	d.Sessions.Disconnect(context.Background())
	waitFor(t, func() bool { return d.Profile.State().Address == "" })

	cancel()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("Serve: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not stop")
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	port := srv.Listener.Addr().(*net.TCPAddr).Port
	srv.Close()
	return port
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
