package synapse

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/JaroAI777/synaps1/internal/channel"
	"github.com/JaroAI777/synaps1/internal/codec"
	"github.com/JaroAI777/synaps1/internal/config"
	xerrors "github.com/JaroAI777/synaps1/internal/errors"
	"github.com/JaroAI777/synaps1/internal/wallet"
)

func testClient(t *testing.T) *Client {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	return assemble(&config.Config{}, wallet.FromKey(key), nil, channel.NewMemoryStore())
}

func TestSignChannelState(t *testing.T) {
	client := testClient(t)
	channelID := codec.Keccak([]byte("channel"))

	sig, err := client.SignChannelState(channelID, big.NewInt(70), big.NewInt(30), 4)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if len(sig) != wallet.SignatureLength {
		t.Fatalf("signature length %d", len(sig))
	}

	digest := codec.StateDigest(channelID, big.NewInt(70), big.NewInt(30), 4)
	recovered, err := wallet.RecoverSigner(digest, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if recovered != client.Address() {
		t.Fatalf("recovered %s, want %s", recovered, client.Address())
	}
}

func TestSignChannelStateRejectsInvalidState(t *testing.T) {
	client := testClient(t)
	channelID := codec.Keccak([]byte("channel"))

	if _, err := client.SignChannelState(channelID, big.NewInt(-1), big.NewInt(1), 0); err == nil {
		t.Fatalf("negative balance signed")
	}
	if _, err := client.SignChannelState(channelID, nil, big.NewInt(1), 0); err == nil {
		t.Fatalf("nil balance signed")
	}
}

func TestApprovalSpendersCoverAllPullingContracts(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	cfg := &config.Config{}
	cfg.Contracts.PaymentRouter = "0x0000000000000000000000000000000000000001"
	cfg.Contracts.Reputation = "0x0000000000000000000000000000000000000002"
	cfg.Contracts.ServiceRegistry = "0x0000000000000000000000000000000000000003"
	cfg.Contracts.Channel = "0x0000000000000000000000000000000000000004"
	client := assemble(cfg, wallet.FromKey(key), nil, channel.NewMemoryStore())

	spenders := client.approvalSpenders()
	if len(spenders) != 4 {
		t.Fatalf("spender count %d, want 4", len(spenders))
	}
	want := map[common.Address]bool{
		cfg.Contracts.PaymentRouterAddress():   true,
		cfg.Contracts.ReputationAddress():      true,
		cfg.Contracts.ServiceRegistryAddress(): true,
		cfg.Contracts.ChannelAddress():         true,
	}
	for _, spender := range spenders {
		if !want[spender] {
			t.Fatalf("unexpected spender %s", spender)
		}
		delete(want, spender)
	}
	if len(want) != 0 {
		t.Fatalf("missing spenders %v", want)
	}
}

func TestOpenStoreDrivers(t *testing.T) {
	store, err := openStore(&config.Config{})
	if err != nil {
		t.Fatalf("default store: %v", err)
	}
	if _, ok := store.(*channel.MemoryStore); !ok {
		t.Fatalf("default store is %T, want memory", store)
	}

	cfg := &config.Config{}
	cfg.Storage.ChannelStore.Driver = "bolt"
	if _, err := openStore(cfg); err == nil {
		t.Fatalf("unknown driver accepted")
	} else if xerrors.CodeOf(err) != xerrors.CodeConfig {
		t.Fatalf("driver error %s", xerrors.CodeOf(err))
	}
}
