package channel

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "github.com/JaroAI777/synaps1/internal/errors"
	"github.com/JaroAI777/synaps1/internal/wallet"
)

func storedState(t *testing.T, nonce uint64) StoredState {
	t.Helper()
	key1, _ := crypto.GenerateKey()
	key2, _ := crypto.GenerateKey()
	pair, err := NewPair(wallet.FromKey(key1).Address(), wallet.FromKey(key2).Address())
	if err != nil {
		t.Fatalf("pair: %v", err)
	}
	return StoredState{
		Pair: pair,
		State: SignedState{
			State: State{
				ChannelID: pair.ChannelID(),
				Balance1:  big.NewInt(60),
				Balance2:  big.NewInt(40),
				Nonce:     nonce,
			},
		},
	}
}

func TestMemoryStoreSaveAndLatest(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	first := storedState(t, 1)

	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := store.Latest(ctx, first.State.State.ChannelID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.State.State.Nonce != 1 {
		t.Fatalf("nonce %d, want 1", got.State.State.Nonce)
	}
}

func TestMemoryStoreKeepsNewestNonce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	newer := storedState(t, 5)
	if err := store.Save(ctx, newer); err != nil {
		t.Fatalf("save newer: %v", err)
	}

	older := newer
	older.State.State = newer.State.State.Clone()
	older.State.State.Nonce = 3
	older.State.State.Balance1 = big.NewInt(1)
	older.State.State.Balance2 = big.NewInt(99)
	if err := store.Save(ctx, older); err != nil {
		t.Fatalf("save older: %v", err)
	}

	got, err := store.Latest(ctx, newer.State.State.ChannelID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if got.State.State.Nonce != 5 {
		t.Fatalf("older state overwrote newer, nonce %d", got.State.State.Nonce)
	}
	if got.State.State.Balance1.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("balance1 %s, want 60", got.State.State.Balance1)
	}
}

func TestMemoryStoreLatestUnknownChannel(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Latest(context.Background(), [32]byte{0xde, 0xad})
	if err == nil {
		t.Fatalf("unknown channel returned a state")
	}
	if xerrors.CodeOf(err) != xerrors.CodeChannelNotFound {
		t.Fatalf("unknown channel error %s", xerrors.CodeOf(err))
	}
}

func TestMemoryStoreList(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	a := storedState(t, 1)
	b := storedState(t, 2)
	if err := store.Save(ctx, a); err != nil {
		t.Fatalf("save a: %v", err)
	}
	if err := store.Save(ctx, b); err != nil {
		t.Fatalf("save b: %v", err)
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("list %d entries, want 2", len(all))
	}

	// The listed states are copies; mutating them must not touch the
	// stored ones.
	all[0].State.State.Balance1.SetInt64(-1)
	latest, err := store.Latest(ctx, all[0].State.State.ChannelID)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if latest.State.State.Balance1.Sign() < 0 {
		t.Fatalf("listed state aliases the stored one")
	}
}

func TestMemoryTransportRoundTrip(t *testing.T) {
	transport := NewMemoryTransport(8)
	defer transport.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Envelope, 1)
	transport.Consume(ctx, 1, func(_ context.Context, env Envelope) error {
		received <- env
		return nil
	})

	env := RejectionEnvelope("p-1", [32]byte{1}, common.Address{}, xerrors.New(xerrors.CodeChannelNotOpen, "closing"))
	if err := transport.Publish(ctx, env); err != nil {
		t.Fatalf("publish: %v", err)
	}

	got := <-received
	if got.Kind != KindRejection || got.ID != "p-1" {
		t.Fatalf("received %+v", got)
	}
	if got.Code != xerrors.CodeChannelNotOpen {
		t.Fatalf("rejection code %s", got.Code)
	}
}
