package gateway

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	xerrors "github.com/JaroAI777/synaps1/internal/errors"
)

func selector(signature string) [4]byte {
	var id [4]byte
	copy(id[:], crypto.Keccak256([]byte(signature))[:4])
	return id
}

func TestMethodSelectors(t *testing.T) {
	cases := []struct {
		name      string
		method    string
		signature string
	}{
		{"openChannel", "openChannel", "openChannel(address,uint256,uint256)"},
		{"fundChannel", "fundChannel", "fundChannel(bytes32,uint256)"},
		{"cooperativeClose", "cooperativeClose", "cooperativeClose(address,uint256,uint256,uint256,bytes,bytes)"},
		{"initiateClose", "initiateClose", "initiateClose(address,uint256,uint256,uint256,bytes,bytes)"},
		{"challengeClose", "challengeClose", "challengeClose(address,uint256,uint256,uint256,bytes,bytes)"},
		{"finalizeClose", "finalizeClose", "finalizeClose(address)"},
		{"getChannelId", "getChannelId", "getChannelId(address,address)"},
		{"channels", "channels", "channels(bytes32)"},
	}
	for _, tc := range cases {
		method, ok := ChannelABI.Methods[tc.method]
		if !ok {
			t.Fatalf("%s missing from channel ABI", tc.method)
		}
		want := selector(tc.signature)
		var got [4]byte
		copy(got[:], method.ID)
		if got != want {
			t.Fatalf("%s selector %x, want %x", tc.name, got, want)
		}
	}
}

func TestFacadeSelectors(t *testing.T) {
	cases := []struct {
		abiName string
		abi     abi.ABI
		methods map[string]string
	}{
		{"token", TokenABI, map[string]string{
			"balanceOf": "balanceOf(address)",
			"transfer":  "transfer(address,uint256)",
			"approve":   "approve(address,uint256)",
			"allowance": "allowance(address,address)",
		}},
		{"router", RouterABI, map[string]string{
			"pay":          "pay(address,uint256,bytes32,bytes)",
			"batchPay":     "batchPay(address[],uint256[],bytes32[],bytes[])",
			"createEscrow": "createEscrow(address,address,uint256,uint256,bytes32,bytes)",
			"createStream": "createStream(address,uint256,uint256,uint256,bytes32)",
		}},
		{"reputation", ReputationABI, map[string]string{
			"registerAgent":  "registerAgent(string,string,uint256)",
			"getTier":        "getTier(address)",
			"getSuccessRate": "getSuccessRate(address)",
			"agents":         "agents(address)",
			"createDispute":  "createDispute(address,string,bytes32)",
			"rateService":    "rateService(address,string,uint8)",
		}},
		{"serviceRegistry", ServiceRegistryABI, map[string]string{
			"registerService":       "registerService(string,string,string,string,uint256,uint8)",
			"getServicesByCategory": "getServicesByCategory(string)",
			"calculatePrice":        "calculatePrice(bytes32,uint256)",
			"services":              "services(bytes32)",
			"requestQuote":          "requestQuote(bytes32,uint256,bytes)",
			"acceptQuote":           "acceptQuote(bytes32)",
		}},
	}
	for _, tc := range cases {
		for name, sig := range tc.methods {
			method, ok := tc.abi.Methods[name]
			if !ok {
				t.Fatalf("%s.%s missing from ABI", tc.abiName, name)
			}
			want := selector(sig)
			var got [4]byte
			copy(got[:], method.ID)
			if got != want {
				t.Fatalf("%s.%s selector %x, want %x", tc.abiName, name, got, want)
			}
		}
	}
}

func TestChannelEventTopics(t *testing.T) {
	opened := crypto.Keccak256Hash([]byte("ChannelOpened(bytes32,address,address,uint256,uint256)"))
	if got := ChannelABI.Events["ChannelOpened"].ID; got != opened {
		t.Fatalf("ChannelOpened topic %s, want %s", got, opened)
	}
	closed := crypto.Keccak256Hash([]byte("ChannelClosed(bytes32,uint256,uint256)"))
	if got := ChannelABI.Events["ChannelClosed"].ID; got != closed {
		t.Fatalf("ChannelClosed topic %s, want %s", got, closed)
	}
	payment := crypto.Keccak256Hash([]byte("Payment(address,address,uint256,uint256,bytes32)"))
	if got := RouterABI.Events["Payment"].ID; got != payment {
		t.Fatalf("Payment topic %s, want %s", got, payment)
	}
}

func TestParseLogChannelOpened(t *testing.T) {
	channelID := crypto.Keccak256Hash([]byte("channel"))
	party1 := common.HexToAddress("0x1111111111111111111111111111111111111111")
	party2 := common.HexToAddress("0x2222222222222222222222222222222222222222")
	deposit1 := big.NewInt(1_000)
	deposit2 := big.NewInt(2_500)

	data, err := ChannelABI.Events["ChannelOpened"].Inputs.NonIndexed().Pack(deposit1, deposit2)
	if err != nil {
		t.Fatalf("pack event data: %v", err)
	}
	log := &coretypes.Log{
		Topics: []common.Hash{
			ChannelABI.Events["ChannelOpened"].ID,
			channelID,
			common.BytesToHash(party1.Bytes()),
			common.BytesToHash(party2.Bytes()),
		},
		Data: data,
	}

	var opened ChannelOpenedEvent
	ok, err := ParseLog(ChannelABI, "ChannelOpened", log, &opened)
	if err != nil {
		t.Fatalf("parse log: %v", err)
	}
	if !ok {
		t.Fatalf("log not recognized")
	}
	if opened.ChannelId != channelID {
		t.Fatalf("channel id %x, want %x", opened.ChannelId, channelID)
	}
	if opened.Party1 != party1 || opened.Party2 != party2 {
		t.Fatalf("parties %s/%s", opened.Party1, opened.Party2)
	}
	if opened.Deposit1.Cmp(deposit1) != 0 || opened.Deposit2.Cmp(deposit2) != 0 {
		t.Fatalf("deposits %s/%s", opened.Deposit1, opened.Deposit2)
	}
}

func TestParseLogSkipsOtherEvents(t *testing.T) {
	log := &coretypes.Log{
		Topics: []common.Hash{ChannelABI.Events["ChannelClosed"].ID},
	}
	var opened ChannelOpenedEvent
	ok, err := ParseLog(ChannelABI, "ChannelOpened", log, &opened)
	if err != nil {
		t.Fatalf("parse log: %v", err)
	}
	if ok {
		t.Fatalf("foreign log reported as ChannelOpened")
	}
}

func TestChannelStatusString(t *testing.T) {
	cases := map[ChannelStatus]string{
		ChannelNone:      "none",
		ChannelOpen:      "open",
		ChannelClosing:   "closing",
		ChannelClosed:    "closed",
		ChannelStatus(9): "invalid",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Fatalf("status %d string %q, want %q", status, got, want)
		}
	}
}

func TestClassifyCallError(t *testing.T) {
	reverted := classifyCallError(errors.New("execution reverted: channel not open"), "initiateClose")
	if xerrors.CodeOf(reverted) != xerrors.CodeContract {
		t.Fatalf("revert classified as %s", xerrors.CodeOf(reverted))
	}
	network := classifyCallError(errors.New("connection refused"), "channels")
	if xerrors.CodeOf(network) != xerrors.CodeProvider {
		t.Fatalf("network error classified as %s", xerrors.CodeOf(network))
	}
	if !xerrors.RetryableError(network) {
		t.Fatalf("provider error should be retryable")
	}
	if xerrors.RetryableError(reverted) {
		t.Fatalf("contract error should not be retryable")
	}
}
