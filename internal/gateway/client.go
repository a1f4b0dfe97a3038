// Package gateway wraps the EVM node connection and the contract call
// and transaction plumbing shared by every protocol facade.
package gateway

import (
	"context"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "github.com/JaroAI777/synaps1/internal/errors"
	"github.com/JaroAI777/synaps1/internal/wallet"
)

// Backend is the node surface the gateway needs: contract calls,
// transaction submission and receipt lookups.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
	BlockNumber(ctx context.Context) (uint64, error)
}

// Config describes how to reach an EVM endpoint.
type Config struct {
	Name    string
	RPCURL  string
	ChainID int64
	Timeout time.Duration
}

// Client is a connection to one EVM network. It is safe for concurrent
// use; transaction submission is serialized to keep account nonces in
// order.
type Client struct {
	name    string
	rpc     *gethrpc.Client
	backend Backend
	commit  func() common.Hash
	chainID *big.Int
	signer  *wallet.Signer
	timeout time.Duration

	txMu    sync.Mutex
	closeMu sync.Mutex
}

// NewClient dials the configured RPC endpoint. The signer may be nil for
// read-only use. When cfg.ChainID is set it is checked against the node.
func NewClient(ctx context.Context, cfg Config, signer *wallet.Signer) (*Client, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeConfig, "rpc url must not be empty")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeProvider, err, "dial rpc endpoint")
	}
	eth := ethclient.NewClient(rpcClient)

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		rpcClient.Close()
		return nil, xerrors.Wrap(xerrors.CodeProvider, err, "query chain id")
	}
	if cfg.ChainID != 0 && chainID.Int64() != cfg.ChainID {
		rpcClient.Close()
		return nil, xerrors.New(xerrors.CodeConfig, "chain id mismatch",
			xerrors.WithMetadata("configured", strconv.FormatInt(cfg.ChainID, 10)),
			xerrors.WithMetadata("node", chainID.String()))
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		name:    cfg.Name,
		rpc:     rpcClient,
		backend: eth,
		chainID: chainID,
		signer:  signer,
		timeout: timeout,
	}, nil
}

// NewSimulatedClient wraps an in-process simulated chain for tests. Every
// transaction is committed into a block immediately after submission.
func NewSimulatedClient(chainID *big.Int, backend *simulated.Backend, signer *wallet.Signer) *Client {
	return &Client{
		name:    "simulated",
		backend: backend.Client(),
		commit:  backend.Commit,
		chainID: new(big.Int).Set(chainID),
		signer:  signer,
		timeout: 30 * time.Second,
	}
}

// Close releases the network connection.
func (c *Client) Close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.rpc != nil {
		c.rpc.Close()
		c.rpc = nil
	}
}

// ChainID returns the connected network's chain id.
func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

// Signer returns the configured signer, or nil for read-only clients.
func (c *Client) Signer() *wallet.Signer {
	return c.signer
}

// NetworkInfo is a lightweight snapshot of the connected network.
type NetworkInfo struct {
	Name        string
	ChainID     *big.Int
	BlockNumber uint64
	GasPrice    *big.Int
}

// FetchNetworkInfo gathers chain id, head block and gas price.
func (c *Client) FetchNetworkInfo(ctx context.Context) (NetworkInfo, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	blockNumber, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return NetworkInfo{}, xerrors.Wrap(xerrors.CodeProvider, err, "query block number")
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return NetworkInfo{}, xerrors.Wrap(xerrors.CodeProvider, err, "query gas price")
	}
	return NetworkInfo{
		Name:        c.name,
		ChainID:     c.ChainID(),
		BlockNumber: blockNumber,
		GasPrice:    gasPrice,
	}, nil
}

// Call executes a read-only contract method and unpacks the results into
// out.
func (c *Client) Call(ctx context.Context, to common.Address, contractABI abi.ABI, method string, out *[]any, args ...any) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	bound := bind.NewBoundContract(to, contractABI, c.backend, c.backend, c.backend)
	if err := bound.Call(&bind.CallOpts{Context: ctx}, out, method, args...); err != nil {
		return classifyCallError(err, method)
	}
	return nil
}

// Transact signs and submits a state-changing contract method, waits for
// it to be mined, and returns the receipt. A reverted transaction is an
// error.
func (c *Client) Transact(ctx context.Context, to common.Address, contractABI abi.ABI, method string, value *big.Int, args ...any) (*coretypes.Receipt, error) {
	if c.signer == nil {
		return nil, xerrors.New(xerrors.CodeWallet, "client has no signing key")
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	c.txMu.Lock()
	tx, err := c.submit(ctx, to, contractABI, method, value, args...)
	c.txMu.Unlock()
	if err != nil {
		return nil, err
	}

	receipt, err := bind.WaitMined(ctx, c.backend, tx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "wait for transaction "+tx.Hash().Hex())
		}
		return nil, xerrors.Wrap(xerrors.CodeProvider, err, "wait for transaction "+tx.Hash().Hex())
	}
	if receipt.Status != coretypes.ReceiptStatusSuccessful {
		return nil, xerrors.New(xerrors.CodeTransactionFailed, "transaction reverted",
			xerrors.WithMetadata("tx_hash", tx.Hash().Hex()),
			xerrors.WithMetadata("method", method),
			xerrors.WithMetadata("block", receipt.BlockNumber.String()))
	}
	return receipt, nil
}

func (c *Client) submit(ctx context.Context, to common.Address, contractABI abi.ABI, method string, value *big.Int, args ...any) (*coretypes.Transaction, error) {
	auth, err := bind.NewKeyedTransactorWithChainID(c.signer.Key(), c.chainID)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeWallet, err, "build transactor")
	}
	auth.Context = ctx
	if value != nil {
		auth.Value = new(big.Int).Set(value)
	}

	bound := bind.NewBoundContract(to, contractABI, c.backend, c.backend, c.backend)
	tx, err := bound.Transact(auth, method, args...)
	if err != nil {
		return nil, classifyCallError(err, method)
	}
	if c.commit != nil {
		c.commit()
	}
	return tx, nil
}

// ParseLog unpacks a receipt log emitted by contractABI's eventName into
// out. Logs from other events report false.
func ParseLog(contractABI abi.ABI, eventName string, log *coretypes.Log, out any) (bool, error) {
	event, ok := contractABI.Events[eventName]
	if !ok {
		return false, xerrors.New(xerrors.CodeContract, "unknown event: "+eventName)
	}
	if len(log.Topics) == 0 || log.Topics[0] != event.ID {
		return false, nil
	}
	bound := bind.NewBoundContract(log.Address, contractABI, nil, nil, nil)
	if err := bound.UnpackLog(out, eventName, *log); err != nil {
		return false, xerrors.Wrap(xerrors.CodeContract, err, "unpack "+eventName+" log")
	}
	return true, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// classifyCallError separates contract-level rejections from transport
// failures so callers can decide about retries.
func classifyCallError(err error, method string) error {
	msg := err.Error()
	if strings.Contains(msg, "execution reverted") || strings.Contains(msg, "revert") {
		return xerrors.Wrap(xerrors.CodeContract, err, "contract rejected "+method)
	}
	if strings.Contains(msg, "method") && strings.Contains(msg, "not found") {
		return xerrors.Wrap(xerrors.CodeContract, err, "unknown contract method "+method)
	}
	return xerrors.Wrap(xerrors.CodeProvider, err, "call "+method)
}
