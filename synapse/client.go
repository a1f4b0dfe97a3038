// Package synapse is the public SDK surface of the SYNAPSE protocol. A
// Client bundles the wallet, the contract bindings and the payment
// channel machinery behind one handle so callers deal with a single
// import.
package synapse

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient/simulated"

	"github.com/JaroAI777/synaps1/internal/channel"
	"github.com/JaroAI777/synaps1/internal/config"
	xerrors "github.com/JaroAI777/synaps1/internal/errors"
	"github.com/JaroAI777/synaps1/internal/gateway"
	"github.com/JaroAI777/synaps1/internal/wallet"
	"github.com/JaroAI777/synaps1/pkg/logger"
)

// Re-exported domain types so callers need no internal imports.
type (
	ChannelStatus = gateway.ChannelStatus
	ChannelRecord = gateway.ChannelRecord
	AgentRecord   = gateway.AgentRecord
	ServiceRecord = gateway.ServiceRecord
	PaymentResult = gateway.PaymentResult
	Tier          = gateway.Tier
	PricingModel  = gateway.PricingModel
	NetworkInfo   = gateway.NetworkInfo

	Session  = channel.Session
	Update   = channel.Update
	Envelope = channel.Envelope
	Producer = channel.Producer
)

const (
	ChannelNone    = gateway.ChannelNone
	ChannelOpen    = gateway.ChannelOpen
	ChannelClosing = gateway.ChannelClosing
	ChannelClosed  = gateway.ChannelClosed
)

// Client is the SDK entry point. All operations go through the signer
// configured at construction.
type Client struct {
	cfg    *config.Config
	signer *wallet.Signer
	gw     *gateway.Client

	token      *gateway.TokenContract
	router     *gateway.RouterContract
	reputation *gateway.ReputationContract
	services   *gateway.ServiceRegistryContract
	channel    *gateway.ChannelContract

	store    channel.Store
	channels *channel.Service
}

// NewClient dials the configured RPC endpoint and wires every contract
// binding from cfg.
func NewClient(ctx context.Context, cfg *config.Config) (*Client, error) {
	signer, err := wallet.NewSigner(cfg.Wallet.PrivateKey)
	if err != nil {
		return nil, err
	}
	gw, err := gateway.NewClient(ctx, gateway.Config{
		Name:    cfg.Network.Name,
		RPCURL:  cfg.Network.RPCURL,
		ChainID: cfg.Network.ChainID,
		Timeout: cfg.Network.Timeout(),
	}, signer)
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		gw.Close()
		return nil, err
	}
	return assemble(cfg, signer, gw, store), nil
}

// NewSimulatedClient wires the SDK against an in-process simulated
// backend, used by integration tests and local tooling.
func NewSimulatedClient(chainID *big.Int, backend *simulated.Backend, signer *wallet.Signer, contracts config.ContractsConfig) *Client {
	cfg := &config.Config{Contracts: contracts}
	gw := gateway.NewSimulatedClient(chainID, backend, signer)
	return assemble(cfg, signer, gw, channel.NewMemoryStore())
}

func assemble(cfg *config.Config, signer *wallet.Signer, gw *gateway.Client, store channel.Store) *Client {
	channelContract := gateway.NewChannelContract(gw, cfg.Contracts.ChannelAddress())
	machine := channel.NewMachine(signer, store)
	return &Client{
		cfg:        cfg,
		signer:     signer,
		gw:         gw,
		token:      gateway.NewTokenContract(gw, cfg.Contracts.TokenAddress()),
		router:     gateway.NewRouterContract(gw, cfg.Contracts.PaymentRouterAddress()),
		reputation: gateway.NewReputationContract(gw, cfg.Contracts.ReputationAddress()),
		services:   gateway.NewServiceRegistryContract(gw, cfg.Contracts.ServiceRegistryAddress()),
		channel:    channelContract,
		store:      store,
		channels:   channel.NewService(channelContract, machine),
	}
}

func openStore(cfg *config.Config) (channel.Store, error) {
	switch cfg.Storage.ChannelStore.Driver {
	case "", "memory":
		return channel.NewMemoryStore(), nil
	case "mysql":
		return channel.NewMySQLStore(cfg.Storage.ChannelStore.DSN)
	default:
		return nil, xerrors.New(xerrors.CodeConfig, "unknown channel store driver: "+cfg.Storage.ChannelStore.Driver)
	}
}

// Close releases the RPC connection and the channel store.
func (c *Client) Close() error {
	c.gw.Close()
	if err := c.store.Close(); err != nil {
		return err
	}
	return logger.Sync()
}

// Address returns the signer address all operations act as.
func (c *Client) Address() common.Address {
	return c.signer.Address()
}

// ChainID returns the chain the client is connected to.
func (c *Client) ChainID() *big.Int {
	return c.gw.ChainID()
}

// NetworkInfo reads the current block height and gas price.
func (c *Client) NetworkInfo(ctx context.Context) (NetworkInfo, error) {
	return c.gw.FetchNetworkInfo(ctx)
}

// Channels exposes the channel lifecycle service for advanced callers:
// transports, watchtowers and direct session access hang off it.
func (c *Client) Channels() *channel.Service {
	return c.channels
}

// --- token ---

// Balance reads the SYNX balance of account in base units.
func (c *Client) Balance(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.token.BalanceOf(ctx, account)
}

// Transfer sends value SYNX base units to recipient.
func (c *Client) Transfer(ctx context.Context, recipient common.Address, value *big.Int) (common.Hash, error) {
	return c.token.Transfer(ctx, recipient, value)
}

// Approve grants spender an allowance of value base units.
func (c *Client) Approve(ctx context.Context, spender common.Address, value *big.Int) (common.Hash, error) {
	return c.token.Approve(ctx, spender, value)
}

// Allowance reads the remaining allowance from owner to spender.
func (c *Client) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	return c.token.Allowance(ctx, owner, spender)
}

// ApproveAll grants every protocol contract an unlimited allowance, the
// usual one-time setup before using payments, staking or channels.
func (c *Client) ApproveAll(ctx context.Context) error {
	for _, spender := range c.approvalSpenders() {
		if _, err := c.token.ApproveMax(ctx, spender); err != nil {
			return err
		}
	}
	return nil
}

// approvalSpenders lists the contracts that pull SYNX from the signer:
// the router for payments, the reputation registry for stakes, the
// service registry for accepted quotes and the channel contract for
// deposits.
func (c *Client) approvalSpenders() []common.Address {
	return []common.Address{
		c.router.Address(),
		c.reputation.Address(),
		c.services.Address(),
		c.channel.Address(),
	}
}

// --- payments ---

// Pay routes a direct payment through the payment router.
func (c *Client) Pay(ctx context.Context, recipient common.Address, value *big.Int, metadata []byte) (*PaymentResult, error) {
	return c.router.Pay(ctx, recipient, value, metadata)
}

// BatchPay settles several payments in one transaction.
func (c *Client) BatchPay(ctx context.Context, recipients []common.Address, values []*big.Int) (common.Hash, [][32]byte, error) {
	return c.router.BatchPay(ctx, recipients, values)
}

// CreateEscrow locks value until release, refund or the deadline.
func (c *Client) CreateEscrow(ctx context.Context, recipient, arbiter common.Address, value *big.Int, deadline time.Time, metadata []byte) (common.Hash, [32]byte, error) {
	return c.router.CreateEscrow(ctx, recipient, arbiter, value, deadline, metadata)
}

// ReleaseEscrow pays the escrowed funds to the recipient.
func (c *Client) ReleaseEscrow(ctx context.Context, escrowID [32]byte) (common.Hash, error) {
	return c.router.ReleaseEscrow(ctx, escrowID)
}

// RefundEscrow returns the escrowed funds to the sender.
func (c *Client) RefundEscrow(ctx context.Context, escrowID [32]byte) (common.Hash, error) {
	return c.router.RefundEscrow(ctx, escrowID)
}

// CreateStream starts a linearly vesting payment.
func (c *Client) CreateStream(ctx context.Context, recipient common.Address, total *big.Int, start, end time.Time) (common.Hash, [32]byte, error) {
	return c.router.CreateStream(ctx, recipient, total, start, end)
}

// --- agents ---

// RegisterAgent stakes tokens and registers the signer as an agent.
func (c *Client) RegisterAgent(ctx context.Context, name, metadataURI string, stake *big.Int) (common.Hash, error) {
	return c.reputation.RegisterAgent(ctx, name, metadataURI, stake)
}

// DeregisterAgent removes the signer's registration.
func (c *Client) DeregisterAgent(ctx context.Context) (common.Hash, error) {
	return c.reputation.DeregisterAgent(ctx)
}

// IncreaseStake adds value to the signer's stake.
func (c *Client) IncreaseStake(ctx context.Context, value *big.Int) (common.Hash, error) {
	return c.reputation.IncreaseStake(ctx, value)
}

// DecreaseStake withdraws value from the signer's stake.
func (c *Client) DecreaseStake(ctx context.Context, value *big.Int) (common.Hash, error) {
	return c.reputation.DecreaseStake(ctx, value)
}

// Agent reads the full record of a registered agent.
func (c *Client) Agent(ctx context.Context, agent common.Address) (AgentRecord, error) {
	return c.reputation.Agent(ctx, agent)
}

// AgentTier reads the reputation tier of agent.
func (c *Client) AgentTier(ctx context.Context, agent common.Address) (Tier, error) {
	return c.reputation.Tier(ctx, agent)
}

// AgentSuccessRate reads the success percentage of agent.
func (c *Client) AgentSuccessRate(ctx context.Context, agent common.Address) (float64, error) {
	return c.reputation.SuccessRate(ctx, agent)
}

// CreateDispute files a dispute against defendant over transactionID
// and returns the dispute id assigned by the contract.
func (c *Client) CreateDispute(ctx context.Context, defendant common.Address, reason string, transactionID [32]byte) ([32]byte, error) {
	return c.reputation.CreateDispute(ctx, defendant, reason, transactionID)
}

// RateService records a 1..5 rating of provider within category.
func (c *Client) RateService(ctx context.Context, provider common.Address, category string, rating uint8) (common.Hash, error) {
	return c.reputation.RateService(ctx, provider, category, rating)
}

// --- services ---

// RegisterService lists a service and returns its contract-assigned id.
func (c *Client) RegisterService(ctx context.Context, name, category, description, endpoint string, basePrice *big.Int, model PricingModel) ([32]byte, error) {
	return c.services.RegisterService(ctx, name, category, description, endpoint, basePrice, model)
}

// UpdateService changes the mutable fields of an owned service.
func (c *Client) UpdateService(ctx context.Context, serviceID [32]byte, description, endpoint string, basePrice *big.Int) (common.Hash, error) {
	return c.services.UpdateService(ctx, serviceID, description, endpoint, basePrice)
}

// ActivateService makes a deactivated service discoverable again.
func (c *Client) ActivateService(ctx context.Context, serviceID [32]byte) (common.Hash, error) {
	return c.services.ActivateService(ctx, serviceID)
}

// DeactivateService hides a service from discovery.
func (c *Client) DeactivateService(ctx context.Context, serviceID [32]byte) (common.Hash, error) {
	return c.services.DeactivateService(ctx, serviceID)
}

// ServicesByCategory lists the ids of active services in category.
func (c *Client) ServicesByCategory(ctx context.Context, category string) ([][32]byte, error) {
	return c.services.ServicesByCategory(ctx, category)
}

// ServicePrice quotes quantity units of a service.
func (c *Client) ServicePrice(ctx context.Context, serviceID [32]byte, quantity *big.Int) (*big.Int, error) {
	return c.services.CalculatePrice(ctx, serviceID, quantity)
}

// Service reads the full record of a listed service.
func (c *Client) Service(ctx context.Context, serviceID [32]byte) (ServiceRecord, error) {
	return c.services.Service(ctx, serviceID)
}

// RequestQuote asks a provider to price quantity units of serviceID and
// returns the quote id assigned by the contract.
func (c *Client) RequestQuote(ctx context.Context, serviceID [32]byte, quantity *big.Int, specs []byte) ([32]byte, error) {
	return c.services.RequestQuote(ctx, serviceID, quantity, specs)
}

// AcceptQuote accepts a previously issued quote and pays it.
func (c *Client) AcceptQuote(ctx context.Context, quoteID [32]byte) (common.Hash, error) {
	return c.services.AcceptQuote(ctx, quoteID)
}

// --- payment channels ---

// OpenChannel opens a channel with counterparty and starts tracking it.
func (c *Client) OpenChannel(ctx context.Context, counterparty common.Address, myDeposit, theirDeposit *big.Int) (*Session, error) {
	return c.channels.Open(ctx, counterparty, myDeposit, theirDeposit)
}

// AttachChannel starts tracking a channel that already exists on chain.
func (c *Client) AttachChannel(ctx context.Context, counterparty common.Address) (*Session, error) {
	return c.channels.Attach(ctx, counterparty)
}

// FundChannel adds value to the local side of an open channel.
func (c *Client) FundChannel(ctx context.Context, channelID [32]byte, value *big.Int) (common.Hash, error) {
	return c.channels.Fund(ctx, channelID, value)
}

// ChannelSession returns the tracked session for channelID.
func (c *Client) ChannelSession(channelID [32]byte) (*Session, error) {
	return c.channels.Machine().Session(channelID)
}

// ProposeChannelPayment signs the next off-chain state moving value to
// the counterparty and returns the update to send to them.
func (c *Client) ProposeChannelPayment(channelID [32]byte, value *big.Int) (*Update, error) {
	session, err := c.channels.Machine().Session(channelID)
	if err != nil {
		return nil, err
	}
	return session.ProposePayment(value)
}

// HandleChannelEnvelope routes an incoming transport envelope, replying
// on reply when one is needed.
func (c *Client) HandleChannelEnvelope(ctx context.Context, env Envelope, reply Producer) error {
	return c.channels.HandleEnvelope(ctx, env, reply)
}

// CooperativeCloseChannel settles the channel at the latest
// countersigned state.
func (c *Client) CooperativeCloseChannel(ctx context.Context, channelID [32]byte) (common.Hash, error) {
	return c.channels.CooperativeClose(ctx, channelID)
}

// InitiateCloseChannel starts a unilateral close, opening the challenge
// window.
func (c *Client) InitiateCloseChannel(ctx context.Context, channelID [32]byte) (common.Hash, error) {
	return c.channels.InitiateClose(ctx, channelID)
}

// ChallengeChannelClose overrides a pending close with the latest
// countersigned state.
func (c *Client) ChallengeChannelClose(ctx context.Context, channelID [32]byte) (common.Hash, error) {
	return c.channels.Challenge(ctx, channelID)
}

// FinalizeChannelClose pays out a close whose challenge window elapsed.
func (c *Client) FinalizeChannelClose(ctx context.Context, channelID [32]byte) (common.Hash, error) {
	return c.channels.Finalize(ctx, channelID)
}

// ChannelState reads the on-chain record of a channel.
func (c *Client) ChannelState(ctx context.Context, channelID [32]byte) (ChannelRecord, error) {
	return c.channel.Channel(ctx, channelID)
}

// SignChannelState signs the canonical digest of a channel state with
// the client's key. The digest is signed raw, without the Ethereum
// message prefix, matching what the channel contract verifies.
func (c *Client) SignChannelState(channelID [32]byte, balance1, balance2 *big.Int, nonce uint64) ([]byte, error) {
	state := channel.State{
		ChannelID: channelID,
		Balance1:  balance1,
		Balance2:  balance2,
		Nonce:     nonce,
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}
	return c.signer.SignDigest(state.Digest())
}

// NewWatchtower builds a watchtower over this client's channels.
func (c *Client) NewWatchtower(opts ...channel.WatchtowerOption) *channel.Watchtower {
	return channel.NewWatchtower(c.channels, opts...)
}
