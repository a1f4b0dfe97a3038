package gateway

import (
	"context"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	xerrors "github.com/JaroAI777/synaps1/internal/errors"
)

// Tier is the reputation tier an agent has earned.
type Tier uint8

const (
	TierUnverified Tier = iota
	TierBronze
	TierSilver
	TierGold
	TierPlatinum
	TierDiamond
)

func (t Tier) String() string {
	switch t {
	case TierUnverified:
		return "unverified"
	case TierBronze:
		return "bronze"
	case TierSilver:
		return "silver"
	case TierGold:
		return "gold"
	case TierPlatinum:
		return "platinum"
	case TierDiamond:
		return "diamond"
	default:
		return "invalid"
	}
}

// PricingModel is how a registered service charges.
type PricingModel uint8

const (
	PricingPerRequest PricingModel = iota
	PricingPerToken
	PricingPerSecond
	PricingPerByte
	PricingSubscription
	PricingCustom
)

func (p PricingModel) String() string {
	switch p {
	case PricingPerRequest:
		return "per_request"
	case PricingPerToken:
		return "per_token"
	case PricingPerSecond:
		return "per_second"
	case PricingPerByte:
		return "per_byte"
	case PricingSubscription:
		return "subscription"
	case PricingCustom:
		return "custom"
	default:
		return "invalid"
	}
}

// AgentRecord is the on-chain view of a registered agent. SuccessRate
// is a percentage derived from the raw basis-point counter.
type AgentRecord struct {
	Address                common.Address
	Registered             bool
	Name                   string
	Stake                  *big.Int
	ReputationScore        uint64
	TotalTransactions      uint64
	SuccessfulTransactions uint64
	RegisteredAt           uint64
	MetadataURI            string
	Tier                   Tier
	SuccessRate            float64
}

// ServiceRecord is the on-chain view of a registered service.
type ServiceRecord struct {
	ServiceID     [32]byte
	Provider      common.Address
	Name          string
	Category      string
	Description   string
	Endpoint      string
	BasePrice     *big.Int
	PricingModel  PricingModel
	Active        bool
	TotalRequests uint64
	TotalRevenue  *big.Int
	CreatedAt     uint64
}

// ServiceRegisteredEvent is the decoded ServiceRegistered log.
type ServiceRegisteredEvent struct {
	ServiceId [32]byte
	Provider  common.Address
	Name      string
	Category  string
}

// DisputeCreatedEvent is the decoded DisputeCreated log.
type DisputeCreatedEvent struct {
	DisputeId [32]byte
	Claimant  common.Address
	Defendant common.Address
	Reason    string
}

// QuoteRequestedEvent is the decoded QuoteRequested log.
type QuoteRequestedEvent struct {
	QuoteId   [32]byte
	ServiceId [32]byte
	Requester common.Address
	Quantity  *big.Int
	Price     *big.Int
}

// ReputationContract binds the agent reputation registry at one address.
type ReputationContract struct {
	client  *Client
	address common.Address
}

// NewReputationContract binds the reputation registry at address.
func NewReputationContract(client *Client, address common.Address) *ReputationContract {
	return &ReputationContract{client: client, address: address}
}

// Address returns the bound contract address.
func (rc *ReputationContract) Address() common.Address {
	return rc.address
}

// RegisterAgent stakes tokens and registers the signer as an agent.
func (rc *ReputationContract) RegisterAgent(ctx context.Context, name, metadataURI string, stake *big.Int) (common.Hash, error) {
	receipt, err := rc.client.Transact(ctx, rc.address, ReputationABI, "registerAgent", nil, name, metadataURI, stake)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// DeregisterAgent removes the signer's registration and returns the
// stake.
func (rc *ReputationContract) DeregisterAgent(ctx context.Context) (common.Hash, error) {
	receipt, err := rc.client.Transact(ctx, rc.address, ReputationABI, "deregisterAgent", nil)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// IncreaseStake adds amount to the signer's stake.
func (rc *ReputationContract) IncreaseStake(ctx context.Context, value *big.Int) (common.Hash, error) {
	receipt, err := rc.client.Transact(ctx, rc.address, ReputationABI, "increaseStake", nil, value)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// DecreaseStake withdraws amount from the signer's stake, subject to
// the contract's tier minimums.
func (rc *ReputationContract) DecreaseStake(ctx context.Context, value *big.Int) (common.Hash, error) {
	receipt, err := rc.client.Transact(ctx, rc.address, ReputationABI, "decreaseStake", nil, value)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// Tier reads the current reputation tier of agent.
func (rc *ReputationContract) Tier(ctx context.Context, agent common.Address) (Tier, error) {
	var out []any
	if err := rc.client.Call(ctx, rc.address, ReputationABI, "getTier", &out, agent); err != nil {
		return TierUnverified, err
	}
	raw, ok := out[0].(uint8)
	if !ok {
		return TierUnverified, xerrors.New(xerrors.CodeContract, "unexpected getTier result type")
	}
	return Tier(raw), nil
}

// SuccessRate reads the success percentage of agent. The contract
// reports basis points; an agent with no transactions reports zero.
func (rc *ReputationContract) SuccessRate(ctx context.Context, agent common.Address) (float64, error) {
	var out []any
	if err := rc.client.Call(ctx, rc.address, ReputationABI, "getSuccessRate", &out, agent); err != nil {
		return 0, err
	}
	raw, ok := out[0].(*big.Int)
	if !ok {
		return 0, xerrors.New(xerrors.CodeContract, "unexpected getSuccessRate result type")
	}
	return float64(raw.Uint64()) / 100, nil
}

// CreateDispute files a dispute against defendant over transactionID.
// The dispute id is read back from the DisputeCreated event.
func (rc *ReputationContract) CreateDispute(ctx context.Context, defendant common.Address, reason string, transactionID [32]byte) ([32]byte, error) {
	if reason == "" {
		return [32]byte{}, xerrors.New(xerrors.CodeContract, "dispute reason must not be empty")
	}
	receipt, err := rc.client.Transact(ctx, rc.address, ReputationABI, "createDispute", nil,
		defendant, reason, transactionID)
	if err != nil {
		return [32]byte{}, err
	}
	for _, log := range receipt.Logs {
		var event DisputeCreatedEvent
		ok, err := ParseLog(ReputationABI, "DisputeCreated", log, &event)
		if err != nil {
			return [32]byte{}, err
		}
		if ok {
			return event.DisputeId, nil
		}
	}
	return [32]byte{}, xerrors.New(xerrors.CodeContract, "createDispute emitted no DisputeCreated event")
}

// RateService records a 1..5 rating of provider within category.
func (rc *ReputationContract) RateService(ctx context.Context, provider common.Address, category string, rating uint8) (common.Hash, error) {
	if rating < 1 || rating > 5 {
		return common.Hash{}, xerrors.New(xerrors.CodeContract, "rating must be between 1 and 5",
			xerrors.WithMetadata("rating", strconv.Itoa(int(rating))))
	}
	receipt, err := rc.client.Transact(ctx, rc.address, ReputationABI, "rateService", nil,
		provider, category, rating)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// Agent reads the full record of a registered agent.
func (rc *ReputationContract) Agent(ctx context.Context, agent common.Address) (AgentRecord, error) {
	var out []any
	if err := rc.client.Call(ctx, rc.address, ReputationABI, "agents", &out, agent); err != nil {
		return AgentRecord{}, err
	}
	if len(out) != 8 {
		return AgentRecord{}, xerrors.New(xerrors.CodeContract, "unexpected agents result arity")
	}

	record := AgentRecord{
		Address:                agent,
		Registered:             out[0].(bool),
		Name:                   out[1].(string),
		Stake:                  out[2].(*big.Int),
		ReputationScore:        out[3].(*big.Int).Uint64(),
		TotalTransactions:      out[4].(*big.Int).Uint64(),
		SuccessfulTransactions: out[5].(*big.Int).Uint64(),
		RegisteredAt:           out[6].(*big.Int).Uint64(),
		MetadataURI:            out[7].(string),
	}
	if !record.Registered {
		return AgentRecord{}, xerrors.New(xerrors.CodeContract, "agent is not registered",
			xerrors.WithMetadata("agent", agent.Hex()))
	}

	tier, err := rc.Tier(ctx, agent)
	if err != nil {
		return AgentRecord{}, err
	}
	record.Tier = tier

	rate, err := rc.SuccessRate(ctx, agent)
	if err != nil {
		return AgentRecord{}, err
	}
	record.SuccessRate = rate
	return record, nil
}

// ServiceRegistryContract binds the service registry at one address.
type ServiceRegistryContract struct {
	client  *Client
	address common.Address
}

// NewServiceRegistryContract binds the service registry at address.
func NewServiceRegistryContract(client *Client, address common.Address) *ServiceRegistryContract {
	return &ServiceRegistryContract{client: client, address: address}
}

// Address returns the bound contract address.
func (sc *ServiceRegistryContract) Address() common.Address {
	return sc.address
}

// RegisterService lists a service and returns the id assigned by the
// contract, read back from the ServiceRegistered event.
func (sc *ServiceRegistryContract) RegisterService(ctx context.Context, name, category, description, endpoint string, basePrice *big.Int, model PricingModel) ([32]byte, error) {
	receipt, err := sc.client.Transact(ctx, sc.address, ServiceRegistryABI, "registerService", nil,
		name, category, description, endpoint, basePrice, uint8(model))
	if err != nil {
		return [32]byte{}, err
	}
	for _, log := range receipt.Logs {
		var event ServiceRegisteredEvent
		ok, err := ParseLog(ServiceRegistryABI, "ServiceRegistered", log, &event)
		if err != nil {
			return [32]byte{}, err
		}
		if ok {
			return event.ServiceId, nil
		}
	}
	return [32]byte{}, xerrors.New(xerrors.CodeContract, "registerService emitted no ServiceRegistered event")
}

// UpdateService changes the mutable fields of an owned service.
func (sc *ServiceRegistryContract) UpdateService(ctx context.Context, serviceID [32]byte, description, endpoint string, basePrice *big.Int) (common.Hash, error) {
	receipt, err := sc.client.Transact(ctx, sc.address, ServiceRegistryABI, "updateService", nil,
		serviceID, description, endpoint, basePrice)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// ActivateService makes a deactivated service discoverable again.
func (sc *ServiceRegistryContract) ActivateService(ctx context.Context, serviceID [32]byte) (common.Hash, error) {
	receipt, err := sc.client.Transact(ctx, sc.address, ServiceRegistryABI, "activateService", nil, serviceID)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// DeactivateService hides a service from discovery without deleting it.
func (sc *ServiceRegistryContract) DeactivateService(ctx context.Context, serviceID [32]byte) (common.Hash, error) {
	receipt, err := sc.client.Transact(ctx, sc.address, ServiceRegistryABI, "deactivateService", nil, serviceID)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// ServicesByCategory lists the ids of active services in category.
func (sc *ServiceRegistryContract) ServicesByCategory(ctx context.Context, category string) ([][32]byte, error) {
	var out []any
	if err := sc.client.Call(ctx, sc.address, ServiceRegistryABI, "getServicesByCategory", &out, category); err != nil {
		return nil, err
	}
	ids, ok := out[0].([][32]byte)
	if !ok {
		return nil, xerrors.New(xerrors.CodeContract, "unexpected getServicesByCategory result type")
	}
	return ids, nil
}

// CalculatePrice quotes quantity units of a service at its current
// pricing.
func (sc *ServiceRegistryContract) CalculatePrice(ctx context.Context, serviceID [32]byte, quantity *big.Int) (*big.Int, error) {
	var out []any
	if err := sc.client.Call(ctx, sc.address, ServiceRegistryABI, "calculatePrice", &out, serviceID, quantity); err != nil {
		return nil, err
	}
	price, ok := out[0].(*big.Int)
	if !ok {
		return nil, xerrors.New(xerrors.CodeContract, "unexpected calculatePrice result type")
	}
	return price, nil
}

// RequestQuote asks the provider of serviceID to price quantity units
// against the supplied specs. The quote id is read back from the
// QuoteRequested event.
func (sc *ServiceRegistryContract) RequestQuote(ctx context.Context, serviceID [32]byte, quantity *big.Int, specs []byte) ([32]byte, error) {
	if quantity == nil || quantity.Sign() <= 0 {
		return [32]byte{}, xerrors.New(xerrors.CodeContract, "quote quantity must be positive")
	}
	if specs == nil {
		specs = []byte{}
	}
	receipt, err := sc.client.Transact(ctx, sc.address, ServiceRegistryABI, "requestQuote", nil,
		serviceID, quantity, specs)
	if err != nil {
		return [32]byte{}, err
	}
	for _, log := range receipt.Logs {
		var event QuoteRequestedEvent
		ok, err := ParseLog(ServiceRegistryABI, "QuoteRequested", log, &event)
		if err != nil {
			return [32]byte{}, err
		}
		if ok {
			return event.QuoteId, nil
		}
	}
	return [32]byte{}, xerrors.New(xerrors.CodeContract, "requestQuote emitted no QuoteRequested event")
}

// AcceptQuote accepts a previously issued quote and pays it.
func (sc *ServiceRegistryContract) AcceptQuote(ctx context.Context, quoteID [32]byte) (common.Hash, error) {
	receipt, err := sc.client.Transact(ctx, sc.address, ServiceRegistryABI, "acceptQuote", nil, quoteID)
	if err != nil {
		return common.Hash{}, err
	}
	return receipt.TxHash, nil
}

// Service reads the full record of a listed service.
func (sc *ServiceRegistryContract) Service(ctx context.Context, serviceID [32]byte) (ServiceRecord, error) {
	var out []any
	if err := sc.client.Call(ctx, sc.address, ServiceRegistryABI, "services", &out, serviceID); err != nil {
		return ServiceRecord{}, err
	}
	if len(out) != 11 {
		return ServiceRecord{}, xerrors.New(xerrors.CodeContract, "unexpected services result arity")
	}

	record := ServiceRecord{
		ServiceID:     serviceID,
		Provider:      out[0].(common.Address),
		Name:          out[1].(string),
		Category:      out[2].(string),
		Description:   out[3].(string),
		Endpoint:      out[4].(string),
		BasePrice:     out[5].(*big.Int),
		PricingModel:  PricingModel(out[6].(uint8)),
		Active:        out[7].(bool),
		TotalRequests: out[8].(*big.Int).Uint64(),
		TotalRevenue:  out[9].(*big.Int),
		CreatedAt:     out[10].(*big.Int).Uint64(),
	}
	if record.Provider == (common.Address{}) {
		return ServiceRecord{}, xerrors.New(xerrors.CodeContract, "no service with this id")
	}
	return record, nil
}
