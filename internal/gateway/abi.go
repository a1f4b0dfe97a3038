package gateway

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Parsed interfaces of the five protocol contracts. Parsing happens once
// at init; the JSON is trusted input so failures panic.
var (
	TokenABI           = mustABI(tokenABIJSON)
	RouterABI          = mustABI(routerABIJSON)
	ReputationABI      = mustABI(reputationABIJSON)
	ServiceRegistryABI = mustABI(serviceRegistryABIJSON)
	ChannelABI         = mustABI(channelABIJSON)
)

func mustABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic("gateway: bad contract ABI: " + err.Error())
	}
	return parsed
}

const tokenABIJSON = `[
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"Transfer","inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"value","type":"uint256","indexed":false}]}
]`

const routerABIJSON = `[
  {"type":"function","name":"pay","stateMutability":"nonpayable","inputs":[{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"},{"name":"paymentId","type":"bytes32"},{"name":"metadata","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"batchPay","stateMutability":"nonpayable","inputs":[{"name":"recipients","type":"address[]"},{"name":"amounts","type":"uint256[]"},{"name":"paymentIds","type":"bytes32[]"},{"name":"metadata","type":"bytes[]"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"createEscrow","stateMutability":"nonpayable","inputs":[{"name":"recipient","type":"address"},{"name":"arbiter","type":"address"},{"name":"amount","type":"uint256"},{"name":"deadline","type":"uint256"},{"name":"escrowId","type":"bytes32"},{"name":"metadata","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"releaseEscrow","stateMutability":"nonpayable","inputs":[{"name":"escrowId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"refundEscrow","stateMutability":"nonpayable","inputs":[{"name":"escrowId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"createStream","stateMutability":"nonpayable","inputs":[{"name":"recipient","type":"address"},{"name":"totalAmount","type":"uint256"},{"name":"startTime","type":"uint256"},{"name":"endTime","type":"uint256"},{"name":"streamId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"event","name":"Payment","inputs":[{"name":"sender","type":"address","indexed":true},{"name":"recipient","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"fee","type":"uint256","indexed":false},{"name":"paymentId","type":"bytes32","indexed":false}]},
  {"type":"event","name":"EscrowCreated","inputs":[{"name":"escrowId","type":"bytes32","indexed":true},{"name":"sender","type":"address","indexed":true},{"name":"recipient","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},{"name":"deadline","type":"uint256","indexed":false}]},
  {"type":"event","name":"StreamCreated","inputs":[{"name":"streamId","type":"bytes32","indexed":true},{"name":"sender","type":"address","indexed":true},{"name":"recipient","type":"address","indexed":true},{"name":"totalAmount","type":"uint256","indexed":false},{"name":"startTime","type":"uint256","indexed":false},{"name":"endTime","type":"uint256","indexed":false}]}
]`

const reputationABIJSON = `[
  {"type":"function","name":"registerAgent","stateMutability":"nonpayable","inputs":[{"name":"name","type":"string"},{"name":"metadataUri","type":"string"},{"name":"stake","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"deregisterAgent","stateMutability":"nonpayable","inputs":[],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"increaseStake","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"decreaseStake","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getTier","stateMutability":"view","inputs":[{"name":"agent","type":"address"}],"outputs":[{"name":"","type":"uint8"}]},
  {"type":"function","name":"getSuccessRate","stateMutability":"view","inputs":[{"name":"agent","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"agents","stateMutability":"view","inputs":[{"name":"","type":"address"}],"outputs":[{"name":"registered","type":"bool"},{"name":"name","type":"string"},{"name":"stake","type":"uint256"},{"name":"reputationScore","type":"uint256"},{"name":"totalTransactions","type":"uint256"},{"name":"successfulTransactions","type":"uint256"},{"name":"registeredAt","type":"uint256"},{"name":"metadataUri","type":"string"}]},
  {"type":"function","name":"createDispute","stateMutability":"nonpayable","inputs":[{"name":"defendant","type":"address"},{"name":"reason","type":"string"},{"name":"transactionId","type":"bytes32"}],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"rateService","stateMutability":"nonpayable","inputs":[{"name":"provider","type":"address"},{"name":"category","type":"string"},{"name":"rating","type":"uint8"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"event","name":"AgentRegistered","inputs":[{"name":"agent","type":"address","indexed":true},{"name":"name","type":"string","indexed":false},{"name":"stake","type":"uint256","indexed":false}]},
  {"type":"event","name":"ReputationUpdated","inputs":[{"name":"agent","type":"address","indexed":true},{"name":"oldScore","type":"uint256","indexed":false},{"name":"newScore","type":"uint256","indexed":false}]},
  {"type":"event","name":"DisputeCreated","inputs":[{"name":"disputeId","type":"bytes32","indexed":true},{"name":"claimant","type":"address","indexed":true},{"name":"defendant","type":"address","indexed":true},{"name":"reason","type":"string","indexed":false}]}
]`

const serviceRegistryABIJSON = `[
  {"type":"function","name":"registerService","stateMutability":"nonpayable","inputs":[{"name":"name","type":"string"},{"name":"category","type":"string"},{"name":"description","type":"string"},{"name":"endpoint","type":"string"},{"name":"basePrice","type":"uint256"},{"name":"pricingModel","type":"uint8"}],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"updateService","stateMutability":"nonpayable","inputs":[{"name":"serviceId","type":"bytes32"},{"name":"description","type":"string"},{"name":"endpoint","type":"string"},{"name":"basePrice","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"deactivateService","stateMutability":"nonpayable","inputs":[{"name":"serviceId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"activateService","stateMutability":"nonpayable","inputs":[{"name":"serviceId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getServicesByCategory","stateMutability":"view","inputs":[{"name":"category","type":"string"}],"outputs":[{"name":"","type":"bytes32[]"}]},
  {"type":"function","name":"calculatePrice","stateMutability":"view","inputs":[{"name":"serviceId","type":"bytes32"},{"name":"quantity","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"services","stateMutability":"view","inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"provider","type":"address"},{"name":"name","type":"string"},{"name":"category","type":"string"},{"name":"description","type":"string"},{"name":"endpoint","type":"string"},{"name":"basePrice","type":"uint256"},{"name":"pricingModel","type":"uint8"},{"name":"active","type":"bool"},{"name":"totalRequests","type":"uint256"},{"name":"totalRevenue","type":"uint256"},{"name":"createdAt","type":"uint256"}]},
  {"type":"function","name":"requestQuote","stateMutability":"nonpayable","inputs":[{"name":"serviceId","type":"bytes32"},{"name":"quantity","type":"uint256"},{"name":"specs","type":"bytes"}],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"acceptQuote","stateMutability":"nonpayable","inputs":[{"name":"quoteId","type":"bytes32"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"event","name":"ServiceRegistered","inputs":[{"name":"serviceId","type":"bytes32","indexed":true},{"name":"provider","type":"address","indexed":true},{"name":"name","type":"string","indexed":false},{"name":"category","type":"string","indexed":false}]},
  {"type":"event","name":"QuoteRequested","inputs":[{"name":"quoteId","type":"bytes32","indexed":true},{"name":"serviceId","type":"bytes32","indexed":true},{"name":"requester","type":"address","indexed":true},{"name":"quantity","type":"uint256","indexed":false},{"name":"price","type":"uint256","indexed":false}]}
]`

const channelABIJSON = `[
  {"type":"function","name":"openChannel","stateMutability":"nonpayable","inputs":[{"name":"counterparty","type":"address"},{"name":"myDeposit","type":"uint256"},{"name":"theirDeposit","type":"uint256"}],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"fundChannel","stateMutability":"nonpayable","inputs":[{"name":"channelId","type":"bytes32"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"cooperativeClose","stateMutability":"nonpayable","inputs":[{"name":"counterparty","type":"address"},{"name":"balance1","type":"uint256"},{"name":"balance2","type":"uint256"},{"name":"nonce","type":"uint256"},{"name":"sig1","type":"bytes"},{"name":"sig2","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"initiateClose","stateMutability":"nonpayable","inputs":[{"name":"counterparty","type":"address"},{"name":"balance1","type":"uint256"},{"name":"balance2","type":"uint256"},{"name":"nonce","type":"uint256"},{"name":"sig1","type":"bytes"},{"name":"sig2","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"challengeClose","stateMutability":"nonpayable","inputs":[{"name":"counterparty","type":"address"},{"name":"balance1","type":"uint256"},{"name":"balance2","type":"uint256"},{"name":"nonce","type":"uint256"},{"name":"sig1","type":"bytes"},{"name":"sig2","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"finalizeClose","stateMutability":"nonpayable","inputs":[{"name":"counterparty","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getChannelId","stateMutability":"pure","inputs":[{"name":"party1","type":"address"},{"name":"party2","type":"address"}],"outputs":[{"name":"","type":"bytes32"}]},
  {"type":"function","name":"channels","stateMutability":"view","inputs":[{"name":"","type":"bytes32"}],"outputs":[{"name":"participant1","type":"address"},{"name":"participant2","type":"address"},{"name":"balance1","type":"uint256"},{"name":"balance2","type":"uint256"},{"name":"nonce","type":"uint256"},{"name":"status","type":"uint8"},{"name":"challengeEnd","type":"uint256"}]},
  {"type":"event","name":"ChannelOpened","inputs":[{"name":"channelId","type":"bytes32","indexed":true},{"name":"party1","type":"address","indexed":true},{"name":"party2","type":"address","indexed":true},{"name":"deposit1","type":"uint256","indexed":false},{"name":"deposit2","type":"uint256","indexed":false}]},
  {"type":"event","name":"ChannelClosed","inputs":[{"name":"channelId","type":"bytes32","indexed":true},{"name":"finalBalance1","type":"uint256","indexed":false},{"name":"finalBalance2","type":"uint256","indexed":false}]}
]`
