package constants

import "time"

const (
	DelayBetweenRPCCalls      = 200              // delay in milliseconds between RPC calls
	TransactionReceiptTimeout = 5 * time.Second  // timeout for a single receipt lookup
	CallContractTimeout       = 10 * time.Second // timeout for contract call
	HubTimeout                = 30 * time.Second // timeout for verification hub requests
	TLSHandshakeTimeout       = 10 * time.Second // timeout for TLS handshake
	ResponseHeaderTimeout     = 20 * time.Second // timeout for response header
	ExpectContinueTimeout     = 1 * time.Second  // timeout for expect continue
	HealthCheckTimeout        = 3 * time.Second  // timeout for endpoint health checks
	EndpointRefreshInterval   = 6 * time.Hour    // background chainlist refresh
	MaxResponseBodySize       = 10 * 1024 * 1024 // maximum response body size in bytes (10MB)
)

// Inclusion watching
const (
	ReceiptPollInterval    = 2 * time.Second
	ReceiptMaxPollInterval = 15 * time.Second
	ReceiptWatchTimeout    = 3 * time.Minute
	DefaultConfirmations   = 1
)

// Gas estimation
const (
	GasPollInterval        = 15 * time.Second
	ReferenceGasUnits      = 100_000 // standard token-transfer-class call
	ReferenceNativeFiatUSD = "2500"  // static reference price of the native currency
	NativeDecimals         = 18
	GweiDecimals           = 9
	GasPriceMarginPercent  = 110 // operational scripts bid 110% of the suggested price
)

const (
	USDCDecimals = 6
	USDTDecimals = 6
)

const (
	TokenUSDC = "USDC"
	TokenUSDT = "USDT"
)

// Approval modes
const (
	ApprovalModeInfinite = "infinite"
	ApprovalModeExact    = "exact"
)

// Network Types
const (
	NetworkEthereum    = "ethereum"
	NetworkSepolia     = "sepolia"
	NetworkBase        = "base"
	NetworkBaseSepolia = "base-sepolia"
	NetworkPolygon     = "polygon"
	NetworkPolygonAmoy = "polygon-amoy"
	NetworkArbitrum    = "arbitrum"
	NetworkOptimism    = "optimism"
	NetworkBSC         = "bsc"
	NetworkAvalanche   = "avalanche"
)

// mapping from network name to numeric chain ID
var NetworkToChainID = map[string]int64{
	NetworkEthereum:    1,
	NetworkSepolia:     11155111,
	NetworkBase:        8453,
	NetworkBaseSepolia: 84532,
	NetworkPolygon:     137,
	NetworkPolygonAmoy: 80002,
	NetworkArbitrum:    42161,
	NetworkOptimism:    10,
	NetworkBSC:         56,
	NetworkAvalanche:   43114,
}

var NetworkDisplayName = map[string]string{
	NetworkEthereum:    "Ethereum",
	NetworkSepolia:     "Sepolia",
	NetworkBase:        "Base",
	NetworkBaseSepolia: "Base Sepolia",
	NetworkPolygon:     "Polygon",
	NetworkPolygonAmoy: "Polygon Amoy",
	NetworkArbitrum:    "Arbitrum One",
	NetworkOptimism:    "Optimism",
	NetworkBSC:         "BNB Smart Chain",
	NetworkAvalanche:   "Avalanche C-Chain",
}

var NetworkNativeSymbol = map[string]string{
	NetworkEthereum:    "ETH",
	NetworkSepolia:     "ETH",
	NetworkBase:        "ETH",
	NetworkBaseSepolia: "ETH",
	NetworkPolygon:     "POL",
	NetworkPolygonAmoy: "POL",
	NetworkArbitrum:    "ETH",
	NetworkOptimism:    "ETH",
	NetworkBSC:         "BNB",
	NetworkAvalanche:   "AVAX",
}

var NetworkExplorerURL = map[string]string{
	NetworkEthereum:    "https://etherscan.io",
	NetworkSepolia:     "https://sepolia.etherscan.io",
	NetworkBase:        "https://basescan.org",
	NetworkBaseSepolia: "https://sepolia.basescan.org",
	NetworkPolygon:     "https://polygonscan.com",
	NetworkPolygonAmoy: "https://amoy.polygonscan.com",
	NetworkArbitrum:    "https://arbiscan.io",
	NetworkOptimism:    "https://optimistic.etherscan.io",
	NetworkBSC:         "https://bscscan.com",
	NetworkAvalanche:   "https://snowtrace.io",
}

var NetworkToUSDCAddress = map[string]string{
	NetworkEthereum:    "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
	NetworkSepolia:     "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238",
	NetworkBase:        "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
	NetworkBaseSepolia: "0x036CbD53842c5426634e7929541eC2318f3dCF7e",
	NetworkPolygon:     "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359",
	NetworkPolygonAmoy: "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582",
	NetworkArbitrum:    "0xaf88d065e77c8cC2239327C5EDb3A432268e5831",
	NetworkOptimism:    "0x0b2C639c533813f4Aa9D7837CAf62653d097Ff85",
	NetworkBSC:         "0x8AC76a51cc950d9822D68b83fE1Ad97B32Cd580d",
	NetworkAvalanche:   "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E",
}

var NetworkToUSDTAddress = map[string]string{
	NetworkEthereum:  "0xdAC17F958D2ee523a2206206994597C13D831ec7",
	NetworkBase:      "0xfde4C96c8593536E31F229EA8f37b2ADa2699bb2",
	NetworkPolygon:   "0xc2132D05D31c914a87C6611C10748AEb04B58e8F",
	NetworkArbitrum:  "0xFd086bC7CD5C481DCC9C85ebE478A1C0b69FCbb9",
	NetworkOptimism:  "0x94b008aA00579c1307B0EF2c499aD98a8ce58e58",
	NetworkBSC:       "0x55d398326f99059fF775485246999027B3197955",
	NetworkAvalanche: "0x9702230A8Ea53601f5cD2dc00fDBc13d4dF4A8c7",
}

// BSC stablecoins are bridged with 18 decimals
var TokenDecimalsOverride = map[string]map[string]uint8{
	NetworkBSC: {
		TokenUSDC: 18,
		TokenUSDT: 18,
	},
}

// Payment contract deployments. Empty means "not deployed"; operators fill
// these in through configuration once a contract is live.
var NetworkToPaymentContract = map[string]string{}

var DeployedNetworks = map[string]bool{}

var OfficialRPCEndpoints = map[string][]string{
	NetworkEthereum:    {"https://ethereum-rpc.publicnode.com"},
	NetworkSepolia:     {"https://ethereum-sepolia-rpc.publicnode.com"},
	NetworkBase:        {"https://mainnet.base.org"},
	NetworkBaseSepolia: {"https://sepolia.base.org"},
	NetworkPolygon:     {"https://polygon-rpc.com"},
	NetworkPolygonAmoy: {"https://rpc-amoy.polygon.technology"},
	NetworkArbitrum:    {"https://arb1.arbitrum.io/rpc"},
	NetworkOptimism:    {"https://mainnet.optimism.io"},
	NetworkBSC:         {"https://bsc-dataseed.binance.org"},
	NetworkAvalanche:   {"https://api.avax.network/ext/bc/C/rpc"},
}
