package constants

import "time"

const (
	DelayBetweenRPCCalls   = 200              // delay in milliseconds between RPC calls
	RPCRequestTimeout      = 10 * time.Second // timeout for a single RPC request
	DiscoveryTimeout       = 3 * time.Second  // timeout for standard wallet discovery
	WalletRequestTimeout   = 30 * time.Second // timeout for remote wallet HTTP calls
	TLSHandshakeTimeout    = 10 * time.Second // timeout for TLS handshake
	ResponseHeaderTimeout  = 20 * time.Second // timeout for response header
	ExpectContinueTimeout  = 1 * time.Second  // timeout for expect continue
	ConfirmationPollPeriod = 1 * time.Second  // delay between signature status polls
	ConfirmationTimeout    = 60 * time.Second // give up waiting for confirmation
	MobileHandshakeTimeout = 10 * time.Second // websocket dial timeout for the mobile wallet
	MobileRequestTimeout   = 2 * time.Minute  // upper bound for one mobile wallet request, user prompts included
	DisconnectTimeout      = 30 * time.Second // upper bound for an adapter Disconnect
	MaxRetries             = 5                // maximum number of retries for RPC reads
	MaxResponseBodySize    = 10 * 1024 * 1024 // maximum response body size in bytes (10MB)
)

// DefaultWalletNameKey is the storage key the selected wallet name is persisted under.
const DefaultWalletNameKey = "walletName"

// DefaultKeyringService is the OS keyring service name used by storage.KeyringStore.
const DefaultKeyringService = "solconnect"

const (
	LamportsDecimals = 9
	USDCDecimals     = 6
)

// Cluster names
const (
	NetworkMainnet = "mainnet-beta"
	NetworkDevnet  = "devnet"
	NetworkTestnet = "testnet"
)

// Wallet-standard chain identifiers
const (
	ChainMainnet = "solana:mainnet"
	ChainDevnet  = "solana:devnet"
	ChainTestnet = "solana:testnet"
)

// CAIP-2 identifiers (genesis hash prefixes)
const (
	SolanaMainnetCAIP2 = "solana:5eykt4UsFv8P8NJdTREpY1vzqKqZKvdp"
	SolanaDevnetCAIP2  = "solana:EtWTRABZaYq6iMfeYKouRu166VU2xqa1"
	SolanaTestnetCAIP2 = "solana:4uhcVJyU9pJkvQyS88uRDiswHXSCkY3z"
)

const (
	USDCAddressSolana       = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDCAddressSolanaDevnet = "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU"
)

var NetworkToUSDCAddress = map[string]string{
	NetworkMainnet: USDCAddressSolana,
	NetworkDevnet:  USDCAddressSolanaDevnet,
}

var NetworkToChain = map[string]string{
	NetworkMainnet: ChainMainnet,
	NetworkDevnet:  ChainDevnet,
	NetworkTestnet: ChainTestnet,
}

var ChainToCAIP2 = map[string]string{
	ChainMainnet: SolanaMainnetCAIP2,
	ChainDevnet:  SolanaDevnetCAIP2,
	ChainTestnet: SolanaTestnetCAIP2,
}

var OfficialRPCEndpoints = map[string][]string{
	NetworkMainnet: {"https://api.mainnet-beta.solana.com"},
	NetworkDevnet:  {"https://api.devnet.solana.com"},
	NetworkTestnet: {"https://api.testnet.solana.com"},
}

// Wallet-standard feature names
const (
	FeatureConnect                = "standard:connect"
	FeatureDisconnect             = "standard:disconnect"
	FeatureEvents                 = "standard:events"
	FeatureSignMessage            = "solana:signMessage"
	FeatureSignTransaction        = "solana:signTransaction"
	FeatureSignAndSendTransaction = "solana:signAndSendTransaction"
	FeatureSignIn                 = "solana:signIn"
)

// MobileWalletName is the adapter name the mobile wallet adapter registers under.
const MobileWalletName = "Mobile Wallet Adapter"
