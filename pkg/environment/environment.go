// Package environment classifies the runtime a wallet session is built for and
// infers the Solana cluster an RPC endpoint points at.
package environment

import (
	"regexp"
	"strings"

	"github.com/sigweihq/solconnect/pkg/constants"
)

// Environment is the runtime class used to decide whether the mobile wallet
// adapter should be offered
type Environment int

const (
	DesktopWeb Environment = iota
	MobileWeb
)

func (e Environment) String() string {
	if e == MobileWeb {
		return "mobile-web"
	}
	return "desktop-web"
}

// AdapterStatus is the part of an adapter Classify looks at
type AdapterStatus struct {
	Name      string
	Installed bool
}

var (
	androidPattern = regexp.MustCompile(`(?i)android`)
	webViewPattern = regexp.MustCompile(`(?i)(WebView|Version/.+(Chrome)/(\d+)\.(\d+)\.(\d+)\.(\d+)|; wv\).+(Chrome)/(\d+)\.(\d+)\.(\d+)\.(\d+))`)
)

// Classify returns DesktopWeb when any adapter other than the mobile wallet
// adapter is installed, MobileWeb for a non-WebView Android user agent, and
// DesktopWeb otherwise.
func Classify(adapters []AdapterStatus, userAgent string) Environment {
	for _, a := range adapters {
		if a.Name != constants.MobileWalletName && a.Installed {
			return DesktopWeb
		}
	}

	if userAgent != "" && androidPattern.MatchString(userAgent) && !webViewPattern.MatchString(userAgent) {
		return MobileWeb
	}

	return DesktopWeb
}

// Network is a Solana cluster
type Network int

const (
	Mainnet Network = iota
	Devnet
	Testnet
)

// InferNetwork guesses the cluster from an RPC endpoint URL. Matching is a
// case-insensitive substring test, devnet before testnet; anything else,
// including the empty string, is mainnet.
func InferNetwork(endpoint string) Network {
	lower := strings.ToLower(endpoint)
	switch {
	case strings.Contains(lower, "devnet"):
		return Devnet
	case strings.Contains(lower, "testnet"):
		return Testnet
	default:
		return Mainnet
	}
}

// String returns the cluster name (mainnet-beta, devnet, testnet)
func (n Network) String() string {
	switch n {
	case Devnet:
		return constants.NetworkDevnet
	case Testnet:
		return constants.NetworkTestnet
	default:
		return constants.NetworkMainnet
	}
}

// Chain returns the wallet-standard chain id, e.g. "solana:devnet"
func (n Network) Chain() string {
	return constants.NetworkToChain[n.String()]
}

// CAIP2 returns the genesis-hash based CAIP-2 identifier
func (n Network) CAIP2() string {
	return constants.ChainToCAIP2[n.Chain()]
}

// Endpoint returns the first official public RPC endpoint for the cluster
func (n Network) Endpoint() string {
	return constants.OfficialRPCEndpoints[n.String()][0]
}

// ParseNetwork accepts cluster names and chain ids ("devnet", "solana:devnet")
func ParseNetwork(s string) (Network, bool) {
	switch strings.TrimPrefix(strings.ToLower(s), "solana:") {
	case "mainnet", "mainnet-beta":
		return Mainnet, true
	case "devnet":
		return Devnet, true
	case "testnet":
		return Testnet, true
	}
	return Mainnet, false
}
