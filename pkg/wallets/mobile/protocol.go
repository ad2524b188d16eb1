package mobile

import (
	"encoding/json"
	"fmt"
)

// JSON-RPC methods spoken to the wallet endpoint
const (
	MethodAuthorize               = "authorize"
	MethodDeauthorize             = "deauthorize"
	MethodSignMessages            = "sign_messages"
	MethodSignTransactions        = "sign_transactions"
	MethodSignAndSendTransactions = "sign_and_send_transactions"
	NotificationDeauthorized      = "deauthorized"
	NotificationAccountsChanged   = "accounts_changed"
)

// Identity describes the dapp to the wallet in the authorisation prompt
type Identity struct {
	Name string `json:"name,omitempty"`
	URI  string `json:"uri,omitempty"`
	Icon string `json:"icon,omitempty"`
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is an error object returned by the wallet
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("wallet error %d: %s", e.Code, e.Message)
}

// Error codes used by wallets
const (
	CodeAuthorizationFailed = -1
	CodeInvalidPayloads     = -2
	CodeNotSigned           = -3
	CodeNotSubmitted        = -4
	CodeTooManyPayloads     = -5
	CodeUserDeclined        = -6
)

// Account is an account the wallet authorised
type Account struct {
	Address string `json:"address"`
	Label   string `json:"label,omitempty"`
}

type authorizeParams struct {
	Identity  Identity `json:"identity"`
	Chain     string   `json:"chain"`
	AuthToken string   `json:"auth_token,omitempty"`
}

type authorizeResult struct {
	AuthToken     string    `json:"auth_token"`
	Accounts      []Account `json:"accounts"`
	WalletURIBase string    `json:"wallet_uri_base,omitempty"`
}

type deauthorizeParams struct {
	AuthToken string `json:"auth_token"`
}

type signMessagesParams struct {
	Addresses []string `json:"addresses"`
	Payloads  [][]byte `json:"payloads"`
}

type signMessagesResult struct {
	Signatures [][]byte `json:"signatures"`
}

type signTransactionsParams struct {
	Payloads [][]byte `json:"payloads"`
}

type signTransactionsResult struct {
	SignedPayloads [][]byte `json:"signed_payloads"`
}

type sendOptions struct {
	MinContextSlot *uint64 `json:"min_context_slot,omitempty"`
	Commitment     string  `json:"commitment,omitempty"`
	SkipPreflight  bool    `json:"skip_preflight,omitempty"`
	MaxRetries     *uint   `json:"max_retries,omitempty"`
}

type signAndSendParams struct {
	Payloads [][]byte     `json:"payloads"`
	Options  *sendOptions `json:"options,omitempty"`
}

type signAndSendResult struct {
	Signatures [][]byte `json:"signatures"`
}

type accountsChangedParams struct {
	Accounts []Account `json:"accounts"`
}
