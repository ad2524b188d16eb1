package wallets

import (
	"errors"
	"fmt"
)

var (
	ErrWalletNotSelected      = errors.New("wallet not selected")
	ErrWalletNotReady         = errors.New("wallet not ready")
	ErrWalletNotConnected     = errors.New("wallet not connected")
	ErrWalletConnectionFailed = errors.New("wallet connection failed")
	ErrWalletDisconnection    = errors.New("wallet disconnection failed")
	ErrCapabilityNotSupported = errors.New("wallet does not support operation")
	ErrWalletNotFound         = errors.New("wallet not found")
	ErrSessionClosed          = errors.New("session closed")
)

// ConnectionError wraps the adapter error of a failed connect
type ConnectionError struct {
	Wallet WalletName
	Err    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Wallet, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Is matches ErrWalletConnectionFailed
func (e *ConnectionError) Is(target error) bool {
	return target == ErrWalletConnectionFailed
}

// CapabilityError is returned when the connected wallet lacks an operation
type CapabilityError struct {
	Wallet     WalletName
	Capability Capability
}

func (e *CapabilityError) Error() string {
	return fmt.Sprintf("wallet %s does not support %s", e.Wallet, e.Capability)
}

// Is matches ErrCapabilityNotSupported
func (e *CapabilityError) Is(target error) bool {
	return target == ErrCapabilityNotSupported
}

// NotReadyError reports the ready state that blocked a connect
type NotReadyError struct {
	Wallet     WalletName
	ReadyState ReadyState
}

func (e *NotReadyError) Error() string {
	return fmt.Sprintf("wallet %s is %s", e.Wallet, e.ReadyState)
}

// Is matches ErrWalletNotReady
func (e *NotReadyError) Is(target error) bool {
	return target == ErrWalletNotReady
}
