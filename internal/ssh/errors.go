package ssh

import (
	"errors"
	"fmt"
)

var (
	ErrPassphraseRequired = errors.New("passphrase required for private key")
	ErrMissingHost        = errors.New("ssh host is required")
	ErrMissingCredentials = errors.New("no password or private key configured")
	ErrAlreadyConnected   = errors.New("ssh session already connected")
	ErrSessionClosed      = errors.New("ssh session closed")
	ErrNotConnected       = errors.New("ssh session not connected")
)

// ConnectError reports a failed connection attempt. Auth distinguishes a
// rejected credential from a network or handshake failure.
type ConnectError struct {
	Addr string
	Auth bool
	Err  error
}

func (e *ConnectError) Error() string {
	if e.Auth {
		return fmt.Sprintf("ssh authentication to %s failed: %v", e.Addr, e.Err)
	}
	return fmt.Sprintf("ssh connection to %s failed: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// TransferError reports a failed upload.
type TransferError struct {
	Local  string
	Remote string
	Stderr string
	Err    error
}

func (e *TransferError) Error() string {
	msg := fmt.Sprintf("upload %s -> %s failed: %v", e.Local, e.Remote, e.Err)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *TransferError) Unwrap() error {
	return e.Err
}
