package ssh

import (
	"errors"
	"fmt"
	"os"

	xssh "golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/term"
)

// PassphrasePrompt returns the passphrase for the provided key path.
type PassphrasePrompt func(keyPath string) (string, error)

// LoadPrivateKey loads a private key from disk. A configured passphrase is
// used first; prompt is consulted only when the key is encrypted and no
// passphrase was configured.
func LoadPrivateKey(path, passphrase string, prompt PassphrasePrompt) (xssh.Signer, error) {
	keyBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key: %w", err)
	}

	if passphrase != "" {
		signer, err := xssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(passphrase))
		if err != nil {
			return nil, fmt.Errorf("parse private key with passphrase: %w", err)
		}
		return signer, nil
	}

	signer, err := xssh.ParsePrivateKey(keyBytes)
	if err == nil {
		return signer, nil
	}

	var missing *xssh.PassphraseMissingError
	if !errors.As(err, &missing) {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	if prompt == nil {
		return nil, ErrPassphraseRequired
	}

	passphrase, err = prompt(path)
	if err != nil {
		return nil, fmt.Errorf("passphrase prompt failed: %w", err)
	}
	if passphrase == "" {
		return nil, ErrPassphraseRequired
	}

	signer, err = xssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(passphrase))
	if err != nil {
		return nil, fmt.Errorf("parse private key with passphrase: %w", err)
	}
	return signer, nil
}

// DefaultPassphrasePrompt reads a passphrase from stdin without echoing input.
func DefaultPassphrasePrompt(path string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("stdin is not a terminal")
	}

	fmt.Fprintf(os.Stderr, "Enter passphrase for %s: ", path)
	passphrase, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}

	return string(passphrase), nil
}

// hostKeyCallback verifies against known_hosts when a path is configured.
// Without one, any host key is accepted.
func hostKeyCallback(knownHostsPath string) (xssh.HostKeyCallback, error) {
	if knownHostsPath == "" {
		return xssh.InsecureIgnoreHostKey(), nil
	}
	callback, err := knownhosts.New(knownHostsPath)
	if err != nil {
		return nil, fmt.Errorf("load known_hosts: %w", err)
	}
	return callback, nil
}
