package ssh

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	xssh "golang.org/x/crypto/ssh"

	"github.com/tOgg1/fedeploy/internal/testutil"
)

// commandHandler emulates a remote shell for one exec request and returns
// the exit status.
type commandHandler func(cmd string, stdin io.Reader, stdout, stderr io.Writer) int

// testServer is a minimal in-process SSH server that answers exec requests.
type testServer struct {
	t        *testing.T
	listener net.Listener
	config   *xssh.ServerConfig
	hostKey  xssh.Signer
	handler  commandHandler

	mu       sync.Mutex
	commands []string
}

func newTestServer(t *testing.T, handler commandHandler, auth ...func(*xssh.ServerConfig)) *testServer {
	t.Helper()
	testutil.SkipIfNoNetwork(t)

	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate host key: %v", err)
	}
	hostKey, err := xssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatalf("host signer: %v", err)
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	s := &testServer{
		t:        t,
		listener: listener,
		hostKey:  hostKey,
		handler:  handler,
		config:   &xssh.ServerConfig{},
	}
	s.config.AddHostKey(hostKey)
	for _, apply := range auth {
		apply(s.config)
	}

	go s.serve()
	t.Cleanup(func() { listener.Close() })
	return s
}

func allowPassword(user, password string) func(*xssh.ServerConfig) {
	return func(config *xssh.ServerConfig) {
		config.PasswordCallback = func(meta xssh.ConnMetadata, pass []byte) (*xssh.Permissions, error) {
			if meta.User() == user && string(pass) == password {
				return nil, nil
			}
			return nil, errors.New("access denied")
		}
	}
}

func allowKey(user string, key xssh.PublicKey) func(*xssh.ServerConfig) {
	return func(config *xssh.ServerConfig) {
		config.PublicKeyCallback = func(meta xssh.ConnMetadata, offered xssh.PublicKey) (*xssh.Permissions, error) {
			if meta.User() == user && bytes.Equal(offered.Marshal(), key.Marshal()) {
				return nil, nil
			}
			return nil, errors.New("unknown key")
		}
	}
}

func (s *testServer) host() string {
	return s.listener.Addr().(*net.TCPAddr).IP.String()
}

func (s *testServer) port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

func (s *testServer) addr() string {
	return net.JoinHostPort(s.host(), strconv.Itoa(s.port()))
}

func (s *testServer) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.commands...)
}

func (s *testServer) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		go s.handleConn(conn)
	}
}

func (s *testServer) handleConn(conn net.Conn) {
	_, chans, reqs, err := xssh.NewServerConn(conn, s.config)
	if err != nil {
		conn.Close()
		return
	}
	go xssh.DiscardRequests(reqs)

	for newChannel := range chans {
		if newChannel.ChannelType() != "session" {
			_ = newChannel.Reject(xssh.UnknownChannelType, "unsupported channel type")
			continue
		}
		channel, requests, err := newChannel.Accept()
		if err != nil {
			continue
		}
		go s.handleSession(channel, requests)
	}
}

func (s *testServer) handleSession(channel xssh.Channel, requests <-chan *xssh.Request) {
	defer channel.Close()
	for req := range requests {
		if req.Type != "exec" {
			_ = req.Reply(false, nil)
			continue
		}

		var payload struct{ Command string }
		if err := xssh.Unmarshal(req.Payload, &payload); err != nil {
			_ = req.Reply(false, nil)
			return
		}
		_ = req.Reply(true, nil)

		s.mu.Lock()
		s.commands = append(s.commands, payload.Command)
		s.mu.Unlock()

		status := s.handler(payload.Command, channel, channel, channel.Stderr())
		_, _ = channel.SendRequest("exit-status", false, xssh.Marshal(struct{ Status uint32 }{uint32(status)}))
		return
	}
}

// writeClientKey generates a client key pair, writes the private half to a
// temp file (encrypted when passphrase is non-empty) and returns its path.
func writeClientKey(t *testing.T, passphrase string) (string, xssh.PublicKey) {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate client key: %v", err)
	}

	var block *pem.Block
	if passphrase == "" {
		block, err = xssh.MarshalPrivateKey(priv, "test")
	} else {
		block, err = xssh.MarshalPrivateKeyWithPassphrase(priv, "test", []byte(passphrase))
	}
	if err != nil {
		t.Fatalf("marshal private key: %v", err)
	}

	path := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		t.Fatalf("write private key: %v", err)
	}

	sshPub, err := xssh.NewPublicKey(pub)
	if err != nil {
		t.Fatalf("public key: %v", err)
	}
	return path, sshPub
}
