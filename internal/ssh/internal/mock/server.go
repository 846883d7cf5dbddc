// mock implements a minimal SSH server for exercising the client facade in
// tests.
//
// 'exec' requests are answered from a scripted table of results (stdout,
// stderr, exit status); unscripted commands fail like a missing binary
// would. 'sftp' subsystem requests are served by a real SFTP server so
// uploads hit the local filesystem.
package mock

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/pkg/sftp"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

// Result scripts the server's answer to a single 'exec' command.
type Result struct {
	Stdout     string
	Stderr     string
	ExitStatus uint32
}

// Server is an SSH server bound to an ephemeral loopback port.
//
// Construct with 'NewServer', script commands with 'Handle', start with
// 'ListenAndServe' and stop with 'Shutdown'.
type Server struct {
	config *ssh.ServerConfig

	mu      sync.Mutex
	results map[string]Result

	listener net.Listener
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewServer constructs a Server which signs with 'signer' and authenticates
// clients against 'allowed' public keys.
func NewServer(t *testing.T, signer ssh.Signer, allowed ...ssh.PublicKey) *Server {
	t.Helper()
	require.NotNil(t, signer, "a non-nil ssh.Signer is required")
	require.NotEmpty(t, allowed, "at least one authorized public key is required")
	marshaled := make([][]byte, len(allowed))
	for i := range allowed {
		marshaled[i] = allowed[i].Marshal()
	}
	config := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			offered := key.Marshal()
			for _, m := range marshaled {
				if string(m) == string(offered) {
					return nil, nil
				}
			}
			return nil, errors.New("public key is not authorized")
		},
	}
	config.AddHostKey(signer)
	return &Server{
		config:  config,
		results: map[string]Result{},
	}
}

// Handle scripts the result returned for an exact 'exec' command string.
func (s *Server) Handle(cmd string, res Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[cmd] = res
}

// ListenAndServe binds an ephemeral loopback port and begins serving
// connections, returning the bound host and port.
func (s *Server) ListenAndServe(t *testing.T, ctx context.Context) (string, uint16) {
	t.Helper()
	ctx, s.cancel = context.WithCancel(ctx)
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s.listener = listener
	s.wg.Add(1)
	go s.serve(t, ctx)
	addr := listener.Addr().(*net.TCPAddr)
	return addr.IP.String(), uint16(addr.Port)
}

func (s *Server) serve(t *testing.T, ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			// Shutdown closes the listener out from under us.
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			require.NoError(t, err)
		}
		s.wg.Add(1)
		go s.handleConn(t, ctx, conn)
	}
}

// handleConn performs the SSH handshake and fields 'session' channels.
//
// Handshake failures are expected here: the client tests deliberately offer
// mismatched pinned host keys, which abort mid-handshake.
func (s *Server) handleConn(t *testing.T, ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	sshConn, chans, reqs, err := ssh.NewServerConn(conn, s.config)
	if err != nil {
		_ = conn.Close()
		return
	}
	defer sshConn.Close()
	go ssh.DiscardRequests(reqs)
	for {
		select {
		case <-ctx.Done():
			return
		case newChannel, more := <-chans:
			if !more {
				return
			}
			if newChannel.ChannelType() != "session" {
				require.NoError(t, newChannel.Reject(ssh.UnknownChannelType, "unknown channel type"))
				continue
			}
			channel, channelReqs, err := newChannel.Accept()
			require.NoError(t, err)
			s.wg.Add(1)
			go s.handleChannel(t, channel, channelReqs)
		}
	}
}

// handleChannel answers a single 'exec' or 'sftp' subsystem request, then
// closes the channel. Everything else is NAKed.
func (s *Server) handleChannel(t *testing.T, channel ssh.Channel, reqs <-chan *ssh.Request) {
	defer s.wg.Done()
	defer channel.Close()
	for req := range reqs {
		switch req.Type {
		case "exec":
			var payload struct{ Command string }
			require.NoError(t, ssh.Unmarshal(req.Payload, &payload))
			if req.WantReply {
				require.NoError(t, req.Reply(true, nil))
			}
			s.mu.Lock()
			res, ok := s.results[payload.Command]
			s.mu.Unlock()
			if !ok {
				res = Result{
					Stderr:     "mock: command not found: " + payload.Command + "\n",
					ExitStatus: 127,
				}
			}
			_, err := io.WriteString(channel, res.Stdout)
			require.NoError(t, err)
			_, err = io.WriteString(channel.Stderr(), res.Stderr)
			require.NoError(t, err)
			_, err = channel.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{res.ExitStatus}))
			require.NoError(t, err)
			return
		case "subsystem":
			var payload struct{ Name string }
			require.NoError(t, ssh.Unmarshal(req.Payload, &payload))
			accept := payload.Name == "sftp"
			if req.WantReply {
				require.NoError(t, req.Reply(accept, nil))
			}
			if !accept {
				continue
			}
			server, err := sftp.NewServer(channel)
			require.NoError(t, err)
			// Serve returns io.EOF when the client disconnects cleanly.
			if err := server.Serve(); err != nil && !errors.Is(err, io.EOF) {
				require.NoError(t, err)
			}
			return
		default:
			if req.WantReply {
				require.NoError(t, req.Reply(false, nil))
			}
		}
	}
}

// Shutdown stops accepting connections and waits for in-flight handlers.
func (s *Server) Shutdown(t *testing.T) {
	t.Helper()
	if s.cancel != nil {
		s.cancel()
	}
	if s.listener != nil {
		require.NoError(t, s.listener.Close())
	}
	s.wg.Wait()
}
