package ssh

// ssh.go implements a facade over 'x/crypto/ssh', simplifying SSH connection
// construction and remote command execution for the bake pipeline.

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/crypto/ssh"
)

const dialDefaultTimeout = 10 * time.Second

var (
	ErrFailedDial      = fmt.Errorf("failed to establish SSH connection")
	ErrFailedHostParse = fmt.Errorf("failed to parse hostname")
	ErrHostKeyInvalid  = fmt.Errorf("target's host key is invalid")
	ErrSessionInit     = fmt.Errorf("failed to begin SSH session")
	ErrCMDExec         = fmt.Errorf("failed to execute SSH command")
)

// Client wraps an established 'ssh.Client' with the two operations the bake
// pipeline needs: running a remote command and uploading a local file.
type Client struct {
	ssh *ssh.Client
}

// Dial establishes an SSH connection to 'host' on TCP port 'port',
// authenticating as 'user' with public key authentication via 'signer'.
//
// 'host' can be any of: hostname, ipv4 address or ipv6 address.
// If 'port' is 0, a default value of '22' is used.
//
// Any values provided to 'hostKeys' will be compared against the host key
// offered by 'host'. If no 'hostKeys' value is provided, all host keys are
// accepted (fresh instances have no prior-known host key).
func Dial(host string, port uint16, user string, signer ssh.Signer, hostKeys ...ssh.PublicKey) (*Client, error) {
	if port == 0 {
		port = 22
	}
	config := &ssh.ClientConfig{
		User: user,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			// Same behavior as 'ssh.InsecureIgnoreHostKey' when no host keys
			// were pinned.
			if len(hostKeys) == 0 {
				return nil
			}
			for _, hostKey := range hostKeys {
				if bytes.Equal(hostKey.Marshal(), key.Marshal()) {
					return nil
				}
			}
			return ErrHostKeyInvalid
		},
		Timeout: dialDefaultTimeout,
	}
	target, err := joinHostPort(host, port)
	if err != nil {
		return nil, err
	}
	client, err := ssh.Dial("tcp", target, config)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedDial, err)
	}
	return &Client{ssh: client}, nil
}

// Run executes a single command, returning any standard out/err received.
func (c *Client) Run(cmd string) (string, string, error) {
	session, err := c.ssh.NewSession()
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", ErrSessionInit, err)
	}
	defer session.Close()
	stdout := new(bytes.Buffer)
	session.Stdout = stdout
	stderr := new(bytes.Buffer)
	session.Stderr = stderr
	if err = session.Run(cmd); err != nil {
		return stdout.String(), stderr.String(), fmt.Errorf("%w: %w", ErrCMDExec, err)
	}
	return stdout.String(), stderr.String(), nil
}

// Close tears down the underlying SSH connection.
func (c *Client) Close() error {
	return c.ssh.Close()
}

// joinHostPort parses and validates 'host' is a valid IPv4 or IPv6 address,
// then joins it with the port in the address-family-specific format.
//
// If 'host' is a hostname, the hostname will be resolved, then joinHostPort
// will recurse using the first of the resolved addresses.
func joinHostPort(host string, port uint16) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if addr := net.ParseIP(host); addr == nil {
		// Is it a hostname?
		addrs, err := net.DefaultResolver.LookupHost(ctx, host)
		if err != nil {
			return "", fmt.Errorf("%w: %s", ErrFailedHostParse, host)
		}
		return joinHostPort(addrs[0], port)
	} else if ipv4 := addr.To4(); ipv4 != nil {
		return fmt.Sprintf("%s:%d", ipv4.String(), port), nil
	} else if ipv6 := addr.To16(); ipv6 != nil {
		return fmt.Sprintf("[%s]:%d", ipv6.String(), port), nil
	} else {
		panic("impossible")
	}
}
