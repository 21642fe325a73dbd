package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// SSH opens an interactive shell on the codec and streams its stdio.
// Cisco, Zoom Room and Vaddio consoles all accept API traffic this way.
type SSH struct {
	Host                        string
	Port                        string
	User                        string
	Password                    string
	KeyPath                     string
	Passphrase                  []byte
	KnownHostsPath              string
	InsecureSkipHostKeyChecking bool
	Timeout                     time.Duration
}

func (s SSH) Dial(ctx context.Context) (io.ReadWriteCloser, error) {
	address, err := s.address()
	if err != nil {
		return nil, err
	}
	config, err := s.clientConfig()
	if err != nil {
		return nil, err
	}

	d := net.Dialer{Timeout: s.Timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", address, err)
	}
	clientConn, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: ssh handshake %s: %w", address, err)
	}
	client := ssh.NewClient(clientConn, chans, reqs)

	session, err := client.NewSession()
	if err != nil {
		client.Close()
		return nil, err
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		client.Close()
		return nil, err
	}
	if err := session.Shell(); err != nil {
		session.Close()
		client.Close()
		return nil, fmt.Errorf("transport: ssh shell %s: %w", address, err)
	}
	return &shell{Reader: stdout, stdin: stdin, session: session, client: client}, nil
}

type shell struct {
	io.Reader
	stdin   io.WriteCloser
	session *ssh.Session
	client  *ssh.Client
}

func (s *shell) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

func (s *shell) Close() error {
	_ = s.stdin.Close()
	_ = s.session.Close()
	return s.client.Close()
}

func (s SSH) address() (string, error) {
	host := strings.TrimSpace(s.Host)
	if host == "" {
		return "", fmt.Errorf("%w: ssh host is required", ErrInvalidAddress)
	}
	if s.Port != "" {
		return net.JoinHostPort(host, s.Port), nil
	}
	return hostPort(host, "22")
}

func (s SSH) clientConfig() (*ssh.ClientConfig, error) {
	if s.User == "" {
		return nil, fmt.Errorf("%w: ssh user is required", ErrInvalidConfig)
	}

	var auth []ssh.AuthMethod
	if s.KeyPath != "" {
		signer, err := s.signer()
		if err != nil {
			return nil, err
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if s.Password != "" {
		auth = append(auth, ssh.Password(s.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("%w: ssh key path or password is required", ErrInvalidConfig)
	}

	var hostKeyCallback ssh.HostKeyCallback
	if s.InsecureSkipHostKeyChecking {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	} else {
		callback, err := s.knownHostsCallback()
		if err != nil {
			return nil, err
		}
		hostKeyCallback = callback
	}

	return &ssh.ClientConfig{
		User:            s.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         s.Timeout,
	}, nil
}

func (s SSH) signer() (ssh.Signer, error) {
	privateKey, err := os.ReadFile(s.KeyPath)
	if err != nil {
		return nil, err
	}
	if len(s.Passphrase) > 0 {
		return ssh.ParsePrivateKeyWithPassphrase(privateKey, s.Passphrase)
	}
	return ssh.ParsePrivateKey(privateKey)
}

func (s SSH) knownHostsCallback() (ssh.HostKeyCallback, error) {
	path := strings.TrimSpace(s.KnownHostsPath)
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.New("transport: known hosts path not set and home dir unavailable")
		}
		path = filepath.Join(home, ".ssh", "known_hosts")
	}
	return knownhosts.New(path)
}
