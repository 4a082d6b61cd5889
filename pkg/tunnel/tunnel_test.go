package tunnel

import (
	"bufio"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/ruslano69/mysqlwriter/pkg/failure"
	"github.com/ruslano69/mysqlwriter/pkg/retry"
)

func testPrivateKey(t *testing.T) (string, ssh.Signer) {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(block)), signer
}

func fastRetry(attempts int) *retry.Config {
	cfg := retry.EnableRetry(attempts, time.Millisecond)
	cfg.Jitter = 0
	return &cfg
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "missing host", cfg: Config{PrivateKey: "k"}, wantErr: "sshHost"},
		{name: "missing key", cfg: Config{SSHHost: "bastion"}, wantErr: "keys"},
		{name: "valid", cfg: Config{SSHHost: "bastion", PrivateKey: "k"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, failure.KindConfig, failure.KindOf(err))
		})
	}
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{SSHHost: "bastion", PrivateKey: "k"}.WithDefaults("db.internal", 3307, "writer")

	assert.Equal(t, "writer", cfg.User)
	assert.Equal(t, DefaultLocalPort, cfg.LocalPort)
	assert.Equal(t, "db.internal", cfg.RemoteHost)
	assert.Equal(t, 3307, cfg.RemotePort)
	assert.Equal(t, DefaultSSHPort, cfg.SSHPort)
	assert.Equal(t, retry.DefaultMaxAttempts, cfg.MaxAttempts)

	explicit := Config{User: "tunnel", LocalPort: 40000, RemoteHost: "10.0.0.5", RemotePort: 3306, SSHPort: 2222}.
		WithDefaults("db.internal", 3307, "writer")
	assert.Equal(t, "tunnel", explicit.User)
	assert.Equal(t, 40000, explicit.LocalPort)
	assert.Equal(t, "10.0.0.5", explicit.RemoteHost)
	assert.Equal(t, 3306, explicit.RemotePort)
	assert.Equal(t, 2222, explicit.SSHPort)
}

func TestOpen_InvalidKey(t *testing.T) {
	_, err := Open(context.Background(), Config{SSHHost: "bastion", PrivateKey: "not a key"}, Options{Logger: zerolog.Nop()})

	require.Error(t, err)
	assert.Equal(t, failure.KindConfig, failure.KindOf(err))
}

func TestOpen_RetriesUntilExhausted(t *testing.T) {
	key, _ := testPrivateKey(t)
	attempts := 0
	dial := func(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
		attempts++
		assert.Equal(t, "bastion:22", addr)
		return nil, errors.New("connection refused")
	}

	cfg := Config{SSHHost: "bastion", PrivateKey: key}.WithDefaults("db", 3306, "writer")
	_, err := Open(context.Background(), cfg, Options{Logger: zerolog.Nop(), Dial: dial, Retry: fastRetry(cfg.MaxAttempts)})

	require.Error(t, err)
	assert.Equal(t, retry.DefaultMaxAttempts, attempts)
	assert.True(t, failure.IsUser(err))
	assert.Equal(t, failure.KindConnectivity, failure.KindOf(err))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestOpen_ForwardsConnections(t *testing.T) {
	key, _ := testPrivateKey(t)
	echoAddr := startEcho(t)
	sshAddr := startSSHServer(t)

	sshHost, sshPortStr, err := net.SplitHostPort(sshAddr)
	require.NoError(t, err)
	sshPort, _ := strconv.Atoi(sshPortStr)
	remoteHost, remotePortStr, err := net.SplitHostPort(echoAddr)
	require.NoError(t, err)
	remotePort, _ := strconv.Atoi(remotePortStr)

	cfg := Config{
		PrivateKey:  key,
		User:        "writer",
		SSHHost:     sshHost,
		SSHPort:     sshPort,
		RemoteHost:  remoteHost,
		RemotePort:  remotePort,
		LocalPort:   0,
		MaxAttempts: 1,
	}

	tun, err := Open(context.Background(), cfg, Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer tun.Close()

	host, port := tun.LocalAddr()
	assert.Equal(t, LocalHost, host)

	conn, err := net.Dial("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping\n"))
	require.NoError(t, err)
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ping\n", line)

	assert.NoError(t, tun.Close())
}

func startEcho(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			c, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				_, _ = io.Copy(c, c)
			}()
		}
	}()
	return l.Addr().String()
}

// startSSHServer поднимает минимальный SSH сервер с поддержкой direct-tcpip
func startSSHServer(t *testing.T) string {
	t.Helper()
	_, hostSigner := testPrivateKey(t)
	config := &ssh.ServerConfig{NoClientAuth: true}
	config.AddHostKey(hostSigner)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	go func() {
		for {
			nc, err := l.Accept()
			if err != nil {
				return
			}
			go serveSSH(nc, config)
		}
	}()
	return l.Addr().String()
}

func serveSSH(nc net.Conn, config *ssh.ServerConfig) {
	_, chans, reqs, err := ssh.NewServerConn(nc, config)
	if err != nil {
		nc.Close()
		return
	}
	go ssh.DiscardRequests(reqs)

	for newCh := range chans {
		if newCh.ChannelType() != "direct-tcpip" {
			_ = newCh.Reject(ssh.UnknownChannelType, "unsupported")
			continue
		}
		var target struct {
			Host     string
			Port     uint32
			OrigHost string
			OrigPort uint32
		}
		if err := ssh.Unmarshal(newCh.ExtraData(), &target); err != nil {
			_ = newCh.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}
		upstream, err := net.Dial("tcp", net.JoinHostPort(target.Host, strconv.Itoa(int(target.Port))))
		if err != nil {
			_ = newCh.Reject(ssh.ConnectionFailed, err.Error())
			continue
		}
		ch, chReqs, err := newCh.Accept()
		if err != nil {
			upstream.Close()
			continue
		}
		go ssh.DiscardRequests(chReqs)
		go func() {
			defer ch.Close()
			defer upstream.Close()
			go func() { _, _ = io.Copy(upstream, ch) }()
			_, _ = io.Copy(ch, upstream)
		}()
	}
}
