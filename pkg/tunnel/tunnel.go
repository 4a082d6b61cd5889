// Package tunnel открывает SSH туннель (local port forwarding) до сервера БД.
//
// Туннель слушает 127.0.0.1:<LocalPort> и пробрасывает каждое соединение
// на RemoteHost:RemotePort через SSH клиент. Установка SSH соединения
// выполняется через retry.Retryer.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/ruslano69/mysqlwriter/pkg/failure"
	"github.com/ruslano69/mysqlwriter/pkg/retry"
)

// Значения по умолчанию
const (
	DefaultLocalPort = 33006
	DefaultSSHPort   = 22
	LocalHost        = "127.0.0.1"
)

// Config - параметры туннеля
type Config struct {
	Enabled    bool
	PrivateKey string
	PublicKey  string
	User       string
	SSHHost    string
	SSHPort    int
	RemoteHost string
	RemotePort int
	LocalPort  int

	// MaxAttempts - количество попыток установки соединения (0 = retry.DefaultMaxAttempts)
	MaxAttempts int
}

// Validate проверяет обязательные параметры
func (c *Config) Validate() error {
	if c.SSHHost == "" {
		return failure.Configf("Parameter sshHost is missing.")
	}
	if c.PrivateKey == "" {
		return failure.Configf("Parameter keys is missing.")
	}
	return nil
}

// WithDefaults заполняет пустые поля значениями из параметров БД
func (c Config) WithDefaults(dbHost string, dbPort int, dbUser string) Config {
	if c.User == "" {
		c.User = dbUser
	}
	if c.LocalPort == 0 {
		c.LocalPort = DefaultLocalPort
	}
	if c.RemoteHost == "" {
		c.RemoteHost = dbHost
	}
	if c.RemotePort == 0 {
		c.RemotePort = dbPort
	}
	if c.SSHPort == 0 {
		c.SSHPort = DefaultSSHPort
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = retry.DefaultMaxAttempts
	}
	return c
}

// DialFunc устанавливает SSH соединение
type DialFunc func(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error)

// Options - зависимости туннеля
type Options struct {
	Logger zerolog.Logger
	// Dial - по умолчанию TCP + SSH handshake
	Dial DialFunc
	// Retry - конфигурация повторов; по умолчанию exponential backoff
	Retry *retry.Config
}

// Tunnel - открытый туннель
type Tunnel struct {
	client   *ssh.Client
	listener net.Listener
	remote   string
	logger   zerolog.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Open валидирует конфигурацию и открывает туннель.
// Исчерпание попыток возвращается как пользовательская ошибка.
func Open(ctx context.Context, cfg Config, opts Options) (*Tunnel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	signer, err := ssh.ParsePrivateKey([]byte(cfg.PrivateKey))
	if err != nil {
		return nil, failure.Configf("invalid ssh private key: %v", err)
	}

	clientConfig := &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}

	dial := opts.Dial
	if dial == nil {
		dial = dialSSH
	}

	retryConfig := retry.EnableRetry(cfg.MaxAttempts, 100*time.Millisecond)
	if opts.Retry != nil {
		retryConfig = *opts.Retry
	}
	retryConfig.OnRetry = func(attempt int, err error, delay time.Duration) {
		opts.Logger.Info().
			Int("attempt", attempt).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying ssh tunnel")
	}
	retryer, err := retry.NewRetryer(retryConfig)
	if err != nil {
		return nil, failure.Internal(err, "ssh tunnel")
	}

	sshAddr := net.JoinHostPort(cfg.SSHHost, strconv.Itoa(cfg.SSHPort))
	opts.Logger.Info().Str("ssh_host", cfg.SSHHost).Msgf("Creating SSH tunnel to '%s'", cfg.SSHHost)

	var client *ssh.Client
	err = retryer.Do(ctx, func(ctx context.Context) error {
		c, err := dial(ctx, sshAddr, clientConfig)
		if err != nil {
			return err
		}
		client = c
		return nil
	})
	if err != nil {
		var exhausted *retry.ExhaustedError
		if errors.As(err, &exhausted) {
			return nil, failure.Connectivity(exhausted.Err, "Unable to create ssh tunnel. Max retries (%d) exceeded", exhausted.Attempts)
		}
		return nil, failure.Connectivity(err, "Unable to create ssh tunnel")
	}

	listener, err := net.Listen("tcp", net.JoinHostPort(LocalHost, strconv.Itoa(cfg.LocalPort)))
	if err != nil {
		client.Close()
		return nil, failure.Connectivity(err, "Unable to listen on local port %d", cfg.LocalPort)
	}

	t := &Tunnel{
		client:   client,
		listener: listener,
		remote:   net.JoinHostPort(cfg.RemoteHost, strconv.Itoa(cfg.RemotePort)),
		logger:   opts.Logger,
	}

	t.wg.Add(1)
	go t.acceptLoop()

	return t, nil
}

// LocalAddr возвращает адрес, на котором туннель принимает соединения
func (t *Tunnel) LocalAddr() (string, int) {
	addr := t.listener.Addr().(*net.TCPAddr)
	return LocalHost, addr.Port
}

// Close останавливает прием соединений и закрывает SSH клиент
func (t *Tunnel) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.listener.Close()
		if cerr := t.client.Close(); cerr != nil && err == nil {
			err = cerr
		}
		t.wg.Wait()
	})
	return err
}

func (t *Tunnel) acceptLoop() {
	defer t.wg.Done()
	for {
		local, err := t.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				t.logger.Warn().Err(err).Msg("ssh tunnel accept failed")
			}
			return
		}
		t.wg.Add(1)
		go t.forward(local)
	}
}

func (t *Tunnel) forward(local net.Conn) {
	defer t.wg.Done()
	defer local.Close()

	remote, err := t.client.Dial("tcp", t.remote)
	if err != nil {
		t.logger.Warn().Err(err).Str("remote", t.remote).Msg("ssh tunnel forward failed")
		return
	}
	defer remote.Close()

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(remote, local)
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(local, remote)
		done <- struct{}{}
	}()
	<-done
}

// dialSSH - TCP соединение с учетом ctx и SSH handshake
func dialSSH(ctx context.Context, addr string, config *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: config.Timeout}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}
	return ssh.NewClient(c, chans, reqs), nil
}
