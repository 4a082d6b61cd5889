package mysql

import (
	"context"
	"crypto/tls"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/hashicorp/go-version"
	"github.com/rs/zerolog"

	"github.com/ruslano69/mysqlwriter/pkg/failure"
	"github.com/ruslano69/mysqlwriter/pkg/retry"
	"github.com/ruslano69/mysqlwriter/pkg/tunnel"
)

// DefaultPort - порт MySQL по умолчанию
const DefaultPort = 3306

// Кодировки сессии: основная и запасная
const (
	CharsetUTF8MB4 = "utf8mb4"
	CharsetUTF8    = "utf8"
)

// sqlModeVersion - начиная со следующей версии из sql_mode убирается NO_ZERO_DATE
const sqlModeVersion = "8.0.0"

// Endpoint - параметры подключения к БД
type Endpoint struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	SSL      *SSLOptions
	SSH      *tunnel.Config
}

// Validate проверяет обязательные параметры
func (e Endpoint) Validate() error {
	for _, p := range []struct{ name, value string }{
		{"host", e.Host},
		{"database", e.Database},
		{"user", e.User},
	} {
		if p.value == "" {
			return failure.Configf("Parameter %s is missing.", p.name)
		}
	}
	if e.SSH != nil && e.SSH.Enabled {
		return e.SSH.Validate()
	}
	return nil
}

func (e Endpoint) port() int {
	if e.Port == 0 {
		return DefaultPort
	}
	return e.Port
}

func (e Endpoint) sslEnabled() bool {
	return e.SSL != nil && e.SSL.Enabled
}

func (e Endpoint) sshEnabled() bool {
	return e.SSH != nil && e.SSH.Enabled
}

// String возвращает user@host:port/db (без пароля)
func (e Endpoint) String() string {
	return fmt.Sprintf("%s@%s:%d/%s", e.User, e.Host, e.port(), e.Database)
}

func (e Endpoint) describe(ssl bool) string {
	return fmt.Sprintf("%s (ssl: %t)", e.String(), ssl)
}

// Option настраивает Connect
type Option func(*options)

type options struct {
	logger  zerolog.Logger
	retry   *retry.Config
	dial    tunnel.DialFunc
	timeout time.Duration
}

// WithLogger задает логгер соединения
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithTunnelRetry задает повторы установки SSH туннеля
func WithTunnelRetry(cfg retry.Config) Option {
	return func(o *options) { o.retry = &cfg }
}

// WithTunnelDial подменяет установку SSH соединения
func WithTunnelDial(dial tunnel.DialFunc) Option {
	return func(o *options) { o.dial = dial }
}

// WithTimeout задает таймаут TCP подключения к серверу
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// Conn - одна сессия с сервером
type Conn struct {
	db       *sql.DB
	conn     *sql.Conn
	endpoint Endpoint
	charset  string
	version  string
	ssl      bool
	tlsKey   string
	tunnel   io.Closer
	logger   zerolog.Logger
}

// localAddrer - локальная точка входа SSH туннеля
type localAddrer interface {
	LocalAddr() (string, int)
}

// driverConfig собирает конфигурацию драйвера. При туннеле адрес заменяется
// локальным, имя сервера TLS остается исходным хостом.
func driverConfig(ep Endpoint, local localAddrer, timeout time.Duration) (*mysql.Config, *tls.Config, error) {
	host, port := ep.Host, ep.port()
	if local != nil {
		host, port = local.LocalAddr()
	}

	mc := mysql.NewConfig()
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	mc.User = ep.User
	mc.Passwd = ep.Password
	mc.DBName = ep.Database
	mc.Timeout = timeout

	if !ep.sslEnabled() {
		return mc, nil, nil
	}
	tlsConfig, err := buildTLSConfig(*ep.SSL, ep.Host)
	if err != nil {
		return nil, nil, err
	}
	return mc, tlsConfig, nil
}

// Connect открывает туннель (если задан), соединение и настраивает сессию
func Connect(ctx context.Context, ep Endpoint, opts ...Option) (*Conn, error) {
	o := options{logger: zerolog.Nop(), timeout: 30 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	if err := ep.Validate(); err != nil {
		return nil, err
	}

	var (
		tun   *tunnel.Tunnel
		local localAddrer
	)
	if ep.sshEnabled() {
		tc := ep.SSH.WithDefaults(ep.Host, ep.port(), ep.User)
		var err error
		tun, err = tunnel.Open(ctx, tc, tunnel.Options{Logger: o.logger, Dial: o.dial, Retry: o.retry})
		if err != nil {
			return nil, err
		}
		local = tun
	}

	closeTunnel := func() {
		if tun != nil {
			_ = tun.Close()
		}
	}

	mc, tlsConfig, err := driverConfig(ep, local, o.timeout)
	if err != nil {
		closeTunnel()
		return nil, err
	}

	var tlsKey string
	if tlsConfig != nil {
		tlsKey = "mysqlwriter-" + uuid.NewString()
		if err := mysql.RegisterTLSConfig(tlsKey, tlsConfig); err != nil {
			closeTunnel()
			return nil, failure.Internal(err, "register tls config")
		}
		mc.TLSConfig = tlsKey
	}

	cleanup := func() {
		if tlsKey != "" {
			mysql.DeregisterTLSConfig(tlsKey)
		}
		closeTunnel()
	}

	connector, err := mysql.NewConnector(mc)
	if err != nil {
		cleanup()
		return nil, failure.Internal(err, "mysql connector")
	}

	db := sql.OpenDB(connector)
	// Временные таблицы живут в сессии
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	o.logger.Info().
		Str("endpoint", ep.String()).
		Bool("ssl", ep.sslEnabled()).
		Bool("tunnel", tun != nil).
		Msg("Connecting to database")

	sc, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		cleanup()
		return nil, classifyConnectError(err, ep, ep.sslEnabled())
	}

	c := &Conn{
		db:       db,
		conn:     sc,
		endpoint: ep,
		ssl:      ep.sslEnabled(),
		tlsKey:   tlsKey,
		logger:   o.logger,
	}
	if tun != nil {
		c.tunnel = tun
	}

	if err := c.setupSession(ctx); err != nil {
		c.Close()
		return nil, err
	}

	c.logger.Info().
		Bool("ssl", c.ssl).
		Bool("tunnel", c.tunnel != nil).
		Str("charset", c.charset).
		Str("version", c.version).
		Msgf("Connected to %s", ep.String())

	return c, nil
}

// setupSession: кодировка, проверки сервера и настройки сессии по версии
func (c *Conn) setupSession(ctx context.Context) error {
	if err := c.negotiateCharset(ctx); err != nil {
		return err
	}
	if err := c.checkLocalInfile(ctx); err != nil {
		return err
	}
	if c.ssl {
		if err := c.checkEncryption(ctx); err != nil {
			return err
		}
	}
	return c.adjustSQLMode(ctx)
}

func (c *Conn) negotiateCharset(ctx context.Context) error {
	if err := c.exec(ctx, "SET NAMES "+CharsetUTF8MB4); err == nil {
		c.charset = CharsetUTF8MB4
		return nil
	}

	c.logger.Info().Msg("Falling back to utf8 charset")
	if err := c.exec(ctx, "SET NAMES "+CharsetUTF8); err != nil {
		return err
	}
	c.charset = CharsetUTF8
	return nil
}

func (c *Conn) checkLocalInfile(ctx context.Context) error {
	value, err := c.variable(ctx, "SHOW VARIABLES LIKE 'local_infile'")
	if err != nil {
		return err
	}
	if value == "OFF" {
		return failure.Capabilityf("local_infile is disabled on server")
	}
	return nil
}

func (c *Conn) checkEncryption(ctx context.Context) error {
	cipher, err := c.variable(ctx, "SHOW STATUS LIKE 'Ssl_cipher'")
	if err != nil {
		return err
	}
	if cipher == "" {
		return failure.Capabilityf("connection is not encrypted")
	}
	c.logger.Info().Str("cipher", cipher).Msgf("Using SSL cipher: %s", cipher)
	return nil
}

func (c *Conn) adjustSQLMode(ctx context.Context) error {
	raw, err := c.variable(ctx, "SHOW VARIABLES LIKE 'version'")
	if err != nil {
		return err
	}
	c.version = raw

	current, err := version.NewVersion(raw)
	if err != nil {
		c.logger.Warn().Str("version", raw).Err(err).Msg("Unable to parse server version")
		return nil
	}
	threshold := version.Must(version.NewVersion(sqlModeVersion))
	if !current.Core().GreaterThan(threshold) {
		return nil
	}
	return c.exec(ctx, "SET SESSION sql_mode=(SELECT REPLACE(@@sql_mode,'NO_ZERO_DATE',''))")
}

// variable возвращает колонку Value первой строки SHOW VARIABLES/STATUS
func (c *Conn) variable(ctx context.Context, query string) (string, error) {
	rows, err := c.FetchAll(ctx, query)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0]["Value"], nil
}

// Charset возвращает кодировку сессии
func (c *Conn) Charset() string {
	return c.charset
}

// ServerVersion возвращает версию сервера
func (c *Conn) ServerVersion() string {
	return c.version
}

// Tunneled - соединение идет через SSH туннель
func (c *Conn) Tunneled() bool {
	return c.tunnel != nil
}

// Endpoint возвращает параметры подключения
func (c *Conn) Endpoint() Endpoint {
	return c.endpoint
}

// Exec выполняет запрос и логирует предупреждения сервера
func (c *Conn) Exec(ctx context.Context, query string) error {
	if err := c.exec(ctx, query); err != nil {
		return err
	}
	c.logWarnings(ctx)
	return nil
}

func (c *Conn) exec(ctx context.Context, query string) error {
	c.logger.Debug().Str("query", query).Msg("Executing query")
	if _, err := c.conn.ExecContext(ctx, query); err != nil {
		return classifyExecError(query, err)
	}
	return nil
}

// FetchAll выполняет запрос и возвращает строки как имя колонки -> значение.
// NULL возвращается пустой строкой.
func (c *Conn) FetchAll(ctx context.Context, query string) ([]map[string]string, error) {
	c.logger.Debug().Str("query", query).Msg("Fetching rows")

	rows, err := c.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, classifyExecError(query, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, classifyExecError(query, err)
	}

	var result []map[string]string
	for rows.Next() {
		values := make([]sql.NullString, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classifyExecError(query, err)
		}

		row := make(map[string]string, len(columns))
		for i, col := range columns {
			row[col] = values[i].String
		}
		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyExecError(query, err)
	}

	return result, nil
}

// logWarnings читает SHOW WARNINGS; ошибки чтения только логируются
func (c *Conn) logWarnings(ctx context.Context) {
	warnings, err := c.FetchAll(ctx, "SHOW WARNINGS")
	if err != nil {
		c.logger.Warn().Err(err).Msg("Unable to read server warnings")
		return
	}
	for _, w := range warnings {
		c.logger.Warn().
			Str("warning_level", w["Level"]).
			Str("code", w["Code"]).
			Msg(w["Message"])
	}
}

// Close закрывает сессию, пул, TLS регистрацию и туннель
func (c *Conn) Close() error {
	var errs []error
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			errs = append(errs, err)
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.tlsKey != "" {
		mysql.DeregisterTLSConfig(c.tlsKey)
	}
	if c.tunnel != nil {
		if err := c.tunnel.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
