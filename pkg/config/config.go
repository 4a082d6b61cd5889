// Package config загружает конфигурацию writer'а из YAML или JSON документа.
//
// JSON является подмножеством YAML, поэтому оба формата читаются одним
// декодером gopkg.in/yaml.v3.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ruslano69/mysqlwriter/pkg/adapters/mysql"
	"github.com/ruslano69/mysqlwriter/pkg/failure"
	"github.com/ruslano69/mysqlwriter/pkg/source"
	"github.com/ruslano69/mysqlwriter/pkg/tunnel"
)

// Значения по умолчанию
const (
	DefaultDataDir   = "/data"
	DefaultResultTTL = 3600
	ResultLogRedis   = "redis"
)

// Config представляет полную конфигурацию запуска
type Config struct {
	DB                  DBConfig         `yaml:"db"`
	DataDir             string           `yaml:"dataDir"`
	CreateMissingTables *bool            `yaml:"createMissingTables"` // по умолчанию true
	Tables              []TableConfig    `yaml:"tables"`
	S3                  *source.S3Config `yaml:"s3,omitempty"`
	ResultLog           *ResultLogConfig `yaml:"resultLog,omitempty"`
}

// DBConfig - параметры подключения к MySQL
type DBConfig struct {
	Host        string     `yaml:"host"`
	Port        int        `yaml:"port"`
	Database    string     `yaml:"database"`
	User        string     `yaml:"user"`
	Password    string     `yaml:"password"`
	EncPassword string     `yaml:"#password"` // зашифрованный вариант, расшифровывается платформой
	SSL         *SSLConfig `yaml:"ssl,omitempty"`
	SSH         *SSHConfig `yaml:"ssh,omitempty"`
}

// SSLConfig - TLS материал. Значения: PEM или путь к файлу.
type SSLConfig struct {
	Enabled          bool   `yaml:"enabled"`
	CA               string `yaml:"ca"`
	Cert             string `yaml:"cert"`
	Key              string `yaml:"key"`
	EncKey           string `yaml:"#key"`
	Cipher           string `yaml:"cipher"`           // список через ':'
	VerifyServerCert *bool  `yaml:"verifyServerCert"` // по умолчанию true
}

// SSHConfig - параметры SSH туннеля
type SSHConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Keys       SSHKeys `yaml:"keys"`
	SSHHost    string  `yaml:"sshHost"`
	SSHPort    int     `yaml:"sshPort"`
	RemoteHost string  `yaml:"remoteHost"`
	RemotePort int     `yaml:"remotePort"`
	LocalPort  int     `yaml:"localPort"`
	User       string  `yaml:"user"`
	MaxRetries int     `yaml:"maxRetries"`
}

// SSHKeys - ключевая пара туннеля
type SSHKeys struct {
	Private    string `yaml:"private"`
	EncPrivate string `yaml:"#private"`
	Public     string `yaml:"public"`
}

// TableConfig - описание одной выгружаемой таблицы
type TableConfig struct {
	TableID     string       `yaml:"tableId"`
	DBName      string       `yaml:"dbName"`
	File        string       `yaml:"file"` // локальный путь или s3://bucket/key
	Incremental bool         `yaml:"incremental"`
	Export      *bool        `yaml:"export"` // по умолчанию true
	PrimaryKey  []string     `yaml:"primaryKey"`
	Items       []ItemConfig `yaml:"items"`
}

// ItemConfig - описание колонки
type ItemConfig struct {
	Name     string  `yaml:"name"`   // имя в CSV
	DBName   string  `yaml:"dbName"` // имя в таблице
	Type     string  `yaml:"type"`
	Size     string  `yaml:"size"`
	Nullable bool    `yaml:"nullable"`
	Default  *string `yaml:"default"`
}

// ResultLogConfig - публикация результата в Redis
type ResultLogConfig struct {
	Type     string `yaml:"type"`    // "redis"
	Address  string `yaml:"address"` // host:port
	Name     string `yaml:"name"`    // имя результата в ключах
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTL      int    `yaml:"ttl"` // секунды
}

// LoadConfig загружает конфигурацию из файла
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, failure.Configf("Unable to read configuration file %s: %v", filename, err)
	}
	return Parse(data)
}

// Parse разбирает документ, проверяет его и заполняет значения по умолчанию
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, failure.Configf("Invalid configuration: %v", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	config.SetDefaults()
	return &config, nil
}

// Validate проверяет корректность конфигурации до любого подключения
func (c *Config) Validate() error {
	if err := c.DB.validate(); err != nil {
		return err
	}

	seen := make(map[string]string, len(c.Tables))
	for i := range c.Tables {
		t := &c.Tables[i]
		if t.TableID == "" {
			return failure.Configf("tables[%d]: Parameter tableId is missing.", i)
		}
		if t.DBName == "" {
			return failure.Configf("Table %s: Parameter dbName is missing.", t.TableID)
		}
		if prev, ok := seen[t.DBName]; ok {
			return failure.Configf("Tables %s and %s write to the same destination '%s'", prev, t.TableID, t.DBName)
		}
		seen[t.DBName] = t.TableID

		table, err := t.Table()
		if err != nil {
			return err
		}
		if err := table.Validate(); err != nil {
			return failure.Configf("Table %s: %v", t.TableID, err)
		}
		if t.exported() && (strings.HasPrefix(t.File, source.S3Scheme+"://") || source.IsS3Path(c.DataDir)) && c.S3 == nil {
			return failure.Configf("Table %s is read from S3, but parameter s3 is missing.", t.TableID)
		}
	}

	if c.ResultLog != nil {
		if c.ResultLog.Type != ResultLogRedis {
			return failure.Configf("Unsupported resultLog type '%s'", c.ResultLog.Type)
		}
		if c.ResultLog.Address == "" {
			return failure.Configf("Parameter resultLog.address is missing.")
		}
		if c.ResultLog.Name == "" {
			return failure.Configf("Parameter resultLog.name is missing.")
		}
	}

	return nil
}

func (d *DBConfig) validate() error {
	for _, p := range []struct{ name, value string }{
		{"host", d.Host},
		{"database", d.Database},
		{"user", d.User},
	} {
		if p.value == "" {
			return failure.Configf("Parameter db.%s is missing.", p.name)
		}
	}
	if d.Port < 0 || d.Port > 65535 {
		return failure.Configf("Invalid db.port %d", d.Port)
	}
	if d.SSH != nil && d.SSH.Enabled {
		if d.SSH.SSHHost == "" {
			return failure.Configf("Parameter db.ssh.sshHost is missing.")
		}
		if d.SSH.Keys.private() == "" {
			return failure.Configf("Parameter db.ssh.keys.#private is missing.")
		}
	}
	return nil
}

// SetDefaults устанавливает значения по умолчанию
func (c *Config) SetDefaults() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.CreateMissingTables == nil {
		c.CreateMissingTables = boolPtr(true)
	}
	if c.DB.Port == 0 {
		c.DB.Port = mysql.DefaultPort
	}
	if c.DB.SSL != nil && c.DB.SSL.VerifyServerCert == nil {
		c.DB.SSL.VerifyServerCert = boolPtr(true)
	}
	for i := range c.Tables {
		if c.Tables[i].Export == nil {
			c.Tables[i].Export = boolPtr(true)
		}
	}
	if c.ResultLog != nil && c.ResultLog.TTL == 0 {
		c.ResultLog.TTL = DefaultResultTTL
	}
}

// Endpoint преобразует параметры БД в mysql.Endpoint
func (c *Config) Endpoint() mysql.Endpoint {
	d := c.DB
	ep := mysql.Endpoint{
		Host:     d.Host,
		Port:     d.Port,
		Database: d.Database,
		User:     d.User,
		Password: firstNonEmpty(d.EncPassword, d.Password),
	}

	if d.SSL != nil && d.SSL.Enabled {
		verify := d.SSL.VerifyServerCert == nil || *d.SSL.VerifyServerCert
		ep.SSL = &mysql.SSLOptions{
			Enabled:          true,
			CA:               d.SSL.CA,
			Cert:             d.SSL.Cert,
			Key:              firstNonEmpty(d.SSL.EncKey, d.SSL.Key),
			Cipher:           d.SSL.Cipher,
			VerifyServerCert: verify,
		}
	}

	if d.SSH != nil && d.SSH.Enabled {
		ep.SSH = &tunnel.Config{
			Enabled:     true,
			PrivateKey:  d.SSH.Keys.private(),
			PublicKey:   d.SSH.Keys.Public,
			User:        d.SSH.User,
			SSHHost:     d.SSH.SSHHost,
			SSHPort:     d.SSH.SSHPort,
			RemoteHost:  d.SSH.RemoteHost,
			RemotePort:  d.SSH.RemotePort,
			LocalPort:   d.SSH.LocalPort,
			MaxAttempts: d.SSH.MaxRetries,
		}
	}

	return ep
}

// ShouldCreateMissingTables сообщает, создавать ли отсутствующую целевую таблицу
// перед инкрементальным слиянием
func (c *Config) ShouldCreateMissingTables() bool {
	return c.CreateMissingTables == nil || *c.CreateMissingTables
}

// ExportedTables возвращает таблицы с export=true в порядке конфигурации
func (c *Config) ExportedTables() []TableConfig {
	var out []TableConfig
	for _, t := range c.Tables {
		if t.exported() {
			out = append(out, t)
		}
	}
	return out
}

// FileLocation возвращает путь к CSV файлу таблицы
func (c *Config) FileLocation(t TableConfig) string {
	if t.File != "" {
		return t.File
	}
	name := t.TableID + ".csv"
	if source.IsS3Path(c.DataDir) {
		return strings.TrimSuffix(c.DataDir, "/") + "/in/tables/" + name
	}
	return filepath.Join(c.DataDir, "in", "tables", name)
}

// Table преобразует описание таблицы в mysql.Table
func (t TableConfig) Table() (mysql.Table, error) {
	table := mysql.Table{
		Name:        t.DBName,
		PrimaryKey:  t.PrimaryKey,
		Incremental: t.Incremental,
	}

	for i, item := range t.Items {
		typ, err := mysql.ParseColumnType(item.Type)
		if err != nil {
			return mysql.Table{}, fmt.Errorf("table %s, items[%d]: %w", t.TableID, i, err)
		}
		if item.Name == "" {
			return mysql.Table{}, failure.Configf("Table %s, items[%d]: Parameter name is missing.", t.TableID, i)
		}
		dbName := item.DBName
		if dbName == "" && typ != mysql.TypeIgnore {
			dbName = item.Name
		}
		table.Columns = append(table.Columns, mysql.Column{
			Name:     item.Name,
			DBName:   dbName,
			Type:     typ,
			Size:     item.Size,
			Nullable: item.Nullable,
			Default:  item.Default,
		})
	}

	return table, nil
}

func (t TableConfig) exported() bool {
	return t.Export == nil || *t.Export
}

func (k SSHKeys) private() string {
	return firstNonEmpty(k.EncPrivate, k.Private)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func boolPtr(v bool) *bool {
	return &v
}
