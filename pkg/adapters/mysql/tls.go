package mysql

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"

	"github.com/ruslano69/mysqlwriter/pkg/failure"
)

const pemPrefix = "-----BEGIN"

// SSLOptions - параметры TLS соединения.
// CA, Cert и Key содержат PEM или путь к PEM файлу.
type SSLOptions struct {
	Enabled bool
	CA      string
	Cert    string
	Key     string
	// Cipher - список шифров через ':' или ',' (имена OpenSSL или Go/IANA)
	Cipher string
	// VerifyServerCert - проверять сертификат и имя сервера
	VerifyServerCert bool
}

// openSSLCipherNames - имена OpenSSL, принятые в MySQL, для наборов TLS 1.2
var openSSLCipherNames = map[string]uint16{
	"ECDHE-RSA-AES128-GCM-SHA256":   tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	"ECDHE-RSA-AES256-GCM-SHA384":   tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	"ECDHE-ECDSA-AES128-GCM-SHA256": tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	"ECDHE-ECDSA-AES256-GCM-SHA384": tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	"ECDHE-RSA-CHACHA20-POLY1305":   tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305_SHA256,
	"ECDHE-ECDSA-CHACHA20-POLY1305": tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305_SHA256,
	"ECDHE-RSA-AES128-SHA":          tls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
	"ECDHE-RSA-AES256-SHA":          tls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
	"AES128-GCM-SHA256":             tls.TLS_RSA_WITH_AES_128_GCM_SHA256,
	"AES256-GCM-SHA384":             tls.TLS_RSA_WITH_AES_256_GCM_SHA384,
	"AES128-SHA":                    tls.TLS_RSA_WITH_AES_128_CBC_SHA,
	"AES256-SHA":                    tls.TLS_RSA_WITH_AES_256_CBC_SHA,
}

// buildTLSConfig собирает *tls.Config из PEM в памяти.
// serverName - исходный хост БД (при туннеле соединение идет на 127.0.0.1).
func buildTLSConfig(opts SSLOptions, serverName string) (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName:         serverName,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !opts.VerifyServerCert,
	}

	if opts.CA != "" {
		caPEM, err := readPEM(opts.CA)
		if err != nil {
			return nil, failure.Configf("Unable to read SSL CA: %v", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, failure.Configf("SSL CA does not contain a valid PEM certificate")
		}
		cfg.RootCAs = pool
	}

	switch {
	case opts.Cert != "" && opts.Key != "":
		certPEM, err := readPEM(opts.Cert)
		if err != nil {
			return nil, failure.Configf("Unable to read SSL certificate: %v", err)
		}
		keyPEM, err := readPEM(opts.Key)
		if err != nil {
			return nil, failure.Configf("Unable to read SSL key: %v", err)
		}
		pair, err := tls.X509KeyPair(certPEM, keyPEM)
		if err != nil {
			return nil, failure.Configf("Invalid SSL certificate or key: %v", err)
		}
		cfg.Certificates = []tls.Certificate{pair}
	case opts.Cert != "":
		return nil, failure.Configf("SSL certificate is set but key is missing")
	case opts.Key != "":
		return nil, failure.Configf("SSL key is set but certificate is missing")
	}

	if opts.Cipher != "" {
		suites, err := parseCipherSuites(opts.Cipher)
		if err != nil {
			return nil, err
		}
		cfg.CipherSuites = suites
	}

	return cfg, nil
}

// readPEM возвращает PEM как есть или читает файл по пути
func readPEM(value string) ([]byte, error) {
	if strings.HasPrefix(strings.TrimSpace(value), pemPrefix) {
		return []byte(value), nil
	}
	data, err := os.ReadFile(value)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", value, err)
	}
	return data, nil
}

// parseCipherSuites разбирает список шифров
func parseCipherSuites(list string) ([]uint16, error) {
	known := make(map[string]uint16)
	for _, s := range tls.CipherSuites() {
		known[s.Name] = s.ID
	}
	for _, s := range tls.InsecureCipherSuites() {
		known[s.Name] = s.ID
	}

	var ids []uint16
	for _, name := range strings.FieldsFunc(list, func(r rune) bool { return r == ':' || r == ',' || r == ' ' }) {
		if id, ok := openSSLCipherNames[strings.ToUpper(name)]; ok {
			ids = append(ids, id)
			continue
		}
		if id, ok := known[strings.ToUpper(name)]; ok {
			ids = append(ids, id)
			continue
		}
		return nil, failure.Configf("Unsupported SSL cipher '%s'", name)
	}
	return ids, nil
}
