package websocket

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"golang.org/x/net/proxy"
	"gopkg.in/yaml.v3"
)

// Config describes a client connection in YAML form:
//
//	url: wss://example.com/chat
//	handshake_timeout: 10s
//	read_limit: 1048576
//	proxy: socks5://127.0.0.1:1080
//	headers:
//	  Authorization: Bearer token
//	  X-Client: demo
//	tls:
//	  server_name: example.com
//	  ca_file: /etc/ssl/example-ca.pem
type Config struct {
	URL              string        `yaml:"url"`
	Headers          HeaderList    `yaml:"headers"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReadLimit        int64         `yaml:"read_limit"`
	Proxy            string        `yaml:"proxy"`
	TLS              TLSConfig     `yaml:"tls"`
}

// TLSConfig holds the TLS settings used for secure targets.
type TLSConfig struct {
	ServerName         string `yaml:"server_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	CAFile             string `yaml:"ca_file"`
}

// HeaderField is a single configured header.
type HeaderField struct {
	Name  string
	Value string
}

// HeaderList is a list of headers decoded from a YAML mapping. Unlike a
// Go map it keeps the document order.
type HeaderList []HeaderField

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *HeaderList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("websocket: headers: line %d: expected a mapping", node.Line)
	}

	list := make(HeaderList, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var f HeaderField
		if err := node.Content[i].Decode(&f.Name); err != nil {
			return err
		}
		if err := node.Content[i+1].Decode(&f.Value); err != nil {
			return err
		}
		list = append(list, f)
	}

	*l = list
	return nil
}

// LoadConfig reads a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes a YAML configuration.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		return nil, errors.New("websocket: config: url is required")
	}
	return &cfg, nil
}

// Builder returns a Builder configured from c.
func (c *Config) Builder() (*Builder, error) {
	b, err := NewBuilder(c.URL)
	if err != nil {
		return nil, err
	}

	for _, h := range c.Headers {
		if err := b.AddHeader(h.Name, h.Value); err != nil {
			return nil, err
		}
	}

	b.SetHandshakeTimeout(c.HandshakeTimeout)
	b.SetReadLimit(c.ReadLimit)

	if c.Proxy != "" {
		dialer, err := proxyDialer(c.Proxy)
		if err != nil {
			return nil, err
		}
		b.SetDialer(dialer)
	}

	if b.Target().Secure() && c.TLS != (TLSConfig{}) {
		tlsConfig, err := c.TLS.clientConfig()
		if err != nil {
			return nil, err
		}
		b.SetConnector(NewTLSConnector(tlsConfig))
	}

	return b, nil
}

func proxyDialer(rawURL string) (proxy.ContextDialer, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("websocket: config: proxy: %w", err)
	}

	d, err := proxy.FromURL(u, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("websocket: config: proxy: %w", err)
	}

	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("websocket: config: proxy %s does not support contexts", u.Scheme)
	}
	return cd, nil
}

func (t TLSConfig) clientConfig() (*tls.Config, error) {
	cfg := &tls.Config{
		ServerName:         t.ServerName,
		InsecureSkipVerify: t.InsecureSkipVerify, //nolint:gosec
	}

	if t.CAFile != "" {
		pem, err := os.ReadFile(t.CAFile)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("websocket: config: no certificates in %s", t.CAFile)
		}
		cfg.RootCAs = pool
	}

	return cfg, nil
}
