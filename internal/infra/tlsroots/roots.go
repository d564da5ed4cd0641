package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"
)

var (
	// ErrNoCertsFound is returned when no certificates are found in a PEM file.
	ErrNoCertsFound = errors.New("tlsroots: no certificates found in PEM file")
)

// Pool holds the roots trusted by outbound clients such as the webhook sink.
type Pool struct {
	certPool *x509.CertPool
	added    int
}

// NewPool creates a pool seeded with the system roots. Systems without a
// readable root store start from an empty pool.
func NewPool() *Pool {
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	return &Pool{certPool: pool}
}

// NewEmptyPool creates a pool that trusts only explicitly added roots.
func NewEmptyPool() *Pool {
	return &Pool{certPool: x509.NewCertPool()}
}

// AddCertFile adds every certificate in a PEM file.
func (p *Pool) AddCertFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("tlsroots: read cert file %s: %w", path, err)
	}
	if err := p.AddCertPEM(data); err != nil {
		return fmt.Errorf("tlsroots: %s: %w", path, err)
	}
	return nil
}

// AddCertPEM adds certificates from PEM-encoded data. Non-certificate
// blocks are skipped.
func (p *Pool) AddCertPEM(pemData []byte) error {
	var added int
	for len(pemData) > 0 {
		var block *pem.Block
		block, pemData = pem.Decode(pemData)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return fmt.Errorf("tlsroots: parse certificate: %w", err)
		}
		p.certPool.AddCert(cert)
		added++
	}
	if added == 0 {
		return ErrNoCertsFound
	}
	p.added += added
	return nil
}

// Added reports how many certificates were added beyond the seed roots.
func (p *Pool) Added() int {
	return p.added
}

// CertPool returns the underlying x509.CertPool.
func (p *Pool) CertPool() *x509.CertPool {
	return p.certPool
}

// TLSConfig creates a client TLS config trusting this pool.
func (p *Pool) TLSConfig() *tls.Config {
	return &tls.Config{
		RootCAs:    p.certPool,
		MinVersion: tls.VersionTLS12,
	}
}

// HTTPClient returns an HTTP client that trusts this pool.
func (p *Pool) HTTPClient(timeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.TLSClientConfig = p.TLSConfig()
	return &http.Client{Transport: tr, Timeout: timeout}
}

// ClientFor returns a client trusting the system roots plus caFile.
// An empty caFile yields a plain client with the given timeout.
func ClientFor(caFile string, timeout time.Duration) (*http.Client, error) {
	if caFile == "" {
		return &http.Client{Timeout: timeout}, nil
	}
	p := NewPool()
	if err := p.AddCertFile(caFile); err != nil {
		return nil, err
	}
	return p.HTTPClient(timeout), nil
}
