// Package tls builds the HTTPS configuration for the audit server from
// [server.tls]: explicit cert/key files, or a directory that can be filled
// with a self-signed pair on first start.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/loykin/auditweb/internal/config"
)

// File names used in directory mode.
const (
	tlsCaCrt = "tls_ca.crt"
	tlsCrt   = "tls.crt"
	tlsKey   = "tls.key"
)

func parseTLSVersion(ver string) (uint16, bool) {
	switch strings.ToLower(strings.TrimSpace(ver)) {
	case "1.2", "tls1.2":
		return tls.VersionTLS12, true
	case "1.3", "tls1.3":
		return tls.VersionTLS13, true
	}
	return 0, false
}

// versionRange defaults to TLS 1.2 through 1.3; an inverted range collapses to max.
func versionRange(s config.ServerConfig) (lo, hi uint16) {
	lo, hi = tls.VersionTLS12, tls.VersionTLS13
	if v, ok := parseTLSVersion(s.TLSMinVersion); ok {
		lo = v
	}
	if v, ok := parseTLSVersion(s.TLSMaxVersion); ok {
		hi = v
	}
	if lo > hi {
		lo = hi
	}
	return lo, hi
}

// Setup returns the server TLS config, or nil when TLS is disabled.
// Explicit cert/key files win over a certificate directory. Relative paths
// resolve against the config base directory. The pair is loaded once here so
// a broken certificate fails startup instead of the first handshake.
func Setup(c *config.Config) (*tls.Config, error) {
	t := c.Server.TLS
	if t == nil || !t.Enabled {
		return nil, nil
	}

	var certPath, keyPath string
	switch {
	case t.CertFile != "" && t.KeyFile != "":
		certPath, keyPath = c.Resolve(t.CertFile), c.Resolve(t.KeyFile)
		if !filesExist(certPath, keyPath) {
			return nil, fmt.Errorf("certificate %s or key %s not found", certPath, keyPath)
		}
	case t.Dir != "":
		dir := c.Resolve(t.Dir)
		certPath, keyPath = filepath.Join(dir, tlsCrt), filepath.Join(dir, tlsKey)
		if !filesExist(certPath, keyPath) {
			if !t.AutoGenerate {
				return nil, fmt.Errorf("no certificate in %s and auto_generate is off", dir)
			}
			if err := generateInto(dir, t.AutoGen); err != nil {
				return nil, fmt.Errorf("certificate generation failed: %w", err)
			}
		}
	default:
		return nil, errors.New("TLS enabled but no valid certificate configuration found")
	}

	r := &certReloader{certPath: certPath, keyPath: keyPath}
	if _, err := r.load(); err != nil {
		return nil, err
	}

	lo, hi := versionRange(c.Server)
	// #nosec G402 -- minimum is TLS 1.2 or higher
	return &tls.Config{
		GetCertificate: r.GetCertificate,
		MinVersion:     lo,
		MaxVersion:     hi,
	}, nil
}

// certReloader serves the key pair and re-reads it when either file's
// modification time changes, so rotated certificates apply without restart.
type certReloader struct {
	certPath, keyPath string

	mu      sync.Mutex
	cert    *tls.Certificate
	certMod time.Time
	keyMod  time.Time
}

func (r *certReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return r.load()
}

func (r *certReloader) load() (*tls.Certificate, error) {
	certInfo, err := os.Stat(r.certPath)
	if err != nil {
		return nil, fmt.Errorf("stat certificate: %w", err)
	}
	keyInfo, err := os.Stat(r.keyPath)
	if err != nil {
		return nil, fmt.Errorf("stat key: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cert != nil && certInfo.ModTime().Equal(r.certMod) && keyInfo.ModTime().Equal(r.keyMod) {
		return r.cert, nil
	}
	pair, err := tls.LoadX509KeyPair(r.certPath, r.keyPath)
	if err != nil {
		if r.cert != nil {
			// half-written rotation; keep serving the previous pair
			return r.cert, nil
		}
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	r.cert, r.certMod, r.keyMod = &pair, certInfo.ModTime(), keyInfo.ModTime()
	return r.cert, nil
}

func filesExist(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// generateInto writes a self-signed pair plus a trust copy into dir.
func generateInto(dir string, ag *config.AutoGenTLS) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	cc := CertConfig{
		CertPath:   filepath.Join(dir, tlsCrt),
		KeyPath:    filepath.Join(dir, tlsKey),
		CACertPath: filepath.Join(dir, tlsCaCrt),
	}
	if ag != nil {
		cc.CommonName = ag.CommonName
		cc.Organization = ag.Organization
		cc.DNSNames = ag.DNSNames
		cc.IPAddresses = ag.IPAddresses
		if ag.ValidDays > 0 {
			cc.NotAfter = time.Now().AddDate(0, 0, ag.ValidDays)
		}
	}
	return GenerateSelfSignedCert(cc)
}
