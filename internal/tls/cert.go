package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

// defaultValidity applies when CertConfig.NotAfter is zero.
const defaultValidity = 365 * 24 * time.Hour

// CertConfig describes a self-signed server certificate. Empty names fall
// back to localhost / 127.0.0.1.
type CertConfig struct {
	CommonName   string
	Organization string
	DNSNames     []string
	IPAddresses  []string
	NotAfter     time.Time
	CertPath     string
	KeyPath      string
	// CACertPath optionally receives a copy of the certificate for clients to trust.
	CACertPath string
}

func (c CertConfig) withDefaults() CertConfig {
	if c.CommonName == "" {
		c.CommonName = "localhost"
	}
	if c.Organization == "" {
		c.Organization = "auditweb"
	}
	if len(c.DNSNames) == 0 {
		c.DNSNames = []string{"localhost"}
	}
	if len(c.IPAddresses) == 0 {
		c.IPAddresses = []string{"127.0.0.1"}
	}
	if c.NotAfter.IsZero() {
		c.NotAfter = time.Now().Add(defaultValidity)
	}
	return c
}

// GenerateSelfSignedCert writes an ECDSA P-256 certificate (0644) and its
// PKCS#8 key (0600).
func GenerateSelfSignedCert(cfg CertConfig) error {
	cfg = cfg.withDefaults()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return fmt.Errorf("generate serial: %w", err)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: cfg.CommonName, Organization: []string{cfg.Organization}},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              cfg.NotAfter,
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              cfg.DNSNames,
	}
	for _, s := range cfg.IPAddresses {
		if ip := net.ParseIP(s); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal key: %w", err)
	}

	out := []struct {
		path  string
		typ   string
		der   []byte
		perm  os.FileMode
		label string
	}{
		{cfg.CertPath, "CERTIFICATE", certDER, 0o644, "certificate"},
		{cfg.KeyPath, "PRIVATE KEY", keyDER, 0o600, "key"},
		{cfg.CACertPath, "CERTIFICATE", certDER, 0o644, "CA copy"},
	}
	for _, f := range out {
		if f.path == "" {
			continue
		}
		data := pem.EncodeToMemory(&pem.Block{Type: f.typ, Bytes: f.der})
		if err := os.WriteFile(f.path, data, f.perm); err != nil {
			return fmt.Errorf("write %s: %w", f.label, err)
		}
	}
	return nil
}
