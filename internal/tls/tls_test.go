package tls

import (
	"crypto/tls"
	"crypto/x509"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/loykin/auditweb/internal/config"
)

func cfgWith(base string, t *config.TLSConfig) *config.Config {
	return &config.Config{BaseDir: base, Server: config.ServerConfig{TLS: t}}
}

func TestSetup_Disabled(t *testing.T) {
	got, err := Setup(cfgWith(t.TempDir(), nil))
	require.NoError(t, err)
	require.Nil(t, got)

	got, err = Setup(cfgWith(t.TempDir(), &config.TLSConfig{Enabled: false, Dir: "tls"}))
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestSetup_AutoGenerateInDir(t *testing.T) {
	base := t.TempDir()
	c := cfgWith(base, &config.TLSConfig{Enabled: true, Dir: "tls", AutoGenerate: true})

	got, err := Setup(c)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, uint16(tls.VersionTLS12), got.MinVersion)
	require.Equal(t, uint16(tls.VersionTLS13), got.MaxVersion)

	for _, name := range []string{tlsCrt, tlsKey, tlsCaCrt} {
		_, err := os.Stat(filepath.Join(base, "tls", name))
		require.NoError(t, err, name)
	}

	cert, err := got.GetCertificate(&tls.ClientHelloInfo{})
	require.NoError(t, err)
	require.NotEmpty(t, cert.Certificate)

	info, err := os.Stat(filepath.Join(base, "tls", tlsKey))
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestSetup_DirWithoutCertsOrAutoGenerate(t *testing.T) {
	_, err := Setup(cfgWith(t.TempDir(), &config.TLSConfig{Enabled: true, Dir: "tls"}))
	require.Error(t, err)
}

func TestSetup_ExplicitFiles(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "server.crt")
	keyPath := filepath.Join(dir, "server.key")
	require.NoError(t, GenerateSelfSignedCert(CertConfig{
		CommonName: "audit.local",
		DNSNames:   []string{"audit.local"},
		CertPath:   certPath,
		KeyPath:    keyPath,
	}))

	c := cfgWith(dir, &config.TLSConfig{Enabled: true, CertFile: "server.crt", KeyFile: "server.key"})
	c.Server.TLSMinVersion = "1.3"
	got, err := Setup(c)
	require.NoError(t, err)
	require.Equal(t, uint16(tls.VersionTLS13), got.MinVersion)

	_, err = Setup(cfgWith(dir, &config.TLSConfig{Enabled: true, CertFile: "missing.crt", KeyFile: "missing.key"}))
	require.Error(t, err)
}

func TestSetup_NoSource(t *testing.T) {
	_, err := Setup(cfgWith(t.TempDir(), &config.TLSConfig{Enabled: true}))
	require.Error(t, err)
}

func TestSetup_InvalidPairFailsFast(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.crt"), []byte("not a cert"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.key"), []byte("not a key"), 0o600))

	_, err := Setup(cfgWith(dir, &config.TLSConfig{Enabled: true, CertFile: "bad.crt", KeyFile: "bad.key"}))
	require.Error(t, err)
}

func TestCertReloader_PicksUpRotation(t *testing.T) {
	dir := t.TempDir()
	cc := CertConfig{CommonName: "first", CertPath: filepath.Join(dir, "a.crt"), KeyPath: filepath.Join(dir, "a.key")}
	require.NoError(t, GenerateSelfSignedCert(cc))

	r := &certReloader{certPath: cc.CertPath, keyPath: cc.KeyPath}
	first, err := r.load()
	require.NoError(t, err)
	again, err := r.GetCertificate(nil)
	require.NoError(t, err)
	require.Same(t, first, again)

	cc.CommonName = "second"
	require.NoError(t, GenerateSelfSignedCert(cc))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(cc.CertPath, later, later))

	rotated, err := r.GetCertificate(nil)
	require.NoError(t, err)
	require.NotSame(t, first, rotated)

	leaf, err := x509.ParseCertificate(rotated.Certificate[0])
	require.NoError(t, err)
	require.Equal(t, "second", leaf.Subject.CommonName)
}

func TestGenerateSelfSignedCert_Defaults(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "c.crt")
	require.NoError(t, GenerateSelfSignedCert(CertConfig{CertPath: certPath, KeyPath: filepath.Join(dir, "c.key")}))

	pair, err := tls.LoadX509KeyPair(certPath, filepath.Join(dir, "c.key"))
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	require.NoError(t, err)
	require.Equal(t, "localhost", leaf.Subject.CommonName)
	require.Contains(t, leaf.DNSNames, "localhost")
	require.True(t, leaf.NotAfter.After(time.Now().Add(300*24*time.Hour)))
}
