package tls

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	standardtls "crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestGenerateSelfSignedCert(t *testing.T) {
	t.Parallel()

	cert, err := GenerateSelfSignedCert()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse certificate: %v", err)
	}

	if leaf.Subject.CommonName != "localhost" {
		t.Errorf("CN: got %q, want %q", leaf.Subject.CommonName, "localhost")
	}
	if len(leaf.Subject.Organization) != 1 || leaf.Subject.Organization[0] != "newsletter-lite" {
		t.Errorf("organization: got %v", leaf.Subject.Organization)
	}
	if err := leaf.VerifyHostname("localhost"); err != nil {
		t.Errorf("certificate does not cover localhost: %v", err)
	}
	if err := leaf.VerifyHostname("127.0.0.1"); err != nil {
		t.Errorf("certificate does not cover 127.0.0.1: %v", err)
	}

	if got := leaf.NotAfter.Sub(leaf.NotBefore); got != selfSignedValidity {
		t.Errorf("validity: got %v, want %v", got, selfSignedValidity)
	}

	key, ok := leaf.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		t.Fatalf("public key: got %T, want ECDSA", leaf.PublicKey)
	}
	if key.Curve != elliptic.P256() {
		t.Errorf("curve: got %v, want P-256", key.Curve.Params().Name)
	}
}

func TestLoadOrGenerateTLS_SelfSignedFallback(t *testing.T) {
	t.Parallel()

	cfg, err := LoadOrGenerateTLS("", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Certificates) != 1 {
		t.Errorf("certificates: got %d, want 1", len(cfg.Certificates))
	}
	if cfg.MinVersion != standardtls.VersionTLS12 {
		t.Errorf("min version: got %d, want TLS 1.2", cfg.MinVersion)
	}
	if len(cfg.NextProtos) == 0 || cfg.NextProtos[len(cfg.NextProtos)-1] != "http/1.1" {
		t.Errorf("ALPN protocols: got %v, want http/1.1 offered", cfg.NextProtos)
	}
}

func TestLoadOrGenerateTLS_FromFiles(t *testing.T) {
	t.Parallel()

	certFile, keyFile := writeTestKeyPair(t)

	cfg, err := LoadOrGenerateTLS(certFile, keyFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("certificates: got %d, want 1", len(cfg.Certificates))
	}

	leaf, err := x509.ParseCertificate(cfg.Certificates[0].Certificate[0])
	if err != nil {
		t.Fatalf("failed to parse loaded certificate: %v", err)
	}
	if leaf.Subject.CommonName != "hook.example.com" {
		t.Errorf("loaded wrong certificate, CN: got %q", leaf.Subject.CommonName)
	}
}

func TestLoadOrGenerateTLS_MissingCertFile(t *testing.T) {
	t.Parallel()

	_, keyFile := writeTestKeyPair(t)

	_, err := LoadOrGenerateTLS("/nonexistent/cert.pem", keyFile)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "certificate file not found") {
		t.Errorf("error should name the certificate file: %v", err)
	}
}

func TestLoadOrGenerateTLS_MissingKeyFile(t *testing.T) {
	t.Parallel()

	certFile, _ := writeTestKeyPair(t)

	_, err := LoadOrGenerateTLS(certFile, "/nonexistent/key.pem")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "key file not found") {
		t.Errorf("error should name the key file: %v", err)
	}
}

func TestSelfSignedConfigServesHTTPS(t *testing.T) {
	t.Parallel()

	cfg, err := LoadOrGenerateTLS("", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("ok"))
	}))
	srv.TLS = cfg
	srv.StartTLS()
	t.Cleanup(srv.Close)

	client := &http.Client{
		Transport: &http.Transport{
			TLSClientConfig: &standardtls.Config{InsecureSkipVerify: true},
		},
	}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("HTTPS request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "ok" {
		t.Errorf("body: got %q, want %q", string(body), "ok")
	}
	if resp.TLS == nil {
		t.Error("response did not arrive over TLS")
	}
}

// writeTestKeyPair writes a throwaway certificate and key for
// hook.example.com into a temp dir and returns their paths.
func writeTestKeyPair(t *testing.T) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "hook.example.com"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"hook.example.com"},
	}
	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}

	dir := t.TempDir()
	certFile = filepath.Join(dir, "cert.pem")
	keyFile = filepath.Join(dir, "key.pem")

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(certFile, certPEM, 0o600); err != nil {
		t.Fatalf("failed to write cert file: %v", err)
	}
	if err := os.WriteFile(keyFile, keyPEM, 0o600); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}
	return certFile, keyFile
}
