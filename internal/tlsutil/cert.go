package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	certFileName = "console.crt"
	keyFileName  = "console.key"

	certValidity = 365 * 24 * time.Hour
)

// ErrNoCertificate is returned when nothing can be loaded and generation is off
var ErrNoCertificate = errors.New("no TLS certificate available")

// Source describes where the admin server certificate comes from.
// An explicit CertFile/KeyFile pair wins; otherwise Dir is searched and,
// when AutoGenerate is set, a self-signed pair is written there.
type Source struct {
	CertFile     string
	KeyFile      string
	Dir          string
	AutoGenerate bool
	Hosts        []string // extra DNS names or IPs for a generated certificate
}

// Paths returns the certificate and key paths Load reads
func (s Source) Paths() (certPath, keyPath string) {
	if s.CertFile != "" && s.KeyFile != "" {
		return s.CertFile, s.KeyFile
	}
	return filepath.Join(s.Dir, certFileName), filepath.Join(s.Dir, keyFileName)
}

// Load returns the configured certificate, generating one if allowed
func (s Source) Load() (*tls.Certificate, error) {
	certPath, keyPath := s.Paths()

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err == nil {
		return &cert, nil
	}
	if s.CertFile != "" && s.KeyFile != "" {
		return nil, fmt.Errorf("load certificate %s: %w", certPath, err)
	}
	if !s.AutoGenerate {
		return nil, ErrNoCertificate
	}

	log.Info().Str("dir", s.Dir).Msg("generating self-signed certificate for the admin console")
	return generate(s.Dir, s.Hosts)
}

// ServerConfig returns a TLS configuration serving cert
func ServerConfig(cert *tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{*cert},
		MinVersion:   tls.VersionTLS12,
	}
}

func generate(dir string, hosts []string) (*tls.Certificate, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create certificate directory: %w", err)
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	tmpl := x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			Organization: []string{"go-apibot"},
			CommonName:   "go-apibot admin console",
		},
		NotBefore:             now.Add(-time.Minute),
		NotAfter:              now.Add(certValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	for _, h := range hosts {
		if h == "" {
			continue
		}
		if ip := net.ParseIP(h); ip != nil {
			if !ip.IsUnspecified() {
				tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
			}
			continue
		}
		tmpl.DNSNames = append(tmpl.DNSNames, h)
	}

	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	if err := os.WriteFile(filepath.Join(dir, certFileName), certPEM, 0644); err != nil {
		return nil, fmt.Errorf("write certificate: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, keyFileName), keyPEM, 0600); err != nil {
		return nil, fmt.Errorf("write key: %w", err)
	}

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("parse generated certificate: %w", err)
	}
	return &cert, nil
}
