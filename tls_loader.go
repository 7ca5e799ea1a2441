// Hot-reloading TLS certificate loader for the optional status endpoint

package main

import (
	"crypto/tls"
	"os"
	"sync"
	"time"
)

const certReloadCheckInterval = 30 * time.Second

// CertificateLoader re-reads a cert/key pair from disk whenever either
// file's mtime changes, without interrupting in-flight TLS handshakes.
type CertificateLoader struct {
	certPath string
	keyPath  string

	mu   sync.Mutex
	cert *tls.Certificate

	certModTime time.Time
	keyModTime  time.Time
}

func NewCertificateLoader(certPath, keyPath string) (*CertificateLoader, error) {
	certStat, err := os.Stat(certPath)
	if err != nil {
		return nil, err
	}
	keyStat, err := os.Stat(keyPath)
	if err != nil {
		return nil, err
	}

	cer, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, err
	}

	return &CertificateLoader{
		certPath:    certPath,
		keyPath:     keyPath,
		cert:        &cer,
		certModTime: certStat.ModTime(),
		keyModTime:  keyStat.ModTime(),
	}, nil
}

func (l *CertificateLoader) RunReloadLoop() {
	for {
		time.Sleep(certReloadCheckInterval)

		certStat, err := os.Stat(l.certPath)
		if err != nil {
			LogError(err)
			continue
		}
		keyStat, err := os.Stat(l.keyPath)
		if err != nil {
			LogError(err)
			continue
		}

		if certStat.ModTime().Equal(l.certModTime) && keyStat.ModTime().Equal(l.keyModTime) {
			continue
		}

		cer, err := tls.LoadX509KeyPair(l.certPath, l.keyPath)
		if err != nil {
			LogError(err)
			continue
		}

		l.mu.Lock()
		l.cert = &cer
		l.mu.Unlock()

		l.certModTime = certStat.ModTime()
		l.keyModTime = keyStat.ModTime()

		LogInfo("Reloaded status endpoint TLS certificate")
	}
}

func (l *CertificateLoader) GetCertificateFunc() func(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return func(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.cert, nil
	}
}
