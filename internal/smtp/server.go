package smtp

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	gosmtp "github.com/emersion/go-smtp"
)

// certReloadInterval is how often the listener rereads the certificate
// files from disk, per §4.5's "hot TLS reload" requirement.
const certReloadInterval = 100 * time.Second

// ServerConfig holds the configuration for the submission server.
type ServerConfig struct {
	ListenAddr      string
	Domain          string
	MaxRecipients   int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	TLSCert         string
	TLSKey          string
}

// Server wraps a gosmtp.Server configured for implicit TLS submission,
// with a background goroutine that reloads the certificate from disk so
// rotation never needs a restart.
type Server struct {
	inner      *gosmtp.Server
	certPath   string
	keyPath    string
	currentPtr atomic.Pointer[tls.Certificate]
	logger     *slog.Logger
	stopReload chan struct{}
}

// NewServer creates a new submission server backed by the given Backend.
// The TLS certificate is mandatory: §4.5 requires implicit TLS, not
// optional STARTTLS.
func NewServer(cfg ServerConfig, backend *Backend, logger *slog.Logger) (*Server, error) {
	s := gosmtp.NewServer(backend)

	s.Addr = cfg.ListenAddr
	s.Domain = cfg.Domain
	s.MaxMessageBytes = maxMessageBytes
	s.MaxRecipients = cfg.MaxRecipients
	s.ReadTimeout = cfg.ReadTimeout
	s.WriteTimeout = cfg.WriteTimeout
	s.AllowInsecureAuth = false
	s.EnableSMTPUTF8 = true

	srv := &Server{
		inner:      s,
		certPath:   cfg.TLSCert,
		keyPath:    cfg.TLSKey,
		logger:     logger,
		stopReload: make(chan struct{}),
	}

	if err := srv.loadCertificate(); err != nil {
		return nil, fmt.Errorf("loading initial TLS certificate: %w", err)
	}

	s.TLSConfig = &tls.Config{
		GetCertificate: func(_ *tls.ClientHelloInfo) (*tls.Certificate, error) {
			cert := srv.currentPtr.Load()
			if cert == nil {
				return nil, fmt.Errorf("no TLS certificate loaded")
			}
			return cert, nil
		},
	}

	return srv, nil
}

func (s *Server) loadCertificate() error {
	cert, err := tls.LoadX509KeyPair(s.certPath, s.keyPath)
	if err != nil {
		return err
	}
	s.currentPtr.Store(&cert)
	return nil
}

// ListenAndServeTLS accepts implicit-TLS connections and starts the hot
// reload ticker. It blocks until the server is closed.
func (s *Server) ListenAndServeTLS() error {
	go s.reloadLoop()
	return s.inner.ListenAndServeTLS()
}

func (s *Server) reloadLoop() {
	ticker := time.NewTicker(certReloadInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopReload:
			return
		case <-ticker.C:
			if err := s.loadCertificate(); err != nil {
				s.logger.Error("submission: TLS certificate reload failed", "error", err)
			}
		}
	}
}

// Close stops the reload ticker and closes the underlying listener.
func (s *Server) Close() error {
	close(s.stopReload)
	return s.inner.Close()
}
