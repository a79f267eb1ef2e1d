package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/semmidev/vaultkeeper/internal/adapter/storage"
	"github.com/semmidev/vaultkeeper/internal/infrastructure/logger"
)

const (
	AuthorizePath = "/auth/google/drive"
	CallbackPath  = "/auth/google/callback"
)

// DriveAuthServer walks an operator through the Google consent screen once
// and hands back the refresh token used for storage.refresh_token.
type DriveAuthServer struct {
	config *oauth2.Config
	logger *logger.Logger
	state  string
	tokens chan *oauth2.Token
	server *http.Server
}

func NewDriveAuthServer(log *logger.Logger, clientSecretPath, redirectURL string) (*DriveAuthServer, error) {
	if clientSecretPath == "" {
		return nil, errors.New("client secret path cannot be empty")
	}
	cfg, err := storage.DriveOAuthConfig(clientSecretPath)
	if err != nil {
		return nil, err
	}
	if redirectURL != "" {
		cfg.RedirectURL = redirectURL
	}
	return newDriveAuthServer(log, cfg)
}

func newDriveAuthServer(log *logger.Logger, cfg *oauth2.Config) (*DriveAuthServer, error) {
	state := make([]byte, 16)
	if _, err := rand.Read(state); err != nil {
		return nil, fmt.Errorf("failed to generate oauth state: %w", err)
	}
	return &DriveAuthServer{
		config: cfg,
		logger: log,
		state:  hex.EncodeToString(state),
		tokens: make(chan *oauth2.Token, 1),
	}, nil
}

// AuthURL is the consent page the operator has to open.
func (s *DriveAuthServer) AuthURL() string {
	return s.config.AuthCodeURL(s.state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

func (s *DriveAuthServer) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+AuthorizePath, func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, s.AuthURL(), http.StatusTemporaryRedirect)
	})

	mux.HandleFunc("GET "+CallbackPath, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("state") != s.state {
			http.Error(w, "state mismatch", http.StatusBadRequest)
			return
		}
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code parameter", http.StatusBadRequest)
			return
		}

		token, err := s.config.Exchange(r.Context(), code)
		if err != nil {
			http.Error(w, fmt.Sprintf("token exchange failed: %v", err), http.StatusBadGateway)
			return
		}
		if token.RefreshToken == "" {
			fmt.Fprintln(w, "⚠️ No refresh token returned. Revoke app access & re-authorize.")
			return
		}

		fmt.Fprintln(w, "✅ Authorized. The refresh token was printed by vaultkeeper; you can close this tab.")
		select {
		case s.tokens <- token:
		default:
		}
	})

	return mux
}

// Start listens on addr in the background.
func (s *DriveAuthServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.logger.Infof("Google Drive OAuth server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("OAuth server error: %v", err)
		}
	}()
	return nil
}

// Wait blocks until a token with a refresh token arrives or ctx ends.
func (s *DriveAuthServer) Wait(ctx context.Context) (*oauth2.Token, error) {
	select {
	case token := <-s.tokens:
		return token, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *DriveAuthServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown OAuth server: %w", err)
	}
	s.logger.Infof("OAuth server stopped successfully")
	return nil
}
