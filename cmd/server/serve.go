package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/prasenjit/go-apibot/internal/api"
	"github.com/prasenjit/go-apibot/internal/config"
	"github.com/prasenjit/go-apibot/internal/tlsutil"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admin console",
	Long: `Starts the admin console.

The server will:
  - Serve the admin screens at /_ui/
  - Expose the admin API at /_api/
  - Stream store events at /_api/events/stream

Configuration is loaded from config.yaml in the current directory,
or specify a custom config file with the --config flag.`,
	RunE: runServe,
}

var (
	portFlag int
	tlsFlag  bool
)

func init() {
	serveCmd.Flags().IntVarP(&portFlag, "port", "p", 0, "Override server port")
	serveCmd.Flags().BoolVar(&tlsFlag, "tls", false, "Enable TLS (overrides config)")

	viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	viper.BindPFlag("server.tls.enabled", serveCmd.Flags().Lookup("tls"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	c, err := newConsole(cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	handler := api.NewHandler(c.store, c.session, c.drafts, c.events, c.stats)
	router := api.NewRouter(handler)

	server := &http.Server{
		Handler:      router.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := cfg.Server.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	errCh := make(chan error, 2)
	var cleanup func(context.Context) error
	if cfg.Server.TLS.Enabled {
		cleanup, err = startTLSServer(server, listener, cfg, errCh)
		if err != nil {
			listener.Close()
			return err
		}
	} else {
		startHTTPServer(server, listener, errCh)
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		log.Error().Err(err).Msg("server failed")
	}

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if cleanup != nil {
		if err := cleanup(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("cleanup error")
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("server shutdown error")
	}

	log.Info().Msg("server stopped")
	return nil
}

func startHTTPServer(server *http.Server, listener net.Listener, errCh chan<- error) {
	addr := listener.Addr().String()
	go func() {
		log.Info().Str("addr", addr).Msg("starting admin console")
		log.Info().Msgf("admin screens at http://%s/_ui/", addr)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
}

// startTLSServer serves HTTPS on the listener and redirects plain HTTP
// arriving on the same port. The returned cleanup stops the redirector.
func startTLSServer(server *http.Server, listener net.Listener, cfg *config.Config, errCh chan<- error) (func(context.Context) error, error) {
	dir := cfg.Server.TLS.StorePath
	if dir == "" {
		base := absPath(cfg.Storage.Path)
		if filepath.Ext(base) != "" {
			base = filepath.Dir(base)
		}
		dir = filepath.Join(base, "certs")
	}

	source := tlsutil.Source{
		CertFile:     cfg.Server.TLS.CertFile,
		KeyFile:      cfg.Server.TLS.KeyFile,
		Dir:          absPath(dir),
		AutoGenerate: cfg.Server.TLS.AutoGenerate,
		Hosts:        []string{cfg.Server.Host},
	}
	cert, err := source.Load()
	if err != nil {
		return nil, err
	}

	certPath, keyPath := source.Paths()
	log.Info().Str("cert", certPath).Str("key", keyPath).Msg("using TLS certificate")

	split := tlsutil.Split(listener, tlsutil.ServerConfig(cert))
	redirect := &http.Server{
		Handler:     tlsutil.RedirectHandler(),
		ReadTimeout: 10 * time.Second,
	}

	addr := listener.Addr().String()
	go func() {
		log.Info().Str("addr", addr).Msg("starting admin console (HTTPS, plain HTTP redirected)")
		log.Info().Msgf("admin screens at https://%s/_ui/", addr)
		if err := server.Serve(split.Secure()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		if err := redirect.Serve(split.Plain()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	return func(ctx context.Context) error {
		split.Close()
		return redirect.Shutdown(ctx)
	}, nil
}
