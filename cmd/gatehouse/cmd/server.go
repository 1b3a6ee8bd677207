package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"

	"github.com/jmcleod/gatehouse/api"
	"github.com/jmcleod/gatehouse/captcha"
	bboltdir "github.com/jmcleod/gatehouse/directory/bbolt"
	"github.com/jmcleod/gatehouse/internal/util"
	"github.com/jmcleod/gatehouse/messaging"
)

var (
	port       int
	dataDir    string
	configPath string
	tlsCert    string
	tlsKey     string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the authentication service server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		cfg, smtpCfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		// Missing keys get ephemeral replacements so a bare `gatehouse
		// server` works out of the box; sessions then die with the process.
		if len(cfg.CookieKey) == 0 {
			if cfg.CookieKey, err = util.NewAESKey(); err != nil {
				return err
			}
			fmt.Println("No cookie_key configured; using an ephemeral key")
		}
		if len(cfg.LinkKey) == 0 {
			if cfg.LinkKey, err = util.RandomBytes(32); err != nil {
				return err
			}
			fmt.Println("No link_key configured; using an ephemeral key")
		}

		dir, err := bboltdir.NewStoreFromFile(dataDir+"/directory.db", nil)
		if err != nil {
			return fmt.Errorf("failed to open directory storage: %w", err)
		}
		defer dir.Close()

		captchaDB, err := bbolt.Open(dataDir+"/captcha.db", 0o600, nil)
		if err != nil {
			return fmt.Errorf("failed to open captcha storage: %w", err)
		}
		defer captchaDB.Close()
		captchaStore, err := captcha.NewBoltStore(captchaDB)
		if err != nil {
			return err
		}

		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

		opts := []api.Option{
			api.WithLogger(logger),
			api.WithCaptchaStore(captchaStore),
		}
		if smtpCfg.Host != "" {
			mailer, err := messaging.NewSMTPMailer(smtpCfg)
			if err != nil {
				return err
			}
			opts = append(opts, api.WithMailer(mailer))
		} else {
			// Dev fallback: codes and links land in the log.
			sender := messaging.NewLogSender(logger)
			opts = append(opts, api.WithMailer(sender), api.WithSMSSender(sender))
		}

		a, err := api.New(dir, cfg, opts...)
		if err != nil {
			return err
		}

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Mount("/", a.Router())

		var tlsConfig *tls.Config
		if tlsCert != "" && tlsKey != "" {
			cert, err := tls.LoadX509KeyPair(tlsCert, tlsKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			tlsConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		} else {
			cert, err := util.GenerateSelfSignedCert()
			if err != nil {
				return fmt.Errorf("failed to generate self-signed certificate: %w", err)
			}
			tlsConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
			fmt.Println("Using self-signed runtime generated certificate for TLS")
		}

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           r,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Starting server on port %d (data: %s)...\n", port, dataDir)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8443, "Port to listen on")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent data")
	serverCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the TOML configuration file")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file")
}
