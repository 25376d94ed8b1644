package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	certmagicsqlite "github.com/rsclarke/certmagic-sqlite"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rsclarke/swapgate/internal/certs"
	"github.com/rsclarke/swapgate/internal/config"
	"github.com/rsclarke/swapgate/internal/events"
	"github.com/rsclarke/swapgate/internal/logging"
	"github.com/rsclarke/swapgate/internal/proxy"
	"github.com/rsclarke/swapgate/internal/resolver"
)

var serveFlags struct {
	port          int
	certDir       string
	upstreamDNS   string
	upstreamProxy string
	logFile       string
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the forwarding proxy",
	Long: `Run the forwarding proxy on 127.0.0.1.

Point the client at it with HTTPS_PROXY=http://127.0.0.1:<port>. The
client must trust the certificate authority in <cert-dir>/ca.pem.

Certificate material is read from the cert dir:
  ca.pem           certificate authority
  server.pem       server certificate, signed by the CA
  server-key.pem   server private key

The rotation store lives in <project-dir>/.swapgate/rotation.db and the
event log in <project-dir>/.swapgate/proxy.log.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntVar(&serveFlags.port, "port", getEnvInt("SWAPGATE_PORT", config.DefaultPort), "port to listen on")
	serveCmd.Flags().StringVar(&serveFlags.certDir, "cert-dir", getEnv("SWAPGATE_CERT_DIR", config.DefaultCertDir()), "directory holding the CA and server certificate")
	serveCmd.Flags().StringVar(&serveFlags.upstreamDNS, "upstream-dns", os.Getenv("SWAPGATE_UPSTREAM_DNS"), "DNS server for upstream host names, e.g. 1.1.1.1")
	serveCmd.Flags().StringVar(&serveFlags.upstreamProxy, "upstream-proxy", os.Getenv("SWAPGATE_UPSTREAM_PROXY"), "SOCKS5 proxy for upstream connections, e.g. socks5://127.0.0.1:1080")
	serveCmd.Flags().StringVar(&serveFlags.logFile, "log-file", os.Getenv("SWAPGATE_LOG_FILE"), "event log path (default <project-dir>/.swapgate/proxy.log)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cfg.Port = serveFlags.port
	cfg.CertDir = serveFlags.certDir
	if serveFlags.upstreamDNS != "" {
		cfg.UpstreamDNS = serveFlags.upstreamDNS
	}
	if serveFlags.upstreamProxy != "" {
		cfg.UpstreamProxy = serveFlags.upstreamProxy
	}
	if serveFlags.logFile != "" {
		cfg.LogFile = serveFlags.logFile
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	database, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	logCfg := logging.FromEnv()
	logCfg.File = cfg.LogPath()
	logCfg.MaxBytes = cfg.LogMaxBytes
	eventLogger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	logging.Sync(logger)
	logger = eventLogger

	material, err := certs.Load(cfg.CertDir)
	if err != nil {
		return fmt.Errorf("load certificates: %w", err)
	}
	for _, host := range cfg.InterceptHosts {
		if !material.Covers(host) {
			logger.Warn("server certificate does not cover intercept host", logging.Host(host))
		}
	}

	hostname, _ := os.Hostname()
	storage, err := certmagicsqlite.NewWithDB(database, certmagicsqlite.WithOwnerID(hostname))
	if err != nil {
		return fmt.Errorf("create certmagic storage: %w", err)
	}
	cache, err := certs.NewCache(cmd.Context(), material, storage, logger.Named("certmagic"))
	if err != nil {
		return err
	}
	defer cache.Stop()

	var res *resolver.Resolver
	if cfg.UpstreamDNS != "" {
		res = resolver.New(cfg.UpstreamDNS, logger.Named("resolver"))
	}
	dial, err := proxy.NewDialer(proxy.DialerConfig{
		Resolver: res,
		ProxyURL: cfg.UpstreamProxy,
	})
	if err != nil {
		return err
	}

	proxyLogger := logger.Named("proxy")
	fwd := &proxy.Forwarder{
		Store:       store,
		Dial:        dial,
		TLSConfig:   &tls.Config{MinVersion: tls.VersionTLS12},
		Header:      cfg.CredentialHeader,
		Scheme:      cfg.CredentialScheme,
		UsageHeader: cfg.UsageHeader,
		MaxRetries:  cfg.MaxRetries,
		Port:        strconv.Itoa(cfg.UpstreamPort),
		Logger:      proxyLogger,
	}
	srv := &proxy.Server{
		Router:     proxy.NewRouter(cfg.InterceptHosts),
		TLSConfig:  cache.TLSConfig(),
		Forwarder:  fwd,
		Store:      store,
		Dial:       dial,
		HealthPath: cfg.HealthPath,
		Logger:     proxyLogger,
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	managed := proxy.NewManagedServer("proxy", addr, srv)
	managed.Start()
	if err := managed.WaitForStartup(5 * time.Second); err != nil {
		return err
	}

	events.Event{Kind: events.KindStartup}.Log(logger.With(
		logging.Addr(managed.Addr().String()),
		logging.Port(cfg.Port),
		zap.Strings("intercept_hosts", cfg.InterceptHosts),
		zap.String("project_dir", cfg.ProjectDir),
	))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var serveErr error
	select {
	case sig := <-sigCh:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-managed.Errors():
		serveErr = err
		if err != nil {
			logger.Error("proxy server error", zap.Error(err))
		}
	}

	// A tunnel that ignores shutdown must not keep the process alive.
	force := time.AfterFunc(2*cfg.ShutdownGrace, func() {
		logger.Error("shutdown timed out")
		logging.Sync(logger)
		os.Exit(1)
	})
	defer force.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()
	managed.Shutdown(ctx)

	events.Event{Kind: events.KindShutdown}.Log(logger.With(
		logging.Uptime(srv.Uptime()),
		logging.Requests(srv.Requests()),
	))
	return serveErr
}
