// Package main is the entry point for the email-to-SMS relay.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shineum/email2sms-relay/internal/config"
	"github.com/shineum/email2sms-relay/internal/deliverylog"
	"github.com/shineum/email2sms-relay/internal/kv"
	"github.com/shineum/email2sms-relay/internal/notify"
	"github.com/shineum/email2sms-relay/internal/notify/graph"
	"github.com/shineum/email2sms-relay/internal/notify/ses"
	"github.com/shineum/email2sms-relay/internal/provider"
	"github.com/shineum/email2sms-relay/internal/provider/stdout"
	"github.com/shineum/email2sms-relay/internal/provider/twilio"
	"github.com/shineum/email2sms-relay/internal/ratelimit"
	"github.com/shineum/email2sms-relay/internal/relay"
	"github.com/shineum/email2sms-relay/internal/smtp"
	smtptls "github.com/shineum/email2sms-relay/internal/tls"
	"github.com/shineum/email2sms-relay/internal/validator"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	resetKey := flag.String("reset-limit", "", "reset the rate limit counter for a key (e.g. sender:alice@example.com) and exit")
	statusKey := flag.String("limit-status", "", "print the rate limit counter for a key and exit")
	recent := flag.Int("recent", 0, "print the last N delivery log entries and exit")
	flag.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *recent > 0 {
		journal, err := deliverylog.Open(cfg.DeliveryLog.Path)
		if err != nil {
			slog.Error("failed to open delivery log", "error", err, "path", cfg.DeliveryLog.Path)
			os.Exit(1)
		}
		defer journal.Close()
		if err := printRecent(ctx, os.Stdout, journal, *recent); err != nil {
			slog.Error("failed to read delivery log", "error", err)
			os.Exit(1)
		}
		return
	}

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open rate limit store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	limiter := ratelimit.New(store,
		ratelimit.WithPolicies(policies(cfg)),
		ratelimit.WithLogger(slog.Default().With("component", "ratelimit")),
	)

	if *resetKey != "" || *statusKey != "" {
		if err := adminLimit(ctx, os.Stdout, limiter, *resetKey, *statusKey); err != nil {
			slog.Error("rate limit command failed", "error", err)
			os.Exit(1)
		}
		return
	}

	// Load or generate TLS certificates
	tlsConfig, err := smtptls.LoadOrGenerateTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.SMTP.Hostname)
	if err != nil {
		slog.Error("failed to setup TLS", "error", err)
		os.Exit(1)
	}

	tlsMode := "self-signed"
	if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
		tlsMode = "file"
	}

	// Select SMS delivery provider
	prov, err := selectProvider(cfg)
	if err != nil {
		slog.Error("failed to create SMS provider", "error", err)
		os.Exit(1)
	}

	opts := []relay.Option{relay.WithLogger(slog.Default().With("component", "relay"))}
	if cfg.RateLimit.Enabled {
		opts = append(opts, relay.WithLimiter(limiter))
	}

	notifier, err := selectNotifier(ctx, cfg)
	if err != nil {
		slog.Error("failed to create notifier", "error", err)
		os.Exit(1)
	}
	var noticeSender string
	if notifier != nil {
		opts = append(opts, relay.WithNotifier(notifier))
		noticeSender = noticeSenderOf(cfg)
	}

	if cfg.DeliveryLog.Enabled {
		journal, err := deliverylog.Open(cfg.DeliveryLog.Path)
		if err != nil {
			slog.Error("failed to open delivery log", "error", err, "path", cfg.DeliveryLog.Path)
			os.Exit(1)
		}
		defer journal.Close()
		opts = append(opts, relay.WithJournal(journal))
	}

	v := validator.New(validator.Options{
		AllowedSenders:      cfg.Relay.AllowedSenders,
		PermissiveAreaCodes: cfg.PermissiveAreaCodes(),
		Logger:              slog.Default().With("component", "validator"),
	})

	r := relay.New(relay.Config{
		FromNumber:   cfg.Twilio.PhoneNumber,
		MaxSMSLength: cfg.Relay.MaxSMSLength,
		CountryCode:  cfg.Relay.DefaultCountryCode,
		NoticeSender: noticeSender,
	}, v, prov, opts...)

	// Create SMTP server
	server := smtp.New(smtp.ServerConfig{
		ListenAddr:     cfg.SMTP.Listen,
		Hostname:       cfg.SMTP.Hostname,
		Handler:        r,
		TLSConfig:      tlsConfig,
		AuthUsername:   cfg.SMTP.Username,
		AuthPassword:   cfg.SMTP.Password,
		MaxMessageSize: cfg.SMTP.MaxMessageSize,
	})

	slog.Info("starting email2sms-relay",
		"listen", cfg.SMTP.Listen,
		"environment", cfg.Environment,
		"provider", prov.Name(),
		"auth_enabled", cfg.AuthEnabled(),
		"tls_mode", tlsMode,
		"rate_limiting", cfg.RateLimit.Enabled,
		"rate_limit_store", cfg.RateLimit.Store,
		"notify", cfg.Notify.Provider,
		"delivery_log", cfg.DeliveryLog.Enabled,
	)

	// Setup graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, initiating shutdown", "signal", sig)
		cancel()
	}()

	// Start the server (blocks until context is cancelled)
	if err := server.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("email2sms-relay stopped")
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(level),
	})
	slog.SetDefault(slog.New(handler))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// selectProvider chooses the SMS delivery backend. "auto" uses Twilio when
// credentials are present and falls back to stdout.
func selectProvider(cfg *config.Config) (provider.Provider, error) {
	switch cfg.ResolvedProvider() {
	case config.ProviderTwilio:
		slog.Info("using Twilio provider",
			"from", cfg.Twilio.PhoneNumber,
			"requests_per_second", cfg.Twilio.RequestsPerSecond,
		)
		return twilio.New(twilio.Config{
			AccountSID:        cfg.Twilio.AccountSID,
			AuthToken:         cfg.Twilio.AuthToken,
			PhoneNumber:       cfg.Twilio.PhoneNumber,
			BaseURL:           cfg.Twilio.APIBase,
			RequestsPerSecond: cfg.Twilio.RequestsPerSecond,
			Logger:            slog.Default().With("component", "twilio"),
		})

	case config.ProviderStdout:
		slog.Info("using stdout provider")
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

// selectNotifier builds the rejection notifier, or returns nil when
// notices are disabled.
func selectNotifier(ctx context.Context, cfg *config.Config) (notify.Notifier, error) {
	switch cfg.Notify.Provider {
	case config.NotifySES:
		slog.Info("using AWS SES for rejection notices",
			"region", cfg.Notify.SES.Region,
			"sender", cfg.Notify.SES.Sender,
		)
		return ses.New(ctx, ses.Config{
			Region:          cfg.Notify.SES.Region,
			AccessKeyID:     cfg.Notify.SES.AccessKeyID,
			SecretAccessKey: cfg.Notify.SES.SecretAccessKey,
			Sender:          cfg.Notify.SES.Sender,
		})

	case config.NotifyGraph:
		slog.Info("using Microsoft Graph for rejection notices",
			"sender", cfg.Notify.Graph.Sender,
		)
		return graph.New(graph.Config{
			TenantID:     cfg.Notify.Graph.TenantID,
			ClientID:     cfg.Notify.Graph.ClientID,
			ClientSecret: cfg.Notify.Graph.ClientSecret,
			Sender:       cfg.Notify.Graph.Sender,
		}), nil

	case "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown notify provider %q", cfg.Notify.Provider)
	}
}

func noticeSenderOf(cfg *config.Config) string {
	switch cfg.Notify.Provider {
	case config.NotifySES:
		return cfg.Notify.SES.Sender
	case config.NotifyGraph:
		return cfg.Notify.Graph.Sender
	}
	return ""
}

// openStore returns the rate limit counter store and a function that
// releases it.
func openStore(ctx context.Context, cfg *config.Config) (kv.Store, func(), error) {
	if cfg.RateLimit.Store != "redis" {
		m := kv.NewMemory()
		return m, func() { _ = m.Close() }, nil
	}

	client, err := kv.Connect(ctx, kv.RedisConfig{
		ConnectionURL:  cfg.Redis.URL,
		RetryAttempts:  cfg.Redis.RetryAttempts,
		RetryInterval:  cfg.Redis.RetryInterval,
		ConnectTimeout: cfg.Redis.ConnectTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	r := kv.NewRedis(client)
	return r, func() { _ = r.Close() }, nil
}

func policies(cfg *config.Config) ratelimit.Policies {
	p := ratelimit.DefaultPolicies()
	p.Sender.MaxRequests = cfg.RateLimit.SenderMax
	p.Recipient.MaxRequests = cfg.RateLimit.RecipientMax
	p.Global.MaxRequests = cfg.RateLimit.GlobalMax
	return p
}

// adminLimit runs the -reset-limit and -limit-status commands.
func adminLimit(ctx context.Context, w io.Writer, l *ratelimit.Limiter, resetKey, statusKey string) error {
	if resetKey != "" {
		if err := l.Reset(ctx, resetKey); err != nil {
			return err
		}
		fmt.Fprintf(w, "reset %s\n", resetKey)
	}
	if statusKey == "" {
		return nil
	}

	res, err := l.Status(ctx, statusKey)
	if err != nil {
		return err
	}
	if res == nil {
		fmt.Fprintf(w, "%s: no active window\n", statusKey)
		return nil
	}
	fmt.Fprintf(w, "%s: allowed=%t remaining=%d reset_at=%s\n",
		statusKey, res.Allowed, res.Remaining, res.ResetAt.UTC().Format(time.RFC3339))
	return nil
}

// printRecent writes the newest n journal entries, one per line.
func printRecent(ctx context.Context, w io.Writer, j *deliverylog.Journal, n int) error {
	entries, err := j.Recent(ctx, n)
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(w, "%s %-8s from=%s sms_to=%s segments=%d sid=%s",
			e.Timestamp.UTC().Format(time.RFC3339), e.Status, e.EmailFrom, e.SMSTo, e.Segments, e.ProviderSID)
		if e.Error != "" {
			fmt.Fprintf(w, " error=%q", e.Error)
		}
		fmt.Fprintln(w)
	}
	return nil
}
