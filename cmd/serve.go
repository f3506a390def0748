package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/savecast/internal/admission"
	"github.com/nextlevelbuilder/savecast/internal/auth"
	"github.com/nextlevelbuilder/savecast/internal/broadcast"
	"github.com/nextlevelbuilder/savecast/internal/config"
	"github.com/nextlevelbuilder/savecast/internal/pairing"
	"github.com/nextlevelbuilder/savecast/internal/relay"
	"github.com/nextlevelbuilder/savecast/internal/store"
	"github.com/nextlevelbuilder/savecast/internal/store/memory"
	redisstore "github.com/nextlevelbuilder/savecast/internal/store/redis"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay: pairing, ingest admission, broadcast fanout",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fatalf("loading config: %v", err)
	}
	if cfg.Server.SharedSecret == "" {
		fatalf("server.sharedSecret is required (or set SAVECAST_SHARED_SECRET)")
	}

	verifier, err := auth.NewVerifier(cfg.Server.SharedSecret, cfg.Server.OwnerUserID)
	if err != nil {
		fatalf("shared secret: %v", err)
	}

	kv, err := openKV(cfg)
	if err != nil {
		fatalf("store: %v", err)
	}

	hub := broadcast.NewHub()
	publisher := broadcast.NewPublisher(hub, verifier, cfg.Server.PubSubURL, cfg.Server.ClientID)
	ctrl := admission.New(kv, publisher, cfg.ServerInterval())
	authority := pairing.NewAuthority(kv, cfg.Server.MaxActiveChannels)
	limiter := relay.NewRateLimiter(cfg.Server.RateRPM, cfg.Server.RateBurst)
	server := relay.NewServer(kv, authority, verifier, ctrl, hub, limiter)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Pacing and capacity follow the config file without a restart.
	reloader := config.NewReloader(resolveConfigPath(), func(next *config.Config) {
		ctrl.SetInterval(next.ServerInterval())
		authority.SetMaxChannels(next.Server.MaxActiveChannels)
	})
	go reloader.Run(ctx)

	slog.Info("relay starting",
		"addr", cfg.Server.Addr,
		"interval", cfg.ServerInterval(),
		"maxChannels", cfg.Server.MaxActiveChannels,
		"redis", cfg.Server.RedisURL != "",
		"upstream", cfg.Server.PubSubURL != "",
	)
	if err := server.Serve(ctx, cfg.Server.Addr); err != nil {
		fatalf("relay: %v", err)
	}
}

// openKV picks the backend: Redis when configured, otherwise in-process.
func openKV(cfg *config.Config) (store.KV, error) {
	if cfg.Server.RedisURL != "" {
		return redisstore.New(cfg.Server.RedisURL)
	}
	return memory.New(memory.TTLs{
		PairingCode: pairing.CodeTTL,
		IngestToken: pairing.TokenTTL,
		ChannelMeta: admission.MetaTTL,
		LastSnap:    admission.LastSnapshotTTL,
		Bootstrap:   relay.BootstrapTTL,
		Active:      pairing.ActiveTTL,
	}), nil
}
