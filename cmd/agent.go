package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/savecast/internal/client"
	"github.com/nextlevelbuilder/savecast/internal/config"
	"github.com/nextlevelbuilder/savecast/internal/credential"
	"github.com/nextlevelbuilder/savecast/internal/ingest"
	"github.com/nextlevelbuilder/savecast/internal/saveparse"
	"github.com/nextlevelbuilder/savecast/internal/status"
	"github.com/nextlevelbuilder/savecast/internal/watcher"
)

func agentRunCmd() *cobra.Command {
	var watchDir string
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the desktop agent: watch autosaves and submit snapshots",
		Run: func(cmd *cobra.Command, args []string) {
			runAgent(watchDir)
		},
	}
	cmd.Flags().StringVar(&watchDir, "watch-dir", "", "autosave directory (overrides config)")
	return cmd
}

func runAgent(watchDir string) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fatalf("loading config: %v", err)
	}
	if watchDir != "" {
		cfg.Agent.WatchDir = watchDir
	}
	if cfg.Agent.WatchDir == "" {
		fatalf("agent.watchDir is required (or pass --watch-dir)")
	}
	if cfg.Agent.BaseURL == "" {
		fatalf("agent.baseUrl is required (or set SAVECAST_BASE_URL)")
	}

	creds := credential.NewStore(cfg.Agent.CredentialPath)
	if cred := creds.Load(); cred != nil {
		slog.Info("paired", "channel", cred.ChannelID, "seq", cred.Seq)
	} else {
		slog.Info("not paired yet, run: savecast pair <code>")
	}

	cell := &watcher.Cell{}
	w, err := watcher.New(cfg.Agent.WatchDir, cfg.Agent.SaveExt, cell.Set)
	if err != nil {
		fatalf("watching %s: %v", cfg.Agent.WatchDir, err)
	}
	defer w.Stop()

	hub := status.NewHub()
	loop := ingest.New(ingest.Config{
		Credentials: creds,
		Cell:        cell,
		Relay:       client.New(cfg.Agent.BaseURL, creds),
		Parser:      saveparse.New(),
		Status:      hub,
		WatchDir:    cfg.Agent.WatchDir,
		SaveExt:     cfg.Agent.SaveExt,
		Interval:    cfg.AgentInterval(),
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var statusLog *os.File
	if cfg.Agent.StatusLogPath != "" {
		statusLog, err = os.OpenFile(cfg.Agent.StatusLogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fatalf("opening status log: %v", err)
		}
		defer statusLog.Close()
	}

	events, cancel := hub.Subscribe()
	defer cancel()
	go func() {
		for e := range events {
			line := fmt.Sprintf("[%s] %s %s\n", e.Time.Format("15:04:05"), e.Level, e.Message)
			fmt.Print(line)
			if statusLog != nil {
				statusLog.WriteString(line)
			}
		}
	}()

	slog.Info("agent starting",
		"watchDir", cfg.Agent.WatchDir,
		"ext", cfg.Agent.SaveExt,
		"interval", cfg.AgentInterval(),
		"relay", cfg.Agent.BaseURL,
	)
	loop.Run(ctx)
}
