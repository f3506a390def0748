package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/savecast/internal/client"
	"github.com/nextlevelbuilder/savecast/internal/config"
	"github.com/nextlevelbuilder/savecast/internal/credential"
	"github.com/nextlevelbuilder/savecast/pkg/protocol"
)

func bootstrapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap <dictionary.json>",
		Short: "Upload the display dictionary for the paired channel",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runBootstrap(args[0])
		},
	}
}

func runBootstrap(path string) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fatalf("loading config: %v", err)
	}
	if cfg.Agent.BaseURL == "" {
		fatalf("agent.baseUrl is required (or set SAVECAST_BASE_URL)")
	}

	creds := credential.NewStore(cfg.Agent.CredentialPath)
	cred := creds.Load()
	if cred == nil || !cred.Valid() {
		fatalf("no stored credential, run: savecast pair <code>")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		fatalf("reading %s: %v", path, err)
	}
	var boot protocol.Bootstrap
	if err := json.Unmarshal(data, &boot); err != nil {
		fatalf("parsing %s: %v", path, err)
	}
	if boot.Version == "" {
		boot.Version = protocol.BootstrapVersion
	}
	if err := boot.Validate(); err != nil {
		fatalf("dictionary: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := client.New(cfg.Agent.BaseURL, creds).PushBootstrap(ctx, cred.IngestToken, boot); err != nil {
		fatalf("uploading: %v", err)
	}
	fmt.Printf("Bootstrap %s uploaded for channel %s\n", boot.Version, cred.ChannelID)
}
