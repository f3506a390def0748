package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/savecast/internal/client"
	"github.com/nextlevelbuilder/savecast/internal/config"
	"github.com/nextlevelbuilder/savecast/internal/credential"
)

func pairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pair <code>",
		Short: "Redeem a pairing code and store the ingest credential",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			runPair(strings.ToUpper(strings.TrimSpace(args[0])))
		},
	}
}

func runPair(code string) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fatalf("loading config: %v", err)
	}
	if cfg.Agent.BaseURL == "" {
		fatalf("agent.baseUrl is required (or set SAVECAST_BASE_URL)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	grant, err := client.New(cfg.Agent.BaseURL, nil).CompletePairing(ctx, code)
	if err != nil {
		fatalf("pairing: %v", err)
	}

	creds := credential.NewStore(cfg.Agent.CredentialPath)
	err = creds.Save(&credential.Credential{
		ChannelID:   grant.ChannelID,
		IngestToken: grant.IngestToken,
		SavedAt:     time.Now(),
	})
	if err != nil {
		fatalf("storing credential: %v", err)
	}

	fmt.Printf("Paired with channel %s (token valid %s)\n", grant.ChannelID, grant.ExpiresIn)
	fmt.Printf("Credential stored at %s\n", cfg.Agent.CredentialPath)
}
