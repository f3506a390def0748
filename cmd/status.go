package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/savecast/internal/config"
	"github.com/nextlevelbuilder/savecast/internal/credential"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pairing state and local settings",
		Run: func(cmd *cobra.Command, args []string) {
			runStatus()
		},
	}
}

func runStatus() {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fatalf("loading config: %v", err)
	}

	fmt.Printf("Relay:      %s\n", orUnset(cfg.Agent.BaseURL))
	fmt.Printf("Watch dir:  %s (%s)\n", orUnset(cfg.Agent.WatchDir), cfg.Agent.SaveExt)
	fmt.Printf("Interval:   %s\n", cfg.AgentInterval())
	fmt.Printf("Credential: %s\n", cfg.Agent.CredentialPath)

	cred := credential.NewStore(cfg.Agent.CredentialPath).Load()
	if cred == nil || !cred.Valid() {
		fmt.Println("Pairing:    not paired")
		return
	}
	fmt.Printf("Pairing:    channel %s, paired %s, last seq %d\n",
		cred.ChannelID, cred.SavedAt.Format("2006-01-02 15:04"), cred.Seq)
}

func orUnset(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}
