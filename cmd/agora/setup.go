// ABOUTME: Cobra command for interactive database connection setup.
// ABOUTME: Launches a bubbletea TUI wizard to collect and validate the database URL and identity.
package main

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/2389-research/agora/internal/config"
	"github.com/2389-research/agora/internal/tui"
)

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Connect to a hosted realtime database",
	Long:  "Interactive wizard to configure the database URL, auth secret, and display name.",
	Args:  cobra.NoArgs,
	RunE:  runSetup,
}

func init() {
	rootCmd.AddCommand(setupCmd)
}

func runSetup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	model := tui.NewSetupModel(
		cfg.Database.URL,
		cfg.Database.Secret,
		cfg.Identity.Name,
	)

	p := tea.NewProgram(model)
	result, err := p.Run()
	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	final := result.(tui.SetupModel)
	if !final.ShouldSave() {
		fmt.Println("Setup cancelled.")
		return nil
	}

	databaseURL, secret, name := final.Result()
	cfg.Database.Backend = config.BackendRemote
	cfg.Database.URL = databaseURL
	cfg.Database.Secret = secret
	cfg.Identity.Name = name

	if err := cfg.Save(); err != nil {
		return fmt.Errorf("failed to save config: %w", err)
	}

	configPath, err := config.GetConfigPath()
	if err != nil {
		fmt.Println("Config saved successfully.")
	} else {
		fmt.Printf("Config saved to %s\n", configPath)
	}
	return nil
}
