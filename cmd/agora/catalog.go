// ABOUTME: CLI commands for the static learning roadmaps and community directory.
// ABOUTME: Reads the embedded catalog without opening the database.
package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/2389-research/agora/internal/catalog"
)

var roadmapCmd = &cobra.Command{
	Use:   "roadmap",
	Short: "Show learning roadmaps",
	Args:  cobra.NoArgs,
	RunE:  runRoadmap,
}

var communityCmd = &cobra.Command{
	Use:   "community",
	Short: "List communities by platform",
	Args:  cobra.NoArgs,
	RunE:  runCommunity,
}

var communityPlatform string

func init() {
	rootCmd.AddCommand(roadmapCmd)
	rootCmd.AddCommand(communityCmd)

	communityCmd.Flags().StringVar(&communityPlatform, "platform", catalog.AllPlatforms, "Platform key or name, or 'all'")
}

func runRoadmap(cmd *cobra.Command, args []string) error {
	cat, err := catalog.Load()
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	for _, r := range cat.Roadmaps {
		fmt.Fprintf(w, "# %s\n", r.Title)
		for i, s := range r.Stages {
			fmt.Fprintf(w, "  %d. %s\n", i+1, s.Title)
			for _, topic := range s.Topics {
				fmt.Fprintf(w, "     - %s\n", topic)
			}
		}
		fmt.Fprintln(w)
	}
	return nil
}

func runCommunity(cmd *cobra.Command, args []string) error {
	cat, err := catalog.Load()
	if err != nil {
		return err
	}
	platforms := cat.Communities(communityPlatform)
	if len(platforms) == 0 {
		return fmt.Errorf("unknown platform %q (choose from: %s, all)", communityPlatform, strings.Join(cat.PlatformKeys(), ", "))
	}

	w := cmd.OutOrStdout()
	for _, p := range platforms {
		fmt.Fprintf(w, "# %s\n", p.Name)
		for _, c := range p.Communities {
			fmt.Fprintf(w, "  %s - %s\n    %s\n", c.Name, c.Description, c.Link)
		}
		fmt.Fprintln(w)
	}
	return nil
}
