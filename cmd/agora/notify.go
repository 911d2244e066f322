// ABOUTME: CLI commands for searching posts and reviewing new-post notifications.
// ABOUTME: Provides search and notifications subcommands backed by the feed controller.
package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/2389-research/agora/internal/feed"
	"github.com/2389-research/agora/internal/models"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search posts by title or author",
	Long:  "List posts whose title or author name contains the query, ignoring case.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSearch,
}

var notificationsCmd = &cobra.Command{
	Use:     "notifications",
	Aliases: []string{"notifs"},
	Short:   "List posts you have not seen yet",
	Long:    "List unseen posts, newest first. --seen marks one post seen and --all clears every notification.",
	Args:    cobra.NoArgs,
	RunE:    runNotifications,
}

var (
	notifySeen string
	notifyAll  bool
)

func init() {
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(notificationsCmd)

	notificationsCmd.Flags().StringVar(&notifySeen, "seen", "", "Mark a post as seen")
	notificationsCmd.Flags().BoolVar(&notifyAll, "all", false, "Mark every post as seen")
	notificationsCmd.MarkFlagsMutuallyExclusive("seen", "all")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("search query is empty")
	}
	if err := waitForFeed(cmd.Context(), globalController, loadTimeout); err != nil {
		return err
	}
	printSearch(cmd.OutOrStdout(), globalController, query, time.Now())
	return nil
}

func printSearch(w io.Writer, ctrl *feed.Controller, query string, now time.Time) {
	matches := ctrl.Search(query)
	if len(matches) == 0 {
		fmt.Fprintf(w, "No posts match %q.\n", query)
		return
	}
	state := ctrl.State()
	for _, p := range matches {
		printPost(w, p, state, now)
	}
	fmt.Fprintf(w, "%d posts match %q\n", len(matches), query)
}

func runNotifications(cmd *cobra.Command, args []string) error {
	if err := waitForFeed(cmd.Context(), globalController, loadTimeout); err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	switch {
	case notifyAll:
		fmt.Fprintf(w, "Cleared %d notifications\n", globalController.MarkAllSeen())
		return nil
	case notifySeen != "":
		if err := globalController.MarkSeen(notifySeen); err != nil {
			return err
		}
		fmt.Fprintf(w, "Marked %s as seen (%d unseen)\n", notifySeen, globalController.UnseenCount())
		return nil
	}
	printNotifications(w, globalController, time.Now())
	return nil
}

func printNotifications(w io.Writer, ctrl *feed.Controller, now time.Time) {
	unseen := ctrl.Notifications()
	if len(unseen) == 0 {
		fmt.Fprintln(w, "No new posts.")
		return
	}
	fmt.Fprintf(w, "%d new posts\n", len(unseen))
	for _, p := range unseen {
		fmt.Fprintf(w, "  [%s] %s by @%s, %s\n", p.ID, p.Title, p.AuthorName, models.TimeAgo(p.CreatedAt, now))
	}
}
