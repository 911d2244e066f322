// ABOUTME: CLI commands for reading and interacting with the feed.
// ABOUTME: Provides feed, like, bookmark, comment, post, and watch subcommands.
package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/2389-research/agora/internal/feed"
	"github.com/2389-research/agora/internal/models"
	"github.com/2389-research/agora/internal/tui"
)

const loadTimeout = 15 * time.Second

var feedCmd = &cobra.Command{
	Use:   "feed",
	Short: "Read the feed",
	Long:  "List posts in the chosen filter mode: trending, newest, mostComments, suggested, or bookmarked.",
	Args:  cobra.NoArgs,
	RunE:  runFeed,
}

var likeCmd = &cobra.Command{
	Use:   "like <post-id>",
	Short: "Like a post",
	Long:  "Like a post once from this device. Liking again has no effect.",
	Args:  cobra.ExactArgs(1),
	RunE:  runLike,
}

var bookmarkCmd = &cobra.Command{
	Use:   "bookmark <post-id>",
	Short: "Toggle a bookmark",
	Long:  "Bookmark a post on this device, or remove the bookmark if it is already set.",
	Args:  cobra.ExactArgs(1),
	RunE:  runBookmark,
}

var commentCmd = &cobra.Command{
	Use:   "comment <post-id> <text>",
	Short: "Comment on a post",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runComment,
}

var postCmd = &cobra.Command{
	Use:   "post",
	Short: "Create a post",
	Long:  "Create a new post. --image accepts an http(s) URL or a local image file, which is inlined.",
	Args:  cobra.NoArgs,
	RunE:  runPost,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Browse the live feed interactively",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

// Flags
var (
	feedMode  string
	feedPages int

	postTitle   string
	postContent string
	postPhone   string
	postImage   string
	postName    string
)

func init() {
	rootCmd.AddCommand(feedCmd)
	rootCmd.AddCommand(likeCmd)
	rootCmd.AddCommand(bookmarkCmd)
	rootCmd.AddCommand(commentCmd)
	rootCmd.AddCommand(postCmd)
	rootCmd.AddCommand(watchCmd)

	feedCmd.Flags().StringVar(&feedMode, "mode", "", "Filter mode (default from config)")
	feedCmd.Flags().IntVar(&feedPages, "pages", 1, "Number of pages to show")

	postCmd.Flags().StringVar(&postTitle, "title", "", "Post title")
	postCmd.Flags().StringVar(&postContent, "content", "", "Post body (max 500 characters)")
	postCmd.Flags().StringVar(&postPhone, "phone", "", "Contact phone number")
	postCmd.Flags().StringVar(&postImage, "image", "", "Image URL or local image file")
	postCmd.Flags().StringVar(&postName, "name", "", "Author name (default from config identity)")
	_ = postCmd.MarkFlagRequired("title")
	_ = postCmd.MarkFlagRequired("content")
	_ = postCmd.MarkFlagRequired("phone")
}

func runFeed(cmd *cobra.Command, args []string) error {
	ctrl := globalController
	if feedMode != "" {
		mode, err := models.ParseFilterMode(feedMode)
		if err != nil {
			return err
		}
		if err := ctrl.SetFilterMode(mode); err != nil {
			return err
		}
	}
	if feedPages < 1 {
		return fmt.Errorf("--pages must be at least 1")
	}

	if err := waitForFeed(cmd.Context(), ctrl, loadTimeout); err != nil {
		return err
	}
	for page := 1; page < feedPages; page++ {
		if !ctrl.NextPage() {
			break
		}
	}

	printFeed(cmd.OutOrStdout(), ctrl, time.Now())
	return nil
}

func printFeed(w io.Writer, ctrl *feed.Controller, now time.Time) {
	posts := ctrl.View()
	if len(posts) == 0 {
		if ctrl.Mode() == models.ModeBookmarked {
			fmt.Fprintln(w, "No bookmarked posts.")
		} else {
			fmt.Fprintln(w, "No posts found.")
		}
		return
	}

	state := ctrl.State()
	for _, p := range posts {
		printPost(w, p, state, now)
	}

	fmt.Fprintf(w, "%s: showing %d of %d", ctrl.Mode().Label(), len(posts), ctrl.Total())
	if ctrl.HasMore() {
		fmt.Fprintf(w, " (use --pages %d for more)", ctrl.Page()+1)
	}
	fmt.Fprintln(w)
}

func printPost(w io.Writer, p *models.Post, state feed.InteractionState, now time.Time) {
	var flags []string
	if state.Liked[p.ID] {
		flags = append(flags, "liked")
	}
	if state.Bookmarked[p.ID] {
		flags = append(flags, "bookmarked")
	}
	fmt.Fprintf(w, "--- %s [%s] @%s, %s", p.Title, p.ID, p.AuthorName, models.TimeAgo(p.CreatedAt, now))
	if len(flags) > 0 {
		fmt.Fprintf(w, " (%s)", strings.Join(flags, ", "))
	}
	fmt.Fprintf(w, "\n%s\n", p.Content)
	if p.ImageURL != "" && !strings.HasPrefix(p.ImageURL, "data:") {
		fmt.Fprintf(w, "image: %s\n", p.ImageURL)
	}
	fmt.Fprintf(w, "%d likes, %d comments\n", p.Likes, len(p.Comments))
	for _, c := range p.Comments {
		fmt.Fprintf(w, "  > %s: %s\n", c.Author, c.Text)
	}
	fmt.Fprintln(w)
}

func runLike(cmd *cobra.Command, args []string) error {
	if err := waitForFeed(cmd.Context(), globalController, loadTimeout); err != nil {
		return err
	}
	if err := globalController.Like(cmd.Context(), args[0]); err != nil {
		return err
	}
	if p, ok := globalController.Post(args[0]); ok {
		fmt.Fprintf(cmd.OutOrStdout(), "Liked %q (%d likes)\n", p.Title, p.Likes)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Liked %s\n", args[0])
	return nil
}

func runBookmark(cmd *cobra.Command, args []string) error {
	if err := waitForFeed(cmd.Context(), globalController, loadTimeout); err != nil {
		return err
	}
	on, err := globalController.Bookmark(args[0])
	if err != nil {
		return err
	}
	if on {
		fmt.Fprintf(cmd.OutOrStdout(), "Bookmarked %s\n", args[0])
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Removed bookmark on %s\n", args[0])
	}
	return nil
}

func runComment(cmd *cobra.Command, args []string) error {
	text := strings.Join(args[1:], " ")
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("comment text is empty")
	}
	if err := waitForFeed(cmd.Context(), globalController, loadTimeout); err != nil {
		return err
	}
	if err := globalController.AddComment(cmd.Context(), args[0], text); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Comment added to %s\n", args[0])
	return nil
}

func runPost(cmd *cobra.Command, args []string) error {
	name := postName
	if name == "" {
		name = globalConfig.Identity.Name
	}
	if name == "" {
		return fmt.Errorf("no author name - pass --name or run 'agora setup'")
	}

	draft := models.PostDraft{
		Name:     name,
		Phone:    postPhone,
		Title:    postTitle,
		Content:  postContent,
		ImageURL: postImage,
	}
	id, err := feed.Compose(cmd.Context(), globalDB, draft, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Post created (ID: %s)\n", id)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	model := tui.NewFeedModel(globalController, time.Now)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}
