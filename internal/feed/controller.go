// ABOUTME: Feed controller deriving a filtered, paginated view from live post snapshots.
// ABOUTME: Applies optimistic likes and comments ahead of the realtime database and reverts on failure.
package feed

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/2389-research/agora/internal/metrics"
	"github.com/2389-research/agora/internal/models"
	"github.com/2389-research/agora/internal/storage"
)

// DefaultPageSize is the number of posts revealed per page.
const DefaultPageSize = 10

var (
	// ErrPostNotFound is returned for operations on a post the feed has never seen.
	ErrPostNotFound = errors.New("post not found")

	// ErrWriteFailed wraps a rejected write to the realtime database.
	ErrWriteFailed = errors.New("write to database failed")
)

// Shuffler reorders n elements in place. *rand.Rand satisfies it.
type Shuffler interface {
	Shuffle(n int, swap func(i, j int))
}

type globalShuffler struct{}

func (globalShuffler) Shuffle(n int, swap func(i, j int)) { rand.Shuffle(n, swap) }

// Option configures a Controller.
type Option func(*Controller)

// WithPageSize sets the number of posts per page.
func WithPageSize(n int) Option {
	return func(c *Controller) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithShuffler sets the randomness source for the suggested mode.
func WithShuffler(s Shuffler) Option {
	return func(c *Controller) {
		if s != nil {
			c.shuffler = s
		}
	}
}

// WithLogger sets the controller's logger.
func WithLogger(l log.FieldLogger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithClock sets the time source used to stamp comments.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithAuthor sets the label attached to comments written from this device.
func WithAuthor(name string) Option {
	return func(c *Controller) {
		c.author = name
	}
}

// WithMode sets the initial filter mode.
func WithMode(mode models.FilterMode) Option {
	return func(c *Controller) {
		c.mode = mode
	}
}

// Controller owns the live post list, the derived view and this device's
// interactions. All methods are safe for concurrent use.
type Controller struct {
	db           storage.Database
	interactions InteractionStore
	logger       log.FieldLogger
	shuffler     Shuffler
	now          func() time.Time

	mu       sync.Mutex
	posts    []*models.Post
	byID     map[string]*models.Post
	view     []*models.Post
	mode     models.FilterMode
	page     int
	pageSize int
	loaded   bool
	author   string
	closed   bool
	changes  chan struct{}

	sub  *storage.Subscription
	wg   sync.WaitGroup
	once sync.Once
}

// New subscribes to the posts collection of db and starts ingesting snapshots.
// Call Close to release the subscription.
func New(ctx context.Context, db storage.Database, interactions InteractionStore, opts ...Option) (*Controller, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if interactions == nil {
		return nil, fmt.Errorf("interaction store is required")
	}

	c := &Controller{
		db:           db,
		interactions: interactions,
		logger:       log.StandardLogger(),
		shuffler:     globalShuffler{},
		now:          time.Now,
		byID:         make(map[string]*models.Post),
		mode:         models.ModeTrending,
		page:         1,
		pageSize:     DefaultPageSize,
		changes:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if _, err := models.ParseFilterMode(string(c.mode)); err != nil {
		return nil, err
	}

	sub, err := db.Subscribe(ctx, models.PostsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to posts: %w", err)
	}
	c.sub = sub

	c.wg.Add(1)
	go c.listen()

	return c, nil
}

func (c *Controller) listen() {
	defer c.wg.Done()

	for snap := range c.sub.Snapshots() {
		posts, err := models.DecodePosts(snap.Data)
		if err != nil {
			c.logger.WithError(err).Warn("Ignoring undecodable posts snapshot")
			continue
		}
		c.Ingest(posts)
		metrics.SnapshotsIngested.Inc()
	}
	if err := c.sub.Err(); err != nil && !errors.Is(err, storage.ErrClosed) {
		c.logger.WithError(err).Warn("Feed subscription ended")
	}
}

// Close unsubscribes and waits for the listener to exit.
func (c *Controller) Close() error {
	c.once.Do(func() {
		c.sub.Close()
		c.wg.Wait()

		c.mu.Lock()
		c.closed = true
		close(c.changes)
		c.mu.Unlock()
	})
	return nil
}

// Ingest replaces the full post list. Pagination is left untouched.
func (c *Controller) Ingest(posts []*models.Post) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.posts = make([]*models.Post, 0, len(posts))
	c.byID = make(map[string]*models.Post, len(posts))
	for _, p := range posts {
		if p == nil {
			continue
		}
		cp := p.Clone()
		c.posts = append(c.posts, cp)
		c.byID[cp.ID] = cp
	}
	c.loaded = true
	c.recomputeLocked()
}

// SetFilterMode switches the active mode and resets to the first page.
func (c *Controller) SetFilterMode(mode models.FilterMode) error {
	if _, err := models.ParseFilterMode(string(mode)); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.mode = mode
	c.page = 1
	c.recomputeLocked()
	return nil
}

// Like records a like for id on this device and increments its count.
// Liking an already-liked post does nothing.
func (c *Controller) Like(ctx context.Context, id string) error {
	c.mu.Lock()
	post, ok := c.byID[id]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", id, ErrPostNotFound)
	}
	if c.interactions.Liked(id) {
		c.mu.Unlock()
		return nil
	}
	post.Likes++
	likes := post.Likes
	c.interactions.SetLiked(id, true)
	c.persistLocked()
	c.recomputeLocked()
	c.mu.Unlock()

	err := c.db.Update(ctx, models.PostPath(id), map[string]any{models.FieldLikes: likes})
	if err == nil {
		metrics.Likes.Inc()
		return nil
	}

	// A snapshot that landed during the write already replaced post with the
	// stored count, so only the original cache entry is reverted.
	c.mu.Lock()
	if c.byID[id] == post && post.Likes > 0 {
		post.Likes--
	}
	c.interactions.SetLiked(id, false)
	c.persistLocked()
	c.recomputeLocked()
	c.mu.Unlock()

	metrics.OptimisticReverts.WithLabelValues("like").Inc()
	c.logger.WithError(err).WithField("post_id", id).Warn("Like rejected, reverted")
	return fmt.Errorf("like %s: %w: %w", id, ErrWriteFailed, err)
}

// Bookmark toggles the bookmark on id and returns the new value.
func (c *Controller) Bookmark(id string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byID[id]; !ok {
		return false, fmt.Errorf("%s: %w", id, ErrPostNotFound)
	}
	bookmarked := !c.interactions.Bookmarked(id)
	c.interactions.SetBookmarked(id, bookmarked)
	c.persistLocked()
	c.recomputeLocked()
	return bookmarked, nil
}

// AddComment appends a comment to id. Whitespace-only text is ignored.
// The comment list is read, extended and written back without locking, so a
// concurrent writer on another device can lose an append.
func (c *Controller) AddComment(ctx context.Context, id, text string) error {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	raw, err := c.db.Get(ctx, models.PostPath(id))
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%s: %w", id, ErrPostNotFound)
	}
	if err != nil {
		return fmt.Errorf("read post %s: %w: %w", id, ErrWriteFailed, err)
	}
	stored := models.DecodePost(id, raw)

	c.mu.Lock()
	comment := models.NewComment(text, c.author, c.now())
	cached, ok := c.byID[id]
	if ok {
		cached.Comments = append(cached.Comments, comment)
		c.recomputeLocked()
	}
	c.mu.Unlock()

	all := append(stored.Comments, comment)
	err = c.db.Update(ctx, models.PostPath(id), map[string]any{
		models.FieldComments: models.CommentsRecord(all),
	})
	if err == nil {
		metrics.Comments.Inc()
		return nil
	}

	c.mu.Lock()
	if cached != nil && c.byID[id] == cached {
		cached.Comments = removeLastComment(cached.Comments, comment)
		c.recomputeLocked()
	}
	c.mu.Unlock()

	metrics.OptimisticReverts.WithLabelValues("comment").Inc()
	c.logger.WithError(err).WithField("post_id", id).Warn("Comment rejected, reverted")
	return fmt.Errorf("comment on %s: %w: %w", id, ErrWriteFailed, err)
}

func removeLastComment(comments []models.Comment, target models.Comment) []models.Comment {
	for i := len(comments) - 1; i >= 0; i-- {
		c := comments[i]
		if c.Text == target.Text && c.Author == target.Author && c.CreatedAt.Equal(target.CreatedAt) {
			return append(comments[:i:i], comments[i+1:]...)
		}
	}
	return comments
}

// View returns the posts revealed so far: the first Page()*pageSize items.
func (c *Controller) View() []*models.Post {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := min(c.page*c.pageSize, len(c.view))
	return lo.Map(c.view[:n], func(p *models.Post, _ int) *models.Post { return p.Clone() })
}

// NextPage reveals one more page and reports whether further pages remain.
func (c *Controller) NextPage() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasMoreLocked() {
		c.page++
		c.notifyLocked()
	}
	return c.hasMoreLocked()
}

// HasMore reports whether the view extends past the revealed pages.
func (c *Controller) HasMore() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hasMoreLocked()
}

func (c *Controller) hasMoreLocked() bool {
	return c.page*c.pageSize < len(c.view)
}

// SetPageSize changes the page size and resets to the first page.
func (c *Controller) SetPageSize(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pageSize = n
	c.page = 1
	c.notifyLocked()
}

// SetAuthor changes the label attached to new comments.
func (c *Controller) SetAuthor(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.author = name
}

// Author returns the current comment label.
func (c *Controller) Author() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.author
}

// Loading is true until the first snapshot arrives.
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.loaded
}

// Empty is true when the derived view holds no posts.
func (c *Controller) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.view) == 0
}

// Changes receives a notification after every state change. Notifications
// coalesce; the channel is closed by Close.
func (c *Controller) Changes() <-chan struct{} {
	return c.changes
}

// State returns a copy of this device's interactions.
func (c *Controller) State() InteractionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interactions.Snapshot()
}

// Mode returns the active filter mode.
func (c *Controller) Mode() models.FilterMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Page returns the number of revealed pages.
func (c *Controller) Page() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.page
}

// Total returns the number of posts in the derived view.
func (c *Controller) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.view)
}

// Post returns a copy of the cached post with id.
func (c *Controller) Post(id string) (*models.Post, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.byID[id]
	if !ok {
		return nil, false
	}
	return p.Clone(), true
}

// FeedPage is a consistent read of one derived view.
type FeedPage struct {
	Mode    models.FilterMode
	Page    int
	Total   int
	HasMore bool
	Loading bool
	Posts   []*models.Post
	State   InteractionState
}

// Snapshot derives the first pages*pageSize posts under mode in one locked
// read. The controller's own mode and page are left untouched.
func (c *Controller) Snapshot(mode models.FilterMode, pages int) (FeedPage, error) {
	if _, err := models.ParseFilterMode(string(mode)); err != nil {
		return FeedPage{}, err
	}
	if pages < 1 {
		pages = 1
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	view := c.view
	if mode != c.mode {
		view = c.deriveLocked(mode)
	}
	if maxPages := max(1, (len(view)+c.pageSize-1)/c.pageSize); pages > maxPages {
		pages = maxPages
	}
	n := min(pages*c.pageSize, len(view))
	return FeedPage{
		Mode:    mode,
		Page:    pages,
		Total:   len(view),
		HasMore: n < len(view),
		Loading: !c.loaded,
		Posts:   lo.Map(view[:n], func(p *models.Post, _ int) *models.Post { return p.Clone() }),
		State:   c.interactions.Snapshot(),
	}, nil
}

// Notifications returns posts not yet marked seen on this device, newest first.
func (c *Controller) Notifications() []*models.Post {
	c.mu.Lock()
	defer c.mu.Unlock()

	unseen := lo.Filter(c.posts, func(p *models.Post, _ int) bool {
		return !c.interactions.Seen(p.ID)
	})
	unseen = lo.Map(unseen, func(p *models.Post, _ int) *models.Post { return p.Clone() })
	slices.SortStableFunc(unseen, func(a, b *models.Post) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return unseen
}

// UnseenCount returns the number of posts not yet marked seen.
func (c *Controller) UnseenCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lo.CountBy(c.posts, func(p *models.Post) bool { return !c.interactions.Seen(p.ID) })
}

// MarkSeen removes id from the notifications on this device.
func (c *Controller) MarkSeen(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byID[id]; !ok {
		return fmt.Errorf("%s: %w", id, ErrPostNotFound)
	}
	if c.interactions.Seen(id) {
		return nil
	}
	c.interactions.SetSeen(id, true)
	c.persistLocked()
	c.notifyLocked()
	return nil
}

// MarkAllSeen clears every notification and returns how many were cleared.
func (c *Controller) MarkAllSeen() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, p := range c.posts {
		if !c.interactions.Seen(p.ID) {
			c.interactions.SetSeen(p.ID, true)
			n++
		}
	}
	if n > 0 {
		c.persistLocked()
		c.notifyLocked()
	}
	return n
}

// Search returns posts whose title or author name contains query, ignoring
// case, in source order. A blank query matches nothing.
func (c *Controller) Search(query string) []*models.Post {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	matches := lo.Filter(c.posts, func(p *models.Post, _ int) bool {
		return strings.Contains(strings.ToLower(p.Title), q) ||
			strings.Contains(strings.ToLower(p.AuthorName), q)
	})
	return lo.Map(matches, func(p *models.Post, _ int) *models.Post { return p.Clone() })
}

func (c *Controller) persistLocked() {
	if err := c.interactions.Persist(); err != nil {
		c.logger.WithError(err).Warn("Failed to persist interaction state")
	}
}

// recomputeLocked derives the view from the full post list under the active mode.
func (c *Controller) recomputeLocked() {
	c.view = c.deriveLocked(c.mode)
	metrics.PostsInView.Set(float64(len(c.view)))
	c.notifyLocked()
}

// deriveLocked orders or filters a copy of the post list for mode.
func (c *Controller) deriveLocked(mode models.FilterMode) []*models.Post {
	view := slices.Clone(c.posts)

	switch mode {
	case models.ModeTrending:
		slices.SortStableFunc(view, func(a, b *models.Post) int {
			return cmp.Compare(b.Likes, a.Likes)
		})
	case models.ModeNewest:
		slices.SortStableFunc(view, func(a, b *models.Post) int {
			return b.CreatedAt.Compare(a.CreatedAt)
		})
	case models.ModeMostComments:
		slices.SortStableFunc(view, func(a, b *models.Post) int {
			return cmp.Compare(len(b.Comments), len(a.Comments))
		})
	case models.ModeSuggested:
		c.shuffler.Shuffle(len(view), func(i, j int) { view[i], view[j] = view[j], view[i] })
	case models.ModeBookmarked:
		view = lo.Filter(view, func(p *models.Post, _ int) bool {
			return c.interactions.Bookmarked(p.ID)
		})
	}
	return view
}

func (c *Controller) notifyLocked() {
	if c.closed {
		return
	}
	select {
	case c.changes <- struct{}{}:
	default:
	}
}
