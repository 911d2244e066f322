// ABOUTME: Fiber HTTP shell over the feed controller.
// ABOUTME: Serves the feed, engagement, search, notifications, post creation, the catalog, health, and metrics.
package server

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"

	"github.com/2389-research/agora/internal/catalog"
	"github.com/2389-research/agora/internal/feed"
	"github.com/2389-research/agora/internal/models"
	"github.com/2389-research/agora/internal/storage"
)

// maxPages bounds the pages query parameter.
const maxPages = 100

// Config holds the dependencies of the HTTP shell.
type Config struct {
	Controller *feed.Controller
	DB         storage.Database
	Catalog    *catalog.Catalog
	Logger     log.FieldLogger
	Clock      func() time.Time
}

type handler struct {
	ctrl    *feed.Controller
	db      storage.Database
	catalog *catalog.Catalog
	logger  log.FieldLogger
	now     func() time.Time
}

// PostView is the JSON shape of a post returned to clients. The phone number
// is never exposed.
type PostView struct {
	ID         string        `json:"id"`
	Author     string        `json:"author"`
	Title      string        `json:"title"`
	Content    string        `json:"content"`
	ImageURL   string        `json:"imageUrl,omitempty"`
	CreatedAt  time.Time     `json:"createdAt"`
	TimeAgo    string        `json:"timeAgo"`
	Likes      int           `json:"likes"`
	Liked      bool          `json:"liked"`
	Bookmarked bool          `json:"bookmarked"`
	Comments   []CommentView `json:"comments"`
}

// CommentView is the JSON shape of a comment.
type CommentView struct {
	Text      string    `json:"text"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

// NotificationsResponse is the body of GET /api/notifications.
type NotificationsResponse struct {
	Unseen int        `json:"unseen"`
	Posts  []PostView `json:"posts"`
}

// FeedResponse is the body of GET /api/feed.
type FeedResponse struct {
	Mode    models.FilterMode `json:"mode"`
	Page    int               `json:"page"`
	Total   int               `json:"total"`
	HasMore bool              `json:"hasMore"`
	Loading bool              `json:"loading"`
	Posts   []PostView        `json:"posts"`
}

type createPostRequest struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Title    string `json:"title"`
	Content  string `json:"content"`
	ImageURL string `json:"imageUrl"`
}

type commentRequest struct {
	Text string `json:"text"`
}

// New returns a fiber.App serving the agora API.
func New(cfg *Config) *fiber.App {
	h := &handler{
		ctrl:    cfg.Controller,
		db:      cfg.DB,
		catalog: cfg.Catalog,
		logger:  cfg.Logger,
		now:     cfg.Clock,
	}
	if h.logger == nil {
		h.logger = log.StandardLogger()
	}
	if h.now == nil {
		h.now = time.Now
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler,
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		h.logger.WithFields(log.Fields{
			"method":  c.Method(),
			"route":   c.Route().Path,
			"status":  c.Response().StatusCode(),
			"latency": time.Since(start),
		}).Debug("Request")
		return err
	})

	app.Get("/healthz", h.health)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	api := app.Group("/api")
	api.Get("/feed", h.getFeed)
	api.Post("/posts", h.createPost)
	api.Get("/posts/:id", h.getPost)
	api.Post("/posts/:id/like", h.like)
	api.Post("/posts/:id/bookmark", h.bookmark)
	api.Post("/posts/:id/comments", h.comment)
	api.Get("/search", h.search)
	api.Get("/notifications", h.notifications)
	api.Post("/notifications/seen", h.markAllSeen)
	api.Post("/notifications/:id/seen", h.markSeen)
	api.Get("/roadmaps", h.roadmaps)
	api.Get("/communities", h.communities)

	return app
}

func (h *handler) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"loading": h.ctrl.Loading(),
	})
}

func (h *handler) getFeed(c *fiber.Ctx) error {
	mode := h.ctrl.Mode()
	if m := c.Query("mode"); m != "" {
		parsed, err := models.ParseFilterMode(m)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		mode = parsed
	}

	pages := 1
	if v := c.Query("pages"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPages {
			return fiber.NewError(fiber.StatusBadRequest, "pages must be between 1 and 100")
		}
		pages = n
	}

	fp, err := h.ctrl.Snapshot(mode, pages)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	now := h.now()
	return c.JSON(FeedResponse{
		Mode:    fp.Mode,
		Page:    fp.Page,
		Total:   fp.Total,
		HasMore: fp.HasMore,
		Loading: fp.Loading,
		Posts: lo.Map(fp.Posts, func(p *models.Post, _ int) PostView {
			return toView(p, fp.State, now)
		}),
	})
}

func (h *handler) search(c *fiber.Ctx) error {
	state := h.ctrl.State()
	now := h.now()
	return c.JSON(lo.Map(h.ctrl.Search(c.Query("q")), func(p *models.Post, _ int) PostView {
		return toView(p, state, now)
	}))
}

func (h *handler) notifications(c *fiber.Ctx) error {
	posts := h.ctrl.Notifications()
	state := h.ctrl.State()
	now := h.now()
	return c.JSON(NotificationsResponse{
		Unseen: len(posts),
		Posts: lo.Map(posts, func(p *models.Post, _ int) PostView {
			return toView(p, state, now)
		}),
	})
}

func (h *handler) markSeen(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.ctrl.MarkSeen(id); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"id": id, "unseen": h.ctrl.UnseenCount()})
}

func (h *handler) markAllSeen(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"cleared": h.ctrl.MarkAllSeen(), "unseen": h.ctrl.UnseenCount()})
}

func (h *handler) getPost(c *fiber.Ctx) error {
	p, ok := h.ctrl.Post(c.Params("id"))
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, "post not found")
	}
	return c.JSON(toView(p, h.ctrl.State(), h.now()))
}

func (h *handler) createPost(c *fiber.Ctx) error {
	var req createPostRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	// Only remote or inline images; a path would read the server's disk.
	if img := strings.ToLower(strings.TrimSpace(req.ImageURL)); img != "" &&
		!strings.HasPrefix(img, "http://") && !strings.HasPrefix(img, "https://") && !strings.HasPrefix(img, "data:image/") {
		return fiber.NewError(fiber.StatusBadRequest, "imageUrl must be an http(s) or data:image URL")
	}

	id, err := feed.Compose(c.UserContext(), h.db, models.PostDraft{
		Name:     req.Name,
		Phone:    req.Phone,
		Title:    req.Title,
		Content:  req.Content,
		ImageURL: req.ImageURL,
	}, h.now())
	if err != nil {
		return h.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": id})
}

func (h *handler) like(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := h.ctrl.Like(c.UserContext(), id); err != nil {
		return h.fail(c, err)
	}
	p, ok := h.ctrl.Post(id)
	if !ok {
		return c.JSON(fiber.Map{"id": id, "liked": true})
	}
	return c.JSON(fiber.Map{"id": id, "likes": p.Likes, "liked": true})
}

func (h *handler) bookmark(c *fiber.Ctx) error {
	id := c.Params("id")
	bookmarked, err := h.ctrl.Bookmark(id)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"id": id, "bookmarked": bookmarked})
}

func (h *handler) comment(c *fiber.Ctx) error {
	var req commentRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	id := c.Params("id")
	if err := h.ctrl.AddComment(c.UserContext(), id, req.Text); err != nil {
		return h.fail(c, err)
	}
	p, ok := h.ctrl.Post(id)
	if !ok {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(toView(p, h.ctrl.State(), h.now()))
}

func (h *handler) roadmaps(c *fiber.Ctx) error {
	return c.JSON(h.catalog.Roadmaps)
}

func (h *handler) communities(c *fiber.Ctx) error {
	return c.JSON(h.catalog.Communities(c.Query("platform", catalog.AllPlatforms)))
}

// fail maps controller errors onto HTTP statuses with a JSON body.
func (h *handler) fail(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, feed.ErrPostNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, feed.ErrMissingField), errors.Is(err, feed.ErrContentTooLong):
		status = fiber.StatusBadRequest
	case errors.Is(err, feed.ErrWriteFailed):
		status = fiber.StatusBadGateway
	}
	if status >= fiber.StatusInternalServerError {
		h.logger.WithError(err).WithField("path", c.Path()).Warn("Request failed")
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// errorHandler renders every error as {"error": message}.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func toView(p *models.Post, state feed.InteractionState, now time.Time) PostView {
	comments := lo.Map(p.Comments, func(cm models.Comment, _ int) CommentView {
		return CommentView{Text: cm.Text, Author: cm.Author, CreatedAt: cm.CreatedAt}
	})
	return PostView{
		ID:         p.ID,
		Author:     p.AuthorName,
		Title:      p.Title,
		Content:    p.Content,
		ImageURL:   p.ImageURL,
		CreatedAt:  p.CreatedAt,
		TimeAgo:    models.TimeAgo(p.CreatedAt, now),
		Likes:      p.Likes,
		Liked:      state.Liked[p.ID],
		Bookmarked: state.Bookmarked[p.ID],
		Comments:   comments,
	}
}
