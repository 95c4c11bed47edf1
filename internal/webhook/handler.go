// Package webhook receives GitHub push deliveries and queues their commits for matching.
package webhook

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/student-tracker-sync/internal/githubapi"
	"github.com/noah-isme/student-tracker-sync/internal/models"
	appErrors "github.com/noah-isme/student-tracker-sync/pkg/errors"
	"github.com/noah-isme/student-tracker-sync/pkg/middleware/requestid"
	"github.com/noah-isme/student-tracker-sync/pkg/response"
)

// EventHeader names the GitHub event type of a delivery.
const EventHeader = "X-GitHub-Event"

type pendingQueue interface {
	InsertBatch(ctx context.Context, entries []models.PendingCommit) error
}

type pushPayload struct {
	Ref        string `json:"ref"`
	Repository struct {
		Name string `json:"name" validate:"required"`
	} `json:"repository"`
	Pusher struct {
		Name string `json:"name"`
	} `json:"pusher"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
	Commits []pushCommit `json:"commits" validate:"dive"`
}

type pushCommit struct {
	ID        string `json:"id"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp" validate:"required"`
}

// handle returns the GitHub account that pushed.
func (p pushPayload) handle() string {
	if h := strings.TrimSpace(p.Sender.Login); h != "" {
		return h
	}
	return strings.TrimSpace(p.Pusher.Name)
}

// Handler turns push deliveries into pending-commit entries.
type Handler struct {
	queue    pendingQueue
	validate *validator.Validate
	logger   *zap.Logger
}

// NewHandler constructs the webhook handler.
func NewHandler(queue pendingQueue, validate *validator.Validate, logger *zap.Logger) *Handler {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{queue: queue, validate: validate, logger: logger}
}

// Register mounts the delivery endpoint. Signature checks are applied by the caller's middleware.
func (h *Handler) Register(r gin.IRoutes) {
	r.POST("/webhooks/github", h.Receive)
}

// Receive handles one delivery.
func (h *Handler) Receive(c *gin.Context) {
	switch event := c.GetHeader(EventHeader); event {
	case "ping":
		response.JSON(c, http.StatusOK, gin.H{"status": "pong"})
	case "push":
		h.push(c)
	default:
		response.JSON(c, http.StatusAccepted, gin.H{"status": "ignored", "event": event})
	}
}

func (h *Handler) push(c *gin.Context) {
	var payload pushPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid push payload"))
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid push payload"))
		return
	}
	handle := payload.handle()
	if handle == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "push payload has no sender"))
		return
	}

	log := h.logger.With(
		zap.String("request_id", requestid.Value(c)),
		zap.String("handle", handle),
		zap.String("repo", payload.Repository.Name),
	)
	entries := make([]models.PendingCommit, 0, len(payload.Commits))
	for _, commit := range payload.Commits {
		message := githubapi.FirstLine(commit.Message)
		if message == "" {
			continue
		}
		entries = append(entries, models.PendingCommit{
			GitUser:    handle,
			RepoName:   payload.Repository.Name,
			CommitDate: normalizeTimestamp(commit.Timestamp),
			Comments:   message,
		})
	}
	if err := h.queue.InsertBatch(c.Request.Context(), entries); err != nil {
		log.Error("queue commits", zap.Int("commits", len(entries)), zap.Error(err))
		response.Error(c, err)
		return
	}

	log.Info("push queued", zap.Int("commits", len(entries)))
	response.JSON(c, http.StatusOK, gin.H{"queued": len(entries)})
}

// normalizeTimestamp converts an RFC 3339 timestamp to UTC ("...Z") so the matcher can shift it into
// the sync time zone. Unparseable values are kept as sent.
func normalizeTimestamp(ts string) string {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(ts))
	if err != nil {
		return strings.TrimSpace(ts)
	}
	return t.UTC().Format("2006-01-02T15:04:05Z")
}
