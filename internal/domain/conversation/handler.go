package conversation

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carebridge/carebridge/internal/platform/auth"
	"github.com/carebridge/carebridge/internal/platform/blobstore"
	"github.com/carebridge/carebridge/pkg/apperrors"
	"github.com/carebridge/carebridge/pkg/pagination"
)

// TypingAnnouncer receives typing start/stop intents for fan-out.
type TypingAnnouncer interface {
	AnnounceTyping(conversationID, userID uuid.UUID)
	StopTyping(conversationID, userID uuid.UUID)
}

type Handler struct {
	svc    *Service
	typing TypingAnnouncer
	blobs  blobstore.Store
	urlTTL time.Duration
}

func NewHandler(svc *Service, typing TypingAnnouncer, blobs blobstore.Store, urlTTL time.Duration) *Handler {
	return &Handler{svc: svc, typing: typing, blobs: blobs, urlTTL: urlTTL}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/conversations", h.CreateConversation)
	api.GET("/conversations", h.ListConversations)
	api.GET("/conversations/:id", h.GetConversation)
	api.PUT("/conversations/:id/status", h.SetStatus)
	api.GET("/conversations/:id/messages", h.ListMessages)
	api.POST("/conversations/:id/messages", h.SendMessage)
	api.POST("/conversations/:id/delivered", h.MarkDelivered)
	api.POST("/conversations/:id/read", h.MarkRead)
	api.POST("/conversations/:id/typing", h.Typing)
	api.POST("/conversations/:id/attachments", h.UploadAttachment)
}

// httpError maps the error taxonomy onto HTTP statuses. Authorization
// denials surface as 403 on a single path, never retried with a reshaped
// payload.
func httpError(err error) *echo.HTTPError {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeValidation:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case apperrors.CodeNotFound:
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case apperrors.CodeAlreadyExists:
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case apperrors.CodeAuthorizationDenied:
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case apperrors.CodeTransientStore, apperrors.CodeUnavailable:
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

type createConversationRequest struct {
	Urgency      string        `json:"urgency"`
	Participants []Participant `json:"participants"`
}

func (h *Handler) CreateConversation(c echo.Context) error {
	var req createConversationRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	conv, err := h.svc.Provision(c.Request().Context(), req.Urgency, req.Participants)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, conv)
}

func (h *Handler) GetConversation(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	conv, err := h.svc.GetConversation(c.Request().Context(), id, auth.UserID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

type setStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) SetStatus(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req setStatusRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	conv, err := h.svc.SetStatus(c.Request().Context(), id, auth.UserID(c), req.Status)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, conv)
}

type conversationListItem struct {
	*Conversation
	UnreadCount int `json:"unread_count"`
}

func (h *Handler) ListConversations(c echo.Context) error {
	pg := pagination.FromContext(c)
	userID := auth.UserID(c)
	ctx := c.Request().Context()

	convs, total, err := h.svc.ListConversations(ctx, userID, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	items := make([]conversationListItem, 0, len(convs))
	for _, conv := range convs {
		unread, err := h.svc.UnreadCount(ctx, conv.ID, userID)
		if err != nil {
			return httpError(err)
		}
		items = append(items, conversationListItem{Conversation: conv, UnreadCount: unread})
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) ListMessages(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pg := pagination.FromContext(c)
	msgs, total, err := h.svc.ListMessages(c.Request().Context(), id, auth.UserID(c), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(msgs, total, pg.Limit, pg.Offset))
}

type sendMessageRequest struct {
	LocalID     uuid.UUID    `json:"local_id"`
	Content     *string      `json:"content"`
	Attachments []Attachment `json:"attachments"`
}

func (h *Handler) SendMessage(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req sendMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	m := &Message{
		LocalID:        req.LocalID,
		ConversationID: id,
		SenderID:       auth.UserID(c),
		Content:        req.Content,
		Attachments:    req.Attachments,
	}
	confirmed, err := h.svc.SendMessage(c.Request().Context(), m)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, confirmed)
}

type markRequest struct {
	MessageIDs []uuid.UUID `json:"message_ids"`
}

type markResponse struct {
	Updated int64 `json:"updated"`
}

func (h *Handler) MarkDelivered(c echo.Context) error {
	return h.mark(c, h.svc.MarkDelivered)
}

func (h *Handler) MarkRead(c echo.Context) error {
	return h.mark(c, h.svc.MarkRead)
}

type markFunc func(ctx context.Context, conversationID, readerID uuid.UUID, ids []uuid.UUID) (int64, error)

func (h *Handler) mark(c echo.Context, fn markFunc) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req markRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	// Membership check before touching rows; a non-participant gets the
	// same 403 regardless of which ids they guessed.
	if _, err := h.svc.GetConversation(c.Request().Context(), id, auth.UserID(c)); err != nil {
		return httpError(err)
	}
	updated, err := fn(c.Request().Context(), id, auth.UserID(c), req.MessageIDs)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, markResponse{Updated: updated})
}

type typingRequest struct {
	Stopped bool `json:"stopped"`
}

func (h *Handler) Typing(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req typingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if _, err := h.svc.GetConversation(c.Request().Context(), id, auth.UserID(c)); err != nil {
		return httpError(err)
	}
	if req.Stopped {
		h.typing.StopTyping(id, auth.UserID(c))
	} else {
		h.typing.AnnounceTyping(id, auth.UserID(c))
	}
	return c.NoContent(http.StatusAccepted)
}

func (h *Handler) UploadAttachment(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if _, err := h.svc.GetConversation(c.Request().Context(), id, auth.UserID(c)); err != nil {
		return httpError(err)
	}

	file, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	src, err := file.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	defer src.Close()
	data, err := io.ReadAll(io.LimitReader(src, blobstore.MaxFileSize+1))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	path := id.String() + "/" + uuid.New().String() + "-" + file.Filename
	ref, err := h.blobs.Upload(c.Request().Context(), path, data, file.Header.Get("Content-Type"))
	if err != nil {
		switch {
		case errors.Is(err, blobstore.ErrFileTooLarge):
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
		case errors.Is(err, blobstore.ErrInvalidContentType):
			return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
		default:
			return httpError(err)
		}
	}

	url, err := h.blobs.SignedURL(c.Request().Context(), ref, h.urlTTL)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, Attachment{
		Bucket:    ref.Bucket,
		Path:      ref.Path,
		Name:      file.Filename,
		MimeType:  ref.ContentType,
		Size:      ref.Size,
		SignedURL: url,
	})
}
