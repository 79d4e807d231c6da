package reminder

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/carebridge/carebridge/internal/platform/auth"
	"github.com/carebridge/carebridge/pkg/apperrors"
	"github.com/carebridge/carebridge/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/reminders/tasks", h.CreateTaskReminder)
	api.GET("/reminders/tasks", h.ListTaskReminders)
	api.GET("/reminders/tasks/upcoming", h.ListUpcomingTaskReminders)
	api.GET("/reminders/tasks/:id", h.GetTaskReminder)
	api.DELETE("/reminders/tasks/:id", h.DeleteTaskReminder)

	api.POST("/reminders/medications", h.CreateMedicationReminder)
	api.GET("/reminders/medications", h.ListMedicationReminders)
	api.GET("/reminders/medications/:id", h.GetMedicationReminder)
	api.PUT("/reminders/medications/:id/enabled", h.SetMedicationReminderEnabled)
	api.DELETE("/reminders/medications/:id", h.DeleteMedicationReminder)
}

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

type createTaskReminderRequest struct {
	TaskID uuid.UUID `json:"task_id"`
	Title  string    `json:"title"`
	DueAt  time.Time `json:"due_at"`
}

func (h *Handler) CreateTaskReminder(c echo.Context) error {
	var req createTaskReminderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r := &TaskReminder{
		TaskID: req.TaskID,
		UserID: auth.UserID(c),
		Title:  req.Title,
		DueAt:  req.DueAt,
	}
	if err := h.svc.CreateTaskReminder(c.Request().Context(), r); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

func (h *Handler) ListTaskReminders(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListTaskReminders(c.Request().Context(), auth.UserID(c), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

// ListUpcomingTaskReminders returns the caller's unsent reminders, the
// working set the in-session trigger evaluates between worker cycles.
func (h *Handler) ListUpcomingTaskReminders(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, err := h.svc.UpcomingForUser(c.Request().Context(), auth.UserID(c), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"data": items})
}

func (h *Handler) GetTaskReminder(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, err := h.svc.GetTaskReminder(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if r.UserID != auth.UserID(c) {
		return echo.NewHTTPError(http.StatusForbidden, "not your reminder")
	}
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DeleteTaskReminder(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, err := h.svc.GetTaskReminder(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if r.UserID != auth.UserID(c) {
		return echo.NewHTTPError(http.StatusForbidden, "not your reminder")
	}
	if err := h.svc.DeleteTaskReminder(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type createMedicationReminderRequest struct {
	MedicationID uuid.UUID `json:"medication_id"`
	Name         string    `json:"name"`
	TimesOfDay   []string  `json:"times_of_day"`
	Enabled      *bool     `json:"enabled"`
}

func (h *Handler) CreateMedicationReminder(c echo.Context) error {
	var req createMedicationReminderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	r := &MedicationReminder{
		MedicationID: req.MedicationID,
		UserID:       auth.UserID(c),
		Name:         req.Name,
		TimesOfDay:   req.TimesOfDay,
		Enabled:      enabled,
	}
	if err := h.svc.CreateMedicationReminder(c.Request().Context(), r); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, r)
}

type medicationReminderItem struct {
	*MedicationReminder
	NextDueAt *time.Time `json:"next_due_at,omitempty"`
}

func (h *Handler) ListMedicationReminders(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListMedicationReminders(c.Request().Context(), auth.UserID(c), pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	now := time.Now()
	out := make([]medicationReminderItem, 0, len(items))
	for _, r := range items {
		item := medicationReminderItem{MedicationReminder: r}
		if r.Enabled {
			if next, ok := nextDue(now, r.TimesOfDay); ok {
				item.NextDueAt = &next
			}
		}
		out = append(out, item)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetMedicationReminder(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, err := h.svc.GetMedicationReminder(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if r.UserID != auth.UserID(c) {
		return echo.NewHTTPError(http.StatusForbidden, "not your reminder")
	}
	return c.JSON(http.StatusOK, r)
}

type setEnabledRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *Handler) SetMedicationReminderEnabled(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var req setEnabledRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	r, err := h.svc.GetMedicationReminder(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if r.UserID != auth.UserID(c) {
		return echo.NewHTTPError(http.StatusForbidden, "not your reminder")
	}
	if err := h.svc.SetMedicationReminderEnabled(c.Request().Context(), id, req.Enabled); err != nil {
		return httpError(err)
	}
	r.Enabled = req.Enabled
	return c.JSON(http.StatusOK, r)
}

func (h *Handler) DeleteMedicationReminder(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	r, err := h.svc.GetMedicationReminder(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if r.UserID != auth.UserID(c) {
		return echo.NewHTTPError(http.StatusForbidden, "not your reminder")
	}
	if err := h.svc.DeleteMedicationReminder(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
