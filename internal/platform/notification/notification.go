// Package notification is the sink reminders and alerts are emitted
// through. A tag accompanies every notification so the OS/browser
// notification center can supersede an earlier alert for the same reminder
// instead of stacking duplicates. Senders for platform capabilities (system
// notification, audible tone, haptics) are interfaces; an absent capability
// reports Unavailable and the manager degrades silently rather than failing
// the caller.
package notification

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/carebridge/carebridge/pkg/apperrors"
)

// Sink is the interface components emit notifications through.
type Sink interface {
	Notify(ctx context.Context, title, body, tag string) error
}

// SystemSender posts a notification to the platform notification center.
type SystemSender interface {
	Send(ctx context.Context, title, body, tag string) error
}

// ToneSender plays a short audible alert tone.
type ToneSender interface {
	Play(ctx context.Context) error
}

// HapticSender triggers haptic feedback where the device supports it.
type HapticSender interface {
	Vibrate(ctx context.Context, d time.Duration) error
}

// Notification is one recorded emission.
type Notification struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Body      string     `json:"body"`
	Tag       string     `json:"tag"`
	Status    string     `json:"status"` // "sent", "failed", "degraded"
	CreatedAt time.Time  `json:"created_at"`
	SentAt    *time.Time `json:"sent_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Manager dispatches notifications and keeps an in-memory record for the
// stats endpoint and for retry.
type Manager struct {
	system SystemSender
	log    zerolog.Logger

	mu            sync.RWMutex
	notifications map[string]*Notification
	byTag         map[string]string // tag -> latest notification id
}

func NewManager(system SystemSender, log zerolog.Logger) *Manager {
	return &Manager{
		system:        system,
		log:           log.With().Str("component", "notification").Logger(),
		notifications: make(map[string]*Notification),
		byTag:         make(map[string]string),
	}
}

// Notify implements Sink. A repeated tag supersedes the earlier record the
// way the notification center replaces the on-screen alert. An Unavailable
// sender marks the record degraded and reports success to the caller.
func (m *Manager) Notify(ctx context.Context, title, body, tag string) error {
	n := &Notification{
		ID:        uuid.New().String(),
		Title:     title,
		Body:      body,
		Tag:       tag,
		CreatedAt: time.Now().UTC(),
	}

	err := m.system.Send(ctx, title, body, tag)
	switch {
	case err == nil:
		n.Status = "sent"
		sentAt := time.Now().UTC()
		n.SentAt = &sentAt
	case apperrors.CodeOf(err) == apperrors.CodeUnavailable:
		n.Status = "degraded"
		n.Error = err.Error()
		m.log.Debug().Str("tag", tag).Msg("system notifications unavailable")
		err = nil
	default:
		n.Status = "failed"
		n.Error = err.Error()
	}

	m.mu.Lock()
	m.notifications[n.ID] = n
	if tag != "" {
		if prevID, ok := m.byTag[tag]; ok {
			if prev := m.notifications[prevID]; prev != nil && prev.Status == "sent" {
				prev.Status = "superseded"
			}
		}
		m.byTag[tag] = n.ID
	}
	m.mu.Unlock()

	return err
}

// Get retrieves a recorded notification by ID.
func (m *Manager) Get(id string) (*Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.notifications[id]
	if !ok {
		return nil, fmt.Errorf("notification %q not found", id)
	}
	return n, nil
}

// Retry re-sends a failed notification. Returns an error if the
// notification is not in "failed" status.
func (m *Manager) Retry(ctx context.Context, id string) error {
	m.mu.RLock()
	n, ok := m.notifications[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("notification %q not found", id)
	}
	if n.Status != "failed" {
		return fmt.Errorf("notification %q is not in failed status (current: %s)", id, n.Status)
	}

	err := m.system.Send(ctx, n.Title, n.Body, n.Tag)

	m.mu.Lock()
	if err != nil {
		n.Error = err.Error()
	} else {
		n.Status = "sent"
		sentAt := time.Now().UTC()
		n.SentAt = &sentAt
		n.Error = ""
	}
	m.mu.Unlock()

	return err
}

// Stats returns counts of notifications grouped by status.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]int)
	for _, n := range m.notifications {
		stats[n.Status]++
	}
	return stats
}

// LatestByTag returns the most recent notification emitted under tag.
func (m *Manager) LatestByTag(tag string) (*Notification, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byTag[tag]
	if !ok {
		return nil, false
	}
	n := m.notifications[id]
	return n, n != nil
}

// ---------------------------------------------------------------------------
// Senders
// ---------------------------------------------------------------------------

// LogSender is the server-side SystemSender: the worker process has no
// notification center, so emissions land in the structured log and the
// realtime hub carries them to open tabs separately.
type LogSender struct {
	Log zerolog.Logger
}

func (s *LogSender) Send(_ context.Context, title, body, tag string) error {
	s.Log.Info().
		Str("title", title).
		Str("body", body).
		Str("tag", tag).
		Msg("notification")
	return nil
}

// UnavailableSender models a platform without the capability.
type UnavailableSender struct{}

func (UnavailableSender) Send(context.Context, string, string, string) error {
	return apperrors.Unavailable("notification API not present")
}

func (UnavailableSender) Play(context.Context) error {
	return apperrors.Unavailable("audio API not present")
}

func (UnavailableSender) Vibrate(context.Context, time.Duration) error {
	return apperrors.Unavailable("vibration API not present")
}

// ---------------------------------------------------------------------------
// Mock senders (test doubles)
// ---------------------------------------------------------------------------

// SystemCall records a single call to Send.
type SystemCall struct {
	Title string
	Body  string
	Tag   string
}

// MockSystemSender is a test double for SystemSender.
type MockSystemSender struct {
	mu         sync.Mutex
	calls      []SystemCall
	ShouldFail bool
	FailError  string
}

func (m *MockSystemSender) Send(_ context.Context, title, body, tag string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, SystemCall{Title: title, Body: body, Tag: tag})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded calls.
func (m *MockSystemSender) Calls() []SystemCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SystemCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// MockToneSender is a test double for ToneSender.
type MockToneSender struct {
	mu         sync.Mutex
	plays      int
	ShouldFail bool
}

func (m *MockToneSender) Play(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.plays++
	if m.ShouldFail {
		return errors.New("audio device busy")
	}
	return nil
}

func (m *MockToneSender) Plays() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plays
}

// MockHapticSender is a test double for HapticSender.
type MockHapticSender struct {
	mu      sync.Mutex
	buzzes  int
	Missing bool
}

func (m *MockHapticSender) Vibrate(context.Context, time.Duration) error {
	if m.Missing {
		return apperrors.Unavailable("vibration API not present")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buzzes++
	return nil
}

func (m *MockHapticSender) Buzzes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buzzes
}

// ---------------------------------------------------------------------------
// HTTP handler
// ---------------------------------------------------------------------------

// Handler exposes notification records over HTTP.
type Handler struct {
	manager *Manager
}

func NewHandler(manager *Manager) *Handler {
	return &Handler{manager: manager}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/notifications/stats", h.HandleStats)
	g.GET("/notifications/:id", h.HandleGet)
	g.POST("/notifications/:id/retry", h.HandleRetry)
}

func (h *Handler) HandleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, h.manager.Stats())
}

func (h *Handler) HandleGet(c echo.Context) error {
	n, err := h.manager.Get(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.JSON(http.StatusOK, n)
}

func (h *Handler) HandleRetry(c echo.Context) error {
	id := c.Param("id")
	if err := h.manager.Retry(c.Request().Context(), id); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	n, _ := h.manager.Get(id)
	return c.JSON(http.StatusOK, n)
}
