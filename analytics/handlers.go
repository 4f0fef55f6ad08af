package analytics

import (
	"context"
	"net/http"
	"time"

	"github.com/eringen/leadkit/intake"
	"github.com/labstack/echo/v4"
	"github.com/oklog/ulid/v2"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Input validation limits.
const (
	maxTypeLen     = 64
	maxPathLen     = 2048
	maxReferrerLen = 2048
	maxIDLen       = 128
)

// Handler handles analytics HTTP requests.
type Handler struct {
	store     *Store
	forwarder Forwarder
	logger    *zap.Logger
	now       func() time.Time
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithForwarder publishes every stored batch through f.
func WithForwarder(f Forwarder) HandlerOption {
	return func(h *Handler) { h.forwarder = f }
}

// WithNow replaces time.Now for record timestamps.
func WithNow(now func() time.Time) HandlerOption {
	return func(h *Handler) { h.now = now }
}

func NewHandler(store *Store, logger *zap.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{store: store, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Store returns the backing store.
func (h *Handler) Store() *Store { return h.store }

// EventRequest is the body of POST /analytics/events.
type EventRequest struct {
	EventType  string         `json:"event_type"`
	SessionID  string         `json:"session_id"`
	Path       string         `json:"path"`
	Referrer   string         `json:"referrer"`
	Properties map[string]any `json:"properties"`
}

// ConversionRequest is the body of POST /analytics/conversions.
type ConversionRequest struct {
	ConversionType string         `json:"conversion_type"`
	SessionID      string         `json:"session_id"`
	Path           string         `json:"path"`
	Value          float64        `json:"value"`
	Currency       string         `json:"currency"`
	Properties     map[string]any `json:"properties"`
}

// FormInteractionRequest is the body of POST /analytics/form.
type FormInteractionRequest struct {
	FormID          string         `json:"form_id"`
	InteractionType string         `json:"interaction_type"`
	FieldName       string         `json:"field_name"`
	Step            int            `json:"step"`
	SessionID       string         `json:"session_id"`
	Path            string         `json:"path"`
	Properties      map[string]any `json:"properties"`
}

// BatchResponse is returned on 201.
type BatchResponse struct {
	EventsProcessed int      `json:"events_processed"`
	EventIDs        []string `json:"event_ids"`
}

func (r *EventRequest) sanitize() {
	r.EventType = intake.Sanitize(r.EventType)
	r.SessionID = intake.Sanitize(r.SessionID)
	r.Path = intake.Sanitize(r.Path)
	r.Referrer = intake.Sanitize(r.Referrer)
	r.Properties = intake.SanitizeMap(r.Properties)
}

func (r EventRequest) validate(v *intake.Validator) {
	v.OneOf("event_type", r.EventType, EventTypes)
	v.MaxLen("session_id", r.SessionID, maxIDLen)
	v.MaxLen("path", r.Path, maxPathLen)
	v.MaxLen("referrer", r.Referrer, maxReferrerLen)
}

func (r *ConversionRequest) sanitize() {
	r.ConversionType = intake.Sanitize(r.ConversionType)
	r.SessionID = intake.Sanitize(r.SessionID)
	r.Path = intake.Sanitize(r.Path)
	r.Currency = intake.Sanitize(r.Currency)
	r.Properties = intake.SanitizeMap(r.Properties)
}

func (r ConversionRequest) validate(v *intake.Validator) {
	v.OneOf("conversion_type", r.ConversionType, ConversionTypes)
	v.Check(r.Value >= 0, "value must not be negative")
	v.Check(r.Currency == "" || len(r.Currency) == 3, "currency must be a 3-letter code")
	v.MaxLen("session_id", r.SessionID, maxIDLen)
	v.MaxLen("path", r.Path, maxPathLen)
}

func (r *FormInteractionRequest) sanitize() {
	r.FormID = intake.Sanitize(r.FormID)
	r.InteractionType = intake.Sanitize(r.InteractionType)
	r.FieldName = intake.Sanitize(r.FieldName)
	r.SessionID = intake.Sanitize(r.SessionID)
	r.Path = intake.Sanitize(r.Path)
	r.Properties = intake.SanitizeMap(r.Properties)
}

func (r FormInteractionRequest) validate(v *intake.Validator) {
	if v.Required("form_id", r.FormID) {
		v.MaxLen("form_id", r.FormID, maxIDLen)
	}
	v.OneOf("interaction_type", r.InteractionType, InteractionTypes)
	v.MaxLen("field_name", r.FieldName, maxTypeLen)
	v.Check(r.Step >= 0, "step must not be negative")
	v.MaxLen("session_id", r.SessionID, maxIDLen)
	v.MaxLen("path", r.Path, maxPathLen)
}

// decode reads, sanitizes and validates a single object or a batch.
func decode[T any](c echo.Context, sanitize func(*T), validate func(T, *intake.Validator)) ([]T, error) {
	items, batch, err := intake.DecodeBatch[T](c.Request().Body)
	if err != nil {
		return nil, err
	}
	for i := range items {
		sanitize(&items[i])
	}
	if err := intake.ValidateBatch(items, batch, validate); err != nil {
		return nil, err
	}
	return items, nil
}

func (h *Handler) client(c echo.Context) Client {
	return NewClient(c.RealIP(), c.Request().UserAgent())
}

// Events handles POST /analytics/events.
func (h *Handler) Events(c echo.Context) error {
	reqs, err := decode(c, (*EventRequest).sanitize, EventRequest.validate)
	if err != nil {
		return intake.Fail(c, h.logger, err)
	}
	client := h.client(c)
	now := h.now().UTC()
	events := lo.Map(reqs, func(r EventRequest, _ int) Event {
		return Event{
			ID:             ulid.Make().String(),
			EventType:      r.EventType,
			SessionID:      r.SessionID,
			Path:           r.Path,
			Referrer:       r.Referrer,
			ReferrerSource: CleanReferrer(r.Referrer),
			Properties:     r.Properties,
			Client:         client,
			CreatedAt:      now,
		}
	})
	if err := h.store.SaveEvents(c.Request().Context(), events); err != nil {
		return intake.Fail(c, h.logger, intake.Persistence("save events", err))
	}
	ids := lo.Map(events, func(e Event, _ int) string { return e.ID })
	h.forward(c.Request().Context(), lo.Map(events, func(e Event, _ int) Envelope {
		return Envelope{Kind: "event", ID: e.ID, At: e.CreatedAt, Payload: e}
	}))
	return c.JSON(http.StatusCreated, BatchResponse{EventsProcessed: len(ids), EventIDs: ids})
}

// Conversions handles POST /analytics/conversions.
func (h *Handler) Conversions(c echo.Context) error {
	reqs, err := decode(c, (*ConversionRequest).sanitize, ConversionRequest.validate)
	if err != nil {
		return intake.Fail(c, h.logger, err)
	}
	client := h.client(c)
	now := h.now().UTC()
	conversions := lo.Map(reqs, func(r ConversionRequest, _ int) Conversion {
		return Conversion{
			ID:             ulid.Make().String(),
			ConversionType: r.ConversionType,
			SessionID:      r.SessionID,
			Path:           r.Path,
			Value:          r.Value,
			Currency:       r.Currency,
			Properties:     r.Properties,
			Client:         client,
			CreatedAt:      now,
		}
	})
	if err := h.store.SaveConversions(c.Request().Context(), conversions); err != nil {
		return intake.Fail(c, h.logger, intake.Persistence("save conversions", err))
	}
	ids := lo.Map(conversions, func(cv Conversion, _ int) string { return cv.ID })
	h.forward(c.Request().Context(), lo.Map(conversions, func(cv Conversion, _ int) Envelope {
		return Envelope{Kind: "conversion", ID: cv.ID, At: cv.CreatedAt, Payload: cv}
	}))
	return c.JSON(http.StatusCreated, BatchResponse{EventsProcessed: len(ids), EventIDs: ids})
}

// FormInteractions handles POST /analytics/form.
func (h *Handler) FormInteractions(c echo.Context) error {
	reqs, err := decode(c, (*FormInteractionRequest).sanitize, FormInteractionRequest.validate)
	if err != nil {
		return intake.Fail(c, h.logger, err)
	}
	client := h.client(c)
	now := h.now().UTC()
	items := lo.Map(reqs, func(r FormInteractionRequest, _ int) FormInteraction {
		return FormInteraction{
			ID:              ulid.Make().String(),
			FormID:          r.FormID,
			InteractionType: r.InteractionType,
			FieldName:       r.FieldName,
			Step:            r.Step,
			SessionID:       r.SessionID,
			Path:            r.Path,
			Properties:      r.Properties,
			Client:          client,
			CreatedAt:       now,
		}
	})
	if err := h.store.SaveFormInteractions(c.Request().Context(), items); err != nil {
		return intake.Fail(c, h.logger, intake.Persistence("save form interactions", err))
	}
	ids := lo.Map(items, func(f FormInteraction, _ int) string { return f.ID })
	h.forward(c.Request().Context(), lo.Map(items, func(f FormInteraction, _ int) Envelope {
		return Envelope{Kind: "form_interaction", ID: f.ID, At: f.CreatedAt, Payload: f}
	}))
	return c.JSON(http.StatusCreated, BatchResponse{EventsProcessed: len(ids), EventIDs: ids})
}

func (h *Handler) forward(ctx context.Context, items []Envelope) {
	if h.forwarder == nil || len(items) == 0 {
		return
	}
	if err := h.forwarder.Forward(ctx, items); err != nil {
		h.logger.Warn("analytics forward failed", zap.Int("count", len(items)), zap.Error(err))
	}
}

// RecordConversion stores a single server-side conversion. Callers treat
// it as a best-effort side record.
func (h *Handler) RecordConversion(ctx context.Context, cv Conversion) error {
	if cv.ID == "" {
		cv.ID = ulid.Make().String()
	}
	if cv.CreatedAt.IsZero() {
		cv.CreatedAt = h.now().UTC()
	}
	if err := h.store.SaveConversions(ctx, []Conversion{cv}); err != nil {
		return intake.Persistence("save conversion", err)
	}
	h.forward(ctx, []Envelope{{Kind: "conversion", ID: cv.ID, At: cv.CreatedAt, Payload: cv}})
	return nil
}

// RecordEvent stores a single server-side event.
func (h *Handler) RecordEvent(ctx context.Context, e Event) error {
	if e.ID == "" {
		e.ID = ulid.Make().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = h.now().UTC()
	}
	if err := h.store.SaveEvents(ctx, []Event{e}); err != nil {
		return intake.Persistence("save event", err)
	}
	h.forward(ctx, []Envelope{{Kind: "event", ID: e.ID, At: e.CreatedAt, Payload: e}})
	return nil
}

// RegisterRoutes registers the public analytics endpoints on g. Any other
// method on these paths answers 405.
func (h *Handler) RegisterRoutes(g *echo.Group, mw ...echo.MiddlewareFunc) {
	g.POST("/analytics/events", h.Events, mw...)
	g.POST("/analytics/conversions", h.Conversions, mw...)
	g.POST("/analytics/form", h.FormInteractions, mw...)
}
