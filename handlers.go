package leadkit

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/eringen/leadkit/analytics"
	"github.com/eringen/leadkit/intake"
	"github.com/eringen/leadkit/notify"
)

// ContactRequest is the body of POST /contact.
type ContactRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Company   string `json:"company"`
	Phone     string `json:"phone"`
	Message   string `json:"message"`
	Source    string `json:"source"`
	SessionID string `json:"session_id"`
}

func (r *ContactRequest) sanitize() {
	r.Name = intake.Sanitize(r.Name)
	r.Email = intake.NormalizeEmail(intake.Sanitize(r.Email))
	r.Company = intake.Sanitize(r.Company)
	r.Phone = intake.Sanitize(r.Phone)
	r.Message = intake.Sanitize(r.Message)
	r.Source = intake.Sanitize(r.Source)
	r.SessionID = intake.Sanitize(r.SessionID)
}

func (r ContactRequest) validate(v *intake.Validator) {
	if v.Required("name", r.Name) {
		v.MinLen("name", r.Name, 2)
		v.MaxLen("name", r.Name, 100)
	}
	v.Email("email", r.Email)
	if v.Required("message", r.Message) {
		v.MinLen("message", r.Message, 10)
		v.MaxLen("message", r.Message, 5000)
	}
	v.MaxLen("company", r.Company, 200)
	v.MaxLen("phone", r.Phone, 40)
	v.MaxLen("source", r.Source, 100)
}

// SubscribeRequest is the body of POST and PATCH /subscribe.
type SubscribeRequest struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	Source    string `json:"source"`
	SessionID string `json:"session_id"`
}

func (r *SubscribeRequest) sanitize() {
	r.Email = intake.NormalizeEmail(intake.Sanitize(r.Email))
	r.Name = intake.Sanitize(r.Name)
	r.Source = intake.Sanitize(r.Source)
	r.SessionID = intake.Sanitize(r.SessionID)
}

func (r SubscribeRequest) validate(v *intake.Validator) {
	v.Email("email", r.Email)
	v.MaxLen("name", r.Name, 100)
	v.MaxLen("source", r.Source, 100)
}

// decodeOne reads, sanitizes and validates a single JSON object.
func decodeOne[T any](c echo.Context, sanitize func(*T), validate func(T, *intake.Validator)) (T, error) {
	req, err := intake.Decode[T](c.Request().Body)
	if err != nil {
		return req, err
	}
	sanitize(&req)
	v := &intake.Validator{}
	validate(req, v)
	return req, v.Err()
}

type contactData struct {
	ID string `json:"id"`
}

type contactResponse struct {
	Data    contactData `json:"data"`
	Message string      `json:"message"`
}

func (a *App) handleContact(c echo.Context) error {
	req, err := decodeOne(c, (*ContactRequest).sanitize, ContactRequest.validate)
	if err != nil {
		return intake.Fail(c, a.Logger, err)
	}
	ctx := c.Request().Context()
	client := analytics.NewClient(c.RealIP(), c.Request().UserAgent())

	contact, err := a.Store.CreateContact(ctx, Contact{
		Name:      req.Name,
		Email:     req.Email,
		Company:   req.Company,
		Phone:     req.Phone,
		Message:   req.Message,
		Source:    req.Source,
		IPHash:    client.IPHash,
		UserAgent: c.Request().UserAgent(),
	})
	if err != nil {
		return intake.Fail(c, a.Logger, intake.Persistence("create contact", err))
	}

	a.recordConversion(ctx, analytics.Conversion{
		ConversionType: analytics.ConversionContactForm,
		SessionID:      req.SessionID,
		Path:           "/contact",
		Properties:     map[string]any{"contact_id": contact.ID, "source": req.Source},
		Client:         client,
	})
	a.notifyContact(contact)

	return c.JSON(http.StatusCreated, contactResponse{
		Data:    contactData{ID: contact.ID},
		Message: "Thanks for reaching out. We will get back to you shortly.",
	})
}

// notifyContact sends the notification e-mail in the background. Failures
// are logged; the submission is already stored.
func (a *App) notifyContact(ct Contact) {
	msg := notify.Contact{
		ID:      ct.ID,
		Name:    ct.Name,
		Email:   ct.Email,
		Company: ct.Company,
		Message: ct.Message,
	}
	a.Go(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := a.Mailer.NotifyContact(ctx, msg); err != nil {
			a.Logger.Warn("contact notification failed", zap.String("contact_id", ct.ID), zap.Error(err))
		}
	})
}

// recordConversion writes the secondary analytics record of a form
// submission. It never fails the request.
func (a *App) recordConversion(ctx context.Context, cv analytics.Conversion) {
	if err := a.Analytics.RecordConversion(ctx, cv); err != nil {
		a.Logger.Warn("conversion not recorded",
			zap.String("conversion_type", cv.ConversionType), zap.Error(err))
	}
}

type subscribeResponse struct {
	Message           string `json:"message"`
	AlreadySubscribed bool   `json:"already_subscribed,omitempty"`
	Reactivated       bool   `json:"reactivated,omitempty"`
}

func (a *App) handleSubscribe(c echo.Context) error {
	req, err := decodeOne(c, (*SubscribeRequest).sanitize, SubscribeRequest.validate)
	if err != nil {
		return intake.Fail(c, a.Logger, err)
	}
	ctx := c.Request().Context()

	existing, err := a.Store.GetSubscriberByEmail(ctx, req.Email)
	switch {
	case err == nil && existing.Active():
		return c.JSON(http.StatusOK, subscribeResponse{
			Message:           "You are already subscribed.",
			AlreadySubscribed: true,
		})
	case err == nil:
		err := a.Store.Reactivate(ctx, req.Email)
		switch {
		case errors.Is(err, ErrNotFound):
			// A concurrent request reactivated the address first.
			return c.JSON(http.StatusOK, subscribeResponse{
				Message:           "You are already subscribed.",
				AlreadySubscribed: true,
			})
		case err != nil:
			return intake.Fail(c, a.Logger, intake.Persistence("reactivate subscriber", err))
		}
		a.recordSignup(c, req, true)
		return c.JSON(http.StatusOK, subscribeResponse{
			Message:     "Welcome back! Your subscription is active again.",
			Reactivated: true,
		})
	case !errors.Is(err, ErrNotFound):
		return intake.Fail(c, a.Logger, intake.Persistence("lookup subscriber", err))
	}

	_, created, err := a.Store.CreateSubscriber(ctx, Subscriber{
		Email:  req.Email,
		Name:   req.Name,
		Source: req.Source,
	})
	if err != nil {
		return intake.Fail(c, a.Logger, intake.Persistence("create subscriber", err))
	}
	if !created {
		// A concurrent request inserted the same address first.
		return c.JSON(http.StatusOK, subscribeResponse{
			Message:           "You are already subscribed.",
			AlreadySubscribed: true,
		})
	}
	a.recordSignup(c, req, false)
	return c.JSON(http.StatusCreated, subscribeResponse{Message: "Thanks for subscribing!"})
}

func (a *App) recordSignup(c echo.Context, req SubscribeRequest, reactivated bool) {
	a.recordConversion(c.Request().Context(), analytics.Conversion{
		ConversionType: analytics.ConversionNewsletterSignup,
		SessionID:      req.SessionID,
		Path:           "/subscribe",
		Properties:     map[string]any{"source": req.Source, "reactivated": reactivated},
		Client:         analytics.NewClient(c.RealIP(), c.Request().UserAgent()),
	})
}

func (a *App) handleUnsubscribe(c echo.Context) error {
	req, err := decodeOne(c, (*SubscribeRequest).sanitize, SubscribeRequest.validate)
	if err != nil {
		return intake.Fail(c, a.Logger, err)
	}
	err = a.Store.Unsubscribe(c.Request().Context(), req.Email)
	switch {
	case errors.Is(err, ErrNotFound):
		return c.JSON(http.StatusNotFound, intake.ErrorResponse{Error: "Subscription not found"})
	case err != nil:
		return intake.Fail(c, a.Logger, intake.Persistence("unsubscribe", err))
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "You have been unsubscribed."})
}

func (a *App) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()
	if err := a.Store.Ping(ctx); err != nil {
		a.Logger.Error("health check failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
