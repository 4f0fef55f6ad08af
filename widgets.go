package leadkit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/a-h/templ"
	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/eringen/leadkit/analytics"
	"github.com/eringen/leadkit/engagement"
	"github.com/eringen/leadkit/intake"
)

var widgetIDRE = regexp.MustCompile(`^[a-z0-9_-]{1,32}$`)

const scarcityKeyPrefix = "scarcity_"

// maxScarcityWidgets bounds how many counters one session cookie carries.
// Securecookie rejects encoded values above 4096 bytes.
const maxScarcityWidgets = 8

// sessionStorage adapts a cookie session to engagement.Storage. Writes are
// kept in the session until save is called.
type sessionStorage struct {
	sess     *sessions.Session
	dirty    bool
	detached bool
}

func (s *sessionStorage) Read(key string) (string, bool, error) {
	v, ok := s.sess.Values[key].(string)
	return v, ok, nil
}

func (s *sessionStorage) Write(key, value string) error {
	s.sess.Values[key] = value
	s.dirty = true
	return nil
}

// countPrefix returns how many stored keys start with prefix.
func (s *sessionStorage) countPrefix(prefix string) int {
	n := 0
	for k := range s.sess.Values {
		if key, ok := k.(string); ok && strings.HasPrefix(key, prefix) {
			n++
		}
	}
	return n
}

func (s *sessionStorage) save(c echo.Context) error {
	if !s.dirty || s.detached {
		return nil
	}
	return s.sess.Save(c.Request(), c.Response())
}

// widgetStorage returns the visitor's widget storage. A cookie that cannot
// be decoded is replaced by a fresh session. Without a session store the
// state lives for this request only.
func (a *App) widgetStorage(c echo.Context) *sessionStorage {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		a.Logger.Debug("widget session reset", zap.Error(err))
	}
	if sess == nil {
		return &sessionStorage{sess: sessions.NewSession(nil, sessionName), detached: true}
	}
	return &sessionStorage{sess: sess}
}

func (a *App) saveWidgetStorage(c echo.Context, st *sessionStorage) {
	if err := st.save(c); err != nil {
		a.Logger.Warn("widget session not saved", zap.Error(err))
	}
}

func (a *App) widgetDispatcher(c echo.Context, sessionID string) engagement.Dispatcher {
	client := analytics.NewClient(c.RealIP(), c.Request().UserAgent())
	return a.Analytics.Dispatcher(c.Request().Context(), client, sessionID)
}

// handleScarcity renders the visitor's decaying counter for the widget
// named by ?id=.
func (a *App) handleScarcity(c echo.Context) error {
	id := c.QueryParam("id")
	if id == "" {
		id = "default"
	}
	if !widgetIDRE.MatchString(id) {
		return c.JSON(http.StatusBadRequest, intake.ErrorResponse{
			Error:   "Validation failed",
			Details: []string{"id must be 1-32 characters of a-z, 0-9, _ or -"},
		})
	}

	if len(a.Config.Scarcity.Widgets) > 0 && !lo.Contains(a.Config.Scarcity.Widgets, id) {
		return c.JSON(http.StatusNotFound, intake.ErrorResponse{Error: "Unknown widget"})
	}

	st := a.widgetStorage(c)
	key := scarcityKeyPrefix + id
	var storage engagement.Storage = st
	if _, ok, _ := st.Read(key); !ok && st.countPrefix(scarcityKeyPrefix) >= maxScarcityWidgets {
		a.Logger.Debug("scarcity widget not persisted, session full", zap.String("widget", id))
		storage = engagement.NewMemoryStorage()
	}
	cfg := engagement.CounterConfig{
		Key:              key,
		Initial:          a.Config.Scarcity.Initial,
		Min:              a.Config.Scarcity.Min,
		Interval:         a.Config.Scarcity.Interval,
		UrgencyThreshold: a.Config.Scarcity.UrgencyThreshold,
	}
	counter := engagement.NewDecayingCounter(cfg, storage, a.scheduler, engagement.WithCounterLogger(a.Logger))
	counter.Mount()
	counter.Unmount()
	a.saveWidgetStorage(c, st)

	value, urgent := counter.Value(), counter.Urgent()
	if c.QueryParam("track") != "false" {
		d := a.widgetDispatcher(c, intake.Sanitize(c.QueryParam("session_id")))
		path := intake.Sanitize(c.QueryParam("path"))
		now := a.scheduler.Now()
		d.Dispatch(engagement.Event{
			Name: analytics.EventScarcityViewed, Path: path, Timestamp: now,
			Params: map[string]any{"widget": id, "value": value},
		})
		if urgent {
			d.Dispatch(engagement.Event{
				Name: analytics.EventUrgencyViewed, Path: path, Timestamp: now,
				Params: map[string]any{"widget": id, "value": value},
			})
		}
	}

	return Render(c, scarcityWidget(id, value, counter.Progress(), urgent))
}

func scarcityWidget(id string, value int, progress float64, urgent bool) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		class := "scarcity"
		if urgent {
			class += " scarcity--urgent"
		}
		_, err := fmt.Fprintf(w,
			`<div class="%s" data-widget="%s" data-value="%d"><p><strong>%d</strong> spots left</p>`+
				`<div class="scarcity-bar" role="progressbar" aria-valuenow="%.0f" aria-valuemin="0" aria-valuemax="100">`+
				`<div class="scarcity-fill" style="width:%.0f%%"></div></div></div>`,
			class, templ.EscapeString(id), value, value, progress, progress)
		return err
	})
}

// ExitIntentRequest is the body of POST /widgets/exit-intent.
type ExitIntentRequest struct {
	Variant   string `json:"variant"`
	Path      string `json:"path"`
	SessionID string `json:"session_id"`
}

func (r *ExitIntentRequest) sanitize() {
	r.Variant = intake.Sanitize(r.Variant)
	r.Path = intake.Sanitize(r.Path)
	r.SessionID = intake.Sanitize(r.SessionID)
	if r.Variant == "" {
		r.Variant = string(engagement.VariantDesktop)
	}
	if r.Path == "" {
		r.Path = "/"
	}
}

func (r ExitIntentRequest) validate(v *intake.Validator) {
	v.OneOf("variant", r.Variant, []string{string(engagement.VariantDesktop), string(engagement.VariantMobile)})
	v.MaxLen("path", r.Path, 500)
}

// handleExitIntent decides whether the exit-intent popup may be shown to
// this visitor now and, if so, records the display.
func (a *App) handleExitIntent(c echo.Context) error {
	req, err := decodeOne(c, (*ExitIntentRequest).sanitize, ExitIntentRequest.validate)
	if err != nil {
		return intake.Fail(c, a.Logger, err)
	}

	st := a.widgetStorage(c)
	gate := engagement.NewCooldownGate(st, "exit_intent", a.scheduler, a.Logger)
	x := engagement.NewExitIntent(
		engagement.ExitIntentConfig{Cooldown: a.Config.ExitIntentCooldown},
		gate, a.scheduler, a.widgetDispatcher(c, req.SessionID), nil, a.Logger,
	)
	x.MountDesktop(engagement.NewPage(req.Path))
	shown := x.Trigger(engagement.Variant(req.Variant))
	x.Unmount()
	a.saveWidgetStorage(c, st)

	return c.JSON(http.StatusOK, map[string]bool{"show": shown})
}
