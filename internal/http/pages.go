package http

import (
	"context"
	"embed"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"time"
	_ "time/tzdata"

	"github.com/fjod/macstore/internal/domain"
	"github.com/fjod/macstore/internal/money"
	"github.com/fjod/macstore/internal/notify"
	"github.com/fjod/macstore/internal/service"
)

const (
	redirectPath = "/checkout/webpay/redirect"
	resultPath   = "/checkout/webpay/result"
)

//go:embed templates/*.html
var templatesFS embed.FS

var pages = template.Must(template.ParseFS(templatesFS, "templates/*.html"))

var santiago = loadLocation("America/Santiago")

func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

var reasonMessages = map[string]string{
	service.ReasonMissingToken: "No se recibió el token de la transacción.",
	service.ReasonAborted:      "El pago fue anulado.",
	service.ReasonDeclined:     "El pago fue rechazado.",
	service.ReasonFailed:       "No pudimos confirmar el pago.",
}

type ConfirmationRunner interface {
	Run(ctx context.Context, params url.Values) service.ConfirmationResult
}

type PendingSessionFinder interface {
	PendingSession(ctx context.Context, token string) (*domain.PaymentSession, error)
}

// PageHandler serves the browser-facing gateway pages.
type PageHandler struct {
	flow        ConfirmationRunner
	payments    PendingSessionFinder
	gatewayHost string
	timeout     time.Duration
	log         *slog.Logger
}

// NewPageHandler builds the page handler. Redirect forms are only rendered
// for form actions on gatewayBaseURL's host.
func NewPageHandler(flow ConfirmationRunner, payments PendingSessionFinder, gatewayBaseURL string,
	timeout time.Duration, log *slog.Logger) *PageHandler {
	host := ""
	if u, err := url.Parse(gatewayBaseURL); err == nil {
		host = u.Host
	}
	return &PageHandler{
		flow:        flow,
		payments:    payments,
		gatewayHost: host,
		timeout:     timeout,
		log:         log,
	}
}

type redirectPage struct {
	FormAction string
	Token      string
	Amount     string
}

type resultPage struct {
	Success  bool
	Message  string
	BuyOrder string
	Amount   string
	Date     string
	Card     string
	Notices  []notify.Notice
}

// Redirect renders the auto-submitting form that carries token_ws to the
// gateway's hosted page.
func (h *PageHandler) Redirect(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	session, err := h.payments.PendingSession(ctx, r.URL.Query().Get("token"))
	if err == nil && session.UserID != UserIDFromContext(r.Context()) {
		err = service.ErrPaymentSessionNotFound
	}
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	action, err := url.Parse(session.FormAction)
	if err != nil || action.Scheme != "https" || action.Host != h.gatewayHost {
		h.log.ErrorContext(ctx, "refusing redirect to unexpected form action",
			"buy_order", session.BuyOrderID, "form_action", session.FormAction)
		respondError(w, r, http.StatusBadGateway, "gateway_error", "unexpected gateway form action")
		return
	}

	h.render(w, "redirect.html", redirectPage{
		FormAction: action.String(),
		Token:      session.Token,
		Amount:     money.FormatCLP(session.Amount),
	})
}

// Result is the gateway return URL. The gateway may come back with GET or a
// form POST; both are handled alike.
func (h *PageHandler) Result(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := r.ParseForm(); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid_request", "invalid form")
		return
	}

	res := h.flow.Run(ctx, r.Form)

	page := resultPage{
		Success: res.State == service.ResultSuccess,
		Message: reasonMessages[res.Reason],
	}
	if c := res.Confirmation; c != nil {
		page.BuyOrder = c.BuyOrder
		page.Amount = money.FormatCLP(c.Amount)
		page.Date = c.TransactionDate.In(santiago).Format("02-01-2006 15:04")
		page.Card = c.MaskedCard()
	}
	page.Notices = drainNotices(ctx)

	w.Header().Set("Cache-Control", "no-store")
	h.render(w, "result.html", page)
}

func (h *PageHandler) render(w http.ResponseWriter, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := pages.ExecuteTemplate(w, name, data); err != nil {
		h.log.Error("failed to render page", "page", name, "error", err)
	}
}
