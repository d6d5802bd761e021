package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"expense-agent/internal/logging"
	"expense-agent/internal/models"
	"expense-agent/internal/storage"
)

// FallbackReply is sent to the user when an exchange fails.
const FallbackReply = "The expense assistant is having some trouble right now. Please try again in a moment."

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Exchanger runs one natural-language exchange for a user.
type Exchanger interface {
	Handle(ctx context.Context, userID, text string) (string, error)
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	agent  Exchanger
	ledger storage.Ledger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(agent Exchanger, ledger storage.Ledger) *Handlers {
	return &Handlers{agent: agent, ledger: ledger}
}

// RegisterRoutes registers the API routes with the echo server.
func (h *Handlers) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/exchanges", h.Exchange)
	e.GET("/v1/users/:user_id/expenses", h.ListExpenses)
	e.GET("/v1/users/:user_id/statistics", h.Statistics)
	e.GET("/healthz", h.Health)
}

// ContextLogger stores logger, tagged with the request id, in each request context.
func ContextLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			l := logger
			if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
				l = l.With("request_id", id)
			}
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithLogger(req.Context(), l)))
			return next(c)
		}
	}
}

// ExchangeRequest is the body of POST /v1/exchanges.
type ExchangeRequest struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

// ExchangeResponse carries the reply for the user.
type ExchangeResponse struct {
	Reply string `json:"reply"`
}

// ErrorResponse is returned for rejected requests.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Exchange hands a user message to the agent. Agent failures still answer 200 with the
// fallback reply so the channel always has something to deliver.
func (h *Handlers) Exchange(c echo.Context) error {
	var req ExchangeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" || strings.TrimSpace(req.Text) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "user_id and text are required"})
	}

	ctx := c.Request().Context()
	reply, err := h.agent.Handle(ctx, req.UserID, req.Text)
	if err != nil {
		logging.FromContext(ctx).ErrorContext(ctx, "exchange failed, sending fallback reply", "user_id", req.UserID, "error", err)
		reply = FallbackReply
	}
	return c.JSON(http.StatusOK, ExchangeResponse{Reply: reply})
}

// Health returns health status.
func (h *Handlers) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// CategoryDef defines the properties of a category.
type CategoryDef struct {
	ID    string
	Name  string
	Color string
}

var categories = []CategoryDef{
	{"food", "Food", "#60a5fa"},
	{"transport", "Transport", "#a78bfa"},
	{"entertainment", "Entertainment", "#f472b6"},
	{"utilities", "Utilities", "#fbbf24"},
	{"housing", "Housing", "#818cf8"},
	{"gifts", "Gifts", "#fb7185"},
	{"other", "Other", "#94a3b8"},
}

// CategoryStyle defines the display style for a category.
type CategoryStyle struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func getCategoryStyle(category string) CategoryStyle {
	catLower := strings.ToLower(category)
	for _, c := range categories {
		if c.ID == catLower {
			return CategoryStyle{Name: c.Name, Color: c.Color}
		}
	}
	if category == "" || category == models.Uncategorized {
		return CategoryStyle{Name: "Uncategorized", Color: "#94a3b8"}
	}
	return CategoryStyle{Name: category, Color: "#94a3b8"}
}

// ExpenseItem is an expense in the list view.
type ExpenseItem struct {
	models.Expense
	Time          string        `json:"time"`
	CategoryStyle CategoryStyle `json:"category_style"`
}

// ExpenseGroup groups expenses by date.
type ExpenseGroup struct {
	Title string        `json:"title"`
	Date  string        `json:"date"`
	Total float64       `json:"total"`
	Items []ExpenseItem `json:"items"`
}

// ListViewModel is the response of the expense list.
type ListViewModel struct {
	Total  float64        `json:"total"`
	Groups []ExpenseGroup `json:"groups"`
}

// ListExpenses returns the user's most recent expenses grouped by day.
func (h *Handlers) ListExpenses(c echo.Context) error {
	ctx := c.Request().Context()
	userID := c.Param("user_id")

	limit := defaultListLimit
	if s := c.QueryParam("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be an integer"})
		}
		limit = max(1, min(n, maxListLimit))
	}

	expenses, err := h.ledger.ListRecent(ctx, userID, limit)
	if err != nil {
		logging.FromContext(ctx).ErrorContext(ctx, "ListRecent error", "user_id", userID, "error", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}

	return c.JSON(http.StatusOK, groupExpenses(expenses, time.Now()))
}

func groupExpenses(expenses []models.Expense, now time.Time) ListViewModel {
	groupsMap := make(map[string]*ExpenseGroup)
	var totalSpent float64

	for _, e := range expenses {
		dateStr, timeStr := splitTimestamp(e.Timestamp)
		if _, ok := groupsMap[dateStr]; !ok {
			groupsMap[dateStr] = &ExpenseGroup{Date: dateStr, Title: formatGroupTitle(dateStr, now)}
		}
		group := groupsMap[dateStr]
		group.Total += e.Amount
		totalSpent += e.Amount

		category := ""
		if e.Category != nil {
			category = *e.Category
		}
		group.Items = append(group.Items, ExpenseItem{
			Expense:       e,
			Time:          timeStr,
			CategoryStyle: getCategoryStyle(category),
		})
	}

	groups := make([]ExpenseGroup, 0, len(groupsMap))
	for _, g := range groupsMap {
		groups = append(groups, *g)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Date > groups[j].Date })

	return ListViewModel{Total: totalSpent, Groups: groups}
}

// splitTimestamp returns the date and HH:MM parts of a stored timestamp.
func splitTimestamp(ts string) (string, string) {
	if len(ts) < len(storage.DateLayout) {
		return ts, ""
	}
	date := ts[:len(storage.DateLayout)]
	if len(ts) >= len("2006-01-02T15:04") {
		return date, ts[len("2006-01-02T") : len("2006-01-02T15:04")]
	}
	return date, ""
}

func formatGroupTitle(dateStr string, now time.Time) string {
	if dateStr == now.Format(storage.DateLayout) {
		return "TODAY"
	}
	if dateStr == now.AddDate(0, 0, -1).Format(storage.DateLayout) {
		return "YESTERDAY"
	}
	date, err := time.Parse(storage.DateLayout, dateStr)
	if err != nil {
		return strings.ToUpper(dateStr)
	}
	return strings.ToUpper(date.Format("Mon, 02 Jan '06"))
}
