package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"expense-agent/internal/logging"
	"expense-agent/internal/models"
	"expense-agent/internal/storage"
)

// StatsCategoryItem represents a category with its spending statistics.
type StatsCategoryItem struct {
	Category      string        `json:"category"`
	Total         float64       `json:"total"`
	Count         int           `json:"count"`
	Percentage    float64       `json:"percentage"`
	CategoryStyle CategoryStyle `json:"category_style"`
}

// StatsViewModel is the monthly statistics response.
type StatsViewModel struct {
	Year           int                 `json:"year"`
	Month          int                 `json:"month"`
	MonthName      string              `json:"month_name"`
	Total          float64             `json:"total"`
	Categories     []StatsCategoryItem `json:"categories"`
	PrevYear       int                 `json:"prev_year"`
	PrevMonth      int                 `json:"prev_month"`
	NextYear       int                 `json:"next_year"`
	NextMonth      int                 `json:"next_month"`
	IsCurrentMonth bool                `json:"is_current_month"`
}

// Statistics returns per-category totals for one calendar month, the current one by default.
func (h *Handlers) Statistics(c echo.Context) error {
	ctx := c.Request().Context()
	userID := c.Param("user_id")

	now := time.Now()
	year := now.Year()
	month := int(now.Month())

	if s := c.QueryParam("year"); s != "" {
		y, err := strconv.Atoi(s)
		if err != nil || y < 1 || y > 9999 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "year must be an integer between 1 and 9999"})
		}
		year = y
	}
	if s := c.QueryParam("month"); s != "" {
		m, err := strconv.Atoi(s)
		if err != nil || m < 1 || m > 12 {
			return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "month must be an integer between 1 and 12"})
		}
		month = m
	}

	first := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)

	totals, err := h.ledger.CategoryTotals(ctx, userID, first.Format(storage.DateLayout), last.Format(storage.DateLayout))
	if err != nil {
		logging.FromContext(ctx).ErrorContext(ctx, "CategoryTotals error", "user_id", userID, "error", err)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
	}

	return c.JSON(http.StatusOK, buildStats(totals, first, now))
}

func buildStats(totals []models.CategoryTotal, first, now time.Time) StatsViewModel {
	var total float64
	for _, ct := range totals {
		total += ct.Total
	}

	items := make([]StatsCategoryItem, 0, len(totals))
	for _, ct := range totals {
		percentage := 0.0
		if total > 0 {
			percentage = (ct.Total / total) * 100
		}
		items = append(items, StatsCategoryItem{
			Category:      ct.Category,
			Total:         ct.Total,
			Count:         ct.Count,
			Percentage:    percentage,
			CategoryStyle: getCategoryStyle(ct.Category),
		})
	}

	prev := first.AddDate(0, -1, 0)
	next := first.AddDate(0, 1, 0)

	return StatsViewModel{
		Year:           first.Year(),
		Month:          int(first.Month()),
		MonthName:      first.Month().String(),
		Total:          total,
		Categories:     items,
		PrevYear:       prev.Year(),
		PrevMonth:      int(prev.Month()),
		NextYear:       next.Year(),
		NextMonth:      int(next.Month()),
		IsCurrentMonth: first.Year() == now.Year() && first.Month() == now.Month(),
	}
}
