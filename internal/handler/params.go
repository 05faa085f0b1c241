package handler

import (
	"net/http"
	"strings"
	"time"

	"invoiceflow/pkg/response"

	"github.com/gin-gonic/gin"
)

// parseDate accepts RFC3339 or YYYY-MM-DD. A bare end date covers the whole day.
func parseDate(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, err
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func dateRange(c *gin.Context) (*time.Time, *time.Time, bool) {
	start, err := parseDate(c.Query("start_date"), false)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid start_date format, expected RFC3339 or YYYY-MM-DD"))
		return nil, nil, false
	}
	end, err := parseDate(c.Query("end_date"), true)
	if err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "invalid end_date format, expected RFC3339 or YYYY-MM-DD"))
		return nil, nil, false
	}
	return start, end, true
}
