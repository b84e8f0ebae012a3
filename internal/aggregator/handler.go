package aggregator

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"signals-backend/internal/analysis"
	"signals-backend/internal/shared/server/respond"
)

// Handler exposes patterns, trends and the newsletter digest over HTTP.
type Handler struct {
	Svc      *Service
	Repo     Repo
	Analyses analysis.Repo
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service, repo Repo, analysisRepo analysis.Repo) *Handler {
	return &Handler{Svc: svc, Repo: repo, Analyses: analysisRepo}
}

// RegisterRoutes attaches aggregator routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/patterns", h.listPatterns)
	rg.GET("/trends", h.listTrends)
	rg.GET("/newsletter/digest", h.digest)
	rg.POST("/aggregate/trigger", h.trigger)
}

func (h *Handler) listPatterns(c *gin.Context) {
	opts, ok := parseListOptions(c)
	if !ok {
		return
	}
	patterns, err := h.Repo.ListPatterns(c.Request.Context(), opts)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list patterns", nil)
		return
	}
	respond.OK(c, gin.H{"patterns": patterns})
}

func (h *Handler) listTrends(c *gin.Context) {
	opts, ok := parseListOptions(c)
	if !ok {
		return
	}
	trends, err := h.Repo.ListTrends(c.Request.Context(), opts)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list trends", nil)
		return
	}
	respond.OK(c, gin.H{"trends": trends})
}

// digest returns, for a date range, patterns and trends in priority order
// plus the underlying analysis results.
func (h *Handler) digest(c *gin.Context) {
	opts, ok := parseListOptions(c)
	if !ok {
		return
	}
	from, to := opts.From, opts.To
	if to.IsZero() {
		to = time.Now().UTC()
	}
	if from.IsZero() {
		from = to.Add(-7 * 24 * time.Hour)
	}
	opts.From, opts.To = from, to

	patterns, err := h.Repo.ListPatterns(c.Request.Context(), opts)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list patterns", nil)
		return
	}
	trends, err := h.Repo.ListTrends(c.Request.Context(), opts)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list trends", nil)
		return
	}
	results, err := h.Analyses.ListWindow(c.Request.Context(), from, to)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list analyses", nil)
		return
	}

	respond.OK(c, gin.H{
		"from":     from,
		"to":       to,
		"patterns": patterns,
		"trends":   trends,
		"results":  results,
	})
}

func (h *Handler) trigger(c *gin.Context) {
	stats, err := h.Svc.RunCycle(c.Request.Context())
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "aggregation cycle failed", nil)
		return
	}
	respond.OK(c, stats)
}

func parseListOptions(c *gin.Context) (ListOptions, bool) {
	var opts ListOptions
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "from must be RFC3339", nil)
			return opts, false
		}
		opts.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			respond.Error(c, http.StatusBadRequest, "validation_error", "to must be RFC3339", nil)
			return opts, false
		}
		opts.To = t
	}
	if v := c.Query("stage"); v != "" {
		opts.Stages = []string{v}
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respond.Error(c, http.StatusBadRequest, "validation_error", "limit must be a non-negative integer", nil)
			return opts, false
		}
		opts.Limit = n
	}
	return opts, true
}
