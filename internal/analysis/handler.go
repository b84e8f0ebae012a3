package analysis

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"signals-backend/internal/articles"
	"signals-backend/internal/shared/server/respond"
)

// Handler exposes analysis results over HTTP.
type Handler struct {
	Repo     Repo
	Articles articles.Repo
}

// NewHandler constructs a Handler.
func NewHandler(repo Repo, articleRepo articles.Repo) *Handler {
	return &Handler{Repo: repo, Articles: articleRepo}
}

// RegisterRoutes attaches analysis routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/articles/:id/analysis", h.getArticleAnalysis)
	rg.GET("/analyses/:id", h.getAnalysis)
}

func (h *Handler) getArticleAnalysis(c *gin.Context) {
	articleID := c.Param("id")
	if articleID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "article id is required", nil)
		return
	}
	c.Set("articleId", articleID)

	if _, err := h.Articles.GetByID(c.Request.Context(), articleID); err != nil {
		if errors.Is(err, articles.ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "not_found", "article not found", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load article", nil)
		return
	}

	result, err := h.Repo.GetLatestByArticle(c.Request.Context(), articleID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "not_found", "article has no analysis yet", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load analysis", nil)
		return
	}
	respond.OK(c, result)
}

func (h *Handler) getAnalysis(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "analysis id is required", nil)
		return
	}

	result, err := h.Repo.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			respond.Error(c, http.StatusNotFound, "not_found", "analysis not found", nil)
			return
		}
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to load analysis", nil)
		return
	}
	respond.OK(c, result)
}
