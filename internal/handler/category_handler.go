package handler

import (
	"net/http"
	"strconv"

	"invoiceflow/internal/middleware"
	"invoiceflow/internal/model"
	"invoiceflow/internal/service"
	"invoiceflow/pkg/pagination"
	"invoiceflow/pkg/response"

	"github.com/gin-gonic/gin"
)

type CategoryHandler struct {
	categories service.CategoryService
	secret     []byte
}

func NewCategoryHandler(categories service.CategoryService, secret []byte) *CategoryHandler {
	return &CategoryHandler{categories: categories, secret: secret}
}

func (h *CategoryHandler) RegisterRoutes(router *gin.RouterGroup) {
	categories := router.Group("/api/categories")
	{
		categories.GET("", h.ListCategories)
		categories.POST("", middleware.RequireAuth(h.secret), h.CreateCategory)
		categories.GET("/:id", h.GetCategory)
		categories.PATCH("/:id", middleware.RequireAuth(h.secret), h.UpdateCategory)
		categories.GET("/:id/history", h.GetCategoryHistory)
	}
}

// ListCategories returns a page of categories
// @Summary      List categories
// @Tags         categories
// @Produce      json
// @Param        active  query  bool  false  "Only active categories"
// @Param        page    query  int   false  "Page number (default 1)"
// @Param        limit   query  int   false  "Page size (default 20)"
// @Success      200  {object}  response.Response{data=response.Page}
// @Router       /api/categories [get]
func (h *CategoryHandler) ListCategories(c *gin.Context) {
	activeOnly, _ := strconv.ParseBool(c.DefaultQuery("active", "false"))
	page := pagination.Parse(c)

	items, total, err := h.categories.ListCategories(c.Request.Context(), activeOnly, page)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, response.Page{Items: items, Total: total, Page: page.Page, Limit: page.Limit}))
}

// CreateCategory adds a category
// @Summary      Create category
// @Tags         categories
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        payload  body  service.CreateCategoryDTO  true  "Category"
// @Success      201  {object}  response.Response{data=model.Category}
// @Failure      400  {object}  response.Response
// @Failure      409  {object}  response.Response
// @Router       /api/categories [post]
func (h *CategoryHandler) CreateCategory(c *gin.Context) {
	var req service.CreateCategoryDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}
	category, err := h.categories.CreateCategory(c.Request.Context(), req, middleware.Actor(c, model.ActorSystem))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, response.Success(http.StatusCreated, category))
}

// GetCategory returns one category
// @Summary      Get category
// @Tags         categories
// @Produce      json
// @Param        id   path  string  true  "Category ID"
// @Success      200  {object}  response.Response{data=model.Category}
// @Failure      404  {object}  response.Response
// @Router       /api/categories/{id} [get]
func (h *CategoryHandler) GetCategory(c *gin.Context) {
	category, err := h.categories.GetCategory(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, category))
}

// UpdateCategory edits a category and records the previous version
// @Summary      Update category
// @Tags         categories
// @Security     BearerAuth
// @Accept       json
// @Produce      json
// @Param        id       path  string                     true  "Category ID"
// @Param        payload  body  service.UpdateCategoryDTO  true  "Changes"
// @Success      200  {object}  response.Response{data=model.Category}
// @Failure      400  {object}  response.Response
// @Failure      404  {object}  response.Response
// @Router       /api/categories/{id} [patch]
func (h *CategoryHandler) UpdateCategory(c *gin.Context) {
	var req service.UpdateCategoryDTO
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.Error(http.StatusBadRequest, "Invalid request payload: "+err.Error()))
		return
	}
	category, err := h.categories.UpdateCategory(c.Request.Context(), c.Param("id"), req, middleware.Actor(c, model.ActorSystem))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, category))
}

// GetCategoryHistory lists previous versions of a category
// @Summary      Category history
// @Tags         categories
// @Produce      json
// @Param        id   path  string  true  "Category ID"
// @Success      200  {object}  response.Response{data=[]model.CategoryHistory}
// @Router       /api/categories/{id}/history [get]
func (h *CategoryHandler) GetCategoryHistory(c *gin.Context) {
	rows, err := h.categories.GetCategoryHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, response.Success(http.StatusOK, rows))
}
