// Package httpapi exposes the core service over HTTP with gin.
package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"archcore/internal/core"
	"archcore/internal/lock"
	"archcore/internal/merge"
	"archcore/internal/repository"
	"archcore/internal/sandbox"
	"archcore/internal/snapshot"
	"archcore/pkg/domain"
	"archcore/pkg/metamodel"
)

// Handler binds service operations to routes.
type Handler struct {
	svc *core.Service
}

// NewRouter builds the gin engine. A nil registry disables /metrics.
func NewRouter(svc *core.Service, registry *prometheus.Registry) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	h := &Handler{svc: svc}

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
	}

	api := router.Group("/api/v1")
	{
		api.GET("/packages", h.ListPackages)
		api.POST("/packages", h.CreatePackage)
		api.GET("/packages/:id", h.GetPackage)
		api.PUT("/packages/:id", h.SavePackage)
		api.GET("/packages/:id/locks", h.PackageLockedViews)
		api.POST("/packages/:id/export", h.ExportPackage)
		api.POST("/packages/:id/import", h.ImportPackage)
		api.GET("/packages/:id/sync-status", h.SyncStatus)
		api.GET("/packages/:id/diff/:other", h.ComparePackages)

		api.POST("/packages/:id/folders", h.CreateFolder)
		api.PATCH("/folders/:id", h.UpdateFolder)
		api.DELETE("/folders/:id", h.DeleteFolder)
		api.POST("/packages/:id/elements", h.CreateElement)
		api.PATCH("/elements/:id", h.UpdateElement)
		api.DELETE("/elements/:id", h.DeleteElement)
		api.POST("/packages/:id/relations", h.CreateRelation)
		api.PATCH("/relations/:id", h.UpdateRelation)
		api.DELETE("/relations/:id", h.DeleteRelation)
		api.POST("/packages/:id/views", h.CreateView)
		api.PATCH("/views/:id", h.UpdateView)
		api.DELETE("/views/:id", h.DeleteView)

		api.GET("/sandboxes", h.ListSandboxes)
		api.POST("/sandboxes", h.CreateSandbox)
		api.DELETE("/sandboxes/:id", h.DeleteSandbox)
		api.POST("/sandboxes/:id/merge", h.MergeSandbox)

		api.GET("/views/:id/lock", h.LockInfo)
		api.POST("/views/:id/checkout", h.CheckOut)
		api.POST("/views/:id/checkin", h.CheckIn)
		api.POST("/views/:id/force-unlock", h.ForceUnlock)
		api.GET("/views/:id/can-edit", h.CanEdit)
		api.GET("/views/:id/inferred", h.InferRelations)

		api.GET("/metamodel/valid-relationships", h.ValidRelationships)
	}
	return router
}

// respond writes a service response with a status derived from its error.
func respond[T any](c *gin.Context, resp core.Response[T], okStatus int) {
	if resp.Success {
		c.JSON(okStatus, resp)
		return
	}
	c.JSON(statusOf(resp.Err(), len(resp.Conflicts) > 0), resp)
}

func statusOf(err error, conflicts bool) int {
	var (
		notFound   domain.ErrNotFound
		violation  domain.RuleViolationError
		property   domain.PropertyError
		checkedOut lock.ErrAlreadyCheckedOut
		otherUser  lock.ErrLockedByAnotherUser
	)
	switch {
	case conflicts, errors.As(err, &checkedOut), errors.As(err, &otherUser):
		return http.StatusConflict
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &violation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, merge.ErrUnknownStrategy), errors.Is(err, sandbox.ErrNotSandbox),
		errors.Is(err, domain.ErrInvalidID), errors.Is(err, snapshot.ErrOutsideRoot),
		errors.Is(err, snapshot.ErrPackageMismatch), errors.Is(err, core.ErrMoveRefused),
		errors.Is(err, repository.ErrUnknownElementType), errors.Is(err, repository.ErrInvalidRelation),
		errors.As(err, &property):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrSnapshotsDisabled):
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, core.Response[any]{Error: err.Error()})
}

func (h *Handler) ListPackages(c *gin.Context) {
	respond(c, h.svc.ListPackages(c.Request.Context()), http.StatusOK)
}

func (h *Handler) GetPackage(c *gin.Context) {
	respond(c, h.svc.GetPackage(c.Request.Context(), c.Param("id")), http.StatusOK)
}

type createPackageRequest struct {
	ID          string `json:"id"`
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

func (h *Handler) CreatePackage(c *gin.Context) {
	var req createPackageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	resp := h.svc.CreatePackage(c.Request.Context(), domain.Package{ID: req.ID, Name: req.Name, Description: req.Description})
	respond(c, resp, http.StatusCreated)
}

// SavePackage replaces the package with the body's contents.
func (h *Handler) SavePackage(c *gin.Context) {
	var contents domain.PackageContents
	if err := c.ShouldBindJSON(&contents); err != nil {
		badRequest(c, err)
		return
	}
	contents.Package.ID = c.Param("id")
	respond(c, h.svc.SavePackage(c.Request.Context(), contents), http.StatusOK)
}

func (h *Handler) PackageLockedViews(c *gin.Context) {
	respond(c, h.svc.PackageLockedViews(c.Request.Context(), c.Param("id")), http.StatusOK)
}

func (h *Handler) ExportPackage(c *gin.Context) {
	respond(c, h.svc.ExportPackage(c.Request.Context(), c.Param("id")), http.StatusOK)
}

type importRequest struct {
	Dir string `json:"dir"`
}

func (h *Handler) ImportPackage(c *gin.Context) {
	var req importRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	respond(c, h.svc.ImportPackage(c.Request.Context(), c.Param("id"), req.Dir), http.StatusOK)
}

func (h *Handler) SyncStatus(c *gin.Context) {
	respond(c, h.svc.SyncStatus(c.Request.Context(), c.Param("id")), http.StatusOK)
}

func (h *Handler) ComparePackages(c *gin.Context) {
	respond(c, h.svc.ComparePackages(c.Request.Context(), c.Param("id"), c.Param("other")), http.StatusOK)
}

func (h *Handler) ListSandboxes(c *gin.Context) {
	respond(c, h.svc.ListSandboxes(c.Request.Context()), http.StatusOK)
}

type createSandboxRequest struct {
	SourceID    string `json:"sourceId" binding:"required"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (h *Handler) CreateSandbox(c *gin.Context) {
	var req createSandboxRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	respond(c, h.svc.CreateSandbox(c.Request.Context(), req.SourceID, req.Name, req.Description), http.StatusCreated)
}

func (h *Handler) DeleteSandbox(c *gin.Context) {
	respond(c, h.svc.DeleteSandbox(c.Request.Context(), c.Param("id")), http.StatusOK)
}

type mergeRequest struct {
	TargetID string         `json:"targetId" binding:"required"`
	Strategy merge.Strategy `json:"strategy"`
}

func (h *Handler) MergeSandbox(c *gin.Context) {
	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if req.Strategy == "" {
		req.Strategy = merge.Merge
	}
	respond(c, h.svc.MergeSandbox(c.Request.Context(), c.Param("id"), req.TargetID, req.Strategy), http.StatusOK)
}

func (h *Handler) LockInfo(c *gin.Context) {
	respond(c, h.svc.LockInfo(c.Request.Context(), c.Param("id")), http.StatusOK)
}

type lockRequest struct {
	User    string `json:"user" binding:"required"`
	Message string `json:"message"`
}

func (h *Handler) CheckOut(c *gin.Context) {
	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	respond(c, h.svc.CheckOutView(c.Request.Context(), c.Param("id"), req.User, req.Message), http.StatusOK)
}

func (h *Handler) CheckIn(c *gin.Context) {
	var req lockRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	respond(c, h.svc.CheckInView(c.Request.Context(), c.Param("id"), req.User), http.StatusOK)
}

func (h *Handler) ForceUnlock(c *gin.Context) {
	respond(c, h.svc.ForceUnlockView(c.Request.Context(), c.Param("id")), http.StatusOK)
}

func (h *Handler) CanEdit(c *gin.Context) {
	respond(c, h.svc.CanEdit(c.Request.Context(), c.Param("id"), c.Query("user")), http.StatusOK)
}

func (h *Handler) InferRelations(c *gin.Context) {
	respond(c, h.svc.InferRelations(c.Request.Context(), c.Param("id")), http.StatusOK)
}

func (h *Handler) ValidRelationships(c *gin.Context) {
	source := metamodel.ElementType(c.Query("source"))
	target := metamodel.ElementType(c.Query("target"))
	respond(c, h.svc.ValidRelationships(c.Request.Context(), source, target), http.StatusOK)
}

// bindPatch decodes an update body; an empty body is an empty patch.
func bindPatch(c *gin.Context) (core.Patch, bool) {
	var p core.Patch
	if c.Request.ContentLength == 0 {
		return p, true
	}
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return p, false
	}
	return p, true
}

func (h *Handler) CreateFolder(c *gin.Context) {
	var f domain.Folder
	if err := c.ShouldBindJSON(&f); err != nil {
		badRequest(c, err)
		return
	}
	f.PackageID = c.Param("id")
	respond(c, h.svc.CreateFolder(c.Request.Context(), f), http.StatusCreated)
}

func (h *Handler) UpdateFolder(c *gin.Context) {
	if p, ok := bindPatch(c); ok {
		respond(c, h.svc.UpdateFolder(c.Request.Context(), c.Param("id"), p), http.StatusOK)
	}
}

func (h *Handler) DeleteFolder(c *gin.Context) {
	respond(c, h.svc.DeleteFolder(c.Request.Context(), c.Param("id")), http.StatusOK)
}

func (h *Handler) CreateElement(c *gin.Context) {
	var e domain.Element
	if err := c.ShouldBindJSON(&e); err != nil {
		badRequest(c, err)
		return
	}
	e.PackageID = c.Param("id")
	respond(c, h.svc.CreateElement(c.Request.Context(), e), http.StatusCreated)
}

func (h *Handler) UpdateElement(c *gin.Context) {
	if p, ok := bindPatch(c); ok {
		respond(c, h.svc.UpdateElement(c.Request.Context(), c.Param("id"), p), http.StatusOK)
	}
}

func (h *Handler) DeleteElement(c *gin.Context) {
	respond(c, h.svc.DeleteElement(c.Request.Context(), c.Param("id")), http.StatusOK)
}

func (h *Handler) CreateRelation(c *gin.Context) {
	var r domain.Relation
	if err := c.ShouldBindJSON(&r); err != nil {
		badRequest(c, err)
		return
	}
	r.PackageID = c.Param("id")
	respond(c, h.svc.CreateRelation(c.Request.Context(), r), http.StatusCreated)
}

func (h *Handler) UpdateRelation(c *gin.Context) {
	if p, ok := bindPatch(c); ok {
		respond(c, h.svc.UpdateRelation(c.Request.Context(), c.Param("id"), p), http.StatusOK)
	}
}

func (h *Handler) DeleteRelation(c *gin.Context) {
	respond(c, h.svc.DeleteRelation(c.Request.Context(), c.Param("id")), http.StatusOK)
}

func (h *Handler) CreateView(c *gin.Context) {
	var v domain.View
	if err := c.ShouldBindJSON(&v); err != nil {
		badRequest(c, err)
		return
	}
	v.PackageID = c.Param("id")
	respond(c, h.svc.CreateView(c.Request.Context(), v), http.StatusCreated)
}

func (h *Handler) UpdateView(c *gin.Context) {
	if p, ok := bindPatch(c); ok {
		respond(c, h.svc.UpdateView(c.Request.Context(), c.Param("id"), p), http.StatusOK)
	}
}

func (h *Handler) DeleteView(c *gin.Context) {
	respond(c, h.svc.DeleteView(c.Request.Context(), c.Param("id")), http.StatusOK)
}
