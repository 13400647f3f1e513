package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/edirooss/indexpool-server/internal/http/dto"
	"github.com/edirooss/indexpool-server/internal/pool"
	"github.com/edirooss/indexpool-server/internal/repo"
	"github.com/edirooss/indexpool-server/internal/service"
	"github.com/edirooss/indexpool-server/pkg/jsonx"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SourcesHandler provides RESTful HTTP handlers for Source resources.
//
// Supported operations:
//   - GET    /sources              → List all sources
//   - POST   /sources              → Create a new source
//   - GET    /sources/{id}         → Retrieve a source by ID
//   - PUT    /sources/{id}         → Replace an existing source (full update)
//   - PATCH  /sources/{id}         → Modify an existing source (partial update)
//   - DELETE /sources/{id}         → Remove a source
//   - GET    /sources/{id}/stat    → Live handle stats for one source
//   - POST   /sources/{id}/refresh → Nudge a staleness probe
//
// Notes:
//   - Standard REST semantics (RFC 9110, RFC 5789).
type SourcesHandler struct {
	log        *zap.Logger
	svc        *service.SourceService
	summarySvc *service.SummaryService
}

// NewSourcesHandler constructs a SourcesHandler instance.
func NewSourcesHandler(log *zap.Logger, svc *service.SourceService, rep *repo.Repository, p *pool.Pool) *SourcesHandler {
	// Service for generating catalog/pool summaries
	summarySvc := service.NewSummaryService(
		log,
		rep,
		p,
		service.SummaryOptions{
			TTL:               1000 * time.Millisecond, // tune as needed
			RefreshTimeout:    500 * time.Millisecond,
			AllowStaleOnError: true,
		},
	)

	return &SourcesHandler{
		log:        log.Named("sources"),
		svc:        svc,
		summarySvc: summarySvc,
	}
}

// GetSourceList handles GET /sources.
//
// Behavior:
//   - Returns all cataloged sources.
//   - Adds `X-Total-Count` header.
//
// Status Codes:
//   - 200 OK  → JSON array of sources
//   - 500 Internal Server Error
func (h *SourcesHandler) GetSourceList(c *gin.Context) {
	srcs, err := h.svc.ListSources(c.Request.Context())
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}
	c.Header("X-Total-Count", strconv.Itoa(len(srcs))) // RA needs this
	c.JSON(http.StatusOK, srcs)
}

// CreateSource handles POST /sources.
//
// Behavior:
//   - Validates request body.
//   - Creates a new source with defaults applied; enabled sources are opened
//     before the catalog write lands.
//   - Responds with resource location in `Location` header.
//
// Status Codes:
//   - 201 Created → JSON of created source
//   - 400 Bad Request → Invalid JSON or schema
//   - 409 Conflict → ID already exists
//   - 422 Unprocessable Entity → Validation failed
//   - 423 Locked → Concurrent mutation in flight
//   - 500 Internal Server Error
func (h *SourcesHandler) CreateSource(c *gin.Context) {
	var req dto.SourceCreate
	if err := bind(c.Request, &req); err != nil {
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	src, err := req.ToSource()
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	if err := src.Validate(); err != nil {
		c.Error(err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"message": err.Error()})
		return
	}

	if err := h.svc.CreateSource(c.Request.Context(), src); err != nil {
		c.Error(err)
		if errors.Is(err, service.ErrSourceExists) {
			c.JSON(http.StatusConflict, gin.H{"message": service.ErrSourceExists.Error()})
			return
		}
		if errors.Is(err, service.ErrLocked) {
			c.JSON(http.StatusLocked, gin.H{"message": service.ErrLocked.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}

	c.Header("Location", fmt.Sprintf("/api/sources/%s", src.ID))
	c.JSON(http.StatusCreated, src)
}

// GetSource handles GET /sources/{id}.
//
// Behavior:
//   - Retrieves a single source by ID.
//   - Returns 404 if source does not exist.
//
// Status Codes:
//   - 200 OK → JSON of source
//   - 400 Bad Request → Invalid ID format
//   - 404 Not Found → Source not found
//   - 500 Internal Server Error
func (h *SourcesHandler) GetSource(c *gin.Context) {
	id := c.Param("id") // already validated by middleware

	src, err := h.svc.GetSource(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		if errors.Is(err, repo.ErrSourceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": repo.ErrSourceNotFound.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, src)
}

// ModifySource handles PATCH /sources/{id}.
//
// Behavior:
//   - Partially updates a source (merge-patch style).
//   - Only provided fields are modified.
//
// Status Codes:
//   - 204 No Content → Success
//   - 400 Bad Request → Invalid ID or payload
//   - 404 Not Found → Source not found
//   - 422 Unprocessable Entity → Validation failed
//   - 423 Locked → Concurrent mutation in flight
//   - 500 Internal Server Error
func (h *SourcesHandler) ModifySource(c *gin.Context) {
	id := c.Param("id") // already validated by middleware

	// Load current
	src, err := h.svc.GetSource(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		if errors.Is(err, repo.ErrSourceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": repo.ErrSourceNotFound.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}

	var req dto.SourceModify
	if err := bind(c.Request, &req); err != nil {
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	// Patch obj
	if err := req.MergePatch(src); err != nil {
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	if err := src.Validate(); err != nil {
		c.Error(err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"message": err.Error()})
		return
	}

	// Persist
	if err := h.svc.UpdateSource(c.Request.Context(), src); err != nil {
		c.Error(err)
		if errors.Is(err, service.ErrLocked) {
			c.JSON(http.StatusLocked, gin.H{"message": service.ErrLocked.Error()})
			return
		}
		if errors.Is(err, repo.ErrSourceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": repo.ErrSourceNotFound.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}

	c.Status(http.StatusNoContent)
}

// ReplaceSource handles PUT /sources/{id}.
//
// Behavior:
//   - Replaces an existing source with a full payload.
//
// Status Codes:
//   - 200 OK → JSON of updated source
//   - 400 Bad Request → Invalid ID or payload
//   - 404 Not Found → Source not found
//   - 422 Unprocessable Entity → Validation failed
//   - 423 Locked → Concurrent mutation in flight
//   - 500 Internal Server Error
func (h *SourcesHandler) ReplaceSource(c *gin.Context) {
	id := c.Param("id") // already validated by middleware

	if _, err := h.svc.GetSource(c.Request.Context(), id); err != nil {
		c.Error(err)
		if errors.Is(err, repo.ErrSourceNotFound) {
			c.Status(http.StatusNotFound)
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}

	var req dto.SourceReplace
	if err := bind(c.Request, &req); err != nil {
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	// Replace obj
	src, err := req.ToSource(id)
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	if err := src.Validate(); err != nil {
		c.Error(err)
		c.JSON(http.StatusUnprocessableEntity, gin.H{"message": err.Error()})
		return
	}

	if err := h.svc.UpdateSource(c.Request.Context(), src); err != nil {
		c.Error(err)
		if errors.Is(err, service.ErrLocked) {
			c.JSON(http.StatusLocked, gin.H{"message": service.ErrLocked.Error()})
			return
		}
		if errors.Is(err, repo.ErrSourceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": repo.ErrSourceNotFound.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, src)
}

// DeleteSource handles DELETE /sources/{id}.
//
// Behavior:
//   - Removes a source by ID; any live registration is drained and closed.
//
// Status Codes:
//   - 200 OK → JSON { "id": deletedID }
//   - 400 Bad Request → Invalid ID
//   - 404 Not Found → Source not found
//   - 423 Locked → Concurrent mutation in flight
//   - 500 Internal Server Error
func (h *SourcesHandler) DeleteSource(c *gin.Context) {
	id := c.Param("id") // already validated by middleware

	if err := h.svc.DeleteSource(c.Request.Context(), id); err != nil {
		c.Error(err)
		if errors.Is(err, service.ErrLocked) {
			c.JSON(http.StatusLocked, gin.H{"message": service.ErrLocked.Error()})
			return
		}
		if errors.Is(err, repo.ErrSourceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": repo.ErrSourceNotFound.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}

	// RA-friendly response
	c.JSON(http.StatusOK, gin.H{"id": id})
}

// StatSource handles GET /sources/{id}/stat.
//
// Behavior:
//   - Acquires a live handle and reports view generation plus admission stats.
//   - Counts against the source's admission capacity while in flight.
//
// Status Codes:
//   - 200 OK → JSON of live stats
//   - 404 Not Found → Source not found
//   - 409 Conflict → Source disabled
//   - 500 Internal Server Error
func (h *SourcesHandler) StatSource(c *gin.Context) {
	id := c.Param("id") // already validated by middleware

	stat, err := h.svc.StatSource(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		if errors.Is(err, repo.ErrSourceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": repo.ErrSourceNotFound.Error()})
			return
		}
		if errors.Is(err, service.ErrSourceDisabled) {
			c.JSON(http.StatusConflict, gin.H{"message": service.ErrSourceDisabled.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, stat)
}

// RefreshSource handles POST /sources/{id}/refresh.
//
// Behavior:
//   - Nudges the staleness probe for one source; the swap happens async.
//
// Status Codes:
//   - 202 Accepted → JSON { "id": id }
//   - 404 Not Found → Source not found
//   - 409 Conflict → Source disabled
//   - 500 Internal Server Error
func (h *SourcesHandler) RefreshSource(c *gin.Context) {
	id := c.Param("id") // already validated by middleware

	if err := h.svc.RefreshSource(c.Request.Context(), id); err != nil {
		c.Error(err)
		if errors.Is(err, repo.ErrSourceNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"message": repo.ErrSourceNotFound.Error()})
			return
		}
		if errors.Is(err, service.ErrSourceDisabled) {
			c.JSON(http.StatusConflict, gin.H{"message": service.ErrSourceDisabled.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

//
// ----- Helpers -----

func bind[T any](req *http.Request, obj *T) error {
	if req == nil || req.Body == nil {
		return errors.New("invalid request")
	}
	return jsonx.ParseStrictJSONBody(req, obj)
}

// ------ Summary -----
func (h *SourcesHandler) Summary(c *gin.Context) {
	// Optional query to bypass cache for admin/diagnostics: ?force=1
	force := c.Query("force") == "1"

	if force {
		h.summarySvc.Invalidate()
	}

	res, err := h.summarySvc.Get(c.Request.Context())
	if err != nil {
		c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
		return
	}

	// Friendly cache headers for debugging/observability
	c.Header("X-Cache", map[bool]string{true: "HIT", false: "MISS"}[res.CacheHit])
	c.Header("X-Summary-Generated-At", strconv.FormatInt(res.GeneratedAt.UnixMilli(), 10))
	c.Header("X-Total-Count", strconv.Itoa(len(res.Data)))

	c.JSON(http.StatusOK, res.Data)
}
