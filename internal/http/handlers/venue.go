package handlers

import (
	"encoding/json"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/sullysaurus/venues/internal/data/repos"
	"github.com/sullysaurus/venues/internal/domain"
	"github.com/sullysaurus/venues/internal/http/response"
	"github.com/sullysaurus/venues/internal/pkg/errkind"
	"github.com/sullysaurus/venues/internal/platform/logger"
)

type VenueHandler struct {
	venues repos.VenueRepo
	runs   repos.PipelineRunRepo
	log    *logger.Logger
}

func NewVenueHandler(venues repos.VenueRepo, runs repos.PipelineRunRepo, baseLog *logger.Logger) *VenueHandler {
	return &VenueHandler{venues: venues, runs: runs, log: baseLog.With("handler", "VenueHandler")}
}

type venueRequest struct {
	Name     string                        `json:"name" binding:"required"`
	Sections map[string]domain.SectionSpec `json:"sections"`
	Surface  domain.SurfaceConfig          `json:"surface_config"`
}

func (h *VenueHandler) Create(c *gin.Context) {
	var req venueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondKindedError(c, errkind.Wrap(errkind.InvalidInput, "http.venue.create", err))
		return
	}
	sections, err := json.Marshal(req.Sections)
	if err != nil {
		response.RespondKindedError(c, errkind.Wrap(errkind.InvalidInput, "http.venue.create", err))
		return
	}
	surface, err := json.Marshal(req.Surface)
	if err != nil {
		response.RespondKindedError(c, errkind.Wrap(errkind.InvalidInput, "http.venue.create", err))
		return
	}
	venue := &domain.Venue{Name: req.Name, Sections: sections, Surface: surface}
	if err := h.venues.Create(c.Request.Context(), nil, venue); err != nil {
		response.RespondKindedError(c, err)
		return
	}
	response.RespondOK(c, venue)
}

func (h *VenueHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondKindedError(c, errkind.Wrap(errkind.InvalidInput, "http.venue.get", err))
		return
	}
	venue, err := h.venues.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		response.RespondKindedError(c, err)
		return
	}
	response.RespondOK(c, venue)
}

func (h *VenueHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	venues, err := h.venues.List(c.Request.Context(), nil, limit, offset)
	if err != nil {
		response.RespondKindedError(c, err)
		return
	}
	response.RespondOK(c, venues)
}

func (h *VenueHandler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondKindedError(c, errkind.Wrap(errkind.InvalidInput, "http.venue.update", err))
		return
	}
	venue, err := h.venues.GetByID(c.Request.Context(), nil, id)
	if err != nil {
		response.RespondKindedError(c, err)
		return
	}
	var req venueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.RespondKindedError(c, errkind.Wrap(errkind.InvalidInput, "http.venue.update", err))
		return
	}
	if req.Name != "" {
		venue.Name = req.Name
	}
	if req.Sections != nil {
		sections, err := json.Marshal(req.Sections)
		if err != nil {
			response.RespondKindedError(c, errkind.Wrap(errkind.InvalidInput, "http.venue.update", err))
			return
		}
		venue.Sections = sections
	}
	if req.Surface.SurfaceType != "" {
		surface, err := json.Marshal(req.Surface)
		if err != nil {
			response.RespondKindedError(c, errkind.Wrap(errkind.InvalidInput, "http.venue.update", err))
			return
		}
		venue.Surface = surface
	}
	if err := h.venues.Update(c.Request.Context(), nil, venue); err != nil {
		response.RespondKindedError(c, err)
		return
	}
	response.RespondOK(c, venue)
}

func (h *VenueHandler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.RespondKindedError(c, errkind.Wrap(errkind.InvalidInput, "http.venue.delete", err))
		return
	}
	if err := h.venues.Delete(c.Request.Context(), nil, id); err != nil {
		response.RespondKindedError(c, err)
		return
	}
	response.RespondOK(c, gin.H{"status": "deleted"})
}

// ListRuns returns the persisted pipeline runs for a venue, newest first.
func (h *VenueHandler) ListRuns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	runs, err := h.runs.ListByVenue(c.Request.Context(), nil, c.Param("id"), limit)
	if err != nil {
		response.RespondKindedError(c, err)
		return
	}
	response.RespondOK(c, runs)
}
