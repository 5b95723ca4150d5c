package http

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"rehearsal/internal/audio/mixer"
	"rehearsal/internal/core/domain"
	"rehearsal/internal/core/ports"
	"rehearsal/internal/core/services"
	"rehearsal/internal/infrastructure/middleware"
	apperrors "rehearsal/pkg/errors"
	"rehearsal/pkg/validation"

	"github.com/gin-gonic/gin"
)

type ParticipantLister interface {
	List(ctx context.Context) ([]*domain.Participant, error)
}

type StatsProvider interface {
	Snapshot() domain.RoomStats
}

type ConnectionLister interface {
	Connections() []mixer.ConnectionStats
}

// RehearsalHandler serves the room: participants, tracks and takes,
// playback commands and engine statistics.
type RehearsalHandler struct {
	participants ParticipantLister
	tracks       ports.TrackService
	playback     ports.PlaybackService
	stats        StatsProvider
	connections  ConnectionLister
	network      func() interface{}
}

func NewRehearsalHandler(
	participants ParticipantLister,
	tracks ports.TrackService,
	playback ports.PlaybackService,
	stats StatsProvider,
	connections ConnectionLister,
) *RehearsalHandler {
	return &RehearsalHandler{
		participants: participants,
		tracks:       tracks,
		playback:     playback,
		stats:        stats,
		connections:  connections,
	}
}

// SetNetworkStats adds socket counters to GET /stats.
func (h *RehearsalHandler) SetNetworkStats(fn func() interface{}) {
	h.network = fn
}

// SetupRoutes registers the read routes on api and the conductor-only
// routes behind auth.
func (h *RehearsalHandler) SetupRoutes(api gin.IRouter, auth services.AuthService) {
	api.GET("/participants", h.ListParticipants)
	api.GET("/tracks", h.ListTracks)
	api.GET("/tracks/:id", h.GetTrack)
	api.GET("/tracks/:id/audio", h.TrackAudio)
	api.GET("/tracks/:id/takes", h.ListTakes)
	api.GET("/takes/:id/audio", h.TakeAudio)
	api.GET("/playback", h.PlaybackState)
	api.GET("/stats", h.Stats)
	api.GET("/stats/connections", h.ConnectionStats)

	conductor := api.Group("")
	conductor.Use(middleware.AuthMiddleware(auth), middleware.RequireRole(domain.RoleConductor))
	{
		conductor.POST("/tracks", h.RegisterTrack)
		conductor.POST("/tracks/:id/takes", h.RegisterTake)
		conductor.POST("/playback/play", h.Play)
		conductor.POST("/playback/stop", h.Stop)
		conductor.POST("/playback/record", h.Record)
	}
}

func paramID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.Error(apperrors.NewInvalidInputError("id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func (h *RehearsalHandler) ListParticipants(c *gin.Context) {
	list, err := h.participants.List(c.Request.Context())
	if err != nil {
		c.Error(toAppError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"participants": list})
}

func (h *RehearsalHandler) ListTracks(c *gin.Context) {
	list, err := h.tracks.ListTracks(c.Request.Context())
	if err != nil {
		c.Error(toAppError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"tracks": list})
}

func (h *RehearsalHandler) GetTrack(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	track, err := h.tracks.GetTrack(c.Request.Context(), domain.TrackID(id))
	if err != nil {
		c.Error(toAppError(err))
		return
	}
	c.JSON(http.StatusOK, track)
}

func (h *RehearsalHandler) TrackAudio(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	track, err := h.tracks.GetTrack(c.Request.Context(), domain.TrackID(id))
	if err != nil {
		c.Error(toAppError(err))
		return
	}
	c.FileAttachment(track.Path, fmt.Sprintf("track-%d.wav", track.ID))
}

func (h *RehearsalHandler) ListTakes(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	takes, err := h.tracks.ListTakes(c.Request.Context(), domain.TrackID(id))
	if err != nil {
		c.Error(toAppError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"takes": takes})
}

func (h *RehearsalHandler) TakeAudio(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	take, err := h.tracks.GetTake(c.Request.Context(), domain.TakeID(id))
	if err != nil {
		c.Error(toAppError(err))
		return
	}
	c.FileAttachment(take.Path, fmt.Sprintf("take-%d.wav", take.ID))
}

type RegisterTrackRequest struct {
	Name string `json:"name" binding:"required"`
	File string `json:"file" binding:"required"`
}

func (h *RehearsalHandler) RegisterTrack(c *gin.Context) {
	var req RegisterTrackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validation.ValidateTrackName(req.Name); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	track, err := h.tracks.RegisterTrack(c.Request.Context(), req.Name, req.File)
	if err != nil {
		c.Error(toAppError(err))
		return
	}
	c.JSON(http.StatusCreated, track)
}

type RegisterTakeRequest struct {
	ClientID string `json:"client_id" binding:"required"`
	Name     string `json:"name" binding:"required"`
	File     string `json:"file" binding:"required"`
}

func (h *RehearsalHandler) RegisterTake(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	var req RegisterTakeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := validation.ValidateClientID(req.ClientID); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := validation.ValidateTrackName(req.Name); err != nil {
		c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	take, err := h.tracks.RegisterTake(c.Request.Context(), domain.TrackID(id), domain.ClientID(req.ClientID), req.Name, req.File)
	if err != nil {
		c.Error(toAppError(err))
		return
	}
	c.JSON(http.StatusCreated, take)
}

type PlayRequest struct {
	TrackID int   `json:"track_id" binding:"required,gt=0"`
	TakeIDs []int `json:"take_ids"`
}

func (h *RehearsalHandler) Play(c *gin.Context) {
	var req PlayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}

	takes := make([]domain.TakeID, len(req.TakeIDs))
	for i, id := range req.TakeIDs {
		takes[i] = domain.TakeID(id)
	}
	if err := h.playback.PlayForEveryone(c.Request.Context(), domain.TrackID(req.TrackID), takes); err != nil {
		c.Error(toAppError(err))
		return
	}
	c.JSON(http.StatusOK, h.playback.State())
}

func (h *RehearsalHandler) Stop(c *gin.Context) {
	if err := h.playback.StopForEveryone(c.Request.Context()); err != nil {
		c.Error(toAppError(err))
		return
	}
	c.JSON(http.StatusOK, h.playback.State())
}

type RecordRequest struct {
	TrackID int `json:"track_id" binding:"required,gt=0"`
}

func (h *RehearsalHandler) Record(c *gin.Context) {
	var req RecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.NewInvalidInputError("invalid request format"))
		return
	}
	if err := h.playback.RecordForEveryone(c.Request.Context(), domain.TrackID(req.TrackID)); err != nil {
		c.Error(toAppError(err))
		return
	}
	c.Status(http.StatusAccepted)
}

func (h *RehearsalHandler) PlaybackState(c *gin.Context) {
	c.JSON(http.StatusOK, h.playback.State())
}

func (h *RehearsalHandler) Stats(c *gin.Context) {
	body := gin.H{"room": h.stats.Snapshot()}
	if h.network != nil {
		body["network"] = h.network()
	}
	c.JSON(http.StatusOK, body)
}

func (h *RehearsalHandler) ConnectionStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"connections": h.connections.Connections()})
}
