// internal/web/handlers.go
package web

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"hostwatch/internal/config"
	"hostwatch/internal/store"
)

// HostRequest is the write payload for host create/update. Status and the
// state-machine timestamps are owned by the monitoring engine and cannot be
// set through this surface; maintenance has its own endpoint.
type HostRequest struct {
	Name                 string `json:"name" binding:"required"`
	Address              string `json:"address" binding:"required"`
	Group                string `json:"group"`
	Location             string `json:"location"`
	NotificationsEnabled *bool  `json:"notifications_enabled"`
}

// HostResponse decorates a host record with the formatted outage duration.
type HostResponse struct {
	store.Host
	OfflineFor string `json:"offline_for,omitempty"`
}

// MaintenanceRequest toggles operator maintenance for a host.
type MaintenanceRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// ConfigRequest carries monitoring parameters as duration strings
// ("30s", "5m"). Omitted fields keep their current values.
type ConfigRequest struct {
	PollInterval   string `json:"poll_interval"`
	WaitingTimeout string `json:"waiting_timeout"`
	OfflineTimeout string `json:"offline_timeout"`
	MaxWorkers     *int   `json:"max_workers"`
	ProbeTimeout   string `json:"probe_timeout"`
}

// ConfigResponse mirrors ConfigRequest for reads.
type ConfigResponse struct {
	PollInterval   string `json:"poll_interval"`
	WaitingTimeout string `json:"waiting_timeout"`
	OfflineTimeout string `json:"offline_timeout"`
	MaxWorkers     int    `json:"max_workers"`
	ProbeTimeout   string `json:"probe_timeout"`
	Privileged     bool   `json:"privileged"`
}

func hostResponse(h store.Host, now time.Time) HostResponse {
	return HostResponse{
		Host:       h,
		OfflineFor: store.FormatOfflineTime(h.OfflineDuration(now)),
	}
}

// GET /api/hosts
func (s *Server) getHosts(c *gin.Context) {
	group := c.Query("group")
	status := store.Status(c.Query("status"))

	hosts := s.store.GetAll()
	now := time.Now()

	response := make([]HostResponse, 0, len(hosts))
	for _, h := range hosts {
		if group != "" && h.Group != group {
			continue
		}
		if status != "" && h.Status != status {
			continue
		}
		response = append(response, hostResponse(h, now))
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  response,
		"count": len(response),
	})
}

// GET /api/hosts/:id
func (s *Server) getHost(c *gin.Context) {
	h, ok := s.store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Host not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": hostResponse(h, time.Now())})
}

// POST /api/hosts
func (s *Server) createHost(c *gin.Context) {
	var req HostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h := store.Host{
		Name:                 req.Name,
		Address:              req.Address,
		Group:                req.Group,
		Location:             req.Location,
		NotificationsEnabled: req.NotificationsEnabled == nil || *req.NotificationsEnabled,
	}
	h.Normalize()

	if err := s.store.Add(h); err != nil {
		if errors.Is(err, store.ErrDuplicateID) {
			c.JSON(http.StatusConflict, gin.H{"error": "Host already exists"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	logrus.WithFields(logrus.Fields{
		"host_id": h.ID,
		"name":    h.Name,
		"address": h.Address,
	}).Info("Host created")

	created, _ := s.store.Get(h.ID)
	c.JSON(http.StatusCreated, gin.H{"data": hostResponse(created, time.Now())})
}

// PUT /api/hosts/:id
func (s *Server) updateHost(c *gin.Context) {
	id := c.Param("id")
	existing, ok := s.store.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Host not found"})
		return
	}

	var req HostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	notify := existing.NotificationsEnabled
	if req.NotificationsEnabled != nil {
		notify = *req.NotificationsEnabled
	}

	h := store.Host{
		ID:                   id,
		Name:                 req.Name,
		Address:              req.Address,
		Group:                req.Group,
		Location:             req.Location,
		NotificationsEnabled: notify,
	}

	if err := s.store.Update(h); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updated, _ := s.store.Get(id)
	c.JSON(http.StatusOK, gin.H{"data": hostResponse(updated, time.Now())})
}

// DELETE /api/hosts/:id
func (s *Server) deleteHost(c *gin.Context) {
	id := c.Param("id")
	removed, ok := s.store.Delete(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Host not found"})
		return
	}

	logrus.WithFields(logrus.Fields{
		"host_id": id,
		"name":    removed.Name,
	}).Info("Host deleted")

	c.JSON(http.StatusOK, gin.H{"data": gin.H{"id": id}})
}

// PUT /api/hosts/:id/maintenance
//
// Entering maintenance parks the host: it is skipped by the probe loop and
// its status is pinned until the operator releases it. Releasing puts the
// host back in rotation without claiming health (last_seen is untouched)
// and forces a scan so the real state is reestablished promptly.
func (s *Server) setMaintenance(c *gin.Context) {
	id := c.Param("id")
	h, ok := s.store.Get(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Host not found"})
		return
	}

	var req MaintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if *req.Enabled {
		s.store.UpdateStatus(id, store.StatusMaintenance, nil)
	} else {
		if h.Status != store.StatusMaintenance {
			c.JSON(http.StatusConflict, gin.H{"error": "Host is not in maintenance"})
			return
		}
		s.store.ReleaseMaintenance(id)
		s.engine.ForceScan()
	}

	updated, _ := s.store.Get(id)
	c.JSON(http.StatusOK, gin.H{"data": hostResponse(updated, time.Now())})
}

// POST /api/scan
func (s *Server) forceScan(c *gin.Context) {
	s.engine.ForceScan()
	c.JSON(http.StatusAccepted, gin.H{"data": gin.H{"scan": "requested"}})
}

// GET /api/config
func (s *Server) getConfig(c *gin.Context) {
	m := s.engine.MonitoringConfig()
	c.JSON(http.StatusOK, gin.H{"data": configResponse(m)})
}

// PUT /api/config
func (s *Server) putConfig(c *gin.Context) {
	var req ConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m := s.engine.MonitoringConfig()
	if err := applyConfigRequest(&m, req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.engine.UpdateConfig(m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := s.db.SaveConfig(c.Request.Context(), m); err != nil {
		logrus.WithError(err).Error("Failed to persist monitoring config")
	}

	logrus.WithFields(logrus.Fields{
		"poll_interval": m.PollInterval,
		"max_workers":   m.MaxWorkers,
	}).Info("Monitoring config updated")

	c.JSON(http.StatusOK, gin.H{"data": configResponse(m)})
}

func configResponse(m config.MonitoringConfig) ConfigResponse {
	return ConfigResponse{
		PollInterval:   m.PollInterval.String(),
		WaitingTimeout: m.WaitingTimeout.String(),
		OfflineTimeout: m.OfflineTimeout.String(),
		MaxWorkers:     m.MaxWorkers,
		ProbeTimeout:   m.ProbeTimeout.String(),
		Privileged:     m.Privileged,
	}
}

func applyConfigRequest(m *config.MonitoringConfig, req ConfigRequest) error {
	set := func(dst *time.Duration, raw string) error {
		if raw == "" {
			return nil
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
	if err := set(&m.PollInterval, req.PollInterval); err != nil {
		return err
	}
	if err := set(&m.WaitingTimeout, req.WaitingTimeout); err != nil {
		return err
	}
	if err := set(&m.OfflineTimeout, req.OfflineTimeout); err != nil {
		return err
	}
	if err := set(&m.ProbeTimeout, req.ProbeTimeout); err != nil {
		return err
	}
	if req.MaxWorkers != nil {
		m.MaxWorkers = *req.MaxWorkers
	}
	return nil
}

// GET /api/notifications/status
func (s *Server) notificationStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": s.engine.NotificationStatus()})
}

// POST /api/notifications/test
func (s *Server) testNotifications(c *gin.Context) {
	if err := s.engine.TestPushover(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"test": "sent"}})
}

// GET /api/database/stats
func (s *Server) databaseStats(c *gin.Context) {
	stats, err := s.db.Stats(c.Request.Context())
	if err != nil {
		logrus.WithError(err).Error("Failed to read database stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read database stats"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}

// POST /api/database/compact
func (s *Server) compactDatabase(c *gin.Context) {
	if err := s.db.Compact(c.Request.Context()); err != nil {
		logrus.WithError(err).Error("Database compaction failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	stats, err := s.db.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"compacted": true}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": stats})
}
