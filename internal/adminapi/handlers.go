// Package adminapi exposes a read-only operational view over a Registry —
// which stores are open, their latest version and cache occupancy — plus a
// maintenance escape hatch, over a Gin HTTP router.
package adminapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/streamkv/statestore/internal/layout"
	"github.com/streamkv/statestore/internal/registry"
)

// Handler holds the Registry this admin surface reports on.
type Handler struct {
	reg *registry.Registry
}

// NewHandler creates a Handler.
func NewHandler(reg *registry.Registry) *Handler {
	return &Handler{reg: reg}
}

// Register mounts all routes on r.
func (h *Handler) Register(r *gin.Engine) {
	stores := r.Group("/stores")
	stores.GET("", h.ListStores)
	stores.GET("/:operatorId/:partitionId", h.StoreDetail)
	stores.POST("/:operatorId/:partitionId/maintenance", h.ForceMaintenance)

	r.GET("/metrics/maintainer", h.MaintainerMetrics)
}

// ListStores handles GET /stores.
func (h *Handler) ListStores(c *gin.Context) {
	stores := h.reg.List()
	out := make([]gin.H, 0, len(stores))
	for _, s := range stores {
		v, ok, err := s.LatestVersion()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out = append(out, storeSummary(s.ID(), v, ok, s.CacheSize()))
	}
	c.JSON(http.StatusOK, gin.H{"stores": out})
}

func storeSummary(id layout.StoreId, latest layout.Version, hasLatest bool, cacheSize int) gin.H {
	h := gin.H{
		"operator_id":  id.OperatorId,
		"partition_id": id.PartitionId,
		"cache_size":   cacheSize,
	}
	if hasLatest {
		h["latest_version"] = latest
	}
	return h
}

func parseStoreID(c *gin.Context) (layout.StoreId, bool) {
	opID, err := strconv.ParseInt(c.Param("operatorId"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid operatorId"})
		return layout.StoreId{}, false
	}
	partID, err := strconv.ParseInt(c.Param("partitionId"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid partitionId"})
		return layout.StoreId{}, false
	}
	return layout.StoreId{OperatorId: opID, PartitionId: int32(partID)}, true
}

// StoreDetail handles GET /stores/:operatorId/:partitionId.
func (h *Handler) StoreDetail(c *gin.Context) {
	id, ok := parseStoreID(c)
	if !ok {
		return
	}

	var found *gin.H
	for _, s := range h.reg.List() {
		if s.ID() != id {
			continue
		}
		v, hasLatest, err := s.LatestVersion()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		files, err := s.Layout().Enumerate()
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		summary := storeSummary(id, v, hasLatest, s.CacheSize())
		summary["file_count"] = len(files)
		found = &summary
		break
	}
	if found == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "store not open in this process"})
		return
	}
	c.JSON(http.StatusOK, found)
}

// ForceMaintenance handles POST /stores/:operatorId/:partitionId/maintenance,
// an operational escape hatch that runs a maintenance pass immediately
// instead of waiting for the shared ticker.
func (h *Handler) ForceMaintenance(c *gin.Context) {
	id, ok := parseStoreID(c)
	if !ok {
		return
	}
	if err := h.reg.Maintainer().RunOnce(id); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

// MaintainerMetrics handles GET /metrics/maintainer, a JSON summary of the
// shared Maintainer's counters (a Prometheus exporter is mounted separately
// at /metrics by the daemon).
func (h *Handler) MaintainerMetrics(c *gin.Context) {
	m := h.reg.Metrics()
	c.JSON(http.StatusOK, gin.H{
		"snapshots_written":     m.SnapshotsWritten.Load(),
		"files_pruned":          m.FilesPruned.Load(),
		"cache_entries_dropped": m.CacheEntriesDropped.Load(),
		"ticks_failed":          m.TicksFailed.Load(),
	})
}
