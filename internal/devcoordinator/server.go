package devcoordinator

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/streamkv/statestore/internal/coordinator"
	"github.com/streamkv/statestore/internal/layout"
)

// claim records the last host/executor that reported itself active for a
// StoreId.
type claim struct {
	host       string
	executorID string
}

// Server is a reference coordinator: registered hosts are placed on a
// consistent-hash Ring, and the active claim for a StoreId is whichever
// host most recently reported itself for that id (last-report-wins), with
// VerifyIfInstanceActive accepting any executor when no claim was ever
// reported and the ring is non-empty. It is intentionally simplistic — a production coordinator
// would add leases, fencing tokens and failure detection, none of which
// this repository needs to implement.
type Server struct {
	mu     sync.Mutex
	ring   *Ring
	claims map[layout.StoreId]claim
}

// NewServer builds a reference coordinator seeded with hosts.
func NewServer(hosts ...string) *Server {
	ring := NewRing(0)
	for _, h := range hosts {
		ring.AddHost(h)
	}
	return &Server{ring: ring, claims: make(map[layout.StoreId]claim)}
}

// AddHost registers a host with the ring (e.g. when a new process joins).
func (s *Server) AddHost(host string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring.AddHost(host)
}

func storeKey(id layout.StoreId) string {
	return fmt.Sprintf("%d/%d", id.OperatorId, id.PartitionId)
}

// ReportActive records host/executorID as the active instance for id.
func (s *Server) ReportActive(id layout.StoreId, host, executorID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ring.AddHost(host)
	s.claims[id] = claim{host: host, executorID: executorID}
}

// VerifyActive reports whether executorID is still the recognized active
// writer for id: it must match the last reported claim. If no claim was ever
// reported, any executor is treated as active as long as the ring has at
// least one host; the executor's host is not compared with the ring owner.
func (s *Server) VerifyActive(id layout.StoreId, executorID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.claims[id]; ok {
		return c.executorID == executorID
	}
	return s.ring.Owner(storeKey(id)) != ""
}

// Register mounts the coordinator's two RPC endpoints on r.
func (s *Server) Register(r *gin.Engine) {
	r.POST("/coordinator/active", s.handleReportActive)
	r.POST("/coordinator/verify", s.handleVerifyActive)
}

func (s *Server) handleReportActive(c *gin.Context) {
	var req coordinator.ReportActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := layout.StoreId{OperatorId: req.OperatorId, PartitionId: req.PartitionId}
	s.ReportActive(id, req.Host, req.ExecutorID)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleVerifyActive(c *gin.Context) {
	var req coordinator.VerifyActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	id := layout.StoreId{OperatorId: req.OperatorId, PartitionId: req.PartitionId}
	c.JSON(http.StatusOK, coordinator.VerifyActiveResponse{Active: s.VerifyActive(id, req.ExecutorID)})
}
