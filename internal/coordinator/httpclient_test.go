package coordinator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamkv/statestore/internal/layout"
)

// fakeCoordinatorServer is a minimal stand-in for the reference
// devcoordinator.Server, kept self-contained so this test exercises
// HTTPClient against the wire protocol directly rather than depending on
// devcoordinator's implementation.
func fakeCoordinatorServer(t *testing.T) (*httptest.Server, *bool) {
	t.Helper()
	active := true
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/coordinator/active", func(c *gin.Context) {
		var body map[string]any
		require.NoError(t, c.ShouldBindJSON(&body))
		c.Status(http.StatusNoContent)
	})
	r.POST("/coordinator/verify", func(c *gin.Context) {
		var body map[string]any
		require.NoError(t, c.ShouldBindJSON(&body))
		c.JSON(http.StatusOK, gin.H{"active": active})
	})
	return httptest.NewServer(r), &active
}

func TestHTTPClient_ReportAndVerify(t *testing.T) {
	srv, active := fakeCoordinatorServer(t)
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second)
	id := layout.StoreId{OperatorId: 1, PartitionId: 0}
	identity := StaticIdentity{HostValue: "h1", ExecutorIDValue: "e1"}

	require.NoError(t, c.ReportActiveInstance(context.Background(), id, identity))
	assert.True(t, c.VerifyIfInstanceActive(context.Background(), id, "e1"))

	*active = false
	assert.False(t, c.VerifyIfInstanceActive(context.Background(), id, "e1"))
}

func TestHTTPClient_VerifyFalseWhenUnreachable(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:0", 50*time.Millisecond)
	id := layout.StoreId{OperatorId: 1, PartitionId: 0}
	assert.False(t, c.VerifyIfInstanceActive(context.Background(), id, "e1"))
}

func TestHTTPClient_ReportErrorsWhenUnreachable(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:0", 50*time.Millisecond)
	id := layout.StoreId{OperatorId: 1, PartitionId: 0}
	identity := StaticIdentity{HostValue: "h1", ExecutorIDValue: "e1"}
	err := c.ReportActiveInstance(context.Background(), id, identity)
	assert.Error(t, err)
}

func TestAPIError_Message(t *testing.T) {
	err := &APIError{Status: 503, Message: "unavailable"}
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "unavailable")
}
