package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamkv/statestore/internal/coordinator"
	"github.com/streamkv/statestore/internal/layout"
	"github.com/streamkv/statestore/internal/registry"
	"github.com/streamkv/statestore/internal/store"
)

func newTestRouter(t *testing.T) (*gin.Engine, *registry.Registry) {
	t.Helper()
	log := zerolog.New(os.Stderr)
	reg := registry.New(t.TempDir(), store.DefaultConfig(), coordinator.Noop{}, coordinator.StaticIdentity{HostValue: "h", ExecutorIDValue: "e"}, log)
	t.Cleanup(reg.ClearAll)

	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(reg).Register(r)
	return r, reg
}

func TestListStores_EmptyRegistry(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/stores", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Stores []map[string]any `json:"stores"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Stores)
}

func TestStoreDetail_NotFoundWhenNeverOpened(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/stores/1/0", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStoreDetail_ReflectsCommittedVersion(t *testing.T) {
	r, reg := newTestRouter(t)

	id := layout.StoreId{OperatorId: 1, PartitionId: 0}
	s, err := reg.Get(context.Background(), id)
	require.NoError(t, err)
	session := s.NewSession()
	require.NoError(t, session.Prepare(0))
	require.NoError(t, session.Commit())

	req := httptest.NewRequest(http.MethodGet, "/stores/1/0", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 0, body["latest_version"])
}

func TestForceMaintenance_UnknownStoreIsBadRequest(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/stores/9/9/maintenance", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMaintainerMetrics_ReturnsZeroedCounters(t *testing.T) {
	r, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/metrics/maintainer", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.EqualValues(t, 0, body["snapshots_written"])
}
