package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"fleetcore/internal/blob"
	"fleetcore/internal/core"
	"fleetcore/internal/entity"
	"fleetcore/internal/infra/persistence/memory"
	"fleetcore/pkg/domain"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type fixture struct {
	router  *gin.Engine
	backend *memory.Store
}

func setupRouter(t *testing.T, opts ...core.Option) fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	var mu sync.Mutex
	seq := 0
	ids := entity.IDGeneratorFunc(func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("id-%d", seq)
	})
	reg := prometheus.NewRegistry()
	metrics, err := core.NewPrometheusMetricsRecorder(reg)
	require.NoError(t, err)

	backend := memory.NewStore()
	base := []core.Option{
		core.WithIDGenerator(ids),
		core.WithMetrics(metrics),
		core.WithStoreOptions(entity.WithRegistry(entity.NewRegistry())),
	}
	svc, err := core.NewService(backend, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(svc.Close)

	handler := NewHandler(svc, slog.New(slog.NewTextHandler(io.Discard, nil)), reg)
	return fixture{router: handler.Router(), backend: backend}
}

func performRequest(router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		_ = json.NewEncoder(&buf).Encode(b)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	return resp
}

func decode(t *testing.T, resp *httptest.ResponseRecorder, out any) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &env), resp.Body.String())
	if out != nil {
		require.True(t, env.Success, resp.Body.String())
		require.NoError(t, json.Unmarshal(env.Data, out))
	}
	return env
}

func TestListSeedsAndPaginates(t *testing.T) {
	f := setupRouter(t)

	resp := performRequest(f.router, http.MethodGet, "/api/equipment?limit=2", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var page entity.Page[domain.Equipment]
	decode(t, resp, &page)
	require.Len(t, page.Items, 2)
	require.Equal(t, "eq-1", page.Items[0].ID)
	require.NotNil(t, page.Next)

	resp = performRequest(f.router, http.MethodGet, "/api/equipment?limit=2&cursor="+*page.Next, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var rest entity.Page[domain.Equipment]
	decode(t, resp, &rest)
	require.Len(t, rest.Items, 1)
	require.Equal(t, "eq-3", rest.Items[0].ID)
	require.Nil(t, rest.Next)
}

func TestListRejectsBadParameters(t *testing.T) {
	f := setupRouter(t)

	resp := performRequest(f.router, http.MethodGet, "/api/equipment?limit=ten", nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	env := decode(t, resp, nil)
	require.False(t, env.Success)
	require.Equal(t, CodeBadRequest, env.Error.Code)

	resp = performRequest(f.router, http.MethodGet, "/api/equipment?cursor=%25%25%25", nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestCreateAndGetEquipment(t *testing.T) {
	f := setupRouter(t)

	resp := performRequest(f.router, http.MethodPost, "/api/equipment", map[string]any{
		"name": "Husqvarna 450", "type": "chainsaw", "currentHours": 10,
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var created domain.Equipment
	decode(t, resp, &created)
	require.NotEmpty(t, created.ID)
	require.Equal(t, domain.StatusOperational, created.Status)
	require.Len(t, created.Tasks, 2)
	require.Equal(t, 60.0, *created.Tasks[0].NextDueHours)

	resp = performRequest(f.router, http.MethodGet, "/api/equipment/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var fetched domain.Equipment
	decode(t, resp, &fetched)
	require.Equal(t, created, fetched)

	resp = performRequest(f.router, http.MethodPost, "/api/equipment", map[string]any{"name": "X", "type": "tractor"})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	resp = performRequest(f.router, http.MethodPost, "/api/equipment", `{"name":`)
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestGetMissingEquipment(t *testing.T) {
	f := setupRouter(t)

	resp := performRequest(f.router, http.MethodGet, "/api/equipment/ghost", nil)
	require.Equal(t, http.StatusNotFound, resp.Code)
	env := decode(t, resp, nil)
	require.Equal(t, CodeNotFound, env.Error.Code)
}

func TestUpdateHours(t *testing.T) {
	f := setupRouter(t)
	performRequest(f.router, http.MethodGet, "/api/equipment", nil)

	resp := performRequest(f.router, http.MethodPatch, "/api/equipment/eq-1/hours", map[string]any{"hours": 149})
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var eq domain.Equipment
	decode(t, resp, &eq)
	require.Equal(t, 149.0, eq.CurrentHours)
	require.Equal(t, domain.UrgencyHigh, eq.Tasks[0].Urgency)

	resp = performRequest(f.router, http.MethodPatch, "/api/equipment/eq-1/hours", map[string]any{"hours": 20})
	require.Equal(t, http.StatusOK, resp.Code)
	decode(t, resp, &eq)
	require.Equal(t, 149.0, eq.CurrentHours)

	for _, body := range []any{map[string]any{"hours": "lots"}, map[string]any{}, `{"hours":`} {
		resp = performRequest(f.router, http.MethodPatch, "/api/equipment/eq-1/hours", body)
		require.Equal(t, http.StatusBadRequest, resp.Code)
	}
	resp = performRequest(f.router, http.MethodPatch, "/api/equipment/eq-1/hours", map[string]any{"hours": -1})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	resp = performRequest(f.router, http.MethodPatch, "/api/equipment/ghost/hours", map[string]any{"hours": 1})
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestAddLogAdvancesTask(t *testing.T) {
	f := setupRouter(t)
	performRequest(f.router, http.MethodGet, "/api/equipment", nil)

	resp := performRequest(f.router, http.MethodPost, "/api/equipment/eq-1/log", map[string]any{
		"hoursAtService": 200,
		"date":           "2025-03-01",
		"description":    "Oil and filter",
		"cost":           42.5,
		"performedBy":    "Sam",
		"taskId":         "task-1",
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	var eq domain.Equipment
	decode(t, resp, &eq)
	require.Equal(t, 200.0, eq.CurrentHours)
	require.Equal(t, "Oil and filter", eq.Logs[0].Description)
	require.Equal(t, "eq-1", eq.Logs[0].EquipmentID)
	require.Equal(t, 250.0, *eq.Tasks[0].NextDueHours)

	resp = performRequest(f.router, http.MethodPost, "/api/equipment/eq-1/log", map[string]any{
		"hoursAtService": 10, "date": "2025-03-01", "description": "Oil", "cost": -1, "performedBy": "Sam",
	})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	resp = performRequest(f.router, http.MethodPost, "/api/equipment/eq-1/log", map[string]any{
		"hoursAtService": "ten", "date": "2025-03-01", "description": "Oil", "cost": 1, "performedBy": "Sam",
	})
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestStatusAndTasks(t *testing.T) {
	f := setupRouter(t)
	performRequest(f.router, http.MethodGet, "/api/equipment", nil)

	resp := performRequest(f.router, http.MethodPatch, "/api/equipment/eq-2/status", map[string]any{"status": "down"})
	require.Equal(t, http.StatusOK, resp.Code)
	var eq domain.Equipment
	decode(t, resp, &eq)
	require.Equal(t, domain.StatusDown, eq.Status)

	resp = performRequest(f.router, http.MethodPatch, "/api/equipment/eq-2/status", map[string]any{"status": "broken"})
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = performRequest(f.router, http.MethodPost, "/api/equipment/eq-2/tasks", map[string]any{"title": "Check bar oil", "intervalHours": 5})
	require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	decode(t, resp, &eq)
	require.Len(t, eq.Tasks, 3)
	require.Equal(t, 27.0, *eq.Tasks[2].NextDueHours)

	resp = performRequest(f.router, http.MethodPost, "/api/equipment/eq-2/tasks", map[string]any{"title": "Nothing"})
	require.Equal(t, http.StatusBadRequest, resp.Code)

	var summary core.FleetSummary
	decode(t, performRequest(f.router, http.MethodGet, "/api/fleet/summary", nil), &summary)
	require.Equal(t, 3, summary.Total)
	require.Equal(t, 1, summary.Down)
}

func TestDeleteEquipment(t *testing.T) {
	f := setupRouter(t)
	performRequest(f.router, http.MethodGet, "/api/equipment", nil)

	var out struct {
		Deleted bool `json:"deleted"`
	}
	resp := performRequest(f.router, http.MethodDelete, "/api/equipment/eq-3", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	decode(t, resp, &out)
	require.True(t, out.Deleted)

	resp = performRequest(f.router, http.MethodDelete, "/api/equipment/eq-3", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	decode(t, resp, &out)
	require.False(t, out.Deleted)

	require.Equal(t, http.StatusNotFound, performRequest(f.router, http.MethodGet, "/api/equipment/eq-3", nil).Code)
}

func TestScheduleAndHistory(t *testing.T) {
	f := setupRouter(t)
	performRequest(f.router, http.MethodGet, "/api/equipment", nil)

	var items []core.ScheduleItem
	decode(t, performRequest(f.router, http.MethodGet, "/api/schedule", nil), &items)
	require.Len(t, items, 5)
	require.Equal(t, "task-5", items[0].ID)
	require.Equal(t, "Bad Boy ZT Elite", items[0].MachineName)

	decode(t, performRequest(f.router, http.MethodGet, "/api/schedule?q=stihl", nil), &items)
	require.Len(t, items, 2)

	logs := []struct {
		machine string
		body    map[string]any
	}{
		{"eq-1", map[string]any{"hoursAtService": 150, "date": "2025-01-05", "description": "Oil change", "cost": 40, "performedBy": "Ana", "taskId": "task-1"}},
		{"eq-2", map[string]any{"hoursAtService": 25, "date": "2025-02-11", "description": "Chain sharpened", "cost": 15.5, "performedBy": "Ben"}},
	}
	for _, l := range logs {
		resp := performRequest(f.router, http.MethodPost, "/api/equipment/"+l.machine+"/log", l.body)
		require.Equal(t, http.StatusCreated, resp.Code, resp.Body.String())
	}

	var hist core.History
	decode(t, performRequest(f.router, http.MethodGet, "/api/history", nil), &hist)
	require.Len(t, hist.Items, 2)
	require.Equal(t, "Stihl MS 261", hist.Items[0].MachineName)
	require.InDelta(t, 55.5, hist.TotalSpend, 1e-9)

	decode(t, performRequest(f.router, http.MethodGet, "/api/history?q=ana", nil), &hist)
	require.Len(t, hist.Items, 1)
	require.InDelta(t, 40.0, hist.TotalSpend, 1e-9)
}

func TestImageRoundTrip(t *testing.T) {
	f := setupRouter(t, core.WithImages(blob.NewMemory()))
	performRequest(f.router, http.MethodGet, "/api/equipment", nil)

	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)
	req := httptest.NewRequest(http.MethodPut, "/api/equipment/eq-1/image", bytes.NewReader(png))
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var eq domain.Equipment
	decode(t, resp, &eq)
	require.Equal(t, "images/eq-1", eq.Image)

	resp = performRequest(f.router, http.MethodGet, "/api/equipment/eq-1/image", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Equal(t, "image/png", resp.Header().Get("Content-Type"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, png, body)

	resp = performRequest(f.router, http.MethodPut, "/api/equipment/eq-2/image", "not an image at all")
	require.Equal(t, http.StatusBadRequest, resp.Code)
	resp = performRequest(f.router, http.MethodGet, "/api/equipment/eq-2/image", nil)
	require.Equal(t, http.StatusNotFound, resp.Code)

	// the memory driver cannot sign links
	resp = performRequest(f.router, http.MethodGet, "/api/equipment/eq-1/image/url", nil)
	require.Equal(t, http.StatusNotImplemented, resp.Code)
}

func TestImageURL(t *testing.T) {
	images, err := blob.NewFilesystem(t.TempDir())
	require.NoError(t, err)
	f := setupRouter(t, core.WithImages(images))
	performRequest(f.router, http.MethodGet, "/api/equipment", nil)

	png := append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)
	resp := performRequest(f.router, http.MethodPut, "/api/equipment/eq-3/image", string(png))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	resp = performRequest(f.router, http.MethodGet, "/api/equipment/eq-3/image/url?expires=2m", nil)
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())
	var link struct {
		URL string `json:"url"`
	}
	decode(t, resp, &link)
	require.Contains(t, link.URL, "images/eq-3")

	resp = performRequest(f.router, http.MethodGet, "/api/equipment/eq-3/image/url?expires=soon", nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	resp = performRequest(f.router, http.MethodGet, "/api/equipment/eq-1/image/url", nil)
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestImagesDisabled(t *testing.T) {
	f := setupRouter(t)
	performRequest(f.router, http.MethodGet, "/api/equipment", nil)

	resp := performRequest(f.router, http.MethodGet, "/api/equipment/eq-1/image", nil)
	require.Equal(t, http.StatusNotImplemented, resp.Code)
	env := decode(t, resp, nil)
	require.Equal(t, CodeNotImplemented, env.Error.Code)
}

func TestStorageFailureMapsTo503(t *testing.T) {
	f := setupRouter(t)
	require.NoError(t, f.backend.Close())

	resp := performRequest(f.router, http.MethodGet, "/api/equipment", nil)
	require.Equal(t, http.StatusServiceUnavailable, resp.Code)
	env := decode(t, resp, nil)
	require.Equal(t, CodeStorageUnavailable, env.Error.Code)
}

func TestHealthMetricsAndUnknownRoutes(t *testing.T) {
	f := setupRouter(t)

	require.Equal(t, http.StatusOK, performRequest(f.router, http.MethodGet, "/healthz", nil).Code)

	performRequest(f.router, http.MethodGet, "/api/equipment", nil)
	resp := performRequest(f.router, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Contains(t, resp.Body.String(), `fleetcore_service_operations_total{operation="list_equipment",result="success"}`)

	resp = performRequest(f.router, http.MethodGet, "/api/nope", nil)
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestDebugVarsServesExpvarRecorder(t *testing.T) {
	rec := core.NewExpvarMetricsRecorder("")
	f := setupRouter(t, core.WithMetrics(rec))
	performRequest(f.router, http.MethodGet, "/api/equipment", nil)

	resp := performRequest(f.router, http.MethodGet, "/debug/vars", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var vars map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &vars))
	raw, ok := vars[rec.Name()]
	require.True(t, ok, "recorder %s not published", rec.Name())
	var snap core.ExpvarMetricsSnapshot
	require.NoError(t, json.Unmarshal(raw, &snap))
	require.Equal(t, int64(1), snap.Results["list_equipment"]["success"])
}

func TestPanicsBecomeInternalErrors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(requestLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	resp := performRequest(r, http.MethodGet, "/boom", nil)
	require.Equal(t, http.StatusInternalServerError, resp.Code)
	env := decode(t, resp, nil)
	require.Equal(t, CodeInternal, env.Error.Code)
}
