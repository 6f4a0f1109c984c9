package internal_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/exam-sync/internal"
	"github.com/koopa0/exam-sync/internal/storage"
)

// newHandlerFixture 組裝完整的 HTTP 層（記憶體存儲 + 真實 Hub）
func newHandlerFixture(t *testing.T) http.Handler {
	t.Helper()

	cfg, err := internal.LoadConfig("")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	store := storage.NewMemory()

	ctx := context.Background()
	require.NoError(t, store.CreateExam(ctx, &storage.Exam{ID: "E1", Title: "期末考"}))
	require.NoError(t, store.CreateRoom(ctx, &storage.Room{
		ID: "R1", ExamID: "E1", Label: "一號試場", Index: 1, Capacity: 2,
	}))

	registry := internal.NewRegistry()
	hub := internal.NewHub(registry, cfg, logger)
	t.Cleanup(hub.Stop)

	roster := internal.NewRoster(store, hub, nil, logger)
	assembler := internal.NewStoreAssembler(store)

	return internal.NewHandler(roster, assembler, hub, logger).Routes()
}

func doRequest(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

// TestHandler_AddStudent 測試座位分配端點的狀態碼映射
func TestHandler_AddStudent(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(t *testing.T, handler http.Handler)
		path       string
		body       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "assign succeeds",
			path:       "/api/v1/exams/E1/rooms/R1/students",
			body:       `{"student_id":"S1","student_name":"王小明"}`,
			wantStatus: http.StatusCreated,
		},
		{
			name:       "malformed body",
			path:       "/api/v1/exams/E1/rooms/R1/students",
			body:       `{not json`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_INPUT",
		},
		{
			name:       "missing student id",
			path:       "/api/v1/exams/E1/rooms/R1/students",
			body:       `{"student_name":"王小明"}`,
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_INPUT",
		},
		{
			name:       "unknown room",
			path:       "/api/v1/exams/E1/rooms/R9/students",
			body:       `{"student_id":"S1"}`,
			wantStatus: http.StatusNotFound,
			wantCode:   "INVALID_ROOM",
		},
		{
			name: "duplicate student conflicts",
			setup: func(t *testing.T, handler http.Handler) {
				rec := doRequest(t, handler, http.MethodPost,
					"/api/v1/exams/E1/rooms/R1/students", `{"student_id":"S1"}`)
				require.Equal(t, http.StatusCreated, rec.Code)
			},
			path:       "/api/v1/exams/E1/rooms/R1/students",
			body:       `{"student_id":"S1"}`,
			wantStatus: http.StatusConflict,
			wantCode:   "STUDENT_ALREADY_ASSIGNED",
		},
		{
			name: "full room conflicts",
			setup: func(t *testing.T, handler http.Handler) {
				for _, body := range []string{
					`{"student_id":"S1"}`,
					`{"student_id":"S2"}`,
				} {
					rec := doRequest(t, handler, http.MethodPost,
						"/api/v1/exams/E1/rooms/R1/students", body)
					require.Equal(t, http.StatusCreated, rec.Code)
				}
			},
			path:       "/api/v1/exams/E1/rooms/R1/students",
			body:       `{"student_id":"S3"}`,
			wantStatus: http.StatusConflict,
			wantCode:   "ROOM_FULL",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := newHandlerFixture(t)
			if tt.setup != nil {
				tt.setup(t, handler)
			}

			rec := doRequest(t, handler, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)

			var resp map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, resp["code"])
			} else {
				assert.Equal(t, true, resp["success"])
			}
		})
	}
}

// TestHandler_RemoveStudent 測試座位釋放端點
func TestHandler_RemoveStudent(t *testing.T) {
	handler := newHandlerFixture(t)

	rec := doRequest(t, handler, http.MethodPost,
		"/api/v1/exams/E1/rooms/R1/students", `{"student_id":"S1"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, handler, http.MethodDelete, "/api/v1/exams/E1/students/S1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// 重複釋放同一考生
	rec = doRequest(t, handler, http.MethodDelete, "/api/v1/exams/E1/students/S1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "STUDENT_NOT_ASSIGNED", resp["code"])
}

// TestHandler_GetSnapshot 測試快照端點
func TestHandler_GetSnapshot(t *testing.T) {
	handler := newHandlerFixture(t)

	rec := doRequest(t, handler, http.MethodPost,
		"/api/v1/exams/E1/rooms/R1/students", `{"student_id":"S1","student_name":"王小明"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(t, handler, http.MethodGet, "/api/v1/exams/E1/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var snapshot internal.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snapshot))
	assert.Equal(t, "E1", snapshot.ExamID)
	assert.Equal(t, 2, snapshot.TotalCapacity)
	assert.Equal(t, 1, snapshot.TotalOccupied)

	// 不存在的場次
	rec = doRequest(t, handler, http.MethodGet, "/api/v1/exams/E9/snapshot", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// TestHandler_Health 測試健康檢查與統計端點
func TestHandler_Health(t *testing.T) {
	handler := newHandlerFixture(t)

	rec := doRequest(t, handler, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])

	rec = doRequest(t, handler, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(0), resp["total_connections"])
}
