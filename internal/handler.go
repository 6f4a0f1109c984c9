package internal

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/koopa0/exam-sync/internal/storage"
	apperrors "github.com/koopa0/exam-sync/pkg/errors"
)

// Handler HTTP 請求處理器
//
// 這層是 Hub 核心之外的請求/響應入口：座位異動與快照拉取。
// 異動成功後的變更通知由名冊引擎觸發，這裡不直接碰 Hub。
type Handler struct {
	roster    *Roster
	assembler Assembler
	hub       *Hub
	logger    *slog.Logger
}

// NewHandler 創建 HTTP 處理器
func NewHandler(roster *Roster, assembler Assembler, hub *Hub, logger *slog.Logger) *Handler {
	return &Handler{
		roster:    roster,
		assembler: assembler,
		hub:       hub,
		logger:    logger,
	}
}

// Routes 設定路由
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// 中間件鏈
	wrap := func(handler http.HandlerFunc) http.HandlerFunc {
		return h.recoverer(h.loggerMiddleware(handler))
	}

	// 名冊異動 API
	mux.HandleFunc("POST /api/v1/exams/{exam_id}/rooms/{room_id}/students", wrap(h.addStudent))
	mux.HandleFunc("DELETE /api/v1/exams/{exam_id}/students/{student_id}", wrap(h.removeStudent))

	// 快照 API（notify-then-pull 的 pull 端）
	mux.HandleFunc("GET /api/v1/exams/{exam_id}/snapshot", wrap(h.getSnapshot))

	// 健康檢查
	mux.HandleFunc("GET /health", wrap(h.health))
	mux.HandleFunc("GET /stats", wrap(h.stats))

	return mux
}

// 請求結構
type addStudentRequest struct {
	StudentID   string `json:"student_id"`
	StudentName string `json:"student_name"`
}

// addStudent 分配考生座位
func (h *Handler) addStudent(w http.ResponseWriter, r *http.Request) {
	examID := r.PathValue("exam_id")
	roomID := r.PathValue("room_id")

	var req addStudentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.errorResponse(w, apperrors.New(apperrors.ErrCodeInvalidInput, "無效的請求格式"))
		return
	}

	if req.StudentID == "" {
		h.errorResponse(w, apperrors.New(apperrors.ErrCodeInvalidInput, "考生 ID 為必填"))
		return
	}

	entry, err := h.roster.AddStudent(r.Context(), examID, roomID, storage.Student{
		ID:   req.StudentID,
		Name: req.StudentName,
	})
	if err != nil {
		h.errorResponse(w, err)
		return
	}

	h.jsonResponse(w, map[string]any{
		"success": true,
		"entry":   entry,
	}, http.StatusCreated)
}

// removeStudent 釋放考生座位
func (h *Handler) removeStudent(w http.ResponseWriter, r *http.Request) {
	examID := r.PathValue("exam_id")
	studentID := r.PathValue("student_id")

	if err := h.roster.DeleteStudent(r.Context(), examID, studentID); err != nil {
		h.errorResponse(w, err)
		return
	}

	h.jsonResponse(w, map[string]any{
		"success": true,
	}, http.StatusOK)
}

// getSnapshot 拉取場次快照
func (h *Handler) getSnapshot(w http.ResponseWriter, r *http.Request) {
	examID := r.PathValue("exam_id")

	snapshot, err := h.assembler.GetSnapshot(r.Context(), examID)
	if err != nil {
		h.errorResponse(w, err)
		return
	}

	h.jsonResponse(w, snapshot, http.StatusOK)
}

// health 健康檢查
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]any{
		"status": "healthy",
		"time":   time.Now().Unix(),
	}, http.StatusOK)
}

// stats 連接統計
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, h.hub.Stats(), http.StatusOK)
}

// jsonResponse 返回 JSON 響應
func (h *Handler) jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("編碼 JSON 失敗", "error", err)
	}
}

// errorResponse 返回錯誤響應
//
// 錯誤碼 → HTTP 狀態碼映射：
//   - INVALID_ROOM / NOT_FOUND / STUDENT_NOT_ASSIGNED → 404
//   - ROOM_FULL / STUDENT_ALREADY_ASSIGNED → 409
//   - INVALID_INPUT → 400
//   - 其餘 → 500
func (h *Handler) errorResponse(w http.ResponseWriter, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		appErr = apperrors.Wrap(err, apperrors.ErrCodeInternal, "內部伺服器錯誤")
	}

	status := http.StatusInternalServerError
	switch appErr.Code {
	case apperrors.ErrCodeInvalidRoom, apperrors.ErrCodeNotFound, apperrors.ErrCodeNotAssigned:
		status = http.StatusNotFound
	case apperrors.ErrCodeRoomFull, apperrors.ErrCodeAlreadyAssigned:
		status = http.StatusConflict
	case apperrors.ErrCodeInvalidInput:
		status = http.StatusBadRequest
	case apperrors.ErrCodeUnavailable:
		status = http.StatusServiceUnavailable
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("請求處理失敗", "error", err)
	}

	h.jsonResponse(w, map[string]any{
		"error":   appErr.Message,
		"code":    appErr.Code,
		"details": appErr.Details,
	}, status)
}

// loggerMiddleware 日誌中間件
func (h *Handler) loggerMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// 包裝 ResponseWriter 以獲取狀態碼
		ww := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next(ww, r)

		h.logger.Info("HTTP 請求",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.statusCode,
			"duration", time.Since(start))
	}
}

// recoverer panic 恢復中間件
func (h *Handler) recoverer(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("處理請求時發生 panic",
					"error", err,
					"method", r.Method,
					"path", r.URL.Path)

				h.jsonResponse(w, map[string]any{
					"error": "內部伺服器錯誤",
				}, http.StatusInternalServerError)
			}
		}()

		next(w, r)
	}
}

// responseWriter 包裝 ResponseWriter 以獲取狀態碼
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(code int) {
	w.statusCode = code
	w.ResponseWriter.WriteHeader(code)
}
