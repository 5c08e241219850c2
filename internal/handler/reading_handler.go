package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/hitoshi/glucotrack/internal/model"
	"github.com/hitoshi/glucotrack/internal/reading"
)

// ReadingServiceInterface は測定値ハンドラーが必要とするサービスインターフェース。
type ReadingServiceInterface interface {
	Submit(ctx context.Context, creds model.Credentials, rawLevel string) (*reading.SubmitResult, error)
	History(ctx context.Context, creds model.Credentials) ([]model.Reading, *model.Session, error)
}

// ReadingHandler は患者の測定値のHTTPハンドラー。
type ReadingHandler struct {
	service ReadingServiceInterface
}

// NewReadingHandler はReadingHandlerを生成する。
func NewReadingHandler(service ReadingServiceInterface) *ReadingHandler {
	return &ReadingHandler{service: service}
}

// submitReadingRequest のlevelは文字列・数値のどちらでも受け付ける。
// 値の検証はサービス層で行う。
type submitReadingRequest struct {
	Level json.RawMessage `json:"level"`
}

// readingResponse は測定値のレスポンス表現。
type readingResponse struct {
	ID         int64     `json:"id"`
	Level      int       `json:"level"`
	AIAnalysis *string   `json:"ai_analysis"`
	Severity   string    `json:"severity"`
	AtRisk     bool      `json:"at_risk"`
	CreatedAt  time.Time `json:"created_at"`
}

type submitReadingResponse struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Reading readingResponse `json:"reading"`
}

type readingListResponse struct {
	Readings []readingResponse `json:"readings"`
}

// Submit は測定値を登録する。
// POST /api/readings
func (h *ReadingHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitReadingRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.service.Submit(r.Context(), requestCredentials(r), rawLevel(req.Level))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeRotatedSession(w, r, result.Session)
	writeJSON(w, http.StatusCreated, submitReadingResponse{
		Success: true,
		Message: "Reading saved",
		Reading: toReadingResponse(*result.Reading),
	})
}

// History は本人の測定値を新しい順に返す。
// GET /api/readings
func (h *ReadingHandler) History(w http.ResponseWriter, r *http.Request) {
	readings, session, err := h.service.History(r.Context(), requestCredentials(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeRotatedSession(w, r, session)
	writeJSON(w, http.StatusOK, readingListResponse{Readings: toReadingResponses(readings)})
}

// rawLevel はJSONの値を入力文字列に戻す。文字列はそのまま、それ以外はJSON表記を使う。
func rawLevel(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func toReadingResponse(r model.Reading) readingResponse {
	return readingResponse{
		ID:         r.ID,
		Level:      r.Level,
		AIAnalysis: r.Analysis,
		Severity:   string(model.ClassifySeverity(r.Level)),
		AtRisk:     model.IsAtRisk(r.Level),
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

func toReadingResponses(readings []model.Reading) []readingResponse {
	result := make([]readingResponse, len(readings))
	for i, r := range readings {
		result[i] = toReadingResponse(r)
	}
	return result
}
