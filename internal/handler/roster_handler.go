package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/glucotrack/internal/model"
)

// RosterServiceInterface は医師向けハンドラーが必要とするサービスインターフェース。
type RosterServiceInterface interface {
	Roster(ctx context.Context, creds model.Credentials) ([]model.PatientSummary, *model.Session, error)
	Summary(ctx context.Context, creds model.Credentials) (*model.RosterSummary, *model.Session, error)
	PatientReadings(ctx context.Context, creds model.Credentials, patientID string) ([]model.Reading, *model.Session, error)
}

// RosterHandler は医師の担当患者一覧のHTTPハンドラー。
type RosterHandler struct {
	service RosterServiceInterface
}

// NewRosterHandler はRosterHandlerを生成する。
func NewRosterHandler(service RosterServiceInterface) *RosterHandler {
	return &RosterHandler{service: service}
}

type patientSummaryResponse struct {
	ID           string     `json:"id"`
	FullName     string     `json:"full_name"`
	LatestLevel  *int       `json:"latest_level"`
	LatestAt     *time.Time `json:"latest_at"`
	ReadingCount int        `json:"reading_count"`
	Status       string     `json:"status"`
	Severity     string     `json:"severity"`
}

type rosterResponse struct {
	Patients []patientSummaryResponse `json:"patients"`
}

type rosterSummaryResponse struct {
	TotalPatients  int `json:"total_patients"`
	AtRiskPatients int `json:"at_risk_patients"`
}

// Roster は担当患者の一覧を返す。
// GET /api/roster
func (h *RosterHandler) Roster(w http.ResponseWriter, r *http.Request) {
	summaries, session, err := h.service.Roster(r.Context(), requestCredentials(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	patients := make([]patientSummaryResponse, len(summaries))
	for i, s := range summaries {
		patients[i] = patientSummaryResponse{
			ID:           s.PatientID,
			FullName:     s.FullName,
			LatestLevel:  s.LatestLevel,
			LatestAt:     s.LatestAt,
			ReadingCount: s.ReadingCount,
			Status:       string(s.Status),
			Severity:     string(s.Severity),
		}
	}

	writeRotatedSession(w, r, session)
	writeJSON(w, http.StatusOK, rosterResponse{Patients: patients})
}

// Summary は担当患者数とリスクのある患者数を返す。
// GET /api/roster/summary
func (h *RosterHandler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, session, err := h.service.Summary(r.Context(), requestCredentials(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeRotatedSession(w, r, session)
	writeJSON(w, http.StatusOK, rosterSummaryResponse{
		TotalPatients:  summary.TotalPatients,
		AtRiskPatients: summary.AtRiskPatients,
	})
}

// PatientReadings は担当患者1名の測定値を返す。
// GET /api/roster/{id}/readings
func (h *RosterHandler) PatientReadings(w http.ResponseWriter, r *http.Request) {
	readings, session, err := h.service.PatientReadings(r.Context(), requestCredentials(r), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeRotatedSession(w, r, session)
	writeJSON(w, http.StatusOK, readingListResponse{Readings: toReadingResponses(readings)})
}
