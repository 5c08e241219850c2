package handler

import (
	"errors"
	"net/http"

	"github.com/hitoshi/glucotrack/internal/identity"
	"github.com/hitoshi/glucotrack/internal/middleware"
	"github.com/hitoshi/glucotrack/internal/model"
	"github.com/hitoshi/glucotrack/internal/provisioning"
)

// PatientHandler は医師による患者作成のHTTPハンドラー。
// リクエストごとに医師のセッションを持つidentity.Clientを作り、Provisionerに渡す。
type PatientHandler struct {
	provisioner provisioning.Provisioner
	backend     identity.Backend
}

// NewPatientHandler はPatientHandlerを生成する。
func NewPatientHandler(provisioner provisioning.Provisioner, backend identity.Backend) *PatientHandler {
	return &PatientHandler{provisioner: provisioner, backend: backend}
}

type createPatientRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type createPatientResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	PatientID string `json:"patient_id"`
	Mode      string `json:"mode"`
	State     string `json:"state"`
}

// provisionFailureResponse は失敗時のレスポンス。どこまで進んだかを含める。
type provisionFailureResponse struct {
	middleware.ErrorResponseBody
	Mode       string `json:"mode"`
	State      string `json:"state"`
	PatientID  string `json:"patient_id,omitempty"`
	RolledBack bool   `json:"rolled_back"`
}

// Create は新しい患者アカウントを作成し、リクエストした医師に紐づける。
// POST /api/patients
func (h *PatientHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPatientRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	client := identity.NewClient(h.backend)
	if err := client.SetSession(r.Context(), requestCredentials(r)); err != nil {
		var apiErr *model.APIError
		reason := "please sign in again"
		if errors.As(err, &apiErr) {
			reason = apiErr.Message
		}
		handleServiceError(w, model.NewDoctorSessionInvalidError(reason))
		return
	}

	result := h.provisioner.Provision(r.Context(), client, provisioning.Request{
		FullName: req.FullName,
		Email:    req.Email,
		Password: req.Password,
	})
	writeRotatedSession(w, r, client.Session())

	if !result.Succeeded() {
		h.writeFailure(w, result)
		return
	}

	writeJSON(w, http.StatusCreated, createPatientResponse{
		Success:   true,
		Message:   "Patient created",
		PatientID: result.PatientID,
		Mode:      h.provisioner.Mode(),
		State:     string(result.State),
	})
}

// writeFailure は失敗時のレスポンスを書き込む。
// 複数のエラーが結合されている場合は先頭のAPIErrorでステータスを決め、メッセージには全件を含める。
func (h *PatientHandler) writeFailure(w http.ResponseWriter, result provisioning.Result) {
	var apiErr *model.APIError
	if !errors.As(result.Err, &apiErr) {
		handleServiceError(w, result.Err)
		return
	}
	message := apiErr.Message
	if joined, ok := result.Err.(interface{ Unwrap() []error }); ok && len(joined.Unwrap()) > 1 {
		message = result.Err.Error()
	}

	writeJSON(w, middleware.StatusFor(apiErr), provisionFailureResponse{
		ErrorResponseBody: middleware.ErrorResponseBody{
			Success:  false,
			Code:     apiErr.Code,
			Message:  message,
			Category: apiErr.Category,
			Action:   apiErr.Action,
		},
		Mode:       h.provisioner.Mode(),
		State:      string(result.State),
		PatientID:  result.PatientID,
		RolledBack: result.RolledBack,
	})
}
