package api

import (
	perr "guardian/internal/errors"
	"guardian/internal/service"
	"guardian/redact"
)

// Типы сообщений управляющего канала (WebSocket и gRPC)
const (
	MsgInit            = "init"
	MsgProcessPage     = "process_page"
	MsgProcessAudio    = "process_audio"
	MsgExportPDF       = "export_pdf"
	MsgApplyRedactions = "apply_redactions"
	MsgGetModels       = "get_models"
	MsgDownloadModel   = "download_model"
	MsgCancelDownload  = "cancel_download"
	MsgDeleteModel     = "delete_model"

	MsgStatus            = "status"
	MsgPageProcessed     = "page_processed"
	MsgAudioProcessed    = "audio_processed"
	MsgRedactionResult   = "redaction_result"
	MsgModelsList        = "models_list"
	MsgDownloadStarted   = "download_started"
	MsgDownloadCancelled = "download_cancelled"
	MsgModelDeleted      = "model_deleted"
	MsgModelProgress     = "model_progress"
	MsgError             = "error"
)

// Message сообщение управляющего канала
type Message struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Data      string `json:"data,omitempty"`

	// Параметры запросов
	Path       string `json:"path,omitempty"`
	Page       int    `json:"page,omitempty"`
	Profile    string `json:"profile,omitempty"`
	Directives string `json:"directives,omitempty"`
	Output     string `json:"output,omitempty"`
	Artifacts  bool   `json:"artifacts,omitempty"`
	ModelID    string `json:"modelId,omitempty"`

	// Ответы
	Status     *service.StatusEvent     `json:"status,omitempty"`
	Candidates []redact.Candidate       `json:"candidates,omitempty"`
	Analysis   *service.AudioAnalysis   `json:"analysis,omitempty"`
	Result     *service.RedactionResult `json:"result,omitempty"`
	Models     *service.ModelListing    `json:"models,omitempty"`
	Progress   float64                  `json:"progress,omitempty"`
	Error      *perr.Wire               `json:"error,omitempty"`
}

// HTTP-запросы

type initRequest struct {
	Artifacts bool `json:"artifacts"`
}

type processPageRequest struct {
	Path    string `json:"path" validate:"required"`
	Page    int    `json:"page" validate:"required,gte=1"`
	Profile string `json:"profile" validate:"omitempty,oneof=quick deep"`
}

type processAudioRequest struct {
	Path string `json:"path" validate:"required"`
}

type applyRequest struct {
	Input      string `json:"input" validate:"required"`
	Directives string `json:"directives" validate:"required"`
	Output     string `json:"output" validate:"required"`
}

type uploadResponse struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

type initResponse struct {
	Events []service.StatusEvent `json:"events"`
}
