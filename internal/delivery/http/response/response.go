package response

import (
	"time"

	"github.com/user/bizscraper/internal/entity"
)

type SubmitRunResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	RunID   string `json:"run_id"`
}

// RunStatusResponse is a DTO for run status, mirroring entity.RunStatus
type RunStatusResponse struct {
	RunID         string            `json:"run_id"`
	CurrentStatus string            `json:"current_status"` // "running", "completed", "aborted", "failed", "checkpointed"
	Stage         string            `json:"last_completed_stage,omitempty"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	FinishedAt    *time.Time        `json:"finished_at,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Report        *entity.RunReport `json:"report,omitempty"`
}

func NewRunStatusResponse(st *entity.RunStatus) RunStatusResponse {
	return RunStatusResponse{
		RunID:         st.RunID,
		CurrentStatus: st.CurrentStatus,
		Stage:         string(st.Stage),
		StartedAt:     st.StartedAt,
		FinishedAt:    st.FinishedAt,
		FailureReason: st.FailureReason,
		Report:        st.Report,
	}
}
