package domain

import (
	"errors"
	"time"
)

// Статусы апелляции. Переход pending -> approved|denied выполняется один раз.
type AppealStatus string

const (
	AppealPending  AppealStatus = "pending"
	AppealApproved AppealStatus = "approved"
	AppealDenied   AppealStatus = "denied"
)

func (s AppealStatus) Valid() bool {
	return s == AppealPending || s == AppealApproved || s == AppealDenied
}

var (
	ErrRemovalNotFound = errors.New("removal record not found")
	ErrNotAppealable   = errors.New("removal is not appealable")
	ErrAlreadyDecided  = errors.New("appeal already decided")
	ErrNoAppeal        = errors.New("appeal message not submitted")
	ErrInvalidDecision = errors.New("invalid appeal decision")
	ErrRemovalExists   = errors.New("pending removal already exists for pair")
	ErrWarningOpen     = errors.New("open warning already exists for pair")
)

// RemovalRecord — запись об автоматическом снятии. Никогда не удаляется.
type RemovalRecord struct {
	ID              string          `json:"id"`
	WorkerID        string          `json:"worker_id"`
	ProjectID       string          `json:"project_id"`
	RemovalReason   string          `json:"removal_reason"`
	MetricsSnapshot MetricsSnapshot `json:"metrics_snapshot"`
	RemovedAt       time.Time       `json:"removed_at"`
	CanAppeal       bool            `json:"can_appeal"`
	AppealStatus    AppealStatus    `json:"appeal_status"`

	AppealMessage       *string    `json:"appeal_message,omitempty"`
	AppealSubmittedAt   *time.Time `json:"appeal_submitted_at,omitempty"`
	AppealReviewedBy    *string    `json:"appeal_reviewed_by,omitempty"`
	AppealDecisionAt    *time.Time `json:"appeal_decision_at,omitempty"`
	AppealDecisionNotes *string    `json:"appeal_decision_notes,omitempty"`
}

// CanSubmitAppeal проверяет, может ли работник подать (или заменить) апелляцию.
func (r *RemovalRecord) CanSubmitAppeal(workerID string) error {
	if r.WorkerID != workerID || !r.CanAppeal {
		return ErrNotAppealable
	}
	if r.AppealStatus != AppealPending {
		return ErrAlreadyDecided
	}
	return nil
}

// CanDecide проверяет правила конечного автомата для решения по апелляции.
func (r *RemovalRecord) CanDecide(next AppealStatus) error {
	if next != AppealApproved && next != AppealDenied {
		return ErrInvalidDecision
	}
	if r.AppealStatus != AppealPending {
		return ErrAlreadyDecided
	}
	if r.AppealMessage == nil {
		return ErrNoAppeal
	}
	return nil
}

// Коды причин отказа ledger'а. Возвращаются вызывающему, исключения не бросаются.
const (
	AppealReasonMissingWorker   = "missing_worker"
	AppealReasonMessageRequired = "message_required"
	AppealReasonNotFound        = "not_found"
	AppealReasonAlreadyDecided  = "already_decided"
	AppealReasonMissingReviewer = "missing_reviewer"
	AppealReasonInvalidDecision = "invalid_decision"
	AppealReasonNoAppeal        = "no_appeal"
	AppealReasonError           = "error"
)

// AppealResult — результат операции ledger'а.
type AppealResult struct {
	Success bool   `json:"success"`
	Reason  string `json:"reason,omitempty"`
}

func AppealOK() AppealResult { return AppealResult{Success: true} }

func AppealFail(reason string) AppealResult {
	return AppealResult{Success: false, Reason: reason}
}

// AppealReasonFor маппит доменную ошибку в код причины.
func AppealReasonFor(err error) string {
	switch {
	case errors.Is(err, ErrRemovalNotFound), errors.Is(err, ErrNotAppealable):
		return AppealReasonNotFound
	case errors.Is(err, ErrAlreadyDecided):
		return AppealReasonAlreadyDecided
	case errors.Is(err, ErrNoAppeal):
		return AppealReasonNoAppeal
	case errors.Is(err, ErrInvalidDecision):
		return AppealReasonInvalidDecision
	default:
		return AppealReasonError
	}
}
