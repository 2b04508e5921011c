package dto

// CreateReferenceRequest carries a new subject payload.
type CreateReferenceRequest struct {
	RefID    string   `json:"refId" validate:"required"`
	Kind     string   `json:"kind" validate:"required,subjectkind"`
	Subject  string   `json:"subject" validate:"required"`
	Priority string   `json:"priority" validate:"omitempty,priority"`
	MarkedTo []string `json:"markedTo" validate:"required,min=1"`
}

// MoveReferenceRequest carries a holder handoff / status transition.
type MoveReferenceRequest struct {
	NewHolders []string `json:"newHolders"`
	NewStatus  string   `json:"newStatus" validate:"required,refstatus"`
	Remarks    string   `json:"remarks"`
}

// OversightRequest toggles an admin-only visibility flag.
type OversightRequest struct {
	Value bool `json:"value"`
}

// ReopenRequestPayload files a reopen petition on a closed subject.
type ReopenRequestPayload struct {
	Reason string `json:"reason" validate:"required"`
}

// ResolveReopenRequest carries the administrator decision.
type ResolveReopenRequest struct {
	Approve         bool   `json:"approve"`
	RejectionReason string `json:"rejectionReason"`
}

// RemindRequest nudges the current holders of a subject.
type RemindRequest struct {
	Remarks string `json:"remarks"`
}
