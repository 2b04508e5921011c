package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// SubjectKind distinguishes routed correspondence from distributable forms.
type SubjectKind string

const (
	SubjectKindReference SubjectKind = "REFERENCE"
	SubjectKindForm      SubjectKind = "FORM"
)

// ReferenceStatus captures the movement workflow states.
type ReferenceStatus string

const (
	StatusOpen       ReferenceStatus = "OPEN"
	StatusInProgress ReferenceStatus = "IN_PROGRESS"
	StatusClosed     ReferenceStatus = "CLOSED"
	StatusReopened   ReferenceStatus = "REOPENED"
)

// ReferencePriority defines urgency ordering for references.
type ReferencePriority string

const (
	PriorityLow    ReferencePriority = "LOW"
	PriorityNormal ReferencePriority = "NORMAL"
	PriorityHigh   ReferencePriority = "HIGH"
)

// StringSet is a JSONB-persisted set of user IDs. Holders are always modelled
// as a set; a single holder is simply a set of size one.
type StringSet []string

// NewStringSet builds a deduplicated, sorted set from the given values.
func NewStringSet(values ...string) StringSet {
	seen := make(map[string]struct{}, len(values))
	out := make(StringSet, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Contains reports membership.
func (s StringSet) Contains(value string) bool {
	for _, v := range s {
		if v == value {
			return true
		}
	}
	return false
}

// Union returns the set union with other.
func (s StringSet) Union(other StringSet) StringSet {
	return NewStringSet(append(append([]string{}, s...), other...)...)
}

// Diff returns members of s that are absent from other.
func (s StringSet) Diff(other StringSet) StringSet {
	out := make([]string, 0, len(s))
	for _, v := range s {
		if !other.Contains(v) {
			out = append(out, v)
		}
	}
	return NewStringSet(out...)
}

// Value marshals the set to JSON for persistence.
func (s StringSet) Value() (driver.Value, error) {
	if s == nil {
		s = StringSet{}
	}
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal string set: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the set.
func (s *StringSet) Scan(value interface{}) error {
	if value == nil {
		*s = StringSet{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for StringSet", value)
	}
	if len(data) == 0 {
		*s = StringSet{}
		return nil
	}
	if err := json.Unmarshal(data, s); err != nil {
		return fmt.Errorf("unmarshal string set: %w", err)
	}
	return nil
}

// DistributionTarget is the desired recipient specification: explicit user IDs
// unioned with all members of the named labs, resolved lazily.
type DistributionTarget struct {
	UserIDs  []string `json:"userIds,omitempty"`
	LabNames []string `json:"labNames,omitempty"`
}

// ReopenRequest is the single outstanding reopen petition embedded in a closed
// subject. Resolving it clears the column; history lives in the audit trail.
type ReopenRequest struct {
	RequestedBy string    `json:"requestedBy"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requestedAt"`
}

// Value marshals the request to JSON for persistence.
func (r ReopenRequest) Value() (driver.Value, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal reopen request: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSON payloads into the request struct.
func (r *ReopenRequest) Scan(value interface{}) error {
	if value == nil {
		*r = ReopenRequest{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for ReopenRequest", value)
	}
	if len(data) == 0 {
		*r = ReopenRequest{}
		return nil
	}
	if err := json.Unmarshal(data, r); err != nil {
		return fmt.Errorf("unmarshal reopen request: %w", err)
	}
	return nil
}

// ReopenResolution records the outcome of a reopen request for audit trails.
type ReopenResolution struct {
	Approved        bool      `json:"approved"`
	ResolvedBy      string    `json:"resolvedBy"`
	ResolvedAt      time.Time `json:"resolvedAt"`
	RejectionReason string    `json:"rejectionReason,omitempty"`
}

// Reference is a routed subject (correspondence or form). MarkedTo is the only
// authoritative answer to "who may act on this now"; every change to it must
// append a movement event in the same logical operation. Version backs the
// optimistic concurrency check on mutation.
type Reference struct {
	ID            string            `db:"id" json:"id"`
	RefID         string            `db:"ref_id" json:"ref_id"`
	Kind          SubjectKind       `db:"kind" json:"kind"`
	Subject       string            `db:"subject" json:"subject"`
	Status        ReferenceStatus   `db:"status" json:"status"`
	Priority      ReferencePriority `db:"priority" json:"priority"`
	MarkedTo      StringSet         `db:"marked_to" json:"marked_to"`
	IsHidden      bool              `db:"is_hidden" json:"is_hidden"`
	IsArchived    bool              `db:"is_archived" json:"is_archived"`
	ReopenRequest *ReopenRequest    `db:"reopen_request" json:"reopen_request,omitempty"`
	CreatedBy     string            `db:"created_by" json:"created_by"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at" json:"updated_at"`
	Version       int               `db:"version" json:"version"`
}

// IsClosed reports whether the subject is in its terminal workflow state.
func (r *Reference) IsClosed() bool {
	return r.Status == StatusClosed
}

// ReferenceFilter constrains listing queries.
type ReferenceFilter struct {
	Kind          SubjectKind
	Status        []ReferenceStatus
	HolderID      string
	CreatedBy     string
	IncludeHidden bool
	Page          int
	PageSize      int
}
