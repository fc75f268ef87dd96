package contracts

import "time"

// ActionCommand is one identified, queued mutation awaiting approval.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type ActionCommand struct {
	ID         string         `json:"commandId"`
	Action     ActionType     `json:"action"`
	Entity     EntityType     `json:"entity"`
	Params     map[string]any `json:"params"`
	Confidence float64        `json:"confidence,omitempty"`
	Source     string         `json:"source,omitempty"` // raw user text, empty for direct proposals
	CreatedAt  time.Time      `json:"createdAt"`
}

// ProposalSummary is the human readable part of a proposal.
type ProposalSummary struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Impacts     []string `json:"impacts"`
}

// ActionProposal pairs a command with what the confirmation card shows.
type ActionProposal struct {
	Command ActionCommand   `json:"command"`
	Summary ProposalSummary `json:"summary"`
	Risks   []string        `json:"risks,omitempty"`
}

// ApprovalToken authorizes exactly one pending command to execute.
// Value is opaque to everything except the issuing verifier.
type ApprovalToken struct {
	CommandID string    `json:"commandId"`
	Value     string    `json:"value"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// ExecutionResult is the terminal outcome of an execution attempt.
type ExecutionResult struct {
	CommandID string `json:"commandId"`
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	RecordID  string `json:"recordId,omitempty"`
}
