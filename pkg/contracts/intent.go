package contracts

// ActionIntent is the structured interpretation of one piece of user text.
// It is produced by the mapper and treated as immutable afterwards.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type ActionIntent struct {
	Type             IntentType     `json:"type"`
	Action           ActionType     `json:"action,omitempty"`
	Entity           EntityType     `json:"entity,omitempty"`
	Payload          map[string]any `json:"payload,omitempty"`
	Confidence       float64        `json:"confidence"`
	HumanReadable    string         `json:"humanReadable,omitempty"`
	FollowUpQuestion string         `json:"followUpQuestion,omitempty"`
	Reply            string         `json:"reply,omitempty"` // conversational answer, no action
	Raw              string         `json:"raw"`
}

// NeedsClarification reports whether the intent must go back to the user
// instead of becoming a proposal.
func (i ActionIntent) NeedsClarification() bool {
	return i.Type == IntentClarification || i.Type == IntentUnknown
}
