package contracts

// ReasoningKind tags the variant carried by a ReasoningResult.
type ReasoningKind string

const (
	ReasoningKindReasoning    ReasoningKind = "reasoning"
	ReasoningKindConversation ReasoningKind = "conversation"
)

// ReasoningResult is the model's reply after schema validation.
// Exactly one variant is populated, selected by Kind.
//
//nolint:govet // fieldalignment: struct layout is human-readable
type ReasoningResult struct {
	Kind ReasoningKind `json:"kind"`

	// reasoning variant
	Action        string         `json:"action,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	Confidence    *float64       `json:"confidence,omitempty"`
	MissingFields []string       `json:"missing_fields,omitempty"`
	Reasoning     string         `json:"reasoning,omitempty"`

	// conversation variant
	Reply string `json:"reply,omitempty"`
}

// IsConversation reports whether the model answered conversationally.
func (r ReasoningResult) IsConversation() bool {
	return r.Kind == ReasoningKindConversation
}
