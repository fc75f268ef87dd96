// Package intent converts a validated model reply into an ActionIntent.
// Everything here is pure: no I/O, no clock.
package intent

import (
	"fmt"
	"strings"

	"github.com/abbyhq/abby/pkg/contracts"
)

const (
	// GenericPlaceholder is the filler question models fall back to. It is
	// never shown to the user verbatim.
	GenericPlaceholder = "Could you provide more details?"

	// Apology replaces the placeholder and covers upstream failures.
	Apology = "Sorry, I didn't quite catch that. Could you tell me a little more about what you'd like to do?"

	// DefaultConfidence applies when the model omits one.
	DefaultConfidence = 0.8
)

type target struct {
	intent contracts.IntentType
	entity contracts.EntityType
	label  string
}

var actionTable = map[contracts.ActionType]target{
	contracts.ActionCreateTask:        {contracts.IntentTask, contracts.EntityTask, "task"},
	contracts.ActionCreateMeal:        {contracts.IntentMeal, contracts.EntityMeal, "meal"},
	contracts.ActionCreateShopping:    {contracts.IntentShopping, contracts.EntityShopping, "shopping item"},
	contracts.ActionCreateReminder:    {contracts.IntentReminder, contracts.EntityReminder, "reminder"},
	contracts.ActionCreateAppointment: {contracts.IntentAppointment, contracts.EntityAppointment, "appointment"},
	contracts.ActionCreateFamily:      {contracts.IntentFamily, contracts.EntityFamily, "family member"},
	contracts.ActionCreatePet:         {contracts.IntentPet, contracts.EntityPet, "pet"},
}

// Recognized returns the action strings the mapper understands.
func Recognized() []contracts.ActionType {
	out := make([]contracts.ActionType, 0, len(actionTable))
	for a := range actionTable {
		out = append(out, a)
	}
	return out
}

// TypeFor returns the intent type an action maps to; unrecognized actions
// map to unknown.
func TypeFor(action string) contracts.IntentType {
	if t, ok := actionTable[contracts.ActionType(action)]; ok {
		return t.intent
	}
	return contracts.IntentUnknown
}

// ConvertReasoningToIntent maps a model reply onto an intent.
//
// Precedence: missing fields first, then explicit clarification/unknown
// actions, then the action table.
func ConvertReasoningToIntent(r contracts.ReasoningResult, raw string) contracts.ActionIntent {
	if r.IsConversation() {
		return contracts.ActionIntent{
			Type:  contracts.IntentUnknown,
			Reply: strings.TrimSpace(r.Reply),
			Raw:   raw,
		}
	}

	if len(r.MissingFields) > 0 {
		return clarify(questionFrom(r.MissingFields[0]), confidenceOf(r), raw)
	}

	action := contracts.ActionType(strings.TrimSpace(r.Action))
	if action == contracts.ActionClarification || action == contracts.ActionUnknown {
		return clarify(questionFrom(r.Reasoning), confidenceOf(r), raw)
	}

	t, ok := actionTable[action]
	if !ok {
		return contracts.ActionIntent{
			Type:       contracts.IntentUnknown,
			Action:     action,
			Confidence: confidenceOf(r),
			Payload:    r.Data,
			Raw:        raw,
		}
	}

	return contracts.ActionIntent{
		Type:          t.intent,
		Action:        action,
		Entity:        t.entity,
		Payload:       r.Data,
		Confidence:    confidenceOf(r),
		HumanReadable: describe(t.label, r.Data),
		Raw:           raw,
	}
}

// Failed is the intent returned when the model could not be reached or
// its reply was unusable.
func Failed(raw string) contracts.ActionIntent {
	return contracts.ActionIntent{
		Type:             contracts.IntentUnknown,
		Confidence:       0,
		FollowUpQuestion: Apology,
		Raw:              raw,
	}
}

func clarify(question string, confidence float64, raw string) contracts.ActionIntent {
	return contracts.ActionIntent{
		Type:             contracts.IntentClarification,
		Action:           contracts.ActionClarification,
		Confidence:       confidence,
		FollowUpQuestion: question,
		Raw:              raw,
	}
}

// questionFrom never lets the generic placeholder through.
func questionFrom(text string) string {
	q := strings.TrimSpace(text)
	if q == "" || isPlaceholder(q) {
		return Apology
	}
	return q
}

func isPlaceholder(s string) bool {
	norm := strings.Join(strings.Fields(strings.ToLower(s)), " ")
	return norm == strings.ToLower(GenericPlaceholder)
}

func confidenceOf(r contracts.ReasoningResult) float64 {
	if r.Confidence == nil {
		return DefaultConfidence
	}
	c := *r.Confidence
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	}
	return c
}

func describe(label string, data map[string]any) string {
	for _, key := range []string{"title", "name", "item", "description"} {
		if v, ok := data[key].(string); ok && strings.TrimSpace(v) != "" {
			return fmt.Sprintf("Create %s: %s", label, strings.TrimSpace(v))
		}
	}
	return "Create " + label
}
