// Package contracts holds the data model shared by the classifier, the
// approval queue and the executor.
package contracts

// ActionType names a mutation the assistant can propose.
type ActionType string

// Action type constants.
const (
	ActionCreateTask        ActionType = "create_task"
	ActionCreateMeal        ActionType = "create_meal"
	ActionCreateShopping    ActionType = "create_shopping"
	ActionCreateReminder    ActionType = "create_reminder"
	ActionCreateAppointment ActionType = "create_appointment"
	ActionCreateFamily      ActionType = "create_family"
	ActionCreatePet         ActionType = "create_pet"

	// Only reachable through direct proposals from the UI.
	ActionCompleteTask ActionType = "complete_task"
	ActionDeleteItem   ActionType = "delete_item"

	ActionClarification ActionType = "clarification"
	ActionUnknown       ActionType = "unknown"
)

// EntityType names the household collection a command writes to.
type EntityType string

// Entity type constants.
const (
	EntityTask        EntityType = "task"
	EntityMeal        EntityType = "meal"
	EntityShopping    EntityType = "shopping"
	EntityReminder    EntityType = "reminder"
	EntityAppointment EntityType = "appointment"
	EntityFamily      EntityType = "family"
	EntityPet         EntityType = "pet"
	EntityNote        EntityType = "note"
)

// IntentType is the classification reported to clients (AIIntent.type).
type IntentType string

// Intent type constants.
const (
	IntentTask          IntentType = "task"
	IntentMeal          IntentType = "meal"
	IntentShopping      IntentType = "shopping"
	IntentReminder      IntentType = "reminder"
	IntentAppointment   IntentType = "appointment"
	IntentFamily        IntentType = "family"
	IntentPet           IntentType = "pet"
	IntentClarification IntentType = "clarification"
	IntentUnknown       IntentType = "unknown"
)

var createActions = map[ActionType]EntityType{
	ActionCreateTask:        EntityTask,
	ActionCreateMeal:        EntityMeal,
	ActionCreateShopping:    EntityShopping,
	ActionCreateReminder:    EntityReminder,
	ActionCreateAppointment: EntityAppointment,
	ActionCreateFamily:      EntityFamily,
	ActionCreatePet:         EntityPet,
}

// CreateEntity returns the entity a create_* action writes, if a is one.
func (a ActionType) CreateEntity() (EntityType, bool) {
	e, ok := createActions[a]
	return e, ok
}

// IsMutation reports whether the action changes persisted state.
func (a ActionType) IsMutation() bool {
	if _, ok := createActions[a]; ok {
		return true
	}
	return a == ActionCompleteTask || a == ActionDeleteItem
}

// Valid reports whether e is a known entity.
func (e EntityType) Valid() bool {
	switch e {
	case EntityTask, EntityMeal, EntityShopping, EntityReminder,
		EntityAppointment, EntityFamily, EntityPet, EntityNote:
		return true
	}
	return false
}
