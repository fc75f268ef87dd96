package store

import (
	"github.com/abbyhq/abby/pkg/contracts"
	"github.com/abbyhq/abby/pkg/events"
)

// Collection keys. These are the fixed keys of the persisted layout.
const (
	CollectionTasks         = "tasks"
	CollectionMeals         = "meals"
	CollectionShoppingItems = "shoppingItems"
	CollectionReminders     = "reminders"
	CollectionAppointments  = "appointments"
	CollectionFamilyMembers = "familyMembers"
	CollectionPets          = "pets"
	CollectionNotes         = "notes"
)

type collectionInfo struct {
	entity contracts.EntityType
	event  events.Kind
}

var collections = map[string]collectionInfo{
	CollectionTasks:         {contracts.EntityTask, events.TasksUpdated},
	CollectionMeals:         {contracts.EntityMeal, events.MealsUpdated},
	CollectionShoppingItems: {contracts.EntityShopping, events.ShoppingItemsUpdated},
	CollectionReminders:     {contracts.EntityReminder, events.RemindersUpdated},
	CollectionAppointments:  {contracts.EntityAppointment, events.AppointmentsUpdated},
	CollectionFamilyMembers: {contracts.EntityFamily, events.FamilyMembersUpdated},
	CollectionPets:          {contracts.EntityPet, events.PetsUpdated},
	CollectionNotes:         {contracts.EntityNote, events.NotesUpdated},
}

// Collections returns every collection key.
func Collections() []string {
	return []string{
		CollectionTasks, CollectionMeals, CollectionShoppingItems, CollectionReminders,
		CollectionAppointments, CollectionFamilyMembers, CollectionPets, CollectionNotes,
	}
}

// CollectionFor maps an entity to the key it is stored under.
func CollectionFor(e contracts.EntityType) (string, bool) {
	for name, info := range collections {
		if info.entity == e {
			return name, true
		}
	}
	return "", false
}

// KnownCollection reports whether name is part of the layout.
func KnownCollection(name string) bool {
	_, ok := collections[name]
	return ok
}
