package contracts

import "time"

// Task is a to-do item.
type Task struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	DueDate     string    `json:"dueDate,omitempty"`
	Priority    string    `json:"priority,omitempty"` // low, medium, high
	Category    string    `json:"category,omitempty"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"createdAt"`
}

// Meal is a planned meal.
type Meal struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	MealType    string    `json:"mealType,omitempty"` // breakfast, lunch, dinner, snack
	Date        string    `json:"date,omitempty"`
	Ingredients []string  `json:"ingredients,omitempty"`
	Notes       string    `json:"notes,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ShoppingItem is one line on the shopping list.
type ShoppingItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Quantity  string    `json:"quantity,omitempty"`
	Category  string    `json:"category,omitempty"`
	Purchased bool      `json:"purchased"`
	CreatedAt time.Time `json:"createdAt"`
}

// Reminder is a dated nudge.
type Reminder struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Date      string    `json:"date,omitempty"`
	Time      string    `json:"time,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"createdAt"`
}

// Appointment is a calendar entry with a place and counterpart.
type Appointment struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Date      string    `json:"date,omitempty"`
	Time      string    `json:"time,omitempty"`
	Location  string    `json:"location,omitempty"`
	With      string    `json:"with,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// FamilyMember is a person in the household.
type FamilyMember struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Relationship string    `json:"relationship,omitempty"`
	Birthday     string    `json:"birthday,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Pet is a household animal.
type Pet struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Species   string    `json:"species,omitempty"`
	Breed     string    `json:"breed,omitempty"`
	Birthday  string    `json:"birthday,omitempty"`
	VetInfo   string    `json:"vetInfo,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Note is free-form text.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}
