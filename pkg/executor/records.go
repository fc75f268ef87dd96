package executor

import (
	"fmt"
	"strings"
	"time"

	"github.com/abbyhq/abby/pkg/contracts"
)

// str returns the first non-empty param among keys, stringifying scalars.
func str(p map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := contracts.ParamString(p[k]); s != "" {
			return s
		}
	}
	return ""
}

func strs(p map[string]any, key string) []string {
	return contracts.ParamList(p[key])
}

func priority(p map[string]any) string {
	switch s := strings.ToLower(str(p, "priority")); s {
	case "low", "medium", "high":
		return s
	}
	return ""
}

func required(field, v string) error {
	if v == "" {
		return fmt.Errorf("%s is required", field)
	}
	return nil
}

// buildRecords turns a create command's params into the typed records it
// writes. Shopping commands may carry an "items" list and yield one record
// per item.
func buildRecords(entity contracts.EntityType, p map[string]any, newID func() string, now time.Time) ([]any, error) {
	switch entity {
	case contracts.EntityTask:
		r := contracts.Task{
			ID: newID(), Title: str(p, "title", "name"), Description: str(p, "description", "notes"),
			DueDate: str(p, "dueDate", "due_date", "date"), Priority: priority(p), Category: str(p, "category"),
			CreatedAt: now,
		}
		return []any{r}, required("title", r.Title)
	case contracts.EntityMeal:
		r := contracts.Meal{
			ID: newID(), Name: str(p, "name", "title"), MealType: str(p, "mealType", "meal_type"),
			Date: str(p, "date"), Ingredients: strs(p, "ingredients"), Notes: str(p, "notes"),
			CreatedAt: now,
		}
		return []any{r}, required("name", r.Name)
	case contracts.EntityShopping:
		names := strs(p, "items")
		if len(names) == 0 {
			names = []string{str(p, "name", "item", "title")}
		}
		out := make([]any, 0, len(names))
		for _, n := range names {
			if err := required("name", n); err != nil {
				return nil, err
			}
			out = append(out, contracts.ShoppingItem{
				ID: newID(), Name: n, Quantity: str(p, "quantity"), Category: str(p, "category"), CreatedAt: now,
			})
		}
		return out, nil
	case contracts.EntityReminder:
		r := contracts.Reminder{
			ID: newID(), Title: str(p, "title", "name"), Date: str(p, "date"), Time: str(p, "time"),
			Notes: str(p, "notes"), CreatedAt: now,
		}
		return []any{r}, required("title", r.Title)
	case contracts.EntityAppointment:
		r := contracts.Appointment{
			ID: newID(), Title: str(p, "title", "name"), Date: str(p, "date"), Time: str(p, "time"),
			Location: str(p, "location"), With: str(p, "with"), Notes: str(p, "notes"), CreatedAt: now,
		}
		return []any{r}, required("title", r.Title)
	case contracts.EntityFamily:
		r := contracts.FamilyMember{
			ID: newID(), Name: str(p, "name"), Relationship: str(p, "relationship"),
			Birthday: str(p, "birthday"), Notes: str(p, "notes"), CreatedAt: now,
		}
		return []any{r}, required("name", r.Name)
	case contracts.EntityPet:
		r := contracts.Pet{
			ID: newID(), Name: str(p, "name"), Species: str(p, "species", "type"), Breed: str(p, "breed"),
			Birthday: str(p, "birthday"), VetInfo: str(p, "vetInfo", "vet_info", "vet"), CreatedAt: now,
		}
		return []any{r}, required("name", r.Name)
	case contracts.EntityNote:
		r := contracts.Note{ID: newID(), Title: str(p, "title"), Content: str(p, "content", "notes"), CreatedAt: now}
		return []any{r}, required("title", r.Title)
	}
	return nil, fmt.Errorf("unsupported entity %q", entity)
}
