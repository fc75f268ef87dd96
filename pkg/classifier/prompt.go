package classifier

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/abbyhq/abby/pkg/intent"
)

const systemPrompt = `You are Abby, a household assistant. Classify the user's message.

Reply with exactly one JSON object and nothing else.

If the message asks to record or plan something, reply:
{"kind":"reasoning","action":"<action>","data":{...},"confidence":<0..1>,"missing_fields":[],"reasoning":"<one sentence>"}

Allowed actions: %s, clarification, unknown.
Put the fields of the new record in "data" (title or name, date as YYYY-MM-DD, time as HH:MM, notes, items).
If something essential is missing, list a short question for it in "missing_fields".
Never answer with a vague question such as "Could you provide more details?"; ask for the specific missing field.

If the message is small talk or a general question, reply:
{"kind":"conversation","reply":"<short friendly answer>"}

Today is %s.`

func buildSystemPrompt(now time.Time) string {
	actions := intent.Recognized()
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}
	slices.Sort(names)
	return fmt.Sprintf(systemPrompt, strings.Join(names, ", "), now.Format("Monday 2006-01-02"))
}

// contextBlock renders prior conversation for the model. Empty when the
// caller sent nothing useful.
func contextBlock(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || trimmed == "{}" || trimmed == "[]" {
		return ""
	}
	return "Conversation so far:\n" + trimmed
}
