package toolcall

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/legionruntime/legion/pkg/models"
)

// Schema lists the parameter names a tool declares. The validator uses it
// to steer name correction, never to enforce types.
type Schema struct {
	Required []string
	Optional []string
}

func (s Schema) has(name string) bool {
	for _, p := range s.Required {
		if p == name {
			return true
		}
	}
	for _, p := range s.Optional {
		if p == name {
			return true
		}
	}
	return false
}

// maxEditDistance bounds fuzzy tool ID matching.
const maxEditDistance = 3

// suggestionCount is how many near misses an UnknownToolError carries.
const suggestionCount = 5

// aliases maps tool IDs models reliably invent onto the real ones.
var aliases = map[string]string{
	"respondtouser":     "respond",
	"respond_to_user":   "respond",
	"reply":             "respond",
	"answer":            "respond",
	"search":            "searchWeb",
	"web_search":        "searchWeb",
	"websearch":         "searchWeb",
	"google":            "searchWeb",
	"finish":            "done",
	"complete":          "done",
	"task_complete":     "done",
	"createplan":        "generatePlan",
	"create_plan":       "generatePlan",
	"makeplan":          "generatePlan",
	"plan":              "generatePlan",
	"save_memory":       "saveMemory",
	"remember":          "saveMemory",
	"store_memory":      "saveMemory",
	"memorize":          "saveMemory",
	"ask_human":         "requestHumanInput",
	"askhuman":          "requestHumanInput",
	"ask_user":          "requestHumanInput",
	"askuser":           "requestHumanInput",
	"human_input":       "requestHumanInput",
	"send_telegram":     "sendTelegram",
	"telegram":          "sendTelegram",
	"send_email":        "sendEmail",
	"email":             "sendEmail",
	"send_whatsapp":     "sendWhatsApp",
	"sendwhatsapp":      "sendWhatsApp",
	"whatsapp":          "sendWhatsApp",
	"broadcast":         "broadcastTeam",
	"broadcast_team":    "broadcastTeam",
	"no_response":       "silent",
	"noop":              "silent",
	"stay_silent":       "silent",
	"do_nothing":        "silent",
	"schedule":          "createSchedule",
	"create_schedule":   "createSchedule",
	"delegate":          "orchestrate",
	"create_specialist": "createSpecialist",
}

// paramAliases maps parameter names models substitute onto canonical ones.
// A rename only happens when the tool's schema declares the canonical name
// and not the one the model used.
var paramAliases = map[string]string{
	"msg":            "message",
	"text":           "message",
	"content":        "message",
	"body":           "message",
	"response":       "message",
	"q":              "query",
	"search_query":   "query",
	"searchquery":    "query",
	"term":           "query",
	"keywords":       "query",
	"recipient_name": "contactName",
	"recipient":      "contactName",
	"contact":        "contactName",
	"to":             "contactName",
	"name":           "contactName",
	"task":           "description",
	"details":        "description",
}

// UnknownToolError reports a tool ID that survived every correction pass,
// with the nearest real IDs so the loop can prompt the model to retry.
type UnknownToolError struct {
	Tool        string
	Suggestions []string
}

func (e *UnknownToolError) Error() string {
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("unknown tool %q", e.Tool)
	}
	return fmt.Sprintf("unknown tool %q, closest available: %s", e.Tool, strings.Join(e.Suggestions, ", "))
}

// Validate resolves a parsed call against the tools actually offered this
// iteration. The ID cascade is direct match, alias table, then fuzzy match
// within edit distance 3; once resolved, parameter names are corrected
// against the tool's schema. A call that cannot be resolved comes back as
// an UnknownToolError carrying suggestions.
func Validate(call models.ToolCall, available []string, schemas map[string]Schema) (models.ToolCall, error) {
	action := strings.TrimSpace(call.Action)
	if action == "" {
		return call, errors.New("tool call has no action")
	}

	resolved, ok := resolveID(action, available)
	if !ok {
		return call, &UnknownToolError{Tool: action, Suggestions: nearest(action, available, suggestionCount)}
	}

	call.Action = resolved
	if schema, known := schemas[resolved]; known {
		call.Params = correctParams(call.Params, schema)
	}
	return call, nil
}

func resolveID(action string, available []string) (string, bool) {
	for _, id := range available {
		if id == action {
			return id, true
		}
	}
	lower := strings.ToLower(action)
	for _, id := range available {
		if strings.ToLower(id) == lower {
			return id, true
		}
	}
	if target, ok := aliases[lower]; ok && contains(available, target) {
		return target, true
	}

	best := ""
	bestDist := maxEditDistance + 1
	for _, id := range available {
		if d := levenshtein(lower, strings.ToLower(id)); d < bestDist {
			best, bestDist = id, d
		}
	}
	if bestDist <= maxEditDistance {
		return best, true
	}
	return "", false
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// correctParams renames parameters the schema does not know when the alias
// table or a case-style flip lands on one it does. Unrecognized extras are
// left alone; tools decide what to do with them.
func correctParams(params map[string]any, schema Schema) map[string]any {
	if len(params) == 0 {
		return params
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if schema.has(k) {
			continue
		}
		canonical := ""
		if target, ok := paramAliases[strings.ToLower(k)]; ok && schema.has(target) {
			canonical = target
		} else if camel := snakeToCamel(k); camel != k && schema.has(camel) {
			canonical = camel
		} else if snake := camelToSnake(k); snake != k && schema.has(snake) {
			canonical = snake
		}
		if canonical == "" || canonical == k {
			continue
		}
		if _, taken := params[canonical]; taken {
			continue
		}
		params[canonical] = params[k]
		delete(params, k)
	}
	return params
}

func snakeToCamel(s string) string {
	parts := strings.Split(s, "_")
	if len(parts) == 1 {
		return s
	}
	var b strings.Builder
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	return b.String()
}

func camelToSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// nearest returns up to n tool IDs ranked by edit distance, registry order
// breaking ties.
func nearest(action string, available []string, n int) []string {
	type ranked struct {
		id   string
		dist int
	}
	lower := strings.ToLower(action)
	cands := make([]ranked, 0, len(available))
	for _, id := range available {
		cands = append(cands, ranked{id: id, dist: levenshtein(lower, strings.ToLower(id))})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })
	if len(cands) > n {
		cands = cands[:n]
	}
	out := make([]string, len(cands))
	for i, c := range cands {
		out[i] = c.id
	}
	return out
}

// levenshtein is the classic two-row edit distance.
func levenshtein(a, b string) int {
	if a == b {
		return 0
	}
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}
