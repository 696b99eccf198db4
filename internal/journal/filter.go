package journal

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/cel-go/cel"
)

// Filter wraps a compiled CEL program evaluated per journal entry. A zero
// expression compiles to a pass-everything filter.
//
// Exposed variables: kind, game_id, identity (strings pulled from the event
// payload), ts_ms (append time), text (raw payload), json (parsed payload),
// and now_ms.
type Filter struct {
	prog    cel.Program
	enabled bool
}

// NewFilter compiles expr. An empty expression yields a disabled filter.
func NewFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("kind", cel.StringType),
		cel.Variable("game_id", cel.StringType),
		cel.Variable("identity", cel.StringType),
		cel.Variable("ts_ms", cel.IntType),
		cel.Variable("text", cel.StringType),
		cel.Variable("json", cel.DynType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return Filter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return Filter{}, err
	}
	return Filter{prog: prog, enabled: true}, nil
}

// Eval evaluates the expression against one entry. Disabled filters accept
// everything; evaluation errors reject the entry.
func (f Filter) Eval(it Item) bool {
	if !f.enabled {
		return true
	}
	var jsonObj any
	_ = json.Unmarshal(it.Payload, &jsonObj)

	var fields struct {
		Kind     string `json:"kind"`
		GameID   string `json:"gameId"`
		Identity string `json:"identity"`
		Player   string `json:"player"`
	}
	_ = json.Unmarshal(it.Payload, &fields)
	identity := fields.Identity
	if identity == "" {
		identity = fields.Player
	}

	out, _, err := f.prog.Eval(map[string]any{
		"kind":     fields.Kind,
		"game_id":  fields.GameID,
		"identity": identity,
		"ts_ms":    it.TsMs,
		"text":     string(it.Payload),
		"json":     jsonObj,
		"now_ms":   time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
