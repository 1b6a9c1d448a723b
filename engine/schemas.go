package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/researchmesh/model"
	"github.com/hupe1980/researchmesh/plan"
	"github.com/tidwall/gjson"
)

// The route value is deliberately not an enum in the schema: an unknown
// route is an invariant violation, not malformed output.
var routeSchema = []byte(`{
  "type": "object",
  "required": ["route"],
  "properties": {
    "route": {"type": "string"},
    "revised_request": {"type": "string"},
    "reason": {"type": "string"},
    "revision_reason": {"type": "string"}
  }
}`)

var planSchema = []byte(`{
  "type": "object",
  "required": ["plan"],
  "properties": {
    "plan": {"type": "array", "items": {"type": "string"}},
    "plan_status": {"type": "array", "items": {"type": "string"}}
  }
}`)

var judgeSchema = []byte(`{
  "type": "object",
  "required": ["is_included"]
}`)

// Route values produced by the router prompt.
const (
	RouteDirect   = "direct"
	RouteClarify  = "clarify"
	RouteResearch = "research"
)

type routeOutput struct {
	Route          string `json:"route"`
	RevisedRequest string `json:"revised_request"`
	Reason         string `json:"reason"`
	RevisionReason string `json:"revision_reason"`
}

func decodeRoute(raw json.RawMessage) (routeOutput, error) {
	var out routeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return routeOutput{}, fmt.Errorf("%w: %v", model.ErrMalformedOutput, err)
	}
	out.Route = strings.ToLower(strings.TrimSpace(out.Route))
	return out, nil
}

type planOutput struct {
	Plan       []string      `json:"plan"`
	PlanStatus []plan.Status `json:"plan_status"`
}

// decodePlan turns model output into a plan, applying the overflow policy.
// A plan without open tasks is malformed.
func decodePlan(raw json.RawMessage, max int, revised string) (plan.Plan, bool, error) {
	var out planOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return plan.Plan{}, false, fmt.Errorf("%w: %v", model.ErrMalformedOutput, err)
	}
	if len(out.PlanStatus) == 0 {
		out.PlanStatus = make([]plan.Status, len(out.Plan))
		for i := range out.PlanStatus {
			out.PlanStatus[i] = plan.StatusOpen
		}
	}
	p, overflow, err := plan.Normalize(out.Plan, out.PlanStatus, max, revised)
	if err != nil {
		return plan.Plan{}, false, fmt.Errorf("%w: %v", model.ErrMalformedOutput, err)
	}
	if !p.HasOpen() {
		return plan.Plan{}, false, fmt.Errorf("%w: plan has no open task", model.ErrMalformedOutput)
	}
	return p, overflow, nil
}

// isIncluded reads the judge verdict. "yes", "true" and a JSON true mean the
// results already answer the request.
func isIncluded(raw json.RawMessage) bool {
	v := gjson.GetBytes(raw, "is_included")
	switch v.Type {
	case gjson.True:
		return true
	case gjson.String:
		s := strings.ToLower(strings.TrimSpace(v.Str))
		return s == "yes" || s == "true"
	default:
		return false
	}
}
