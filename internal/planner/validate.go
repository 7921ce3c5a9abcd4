package planner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sells-group/fandom-graph/internal/model"
	"github.com/sells-group/fandom-graph/internal/resilience"
)

var validate = validator.New()

// ValidateStruct checks s against its validate tags. The first violation is
// returned as a *resilience.ValidationError.
func ValidateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return resilience.NewValidationError("request", err.Error())
	}
	e := verrs[0]
	return resilience.NewValidationError(lowerFirst(e.Field()), fieldReason(e))
}

// ValidatePlan checks that plan has steps with unique ids and that every
// placeholder dependency names another step of the plan without forming a
// cycle.
func ValidatePlan(plan *model.Plan) error {
	if plan == nil || len(plan.Steps) == 0 {
		return resilience.NewValidationError("plan", "has no steps")
	}
	deps := make(map[string][]string, len(plan.Steps))
	for _, step := range plan.Steps {
		if strings.TrimSpace(step.StepID) == "" {
			return resilience.NewValidationError("plan", "step without id")
		}
		if _, dup := deps[step.StepID]; dup {
			return resilience.NewValidationError("plan", "duplicate step "+step.StepID)
		}
		deps[step.StepID] = step.DependsOn()
	}
	for _, step := range plan.Steps {
		for _, dep := range deps[step.StepID] {
			if _, ok := deps[dep]; !ok {
				return resilience.NewValidationError("plan", fmt.Sprintf("step %s depends on unknown step %s", step.StepID, dep))
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(deps))
	var visit func(id string) string
	visit = func(id string) string {
		switch state[id] {
		case visiting:
			return id
		case done:
			return ""
		}
		state[id] = visiting
		for _, dep := range deps[id] {
			if at := visit(dep); at != "" {
				return at
			}
		}
		state[id] = done
		return ""
	}
	for _, step := range plan.Steps {
		if at := visit(step.StepID); at != "" {
			return resilience.NewValidationError("plan", "dependency cycle at step "+at)
		}
	}
	return nil
}

func fieldReason(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", e.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be <= %s", e.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	default:
		return "is invalid"
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}
