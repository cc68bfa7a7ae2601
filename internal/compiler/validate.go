package compiler

import (
	"fmt"

	"github.com/roach88/tempo/internal/driver"
	"github.com/roach88/tempo/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrUnknownKind = "E100" // kind is not a known activity kind

	// Start and structure (E101-E105)
	ErrStartMissing      = "E101" // start is required
	ErrStartUnknown      = "E102" // start names no activity
	ErrStartKind         = "E103" // start activity is not kind start
	ErrDuplicateActivity = "E104" // two activities share an id
	ErrNoActivities      = "E105" // process has no activities

	// Flows (E110-E114)
	ErrUnknownTarget     = "E110" // flow targets no activity
	ErrTimerTarget       = "E111" // boundary/event timers are never flow targets
	ErrExclusiveBranch   = "E112" // exclusive flow has neither condition nor default
	ErrExclusiveDefaults = "E113" // exclusive gateway has more than one default
	ErrEndHasNext        = "E114" // end activities have no outgoing flows

	// Events and timers (E120-E125)
	ErrAttachment       = "E120" // attached_to missing, unknown, or not attachable
	ErrUnexpectedAttach = "E121" // attached_to on a kind that cannot be attached
	ErrDuration         = "E122" // timer duration missing or unparseable
	ErrEventName        = "E123" // message/signal/receive activity without event_name
	ErrStartHasIncoming = "E124" // start activity is a flow target
)

// ValidationError represents a definition validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a compiled process definition.
// Returns all errors found (does not fail-fast), in declaration order.
func Validate(def *ir.ProcessDefinition) []ValidationError {
	var errs []ValidationError
	add := func(code, field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...), Code: code})
	}

	if len(def.Activities) == 0 {
		add(ErrNoActivities, "activity", "at least one activity is required")
	}

	byID := make(map[string]*ir.Activity, len(def.Activities))
	for i := range def.Activities {
		act := &def.Activities[i]
		if _, dup := byID[act.ID]; dup {
			add(ErrDuplicateActivity, "activity."+act.ID, "duplicate activity id %q", act.ID)
			continue
		}
		byID[act.ID] = act
	}

	switch start, ok := byID[def.Start]; {
	case def.Start == "":
		add(ErrStartMissing, "start", "start is required")
	case !ok:
		add(ErrStartUnknown, "start", "start activity %q is not defined", def.Start)
	case start.Kind != ir.KindStart:
		add(ErrStartKind, "start", "start activity %q has kind %s, want start", def.Start, start.Kind)
	}

	for i := range def.Activities {
		act := &def.Activities[i]
		field := "activity." + act.ID

		if _, err := ir.ParseKind(string(act.Kind)); err != nil {
			add(ErrUnknownKind, field+".kind", "%v", err)
			continue
		}

		errs = append(errs, validateFlows(act, field, byID)...)

		switch act.Kind {
		case ir.KindBoundaryTimer, ir.KindBoundaryError:
			host, ok := byID[act.AttachedTo]
			switch {
			case act.AttachedTo == "":
				add(ErrAttachment, field+".attached_to", "%s requires attached_to", act.Kind)
			case !ok:
				add(ErrAttachment, field+".attached_to", "host activity %q is not defined", act.AttachedTo)
			case !host.Kind.Attachable():
				add(ErrAttachment, field+".attached_to", "host activity %q has kind %s, which cannot carry boundary events", act.AttachedTo, host.Kind)
			}
		default:
			if act.AttachedTo != "" {
				add(ErrUnexpectedAttach, field+".attached_to", "kind %s cannot be attached", act.Kind)
			}
		}

		if act.Kind.IsTimer() {
			if act.Duration == "" {
				add(ErrDuration, field+".duration", "timer requires a duration")
			} else if _, err := driver.ParsePeriod(act.Duration); err != nil {
				add(ErrDuration, field+".duration", "%v", err)
			}
		}

		if act.Kind.IsEvent() && act.EventName == "" {
			add(ErrEventName, field+".event_name", "%s requires event_name", act.Kind)
		}
	}

	return errs
}

func validateFlows(act *ir.Activity, field string, byID map[string]*ir.Activity) []ValidationError {
	var errs []ValidationError
	add := func(code, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field + ".next", Message: fmt.Sprintf(format, args...), Code: code})
	}

	if act.Kind == ir.KindEnd && len(act.Next) > 0 {
		add(ErrEndHasNext, "end activity %q has outgoing flows", act.ID)
	}

	defaults := 0
	for _, f := range act.Next {
		target, ok := byID[f.Target]
		if !ok {
			add(ErrUnknownTarget, "flow target %q is not defined", f.Target)
			continue
		}
		switch target.Kind {
		case ir.KindBoundaryTimer, ir.KindEventTimer, ir.KindBoundaryError:
			add(ErrTimerTarget, "flow target %q has kind %s and cannot be entered", f.Target, target.Kind)
		case ir.KindStart:
			add(ErrStartHasIncoming, "flow target %q is a start activity", f.Target)
		}
		if act.Kind == ir.KindExclusive {
			if f.Default {
				defaults++
			} else if f.Condition == "" {
				add(ErrExclusiveBranch, "flow to %q needs a condition or default", f.Target)
			}
		}
	}
	if defaults > 1 {
		add(ErrExclusiveDefaults, "exclusive gateway %q has %d default flows", act.ID, defaults)
	}
	return errs
}
