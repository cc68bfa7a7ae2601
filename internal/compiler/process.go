package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/tempo/internal/ir"
)

// CompileProcess parses a CUE value into a ProcessDefinition.
//
// The value should be the process struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`process: Sleep: { ... }`)
//	def, err := CompileProcess(v.LookupPath(cue.ParsePath("process.Sleep")))
//
// Activities keep their CUE declaration order.
func CompileProcess(v cue.Value) (*ir.ProcessDefinition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	def := &ir.ProcessDefinition{}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		def.Key = labels[len(labels)-1].String()
	}
	keyVal := v.LookupPath(cue.ParsePath("key"))
	if keyVal.Exists() {
		key, err := keyVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		def.Key = key
	}
	if def.Key == "" {
		return nil, &CompileError{Field: "key", Message: "process key is required", Pos: v.Pos()}
	}

	startVal := v.LookupPath(cue.ParsePath("start"))
	if !startVal.Exists() {
		return nil, &CompileError{Field: "start", Message: "start is required", Pos: v.Pos()}
	}
	start, err := startVal.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	def.Start = start

	actVal := v.LookupPath(cue.ParsePath("activity"))
	if !actVal.Exists() {
		return nil, &CompileError{Field: "activity", Message: "at least one activity is required", Pos: v.Pos()}
	}
	iter, err := actVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		act, err := parseActivity(iter.Label(), iter.Value())
		if err != nil {
			return nil, err
		}
		def.Activities = append(def.Activities, act)
	}
	if len(def.Activities) == 0 {
		return nil, &CompileError{Field: "activity", Message: "at least one activity is required", Pos: actVal.Pos()}
	}

	return def, nil
}

func parseActivity(id string, v cue.Value) (ir.Activity, error) {
	act := ir.Activity{ID: id}
	field := "activity." + id

	kindVal := v.LookupPath(cue.ParsePath("kind"))
	if !kindVal.Exists() {
		return act, &CompileError{Field: field + ".kind", Message: "kind is required", Pos: v.Pos()}
	}
	kindStr, err := kindVal.String()
	if err != nil {
		return act, formatCUEError(err)
	}
	kind, err := ir.ParseKind(kindStr)
	if err != nil {
		return act, &CompileError{Field: field + ".kind", Message: err.Error(), Pos: kindVal.Pos()}
	}
	act.Kind = kind

	nextVal := v.LookupPath(cue.ParsePath("next"))
	if nextVal.Exists() {
		flows, err := parseFlows(field, nextVal)
		if err != nil {
			return act, err
		}
		act.Next = flows
	}

	if act.AttachedTo, err = optionalString(v, "attached_to"); err != nil {
		return act, err
	}
	if act.Duration, err = optionalString(v, "duration"); err != nil {
		return act, err
	}
	if act.EventName, err = optionalString(v, "event_name"); err != nil {
		return act, err
	}

	intVal := v.LookupPath(cue.ParsePath("interrupting"))
	if intVal.Exists() {
		b, err := intVal.Bool()
		if err != nil {
			return act, formatCUEError(err)
		}
		act.Interrupting = b
	}

	setVal := v.LookupPath(cue.ParsePath("set"))
	if setVal.Exists() {
		val, err := toValue(field+".set", setVal)
		if err != nil {
			return act, err
		}
		obj, ok := val.(ir.Object)
		if !ok {
			return act, &CompileError{Field: field + ".set", Message: "set must be a struct", Pos: setVal.Pos()}
		}
		act.Set = obj
	}

	return act, nil
}

// parseFlows accepts a list whose elements are either a target name or a
// struct with target, condition and default.
func parseFlows(field string, v cue.Value) ([]ir.Flow, error) {
	list, err := v.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var flows []ir.Flow
	for list.Next() {
		elem := list.Value()
		if target, err := elem.String(); err == nil {
			flows = append(flows, ir.Flow{Target: target})
			continue
		}

		targetVal := elem.LookupPath(cue.ParsePath("target"))
		if !targetVal.Exists() {
			return nil, &CompileError{
				Field:   field + ".next",
				Message: "flow must be a target name or a struct with target",
				Pos:     elem.Pos(),
			}
		}
		target, err := targetVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		flow := ir.Flow{Target: target}
		if flow.Condition, err = optionalString(elem, "condition"); err != nil {
			return nil, err
		}
		defVal := elem.LookupPath(cue.ParsePath("default"))
		if defVal.Exists() {
			b, err := defVal.Bool()
			if err != nil {
				return nil, formatCUEError(err)
			}
			flow.Default = b
		}
		flows = append(flows, flow)
	}
	return flows, nil
}

func optionalString(v cue.Value, path string) (string, error) {
	val := v.LookupPath(cue.ParsePath(path))
	if !val.Exists() {
		return "", nil
	}
	s, err := val.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	return s, nil
}

// toValue converts concrete CUE data into an ir.Value.
// Floats are forbidden: variables must replay byte-identically.
func toValue(field string, v cue.Value) (ir.Value, error) {
	switch v.IncompleteKind() {
	case cue.NullKind:
		return ir.Null{}, nil
	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.String(s), nil
	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Int(n), nil
	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Bool(b), nil
	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.Array{}
		for i := 0; iter.Next(); i++ {
			elem, err := toValue(fmt.Sprintf("%s[%d]", field, i), iter.Value())
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := ir.Object{}
		for iter.Next() {
			elem, err := toValue(field+"."+iter.Label(), iter.Value())
			if err != nil {
				return nil, err
			}
			obj[iter.Label()] = elem
		}
		return obj, nil
	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{Field: field, Message: "float values are forbidden, use int instead", Pos: v.Pos()}
	default:
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("unsupported value kind: %v", v.IncompleteKind()),
			Pos:     v.Pos(),
		}
	}
}

// CompileSource compiles every process in a CUE source document.
// filename is used for error positions only.
func CompileSource(filename string, src []byte) ([]ir.ProcessDefinition, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	return compileProcesses(v)
}

// CompileFile compiles every process in a single CUE file.
func CompileFile(path string) ([]ir.ProcessDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return CompileSource(path, data)
}

// CompileDir loads the CUE package in dir and compiles every process in it.
// Files must share a package clause.
func CompileDir(dir string) ([]ir.ProcessDefinition, error) {
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, fmt.Errorf("loading CUE files: %w", inst.Err)
	}
	v := cuecontext.New().BuildInstance(inst)
	return compileProcesses(v)
}

// compileProcesses compiles each field under the top-level "process" struct
// in declaration order.
func compileProcesses(v cue.Value) ([]ir.ProcessDefinition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	procs := v.LookupPath(cue.ParsePath("process"))
	if !procs.Exists() {
		return nil, &CompileError{Field: "process", Message: "no processes found", Pos: v.Pos()}
	}
	iter, err := procs.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var defs []ir.ProcessDefinition
	for iter.Next() {
		def, err := CompileProcess(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("process.%s: %w", iter.Label(), err)
		}
		defs = append(defs, *def)
	}
	return defs, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// First error with position info wins.
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
