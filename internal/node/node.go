// Package node implements the NodeDefinition / ParameterSpec data
// model and the tagged ParameterKind variant the design notes call
// for, replacing the source's string-keyed parameter-type factory.
package node

import (
	"fmt"
	"strconv"

	"github.com/roboswarm/satellite/internal/errs"
	"github.com/roboswarm/satellite/internal/wire"
)

// Kind is a tagged variant over the parameter types a node's
// ParameterSpec can declare. Each Kind carries its own validator and
// default-coercion rule via the registry below.
type Kind int

const (
	Int Kind = iota
	Str
	Float
	Bool
	File
)

func (k Kind) String() string {
	switch k {
	case Int:
		return "int"
	case Str:
		return "string"
	case Float:
		return "float"
	case Bool:
		return "bool"
	case File:
		return "file"
	default:
		return "unknown"
	}
}

// ParseKind maps a kind's wire/string name back to its Kind value, the
// inverse of Kind.String. Used when a ParameterSpec arrives off the
// metadata link as a string-tagged kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "int":
		return Int, nil
	case "string":
		return Str, nil
	case "float":
		return Float, nil
	case "bool":
		return Bool, nil
	case "file":
		return File, nil
	default:
		return 0, errs.New(errs.Internal, "unknown parameter kind "+s)
	}
}

// ParameterSpec is the typed schema for one node parameter.
type ParameterSpec struct {
	Name     string
	Kind     Kind
	Optional bool
	// Default is the raw string form of the default value. It must be
	// present and type-check against Kind whenever Optional is true.
	Default string
}

// Definition describes one kind of node a container can load.
type Definition struct {
	Package    string
	Executable string
	Parameters []ParameterSpec
}

// validator checks that raw type-checks against a Kind and returns its
// canonical string form (unchanged for Str and File, normalized for
// Int/Float/Bool).
type validator func(raw string) (string, error)

var validators = map[Kind]validator{
	Int: func(raw string) (string, error) {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(n, 10), nil
	},
	Str: func(raw string) (string, error) { return raw, nil },
	Float: func(raw string) (string, error) {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return "", err
		}
		return strconv.FormatFloat(f, 'g', -1, 64), nil
	},
	Bool: func(raw string) (string, error) {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return "", err
		}
		return strconv.FormatBool(b), nil
	},
	File: func(raw string) (string, error) { return raw, nil },
}

// ValidateSpec checks the invariant that an optional ParameterSpec
// must carry a default that type-checks against its Kind.
func ValidateSpec(spec ParameterSpec) error {
	if !spec.Optional {
		return nil
	}
	if spec.Default == "" {
		return errs.New(errs.Internal, fmt.Sprintf("parameter %q marked optional with no default", spec.Name))
	}
	v, ok := validators[spec.Kind]
	if !ok {
		return errs.New(errs.Internal, fmt.Sprintf("no validator registered for parameter kind %v", spec.Kind))
	}
	if _, err := v(spec.Default); err != nil {
		return errs.New(errs.Internal, fmt.Sprintf("default for parameter %q does not type-check against %v: %v", spec.Name, spec.Kind, err))
	}
	return nil
}

// Resolve type-checks a caller-supplied raw config against specs,
// applies defaults for absent optional parameters, and returns the
// fully-resolved parameter list ready to forward to a container. It
// fails with InvalidRequest on any unknown parameter name, missing
// required parameter, or type mismatch.
func Resolve(specs []ParameterSpec, config map[string]string) ([]wire.ResolvedParameter, error) {
	known := make(map[string]ParameterSpec, len(specs))
	for _, s := range specs {
		known[s.Name] = s
	}
	for name := range config {
		if _, ok := known[name]; !ok {
			return nil, errs.New(errs.InvalidRequest, fmt.Sprintf("unknown parameter %q", name))
		}
	}

	resolved := make([]wire.ResolvedParameter, 0, len(specs))
	for _, spec := range specs {
		v, ok := validators[spec.Kind]
		if !ok {
			return nil, errs.New(errs.Internal, fmt.Sprintf("no validator registered for parameter kind %v", spec.Kind))
		}

		raw, supplied := config[spec.Name]
		if !supplied {
			if !spec.Optional {
				return nil, errs.New(errs.InvalidRequest, fmt.Sprintf("missing required parameter %q", spec.Name))
			}
			raw = spec.Default
		}

		canonical, err := v(raw)
		if err != nil {
			return nil, errs.New(errs.InvalidRequest, fmt.Sprintf("parameter %q does not type-check as %v: %v", spec.Name, spec.Kind, err))
		}
		resolved = append(resolved, wire.ResolvedParameter{
			Name:  spec.Name,
			Kind:  spec.Kind.String(),
			Value: canonical,
		})
	}
	return resolved, nil
}
