package withlock

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Arg is one runtime argument of the wrapped operation.
type Arg struct {
	Name  string
	Value any
}

// Args are the operation's arguments in declaration order.
type Args []Arg

// A is shorthand for Arg{Name: name, Value: value}.
func A(name string, value any) Arg { return Arg{Name: name, Value: value} }

// Lookup finds an argument by name, then by position ("0", "arg0").
func (a Args) Lookup(ref string) (any, bool) {
	for _, arg := range a {
		if arg.Name != "" && arg.Name == ref {
			return arg.Value, true
		}
	}
	idx, ok := position(ref)
	if !ok || idx >= len(a) {
		return nil, false
	}
	return a[idx].Value, true
}

func position(ref string) (int, bool) {
	ref = strings.TrimPrefix(ref, "arg")
	n, err := strconv.Atoi(ref)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

var (
	ErrUnbalancedBrace = errors.New("unbalanced brace in key template")
	ErrUnknownArg      = errors.New("unknown argument in key template")
	ErrBadPath         = errors.New("cannot resolve field path in key template")
)

// ResolveKey substitutes every {expr} of template. expr is an argument
// reference optionally followed by a dotted path through struct fields and
// string-keyed maps, e.g. {dto.Cohort.Name}.
func ResolveKey(template string, args Args) (string, error) {
	var b strings.Builder
	rest := template
	for {
		open := strings.IndexAny(rest, "{}")
		if open < 0 {
			b.WriteString(rest)
			return b.String(), nil
		}
		if rest[open] == '}' {
			return "", fmt.Errorf("%w: %q", ErrUnbalancedBrace, template)
		}
		b.WriteString(rest[:open])
		rest = rest[open+1:]

		end := strings.IndexAny(rest, "{}")
		if end < 0 || rest[end] == '{' {
			return "", fmt.Errorf("%w: %q", ErrUnbalancedBrace, template)
		}
		val, err := evaluate(strings.TrimSpace(rest[:end]), args)
		if err != nil {
			return "", err
		}
		b.WriteString(val)
		rest = rest[end+1:]
	}
}

func evaluate(expr string, args Args) (string, error) {
	if expr == "" {
		return "", fmt.Errorf("%w: empty placeholder", ErrUnknownArg)
	}
	parts := strings.Split(expr, ".")
	v, ok := args.Lookup(parts[0])
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownArg, parts[0])
	}
	for _, field := range parts[1:] {
		next, err := step(v, field)
		if err != nil {
			return "", fmt.Errorf("%w: %q: %v", ErrBadPath, expr, err)
		}
		v = next
	}
	return stringify(v), nil
}

func step(v any, field string) (any, error) {
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, fmt.Errorf("nil value before %q", field)
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.Struct:
		sf, ok := rv.Type().FieldByName(field)
		if !ok || !sf.IsExported() {
			return nil, fmt.Errorf("no exported field %q in %s", field, rv.Type())
		}
		fv, err := rv.FieldByIndexErr(sf.Index)
		if err != nil {
			return nil, err
		}
		return fv.Interface(), nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("map key type %s is not a string", rv.Type().Key())
		}
		mv := rv.MapIndex(reflect.ValueOf(field).Convert(rv.Type().Key()))
		if !mv.IsValid() {
			return nil, fmt.Errorf("no map entry %q", field)
		}
		return mv.Interface(), nil
	case reflect.Invalid:
		return nil, fmt.Errorf("nil value before %q", field)
	default:
		return nil, fmt.Errorf("cannot select %q from %s", field, rv.Type())
	}
}

func stringify(v any) string {
	if v == nil {
		return "null"
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "null"
		}
		if _, ok := v.(fmt.Stringer); !ok {
			v = rv.Elem().Interface()
		}
	}
	return fmt.Sprint(v)
}
