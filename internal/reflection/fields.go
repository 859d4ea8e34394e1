package reflection

import (
	"fmt"
	"reflect"
	"strings"
)

// TagName is the struct tag marking injectable fields.
const TagName = "weave"

// FieldInfo describes a struct field injected after construction.
//
//	Repo   Repository `weave:""`              // by type
//	Cache  *Cache     `weave:"sessionCache"`  // by bean name
//	Audit  Auditor    `weave:",optional"`     // by type, may be absent
type FieldInfo struct {
	Name     string
	Type     reflect.Type
	Index    []int
	Bean     string
	Optional bool
}

// InjectionPoints returns the tagged fields of the struct t points to.
// Non-struct types have none.
func (a *Analyzer) InjectionPoints(t reflect.Type) ([]FieldInfo, error) {
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return nil, nil
	}

	if cached, ok := a.fields.Load(t); ok {
		return cached.([]FieldInfo), nil
	}

	var points []FieldInfo
	for _, field := range reflect.VisibleFields(t.Elem()) {
		tag, ok := field.Tag.Lookup(TagName)
		if !ok || tag == "-" {
			continue
		}
		if !field.IsExported() {
			return nil, fmt.Errorf("field %s of %v is tagged %s but not exported", field.Name, t, TagName)
		}

		name, opts, _ := strings.Cut(tag, ",")
		info := FieldInfo{
			Name:  field.Name,
			Type:  field.Type,
			Index: field.Index,
			Bean:  strings.TrimSpace(name),
		}
		for _, opt := range strings.Split(opts, ",") {
			switch strings.TrimSpace(opt) {
			case "":
			case "optional":
				info.Optional = true
			default:
				return nil, fmt.Errorf("unknown %s tag option %q on field %s of %v", TagName, opt, field.Name, t)
			}
		}
		points = append(points, info)
	}

	a.fields.Store(t, points)
	return points, nil
}

// Inject resolves and sets every tagged field of target.
func (a *Analyzer) Inject(target any, resolver DependencyResolver) error {
	points, err := a.InjectionPoints(reflect.TypeOf(target))
	if err != nil || len(points) == 0 {
		return err
	}

	elem := reflect.ValueOf(target).Elem()
	for _, point := range points {
		var value any
		if point.Bean != "" {
			value, err = resolver.ResolveNamed(point.Bean, point.Type, point.Optional)
		} else {
			value, err = resolver.ResolveType(point.Type, point.Optional)
		}
		if err != nil {
			return fmt.Errorf("failed to inject field %s: %w", point.Name, err)
		}
		if value == nil {
			continue
		}

		v, err := Assignable(value, point.Type)
		if err != nil {
			return fmt.Errorf("failed to inject field %s: %w", point.Name, err)
		}
		elem.FieldByIndex(point.Index).Set(v)
	}

	return nil
}

// SetProperty sets the named property on target. A method Set<Name> taking
// one argument is preferred; otherwise the exported field Name is assigned.
func SetProperty(target any, name string, value any) error {
	tv := reflect.ValueOf(target)
	if !tv.IsValid() {
		return fmt.Errorf("cannot set property %q on nil target", name)
	}

	if m := tv.MethodByName("Set" + upperFirst(name)); m.IsValid() && m.Type().NumIn() == 1 {
		arg, err := Assignable(value, m.Type().In(0))
		if err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}
		out := m.Call([]reflect.Value{arg})
		if len(out) > 0 {
			if last := out[len(out)-1]; last.Type() == errType && !last.IsNil() {
				return last.Interface().(error)
			}
		}
		return nil
	}

	if tv.Kind() != reflect.Pointer || tv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("cannot set property %q on %v: no setter and not a struct pointer", name, tv.Type())
	}

	field := tv.Elem().FieldByName(upperFirst(name))
	if !field.IsValid() || !field.CanSet() {
		return fmt.Errorf("type %v has no writable property %q", tv.Type(), name)
	}

	v, err := Assignable(value, field.Type())
	if err != nil {
		return fmt.Errorf("property %q: %w", name, err)
	}
	field.Set(v)
	return nil
}

// PropertyType returns the type SetProperty would assign name as.
func PropertyType(target any, name string) (reflect.Type, bool) {
	tv := reflect.ValueOf(target)
	if !tv.IsValid() {
		return nil, false
	}
	if m := tv.MethodByName("Set" + upperFirst(name)); m.IsValid() && m.Type().NumIn() == 1 {
		return m.Type().In(0), true
	}
	if tv.Kind() != reflect.Pointer || tv.Elem().Kind() != reflect.Struct {
		return nil, false
	}
	field, ok := tv.Elem().Type().FieldByName(upperFirst(name))
	if !ok || !field.IsExported() {
		return nil, false
	}
	return field.Type, true
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
