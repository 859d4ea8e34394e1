package reflection

import (
	"fmt"
	"reflect"
)

// DependencyResolver resolves constructor parameters and injected fields.
// Implementations return nil without error for a missing optional dependency.
type DependencyResolver interface {
	ResolveType(t reflect.Type, optional bool) (any, error)
	ResolveNamed(name string, t reflect.Type, optional bool) (any, error)
}

// ConstructorInvoker invokes constructors with resolved dependencies.
type ConstructorInvoker struct {
	analyzer *Analyzer
}

// NewConstructorInvoker creates a new constructor invoker.
func NewConstructorInvoker(analyzer *Analyzer) *ConstructorInvoker {
	return &ConstructorInvoker{analyzer: analyzer}
}

// Invoke calls constructor, analyzed as info, with resolved dependencies
// and returns the constructed value. An error returned by the constructor
// is returned as is.
func (ci *ConstructorInvoker) Invoke(constructor any, info *ConstructorInfo, resolver DependencyResolver) (any, error) {
	fn := reflect.ValueOf(constructor)
	if !fn.IsValid() || fn.Type() != info.Type {
		return nil, fmt.Errorf("constructor %T does not match analyzed type %v", constructor, info.Type)
	}

	args, err := ci.buildArguments(info, resolver)
	if err != nil {
		return nil, err
	}

	results := fn.Call(args)

	if info.HasErrorReturn {
		if errVal := results[1]; !errVal.IsNil() {
			return nil, errVal.Interface().(error)
		}
	}

	return results[0].Interface(), nil
}

func (ci *ConstructorInvoker) buildArguments(info *ConstructorInfo, resolver DependencyResolver) ([]reflect.Value, error) {
	if info.IsParamObject {
		paramValue, err := ci.buildParamObject(info, resolver)
		if err != nil {
			return nil, err
		}
		return []reflect.Value{paramValue}, nil
	}

	args := make([]reflect.Value, len(info.Parameters))
	for i, param := range info.Parameters {
		value, err := resolveParameter(param, resolver)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve parameter %d (%v): %w", i, param.Type, err)
		}
		args[i] = value
	}

	return args, nil
}

func (ci *ConstructorInvoker) buildParamObject(info *ConstructorInfo, resolver DependencyResolver) (reflect.Value, error) {
	structValue := reflect.New(info.Type.In(0)).Elem()

	for _, param := range info.Parameters {
		value, err := resolveParameter(param, resolver)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("failed to resolve field %s: %w", param.Name, err)
		}
		structValue.Field(param.Index).Set(value)
	}

	return structValue, nil
}

func resolveParameter(param ParameterInfo, resolver DependencyResolver) (reflect.Value, error) {
	var (
		value any
		err   error
	)
	if param.Bean != "" {
		value, err = resolver.ResolveNamed(param.Bean, param.Type, param.Optional)
	} else {
		value, err = resolver.ResolveType(param.Type, param.Optional)
	}
	if err != nil {
		return reflect.Value{}, err
	}

	return Assignable(value, param.Type)
}

// Assignable converts value into a reflect.Value assignable to t. A nil value
// becomes the zero value of t.
func Assignable(value any, t reflect.Type) (reflect.Value, error) {
	if value == nil {
		return reflect.Zero(t), nil
	}

	v := reflect.ValueOf(value)
	if v.Type().AssignableTo(t) {
		return v, nil
	}
	if convertible(v.Type(), t) {
		return v.Convert(t), nil
	}

	return reflect.Value{}, fmt.Errorf("value of type %v is not assignable to %v", v.Type(), t)
}

// convertible allows the conversions configuration values need: between
// numeric kinds and between string kinds.
func convertible(from, to reflect.Type) bool {
	if !from.ConvertibleTo(to) {
		return false
	}
	switch {
	case isNumeric(from.Kind()) && isNumeric(to.Kind()):
		return true
	case from.Kind() == reflect.String && to.Kind() == reflect.String:
		return true
	}
	return false
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
