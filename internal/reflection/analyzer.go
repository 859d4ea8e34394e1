// Package reflection analyzes bean constructors and injectable struct fields.
package reflection

import (
	"fmt"
	"reflect"
	"strconv"
	"sync"
)

// In marks a parameter object. A constructor taking a single struct that
// embeds In has each exported field resolved as a dependency.
type In struct{}

var (
	inType  = reflect.TypeOf(In{})
	errType = reflect.TypeOf((*error)(nil)).Elem()
)

// Analyzer performs reflection-based analysis of constructors.
// It caches analysis results per function type.
type Analyzer struct {
	mu    sync.RWMutex
	cache map[reflect.Type]*ConstructorInfo

	fields sync.Map // map[reflect.Type][]FieldInfo
}

// ConstructorInfo contains analyzed information about a constructor
// signature. It holds no function value; callers invoke their own.
type ConstructorInfo struct {
	Type           reflect.Type
	Parameters     []ParameterInfo
	ResultType     reflect.Type
	IsParamObject  bool // single parameter embedding In
	HasErrorReturn bool // returns error as last value
}

// ParameterInfo describes a constructor parameter or a field of an In struct.
type ParameterInfo struct {
	Type     reflect.Type
	Name     string // field name for In structs
	Bean     string // from name:"bean" tag
	Index    int    // parameter index or field index
	Optional bool   // from optional:"true" tag
}

// New creates a new Analyzer.
func New() *Analyzer {
	return &Analyzer{
		cache: make(map[reflect.Type]*ConstructorInfo),
	}
}

// Analyze analyzes a constructor function and extracts dependency information.
//
// A constructor returns exactly one value, optionally followed by an error.
func (a *Analyzer) Analyze(constructor any) (*ConstructorInfo, error) {
	if constructor == nil {
		return nil, fmt.Errorf("constructor cannot be nil")
	}

	val := reflect.ValueOf(constructor)
	typ := val.Type()
	if typ.Kind() != reflect.Func {
		return nil, fmt.Errorf("constructor must be a function, got %v", typ)
	}
	if val.IsNil() {
		return nil, fmt.Errorf("constructor cannot be nil")
	}

	a.mu.RLock()
	if cached, ok := a.cache[typ]; ok {
		a.mu.RUnlock()
		return cached, nil
	}
	a.mu.RUnlock()

	info := &ConstructorInfo{Type: typ}

	if err := a.analyzeReturns(info); err != nil {
		return nil, fmt.Errorf("failed to analyze returns: %w", err)
	}

	if err := a.analyzeParameters(info); err != nil {
		return nil, fmt.Errorf("failed to analyze parameters: %w", err)
	}

	a.mu.Lock()
	a.cache[typ] = info
	a.mu.Unlock()

	return info, nil
}

// ResultType returns the type a constructor produces.
func (a *Analyzer) ResultType(constructor any) (reflect.Type, error) {
	info, err := a.Analyze(constructor)
	if err != nil {
		return nil, err
	}
	return info.ResultType, nil
}

func (a *Analyzer) analyzeReturns(info *ConstructorInfo) error {
	fnType := info.Type

	switch fnType.NumOut() {
	case 1:
	case 2:
		if fnType.Out(1) != errType {
			return fmt.Errorf("second return value must be error, got %v", fnType.Out(1))
		}
		info.HasErrorReturn = true
	default:
		return fmt.Errorf("constructor must return 1 or 2 values, got %d", fnType.NumOut())
	}

	if fnType.Out(0) == errType {
		return fmt.Errorf("constructor only returns error")
	}

	info.ResultType = fnType.Out(0)
	return nil
}

func (a *Analyzer) analyzeParameters(info *ConstructorInfo) error {
	fnType := info.Type

	if fnType.IsVariadic() {
		return fmt.Errorf("variadic constructors are not supported")
	}

	if fnType.NumIn() == 1 && hasEmbeddedIn(fnType.In(0)) {
		info.IsParamObject = true
		return a.analyzeParamObject(info, fnType.In(0))
	}

	info.Parameters = make([]ParameterInfo, fnType.NumIn())
	for i := 0; i < fnType.NumIn(); i++ {
		info.Parameters[i] = ParameterInfo{
			Type:  fnType.In(i),
			Index: i,
		}
	}

	return nil
}

func (a *Analyzer) analyzeParamObject(info *ConstructorInfo, structType reflect.Type) error {
	if structType.Kind() == reflect.Pointer {
		return fmt.Errorf("In parameter must be a struct value, got %v", structType)
	}

	params := make([]ParameterInfo, 0, structType.NumField())
	for i := 0; i < structType.NumField(); i++ {
		field := structType.Field(i)

		if !field.IsExported() {
			continue
		}
		if field.Anonymous && field.Type == inType {
			continue
		}

		param := ParameterInfo{
			Type:  field.Type,
			Name:  field.Name,
			Bean:  field.Tag.Get("name"),
			Index: i,
		}

		if val, ok := field.Tag.Lookup("optional"); ok {
			optional, err := strconv.ParseBool(val)
			if err != nil {
				return fmt.Errorf("invalid optional tag %q on field %s: %w", val, field.Name, err)
			}
			param.Optional = optional
		}

		params = append(params, param)
	}

	info.Parameters = params
	return nil
}

// Clear clears the analysis cache.
func (a *Analyzer) Clear() {
	a.mu.Lock()
	a.cache = make(map[reflect.Type]*ConstructorInfo)
	a.mu.Unlock()

	a.fields.Range(func(key, _ any) bool {
		a.fields.Delete(key)
		return true
	})
}

// CacheSize returns the number of cached constructor analyses.
func (a *Analyzer) CacheSize() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.cache)
}

func hasEmbeddedIn(t reflect.Type) bool {
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return false
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.Anonymous && field.Type == inType {
			return true
		}
	}
	return false
}
