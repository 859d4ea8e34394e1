// Package config reads bean definitions from YAML documents.
//
// A document lists beans under the beans key. Each bean names a kind, a
// constructor registered with the Reader beforehand:
//
//	beans:
//	  - name: orders
//	    kind: orders.service
//	    scope: prototype
//	    depends-on: [auditLog]
//	    properties:
//	      Prefix: "ord-"
//	      Repository: { ref: orderRepository }
//	    init-method: Start
//	    destroy-method: Stop
//
// Properties are applied in document order. A property whose value is a
// mapping with a single ref key injects the named bean.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"sync"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/junioryono/weave"
)

var (
	// ErrUnknownKind is returned for beans whose kind was never registered.
	ErrUnknownKind = errors.New("unknown bean kind")

	// ErrMissingKind is returned for beans without a kind.
	ErrMissingKind = errors.New("bean kind is required")
)

// Registry receives the definitions a Reader loads. *weave.Container
// implements it.
type Registry interface {
	RegisterBeanDefinition(def *weave.BeanDefinition) error
}

// Option configures a Reader.
type Option func(*Reader)

// WithLogger sets the logger loaded definitions are reported to.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Reader) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Reader loads YAML bean definitions into a registry.
type Reader struct {
	registry Registry
	logger   *zap.Logger

	mu    sync.RWMutex
	kinds map[string]any
}

// NewReader returns a reader registering definitions with registry.
func NewReader(registry Registry, opts ...Option) *Reader {
	r := &Reader{
		registry: registry,
		logger:   zap.NewNop(),
		kinds:    make(map[string]any),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterKind makes constructor available to documents under kind.
// The constructor follows the rules of weave.BeanDefinition.
func (r *Reader) RegisterKind(kind string, constructor any) error {
	if kind == "" {
		return errors.New("config: kind must not be empty")
	}
	if t := reflect.TypeOf(constructor); t == nil || t.Kind() != reflect.Func {
		return fmt.Errorf("config: constructor for kind %q must be a function, got %T", kind, constructor)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[kind] = constructor
	return nil
}

// LoadFile loads the definitions of the YAML file at path.
func (r *Reader) LoadFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n, err := r.Load(f)
	if err != nil {
		return n, fmt.Errorf("config: %s: %w", path, err)
	}
	return n, nil
}

// Load reads every YAML document from in and registers the beans they
// declare. It returns how many definitions were registered. Loading stops
// at the first invalid bean; the beans before it stay registered.
func (r *Reader) Load(in io.Reader) (int, error) {
	dec := yaml.NewDecoder(in)
	dec.KnownFields(true)

	count := 0
	for {
		var doc document
		if err := dec.Decode(&doc); err != nil {
			if errors.Is(err, io.EOF) {
				return count, nil
			}
			return count, weave.BeanDefinitionError{Cause: err}
		}

		for _, entry := range doc.Beans {
			def, err := r.definition(entry)
			if err != nil {
				return count, weave.BeanDefinitionError{Name: entry.Name, Cause: err}
			}
			if err := r.registry.RegisterBeanDefinition(def); err != nil {
				return count, err
			}
			count++
			r.logger.Debug("loaded bean definition",
				zap.String("bean", def.Name),
				zap.String("kind", entry.Kind),
				zap.Stringer("scope", def.Scope),
			)
		}
	}
}

type document struct {
	Beans []beanEntry `yaml:"beans"`
}

type beanEntry struct {
	Name          string         `yaml:"name"`
	Kind          string         `yaml:"kind"`
	Scope         weave.Scope    `yaml:"scope"`
	LazyInit      bool           `yaml:"lazy-init"`
	DependsOn     []string       `yaml:"depends-on"`
	Primary       bool           `yaml:"primary"`
	Properties    yaml.Node      `yaml:"properties"`
	InitMethod    string         `yaml:"init-method"`
	DestroyMethod string         `yaml:"destroy-method"`
	Attributes    map[string]any `yaml:"attributes"`
}

func (r *Reader) definition(entry beanEntry) (*weave.BeanDefinition, error) {
	if entry.Kind == "" {
		return nil, ErrMissingKind
	}
	r.mu.RLock()
	constructor, ok := r.kinds[entry.Kind]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownKind, entry.Kind)
	}

	properties, err := propertyValues(&entry.Properties)
	if err != nil {
		return nil, err
	}

	def := &weave.BeanDefinition{
		Name:        entry.Name,
		Constructor: constructor,
		Scope:       entry.Scope,
		LazyInit:    entry.LazyInit,
		DependsOn:   entry.DependsOn,
		Primary:     entry.Primary,
		Properties:  properties,
		Attributes:  entry.Attributes,
	}
	if entry.InitMethod != "" {
		def.InitMethod = weave.MethodNamed(entry.InitMethod)
	}
	if entry.DestroyMethod != "" {
		def.DestroyMethod = weave.MethodNamed(entry.DestroyMethod)
	}
	return def, nil
}

type reference struct {
	Ref string `yaml:"ref"`
}

// propertyValues decodes the properties mapping, keeping document order.
func propertyValues(node *yaml.Node) ([]weave.PropertyValue, error) {
	if node.Kind == 0 {
		return nil, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: properties must be a mapping", node.Line)
	}

	out := make([]weave.PropertyValue, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		pv := weave.PropertyValue{Name: key.Value}

		if isReference(value) {
			var ref reference
			if err := value.Decode(&ref); err != nil {
				return nil, err
			}
			pv.Ref = ref.Ref
		} else if err := value.Decode(&pv.Value); err != nil {
			return nil, fmt.Errorf("property %q: %w", key.Value, err)
		}
		out = append(out, pv)
	}
	return out, nil
}

func isReference(node *yaml.Node) bool {
	return node.Kind == yaml.MappingNode && len(node.Content) == 2 && node.Content[0].Value == "ref"
}
