package autoproxy

import (
	"context"
	"errors"
	"reflect"
	"regexp"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/junioryono/weave"
	"github.com/junioryono/weave/aop"
	"github.com/junioryono/weave/aop/aspect"
)

// NewBeanNameCreator returns a creator proxying the beans whose names match
// one of patterns with the common interceptors. Patterns are simple "*"
// globs; a factory bean itself is matched by patterns starting with "&".
func NewBeanNameCreator(patterns []string, opts ...Option) *Creator {
	return newCreator(&beanNameSource{patterns: slices.Clone(patterns)}, opts)
}

type beanNameSource struct {
	patterns []string
}

func (s *beanNameSource) advice(_ context.Context, _ *Creator, t reflect.Type, name string, _ aop.TargetSource) ([]any, bool, error) {
	isFactory := t != nil && t.Implements(factoryBeanType)
	for _, pattern := range s.patterns {
		if isFactory {
			if !strings.HasPrefix(pattern, weave.FactoryBeanPrefix) {
				continue
			}
			pattern = pattern[len(weave.FactoryBeanPrefix):]
		}
		if aop.SimpleMatch(pattern, name) {
			return nil, true, nil
		}
	}
	return nil, false, nil
}

func (s *beanNameSource) skip(context.Context, *Creator, reflect.Type, string) (bool, error) {
	return false, nil
}

func (s *beanNameSource) isInfrastructure(reflect.Type) bool { return false }

func (s *beanNameSource) preFiltered() bool { return false }

// AdvisorOption configures the advisor lookup of NewAdvisorCreator and
// NewAspectCreator.
type AdvisorOption func(*advisorSource)

// WithAdvisorBeanNamePrefix restricts the advisor beans considered to those
// whose names start with prefix.
func WithAdvisorBeanNamePrefix(prefix string) AdvisorOption {
	return func(s *advisorSource) {
		s.prefix = prefix
	}
}

// NewAdvisorCreator returns a creator applying the Advisor beans of the
// bean factory to every bean they match, sorted by order.
func NewAdvisorCreator(opts ...Option) *Creator {
	return NewAdvisorCreatorWith(nil, opts...)
}

// NewAdvisorCreatorWith is NewAdvisorCreator with advisor lookup options.
func NewAdvisorCreatorWith(advisorOpts []AdvisorOption, opts ...Option) *Creator {
	s := &advisorSource{}
	for _, opt := range advisorOpts {
		opt(s)
	}
	return newCreator(s, opts)
}

var advisorType = reflect.TypeFor[aop.Advisor]()

// advisorSource applies Advisor beans.
type advisorSource struct {
	prefix string

	mu    sync.Mutex
	names []string
	found bool

	// candidates extends the advisor beans with further advisors.
	candidates func(ctx context.Context, c *Creator) ([]aop.Advisor, error)
}

func (s *advisorSource) advice(ctx context.Context, c *Creator, t reflect.Type, name string, _ aop.TargetSource) ([]any, bool, error) {
	candidates, err := s.candidateAdvisors(ctx, c)
	if err != nil {
		return nil, false, err
	}

	eligible := aop.FindAdvisorsThatCanApply(candidates, t)
	if len(eligible) == 0 {
		return nil, false, nil
	}
	aop.SortAdvisors(eligible)

	out := make([]any, len(eligible))
	for i, a := range eligible {
		out[i] = a
	}
	return out, true, nil
}

func (s *advisorSource) skip(context.Context, *Creator, reflect.Type, string) (bool, error) {
	return false, nil
}

func (s *advisorSource) isInfrastructure(reflect.Type) bool { return false }

func (s *advisorSource) preFiltered() bool { return true }

func (s *advisorSource) candidateAdvisors(ctx context.Context, c *Creator) ([]aop.Advisor, error) {
	advisors, err := s.advisorBeans(ctx, c)
	if err != nil {
		return nil, err
	}
	if s.candidates != nil {
		more, err := s.candidates(ctx, c)
		if err != nil {
			return nil, err
		}
		advisors = append(advisors, more...)
	}
	return advisors, nil
}

// advisorBeans returns the Advisor beans, skipping those currently in
// creation. Their names are looked up once.
func (s *advisorSource) advisorBeans(ctx context.Context, c *Creator) ([]aop.Advisor, error) {
	beans := c.beanFactory()
	if beans == nil {
		return nil, nil
	}

	names, err := s.advisorBeanNames(ctx, beans)
	if err != nil {
		return nil, err
	}

	var advisors []aop.Advisor
	for _, name := range names {
		if beans.IsCurrentlyInCreation(name) {
			c.logger.Debug("skipping currently created advisor", zap.String("bean", name))
			continue
		}
		bean, err := beans.GetBean(ctx, name)
		if err != nil {
			if weave.IsCurrentlyInCreation(err) && inCreationBean(err) != name && beans.IsCurrentlyInCreation(inCreationBean(err)) {
				c.logger.Debug("skipping advisor with dependency on currently created bean",
					zap.String("bean", name), zap.Error(err))
				continue
			}
			return nil, err
		}
		advisor, ok := bean.(aop.Advisor)
		if !ok {
			return nil, weave.TypeMismatchError{Name: name, Expected: advisorType, Actual: reflect.TypeOf(bean)}
		}
		advisors = append(advisors, advisor)
	}
	return advisors, nil
}

func (s *advisorSource) advisorBeanNames(ctx context.Context, beans weave.BeanFactory) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.found {
		return s.names, nil
	}

	all, err := beans.GetBeanNamesForType(ctx, advisorType, true, false)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, name := range all {
		if s.prefix == "" || strings.HasPrefix(name, s.prefix) {
			names = append(names, name)
		}
	}
	s.names, s.found = names, true
	return names, nil
}

func inCreationBean(err error) string {
	var target weave.BeanCurrentlyInCreationError
	if errors.As(err, &target) {
		return target.Name
	}
	return ""
}

// AspectOption configures the aspect lookup of NewAspectCreator.
type AspectOption func(*aspectSource)

// WithIncludePatterns restricts the aspect beans considered to those whose
// names match one of the regular expressions.
func WithIncludePatterns(patterns ...*regexp.Regexp) AspectOption {
	return func(s *aspectSource) {
		s.include = slices.Clone(patterns)
	}
}

// WithAdvisorOptions applies advisor lookup options to the aspect creator.
func WithAdvisorOptions(opts ...AdvisorOption) AspectOption {
	return func(s *aspectSource) {
		for _, opt := range opts {
			opt(&s.advisorSource)
		}
	}
}

// NewAspectCreator returns a creator applying both the Advisor beans and
// the advice of the aspects declared in defs. Aspect beans themselves are
// never proxied.
func NewAspectCreator(defs *aspect.Definitions, opts ...Option) *Creator {
	return NewAspectCreatorWith(defs, nil, opts...)
}

// NewAspectCreatorWith is NewAspectCreator with aspect lookup options.
func NewAspectCreatorWith(defs *aspect.Definitions, aspectOpts []AspectOption, opts ...Option) *Creator {
	s := &aspectSource{defs: defs}
	for _, opt := range aspectOpts {
		opt(s)
	}
	s.candidates = s.aspectAdvisors
	return newCreator(s, opts)
}

// aspectSource applies Advisor beans and aspect advice.
type aspectSource struct {
	advisorSource

	defs    *aspect.Definitions
	include []*regexp.Regexp

	builderMu sync.Mutex
	builder   *aspect.Builder
}

func (s *aspectSource) aspectAdvisors(ctx context.Context, c *Creator) ([]aop.Advisor, error) {
	b := s.aspectBuilder(c)
	if b == nil {
		return nil, nil
	}
	return b.CollectAdvisors(ctx)
}

func (s *aspectSource) aspectBuilder(c *Creator) *aspect.Builder {
	s.builderMu.Lock()
	defer s.builderMu.Unlock()
	if s.builder != nil {
		return s.builder
	}
	beans := c.beanFactory()
	if beans == nil {
		return nil
	}
	s.builder = aspect.NewBuilder(beans, s.defs,
		aspect.WithLogger(c.logger),
		aspect.WithEligible(s.eligible),
	)
	return s.builder
}

func (s *aspectSource) eligible(name string) bool {
	if len(s.include) == 0 {
		return true
	}
	for _, re := range s.include {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

// skip excludes the aspect beans, whose advice would otherwise advise
// themselves.
func (s *aspectSource) skip(ctx context.Context, c *Creator, _ reflect.Type, name string) (bool, error) {
	candidates, err := s.candidateAdvisors(ctx, c)
	if err != nil {
		return false, err
	}
	for _, a := range candidates {
		if named, ok := a.(interface{ AspectName() string }); ok && named.AspectName() == name {
			return true, nil
		}
	}
	return false, nil
}

func (s *aspectSource) isInfrastructure(t reflect.Type) bool {
	return s.defs.IsAspect(t)
}
