package resolve

import (
	"errors"
	"fmt"

	"github.com/phobologic/pyistub/internal/model"
)

// ErrNoModuleName is returned when a unit has no module name override and no
// default module name was configured.
var ErrNoModuleName = errors.New("no module name: add #[pyo3(name = ...)] to the #[pymodule] or configure a default")

// DuplicateExportError reports two functions resolving to the same public
// name inside one module.
type DuplicateExportError struct {
	Module     string
	Name       string
	FirstUnit  string
	SecondUnit string
}

func (e *DuplicateExportError) Error() string {
	if e.FirstUnit == e.SecondUnit {
		return fmt.Sprintf("module %q: %q exported twice in %s", e.Module, e.Name, e.FirstUnit)
	}
	return fmt.Sprintf("module %q: %q exported by both %s and %s", e.Module, e.Name, e.FirstUnit, e.SecondUnit)
}

// ModuleSet is the aggregation result, keyed by resolved module name.
// Iteration follows the order in which modules were first seen.
type ModuleSet struct {
	order   []string
	modules map[string]*model.ModuleDescriptor
	// owner records which unit contributed each public name, per module.
	owner map[string]map[string]string
}

func newModuleSet() *ModuleSet {
	return &ModuleSet{
		modules: make(map[string]*model.ModuleDescriptor),
		owner:   make(map[string]map[string]string),
	}
}

// Names returns the module names in first-seen order.
func (s *ModuleSet) Names() []string {
	return append([]string(nil), s.order...)
}

// Get returns the descriptor for name.
func (s *ModuleSet) Get(name string) (model.ModuleDescriptor, bool) {
	m, ok := s.modules[name]
	if !ok {
		return model.ModuleDescriptor{}, false
	}
	return *m, true
}

// All returns every module descriptor in first-seen order.
func (s *ModuleSet) All() []model.ModuleDescriptor {
	out := make([]model.ModuleDescriptor, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, *s.modules[name])
	}
	return out
}

// Len returns the number of modules.
func (s *ModuleSet) Len() int {
	return len(s.order)
}

// Modules folds units, in the order given, into a ModuleSet. Units naming the
// same module are merged, earlier units' functions first. A repeated public
// name within a module fails the whole batch with *DuplicateExportError.
func Modules(units []model.ResolvedUnit, defaultName string) (*ModuleSet, error) {
	set := newModuleSet()
	for i := range units {
		if err := set.add(&units[i], defaultName); err != nil {
			return nil, err
		}
	}
	return set, nil
}

func (s *ModuleSet) add(u *model.ResolvedUnit, defaultName string) error {
	name := defaultName
	if u.Module.ModuleNameOverride != nil {
		name = *u.Module.ModuleNameOverride
	}
	if name == "" {
		return fmt.Errorf("%s: %w", u.Path, ErrNoModuleName)
	}

	m, ok := s.modules[name]
	if !ok {
		m = &model.ModuleDescriptor{ModuleName: name}
		s.modules[name] = m
		s.owner[name] = make(map[string]string)
		s.order = append(s.order, name)
	}
	owners := s.owner[name]

	for _, fn := range u.Functions {
		if first, dup := owners[fn.PublicName]; dup {
			return &DuplicateExportError{
				Module:     name,
				Name:       fn.PublicName,
				FirstUnit:  first,
				SecondUnit: u.Path,
			}
		}
		owners[fn.PublicName] = u.Path
		m.Functions = append(m.Functions, fn)
	}

	if len(m.Units) == 0 || m.Units[len(m.Units)-1] != u.Path {
		m.Units = append(m.Units, u.Path)
	}
	return nil
}
