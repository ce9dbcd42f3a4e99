package integrators

import (
	"fmt"
	"sort"

	"github.com/san-kum/reactorsim/internal/sim"
)

var registry = map[string]func() sim.Integrator{
	"euler": func() sim.Integrator { return NewEuler() },
	"rk4":   func() sim.Integrator { return NewRK4() },
}

// Lookup returns a fresh integrator by name.
func Lookup(name string) (sim.Integrator, error) {
	fn, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown integrator: %s (available: %v)", name, Names())
	}
	return fn(), nil
}

func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
