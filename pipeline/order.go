// Package pipeline orders the declared step graph and submits a project's
// steps to the queue.
package pipeline

import (
	"fmt"

	"script-studio/config"
)

// ConfigError is a malformed step graph. It is fatal at load time and never
// retried.
type ConfigError struct {
	Step   string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("pipeline config: step %q: %s", e.Step, e.Reason)
}

// Order returns the step names so that every step follows all of its
// dependencies. Independent steps keep their declared order.
func Order(steps []config.Step) ([]string, error) {
	byName := make(map[string]config.Step, len(steps))
	for _, s := range steps {
		if _, dup := byName[s.Name]; dup {
			return nil, &ConfigError{Step: s.Name, Reason: "declared more than once"}
		}
		byName[s.Name] = s
	}
	for _, s := range steps {
		for _, dep := range s.DependsOn {
			if _, ok := byName[dep]; !ok {
				return nil, &ConfigError{Step: s.Name, Reason: fmt.Sprintf("depends on unknown step %q", dep)}
			}
		}
	}

	visiting := map[string]bool{}
	visited := map[string]bool{}
	order := make([]string, 0, len(steps))
	var dfs func(string) error
	dfs = func(name string) error {
		if visited[name] {
			return nil
		}
		if visiting[name] {
			return &ConfigError{Step: name, Reason: "dependency cycle"}
		}
		visiting[name] = true
		for _, dep := range byName[name].DependsOn {
			if err := dfs(dep); err != nil {
				return err
			}
		}
		visiting[name] = false
		visited[name] = true
		order = append(order, name)
		return nil
	}
	for _, s := range steps {
		if err := dfs(s.Name); err != nil {
			return nil, err
		}
	}
	return order, nil
}
