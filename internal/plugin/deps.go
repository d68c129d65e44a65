package plugin

import (
	"sort"

	"github.com/corralhq/corral/pkg/faults"
	"github.com/corralhq/corral/pkg/models"
)

// ResolveDependencies orders plugins so every capability provider loads
// before its consumers. The order is deterministic: among equally-eligible
// plugins, lower LoadPriority loads first, ties broken by plugin id.
//
// A capability claimed by more than one plugin is a conflict, a required
// capability nobody provides is not found, and a dependency cycle is a
// conflict naming the plugins involved.
func ResolveDependencies(manifests []models.PluginManifest) ([]string, error) {
	providers := make(map[string]string, len(manifests))
	for i := range manifests {
		m := &manifests[i]
		for _, cap := range m.Provides {
			if other, taken := providers[cap]; taken {
				return nil, faults.New(faults.Conflict, "capability %q is provided by both %s and %s", cap, other, m.ID)
			}
			providers[cap] = m.ID
		}
	}

	byID := make(map[string]*models.PluginManifest, len(manifests))
	indegree := make(map[string]int, len(manifests))
	dependents := make(map[string][]string)
	for i := range manifests {
		m := &manifests[i]
		byID[m.ID] = m
		indegree[m.ID] = 0
	}

	for i := range manifests {
		m := &manifests[i]
		for _, req := range m.Requires {
			provider, ok := providers[req]
			if !ok {
				return nil, faults.New(faults.NotFound, "plugin %s requires capability %q which no plugin provides", m.ID, req)
			}
			if provider == m.ID {
				continue
			}
			dependents[provider] = append(dependents[provider], m.ID)
			indegree[m.ID]++
		}
	}

	// Kahn's algorithm with a sorted ready set keeps the order stable
	// across runs.
	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(manifests))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool {
			a, b := byID[ready[i]], byID[ready[j]]
			if a.LoadPriority != b.LoadPriority {
				return a.LoadPriority < b.LoadPriority
			}
			return a.ID < b.ID
		})

		next := ready[0]
		ready = ready[1:]
		order = append(order, next)

		for _, dep := range dependents[next] {
			indegree[dep]--
			if indegree[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(manifests) {
		var stuck []string
		for id, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, faults.New(faults.Conflict, "dependency cycle among plugins %v", stuck)
	}

	return order, nil
}
