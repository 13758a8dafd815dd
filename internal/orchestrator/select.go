package orchestrator

import (
	"sort"
	"strings"
)

// SelectTools returns the registered tools whose capability set intersects the
// requested capabilities, sorted by descending priority. Ties keep
// registration order. An empty request or no matches yields an empty list.
func (r *Registry) SelectTools(capabilities []string) []*Tool {
	if len(capabilities) == 0 {
		return []*Tool{}
	}

	wanted := make(map[string]struct{}, len(capabilities))
	for _, cap := range capabilities {
		wanted[strings.TrimSpace(cap)] = struct{}{}
	}

	selected := make([]*Tool, 0)
	for _, tool := range r.List() {
		for _, cap := range tool.Capabilities {
			if _, ok := wanted[cap]; ok {
				selected = append(selected, tool)
				break
			}
		}
	}

	sort.SliceStable(selected, func(i, j int) bool {
		if selected[i].Priority != selected[j].Priority {
			return selected[i].Priority > selected[j].Priority
		}
		return r.orderOf(selected[i].Name) < r.orderOf(selected[j].Name)
	})
	return selected
}

// executionWaves splits a batch into dependency levels: every tool in wave N
// depends only on tools in earlier waves. Dependencies outside the batch are
// assumed settled by the caller. A cycle inside the batch fails fast with a
// ValidationError before anything runs.
func executionWaves(tools []*Tool) ([][]int, error) {
	inBatch := make(map[string]int, len(tools))
	for i, tool := range tools {
		inBatch[tool.Name] = i
	}

	// Kahn's algorithm over in-batch edges only.
	indegree := make([]int, len(tools))
	dependents := make([][]int, len(tools))
	for i, tool := range tools {
		for _, dep := range tool.Dependencies {
			j, ok := inBatch[dep]
			if !ok || j == i {
				continue
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	frontier := make([]int, 0, len(tools))
	for i := range tools {
		if indegree[i] == 0 {
			frontier = append(frontier, i)
		}
	}

	waves := make([][]int, 0, 1)
	placed := 0
	for len(frontier) > 0 {
		wave := frontier
		waves = append(waves, wave)
		placed += len(wave)

		frontier = nil
		for _, idx := range wave {
			for _, dependent := range dependents[idx] {
				indegree[dependent]--
				if indegree[dependent] == 0 {
					frontier = append(frontier, dependent)
				}
			}
		}
	}

	if placed != len(tools) {
		cyclic := make([]string, 0)
		for i, tool := range tools {
			if indegree[i] > 0 {
				cyclic = append(cyclic, tool.Name)
			}
		}
		return nil, &ValidationError{
			Tool:   strings.Join(cyclic, ", "),
			Reason: "dependency cycle detected",
		}
	}
	return waves, nil
}
