package engine

import (
	"fmt"

	"github.com/haasonsaas/convo/pkg/models"
)

// Slice extends the reducer pipeline with a named state partition. Slices
// run after the core reducer, in declaration order, and may observe core
// events as well as their own.
type Slice struct {
	// Name keys the slice's state partition; must be unique.
	Name string

	// InitialState produces the partition's initial value. Nil means the
	// partition starts absent.
	InitialState func() any

	// EventSchemas maps the slice's event types to JSON Schema documents
	// used for ingress validation.
	EventSchemas map[models.EventType]string

	// DependsOn names the slices whose partitions this reducer reads.
	DependsOn []string

	// Reduce folds one event into the partition. The returned patch
	// shallow-merges onto the current partition value: two maps merge
	// key-wise, anything else replaces. A nil patch leaves the partition
	// unchanged.
	Reduce func(view SliceView, ev models.Event) (any, error)
}

// SliceView is what a slice reducer sees: the merged state after the core
// reducer and all earlier slices, its own partition, and the partitions of
// its declared dependencies.
type SliceView struct {
	State *models.ReducedState
	Own   any
	Deps  map[string]any
}

// validateSlices checks name uniqueness and dependency well-formedness,
// including cycles.
func validateSlices(slices []Slice) error {
	index := make(map[string]int, len(slices))
	for i, s := range slices {
		if s.Name == "" {
			return fmt.Errorf("%w: slice %d has no name", ErrDuplicateSlice, i)
		}
		if _, dup := index[s.Name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateSlice, s.Name)
		}
		index[s.Name] = i
	}

	for _, s := range slices {
		for _, dep := range s.DependsOn {
			if _, ok := index[dep]; !ok {
				return fmt.Errorf("%w: %q depends on %q", ErrUnknownSliceDep, s.Name, dep)
			}
		}
	}

	// Cycle detection over the dependency edges.
	const (
		unvisited = 0
		visiting  = 1
		done      = 2
	)
	marks := make(map[string]int, len(slices))
	var visit func(name string) error
	visit = func(name string) error {
		switch marks[name] {
		case visiting:
			return fmt.Errorf("%w: involving %q", ErrCircularSliceDep, name)
		case done:
			return nil
		}
		marks[name] = visiting
		for _, dep := range slices[index[name]].DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		marks[name] = done
		return nil
	}
	for _, s := range slices {
		if err := visit(s.Name); err != nil {
			return err
		}
	}
	return nil
}

// initialSlicePartitions builds the Slices map from the registered slices.
func initialSlicePartitions(slices []Slice) map[string]any {
	parts := map[string]any{}
	for _, s := range slices {
		if s.InitialState != nil {
			parts[s.Name] = s.InitialState()
		}
	}
	return parts
}

// mergeSlicePatch shallow-merges a reducer patch onto the current
// partition value.
func mergeSlicePatch(current, patch any) any {
	if patch == nil {
		return current
	}
	currentMap, okCur := current.(map[string]any)
	patchMap, okPatch := patch.(map[string]any)
	if !okCur || !okPatch {
		return patch
	}
	merged := make(map[string]any, len(currentMap)+len(patchMap))
	for k, v := range currentMap {
		merged[k] = v
	}
	for k, v := range patchMap {
		merged[k] = v
	}
	return merged
}
