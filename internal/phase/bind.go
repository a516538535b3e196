package phase

import (
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/assessd/internal/contract"
	"github.com/fyrsmithlabs/assessd/internal/runstate"
)

// bindInput builds a task's dispatch input: the declared input, then each
// binding resolved against earlier outputs of this phase or the run view.
func bindInput(t Task, outputs map[string]map[string]any, view runstate.Snapshot) (map[string]any, error) {
	input := make(map[string]any, len(t.Input)+len(t.Bind))
	for k, v := range t.Input {
		input[k] = runstate.CloneValue(v)
	}

	for field, b := range t.Bind {
		v, ok := resolveBinding(b.From, outputs, view)
		if !ok {
			return nil, &bindingError{Field: field, From: b.From}
		}
		input[field] = runstate.CloneValue(v)
	}
	return input, nil
}

// resolveBinding looks up from in task outputs first, then in the run view.
func resolveBinding(from string, outputs map[string]map[string]any, view runstate.Snapshot) (any, bool) {
	taskID, rest, _ := strings.Cut(from, ".")
	if i := strings.IndexByte(taskID, '['); i >= 0 {
		taskID, rest = taskID[:i], strings.TrimPrefix(from[i:], ".")
	}
	if out, ok := outputs[taskID]; ok {
		if rest == "" {
			return out, true
		}
		return walk(out, rest)
	}

	v, ok := view.Lookup(from)
	if !ok {
		return nil, false
	}
	if v.IsString {
		return v.Str, true
	}
	return v.Num, true
}

// walk resolves a path such as findings[2].severity against v.
func walk(v any, path string) (any, bool) {
	cur := v
	for path != "" {
		switch path[0] {
		case '.':
			path = path[1:]
		case '[':
			end := strings.IndexByte(path, ']')
			if end < 0 {
				return nil, false
			}
			idx, err := strconv.Atoi(path[1:end])
			if err != nil {
				return nil, false
			}
			arr, ok := contract.AsArray(cur)
			if !ok || idx < 0 || idx >= len(arr) {
				return nil, false
			}
			cur = arr[idx]
			path = path[end+1:]
		default:
			end := strings.IndexAny(path, ".[")
			if end < 0 {
				end = len(path)
			}
			obj, ok := cur.(map[string]any)
			if !ok {
				return nil, false
			}
			cur, ok = obj[path[:end]]
			if !ok {
				return nil, false
			}
			path = path[end:]
		}
	}
	return cur, true
}
