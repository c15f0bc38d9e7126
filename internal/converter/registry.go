package converter

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ah-its-andy/mediaconv/internal/media"
)

var (
	registry = make(map[media.OperationKind]Operation)
	mu       sync.RWMutex
)

func init() {
	RegisterBuiltinOperations()
}

// Register adds op to the global registry, replacing any previous
// implementation for the same kind
func Register(op Operation) {
	mu.Lock()
	defer mu.Unlock()
	registry[op.Kind()] = op
}

// Get retrieves an operation by kind
func Get(kind media.OperationKind) (Operation, bool) {
	mu.RLock()
	defer mu.RUnlock()
	op, ok := registry[kind]
	return op, ok
}

// Lookup is Get with a ValidationError for unknown kinds
func Lookup(kind media.OperationKind) (Operation, error) {
	op, ok := Get(kind)
	if !ok {
		return nil, &media.ValidationError{Field: "operation", Reason: fmt.Sprintf("unsupported operation %q", kind)}
	}
	return op, nil
}

// ListInfo returns information about all registered operations, sorted by kind
func ListInfo() []OperationInfo {
	mu.RLock()
	defer mu.RUnlock()
	infos := make([]OperationInfo, 0, len(registry))
	for kind, op := range registry {
		infos = append(infos, OperationInfo{Kind: kind, Formats: op.Formats()})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Kind > infos[j].Kind })
	return infos
}
