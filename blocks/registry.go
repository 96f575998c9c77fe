package blocks

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/chainflow/types"
	"github.com/BaSui01/chainflow/workflow"
)

// Registry maps block-type identifiers to their handlers. It implements
// workflow.BlockCatalog so the validator can reject unknown types and check
// config schemas before an execution exists.
type Registry struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register registers a handler for its block type.
func (r *Registry) Register(handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	blockType := handler.BlockType()
	if _, exists := r.handlers[blockType]; exists {
		return fmt.Errorf("handler for block type %q is already registered", blockType)
	}
	r.handlers[blockType] = handler
	return nil
}

// MustRegister registers a handler, panicking on duplicate registration.
// Used only for the static catalog at process start.
func (r *Registry) MustRegister(handler Handler) {
	if err := r.Register(handler); err != nil {
		panic(err)
	}
}

// Resolve returns the handler for a block type.
func (r *Registry) Resolve(blockType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[blockType]
	if !ok {
		return nil, types.NewError(types.ErrBlockNotFound,
			fmt.Sprintf("no handler registered for block type %q", blockType))
	}
	return handler, nil
}

// Describe implements workflow.BlockCatalog.
func (r *Registry) Describe(blockType string) (workflow.BlockInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[blockType]
	if !ok {
		return workflow.BlockInfo{}, false
	}
	return handler.Info(), true
}

// BlockTypes returns the registered block-type identifiers.
func (r *Registry) BlockTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for bt := range r.handlers {
		out = append(out, bt)
	}
	return out
}

// DefaultRegistryDeps carries the side-effect capabilities the built-in
// catalog needs. Leaving a field nil skips the blocks that require it.
type DefaultRegistryDeps struct {
	Mailer    Mailer
	Submitter TxSubmitter
	Logger    *zap.Logger
}

// NewDefaultRegistry builds the static catalog of built-in blocks.
func NewDefaultRegistry(deps DefaultRegistryDeps) *Registry {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	r := NewRegistry()
	r.MustRegister(NewTriggerBlock())
	r.MustRegister(NewConditionBlock())
	r.MustRegister(NewHTTPBlock(nil))
	r.MustRegister(NewDelayBlock())
	r.MustRegister(NewTransformBlock())
	r.MustRegister(NewApprovalBlock())
	if deps.Mailer != nil {
		r.MustRegister(NewEmailBlock(deps.Mailer))
	}
	if deps.Submitter != nil {
		r.MustRegister(NewChainTxBlock(deps.Submitter, deps.Logger))
	}
	return r
}
