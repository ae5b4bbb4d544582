package adapters

import (
	"github.com/smallbiznis/ticketpay/internal/payment/domain"
)

// Registry resolves the adapter driving a payment method.
type Registry struct {
	adapters map[domain.Method]domain.MethodAdapter
}

func NewRegistry(adapters ...domain.MethodAdapter) *Registry {
	registry := &Registry{adapters: map[domain.Method]domain.MethodAdapter{}}
	for _, adapter := range adapters {
		if adapter == nil || !adapter.Method().Valid() {
			continue
		}
		registry.adapters[adapter.Method()] = adapter
	}
	return registry
}

func (r *Registry) Supports(method domain.Method) bool {
	if r == nil {
		return false
	}
	_, ok := r.adapters[method]
	return ok
}

func (r *Registry) Get(method domain.Method) (domain.MethodAdapter, error) {
	if r == nil {
		return nil, domain.ErrMethodUnavailable
	}
	adapter, ok := r.adapters[method]
	if !ok {
		return nil, domain.ErrMethodUnavailable
	}
	return adapter, nil
}
