package tracelog

import "context"

// ScopeChain is the ordered list of scopes active for a log call, outer to
// inner. A ScopeChain is immutable; Push returns a new chain.
type ScopeChain struct {
	scopes []Values
}

// NewScopeChain returns a chain holding scopes, outermost first.
func NewScopeChain(scopes ...Values) *ScopeChain {
	return &ScopeChain{scopes: scopes}
}

// Push returns a new chain with v as the innermost scope.
func (c *ScopeChain) Push(v Values) *ScopeChain {
	if c == nil {
		return NewScopeChain(v)
	}
	scopes := make([]Values, len(c.scopes), len(c.scopes)+1)
	copy(scopes, c.scopes)
	return &ScopeChain{scopes: append(scopes, v)}
}

// Len returns the number of scopes in the chain.
func (c *ScopeChain) Len() int {
	if c == nil {
		return 0
	}
	return len(c.scopes)
}

// ForEachScope calls fn for every scope, outer to inner.
func (c *ScopeChain) ForEachScope(fn func(Values)) {
	if c == nil {
		return
	}
	for _, s := range c.scopes {
		fn(s)
	}
}

type scopeKey struct{}

// ContextWithScope returns a copy of ctx in which v is the innermost scope.
//
//	ctx = tracelog.ContextWithScope(ctx, tracelog.Pairs(tracelog.KV("request_id", id)))
//	logger.InfoContext(ctx, "handled")
func ContextWithScope(ctx context.Context, v Values) context.Context {
	return context.WithValue(ctx, scopeKey{}, ScopesFromContext(ctx).Push(v))
}

// ScopesFromContext returns the scopes pushed onto ctx. The result is never
// nil; a context without scopes yields an empty chain.
func ScopesFromContext(ctx context.Context) *ScopeChain {
	if ctx != nil {
		if c, ok := ctx.Value(scopeKey{}).(*ScopeChain); ok {
			return c
		}
	}
	return &ScopeChain{}
}
