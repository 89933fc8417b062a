package shared

import "context"

// Operator identifies the actor on whose behalf an operation runs.
type Operator struct {
	Login string
	Role  string
}

type operatorContextKey struct{}

// ContextWithOperator stores the operator in context.
func ContextWithOperator(ctx context.Context, op Operator) context.Context {
	return context.WithValue(ctx, operatorContextKey{}, op)
}

// OperatorFromContext extracts the operator from context.
func OperatorFromContext(ctx context.Context) (Operator, bool) {
	op, ok := ctx.Value(operatorContextKey{}).(Operator)
	return op, ok
}
