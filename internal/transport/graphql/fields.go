package graphql

import (
	"context"

	"github.com/99designs/gqlgen/graphql"
)

// maxFieldDepth bounds selection flattening; the planner only restricts
// projections one relation level deep.
const maxFieldDepth = 3

// RequestedFields flattens the current GraphQL field selection into dotted
// paths ("title", "curator.displayName") for the query planner. Outside an
// operation context it returns nil, which the resolvers treat as "all
// readable fields".
func RequestedFields(ctx context.Context) []string {
	if !graphql.HasOperationContext(ctx) {
		return nil
	}
	opCtx := graphql.GetOperationContext(ctx)
	fieldCtx := graphql.GetFieldContext(ctx)
	if opCtx == nil || fieldCtx == nil {
		return nil
	}

	var paths []string
	for _, f := range graphql.CollectFields(opCtx, fieldCtx.Field.Selections, nil) {
		paths = append(paths, collect(opCtx, f, f.Name, 1)...)
	}
	return paths
}

func collect(opCtx *graphql.OperationContext, f graphql.CollectedField, path string, depth int) []string {
	if len(f.Selections) == 0 || depth >= maxFieldDepth {
		return []string{path}
	}

	var paths []string
	for _, sub := range graphql.CollectFields(opCtx, f.Selections, nil) {
		paths = append(paths, collect(opCtx, sub, path+"."+sub.Name, depth+1)...)
	}
	if len(paths) == 0 {
		return []string{path}
	}
	return paths
}
