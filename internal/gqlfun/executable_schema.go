package gqlfun

import (
	"context"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vektah/gqlparser/v2/parser"
	"github.com/vektah/gqlparser/v2/validator"
)

// CreateOperationContext parses and validates query against schema the same
// way the gqlgen handler does before it calls an ExecutableSchema.
func CreateOperationContext(ctx context.Context, schema *ast.Schema, query, operationName string, variables map[string]interface{}) (*graphql.OperationContext, gqlerror.List) {
	queryDoc, err := parser.ParseQuery(&ast.Source{
		Input:   query,
		BuiltIn: false,
	})
	if err != nil {
		gErr, ok := err.(*gqlerror.Error)
		if !ok {
			gErr = gqlerror.WrapPath(nil, err)
		}
		return nil, gqlerror.List{gErr}
	}
	gErrs := validator.Validate(schema, queryDoc)
	if len(gErrs) != 0 {
		return nil, gErrs
	}

	op := queryDoc.Operations.ForName(operationName)
	if op == nil {
		return nil, gqlerror.List{gqlerror.Errorf("operation %s not found", operationName)}
	}

	coerced, err := validator.VariableValues(schema, op, variables)
	if err != nil {
		gErr, ok := err.(*gqlerror.Error)
		if !ok {
			gErr = gqlerror.WrapPath(nil, err)
		}
		return nil, gqlerror.List{gErr}
	}

	oc := &graphql.OperationContext{
		RawQuery:             query,
		Variables:            coerced,
		OperationName:        operationName,
		Doc:                  queryDoc,
		Operation:            op,
		DisableIntrospection: false,
		RecoverFunc:          graphql.DefaultRecover,
		ResolverMiddleware: func(ctx context.Context, next graphql.Resolver) (res interface{}, err error) {
			return next(ctx)
		},
		Stats: graphql.Stats{},
	}

	return oc, nil
}
