package execute

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/99designs/gqlgen/graphql"
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"github.com/vvakame/shelfql/internal/utils"
	"golang.org/x/sync/errgroup"
)

// NOTE graphql-js の execute 相当のもの。
// gqlgen の codegen を使わずに resolver の表を引きながら selection set を評価する。
// Field errors are reported with graphql.AddError, so the caller's response
// context decides how they are presented.

// FieldResolver resolves the value of one field. source is the value of the
// parent object.
type FieldResolver func(ctx context.Context, source interface{}, args map[string]interface{}) (interface{}, error)

// SubscriptionResolver opens the source stream of a subscription root field.
// The stream must be closed when ctx is done.
type SubscriptionResolver func(ctx context.Context, args map[string]interface{}) (<-chan interface{}, error)

// TypeResolver returns the concrete object type name of value.
type TypeResolver func(ctx context.Context, value interface{}, schema *ast.Schema, abstractType *ast.Definition) string

// ResolverMap binds resolvers by object type name and field name.
// Fields without a resolver fall back to the default field resolver.
type ResolverMap map[string]map[string]FieldResolver

func (m ResolverMap) lookup(typeName, fieldName string) FieldResolver {
	if m == nil {
		return nil
	}
	return m[typeName][fieldName]
}

type ExecutionArgs struct {
	Schema        *ast.Schema
	RootValue     interface{}                     // optional
	Resolvers     ResolverMap                     // optional
	Subscriptions map[string]SubscriptionResolver // optional
	TypeResolver  TypeResolver                    // optional
}

type executionContext struct {
	schema        *ast.Schema
	operation     *ast.OperationDefinition
	variables     map[string]interface{}
	rootValue     interface{}
	resolvers     ResolverMap
	subscriptions map[string]SubscriptionResolver
	typeResolver  TypeResolver
	introspection bool
}

var _ FieldResolver = defaultFieldResolver
var _ TypeResolver = defaultTypeResolver

// Execute runs the query or mutation of the OperationContext in ctx and
// returns its data. Errors are added to the response context of ctx.
func Execute(ctx context.Context, args *ExecutionArgs) *graphql.Response {
	exeContext, gErr := buildExecutionContext(ctx, args)
	if gErr != nil {
		graphql.AddError(ctx, gErr)
		return &graphql.Response{}
	}

	data := executeOperation(ctx, exeContext)
	return buildResponse(data)
}

// Subscribe opens the source stream of the subscription operation in ctx.
// Each received value is turned into a response with ExecuteEvent.
func Subscribe(ctx context.Context, args *ExecutionArgs) (<-chan interface{}, error) {
	exeContext, gErr := buildExecutionContext(ctx, args)
	if gErr != nil {
		return nil, gErr
	}
	operation := exeContext.operation
	if operation.Operation != ast.Subscription {
		return nil, gqlerror.ErrorPosf(operation.Position, "operation is not a subscription")
	}
	typ, gErr := rootType(exeContext)
	if gErr != nil {
		return nil, gErr
	}

	fields := graphql.CollectFields(graphql.GetOperationContext(ctx), operation.SelectionSet, []string{typ.Name})
	if len(fields) != 1 {
		return nil, gqlerror.ErrorPosf(operation.Position, "subscription must select exactly one top level field")
	}
	field := fields[0]

	resolver := exeContext.subscriptions[field.Name]
	if resolver == nil {
		return nil, gqlerror.ErrorPosf(field.Position, "subscription field %s is not implemented", field.Name)
	}

	fc := &graphql.FieldContext{
		Object: typ.Name,
		Field:  field,
		Args:   field.ArgumentMap(exeContext.variables),
	}
	ctx = graphql.WithFieldContext(ctx, fc)

	stream, err := resolver(ctx, fc.Args)
	if err != nil {
		return nil, graphql.ErrorOnPath(ctx, err)
	}
	return stream, nil
}

// ExecuteEvent executes the subscription selection set with event as the
// value of the root field.
func ExecuteEvent(ctx context.Context, args *ExecutionArgs, event interface{}) *graphql.Response {
	exeContext, gErr := buildExecutionContext(ctx, args)
	if gErr != nil {
		graphql.AddError(ctx, gErr)
		return &graphql.Response{}
	}
	typ, gErr := rootType(exeContext)
	if gErr != nil {
		graphql.AddError(ctx, gErr)
		return &graphql.Response{}
	}

	resolvers := make(ResolverMap, len(exeContext.resolvers)+1)
	for typeName, fields := range exeContext.resolvers {
		resolvers[typeName] = fields
	}
	eventFields := make(map[string]FieldResolver)
	for _, field := range typ.Fields {
		eventFields[field.Name] = func(ctx context.Context, source interface{}, args map[string]interface{}) (interface{}, error) {
			return source, nil
		}
	}
	resolvers[typ.Name] = eventFields
	exeContext.resolvers = resolvers
	exeContext.rootValue = event

	data := executeOperation(ctx, exeContext)
	return buildResponse(data)
}

func buildResponse(data graphql.Marshaler) *graphql.Response {
	var buf bytes.Buffer
	data.MarshalGQL(&buf)

	return &graphql.Response{
		Data: buf.Bytes(),
	}
}

func buildExecutionContext(ctx context.Context, args *ExecutionArgs) (*executionContext, *gqlerror.Error) {
	if !graphql.HasOperationContext(ctx) {
		panic("ctx doesn't have OperationContext")
	}
	oc := graphql.GetOperationContext(ctx)

	if args.Schema == nil {
		return nil, gqlerror.Errorf("must provide schema")
	}
	if oc.Operation == nil {
		if oc.OperationName != "" {
			return nil, gqlerror.Errorf(`unknown operation named "%s"`, oc.OperationName)
		}
		return nil, gqlerror.Errorf("must provide an operation")
	}

	typeResolver := args.TypeResolver
	if typeResolver == nil {
		typeResolver = defaultTypeResolver
	}

	return &executionContext{
		schema:        args.Schema,
		operation:     oc.Operation,
		variables:     oc.Variables,
		rootValue:     args.RootValue,
		resolvers:     args.Resolvers,
		subscriptions: args.Subscriptions,
		typeResolver:  typeResolver,
		introspection: !oc.DisableIntrospection,
	}, nil
}

func rootType(exeContext *executionContext) (*ast.Definition, *gqlerror.Error) {
	operation := exeContext.operation
	switch operation.Operation {
	case ast.Query:
		if exeContext.schema.Query == nil {
			return nil, gqlerror.ErrorPosf(operation.Position, "schema does not define the required query root type")
		}
		return exeContext.schema.Query, nil
	case ast.Mutation:
		if exeContext.schema.Mutation == nil {
			return nil, gqlerror.ErrorPosf(operation.Position, "schema is not configured for mutations")
		}
		return exeContext.schema.Mutation, nil
	case ast.Subscription:
		if exeContext.schema.Subscription == nil {
			return nil, gqlerror.ErrorPosf(operation.Position, "schema is not configured for subscriptions")
		}
		return exeContext.schema.Subscription, nil
	default:
		return nil, gqlerror.ErrorPosf(operation.Position, "can only have query, mutation and subscription operations")
	}
}

// Implements the "Executing operations" section of the GraphQL specification.
func executeOperation(ctx context.Context, exeContext *executionContext) graphql.Marshaler {
	typ, gErr := rootType(exeContext)
	if gErr != nil {
		graphql.AddError(ctx, gErr)
		return graphql.Null
	}

	fields := graphql.CollectFields(graphql.GetOperationContext(ctx), exeContext.operation.SelectionSet, []string{typ.Name})

	// Errors from sub-fields of a NonNull type may propagate to the top level,
	// at which point we still log the error and null the parent field, which
	// in this case is the entire response.
	var result graphql.Marshaler
	var ok bool
	if exeContext.operation.Operation == ast.Mutation {
		result, ok = executeFieldsSerially(ctx, exeContext, typ, exeContext.rootValue, fields)
	} else {
		result, ok = executeFields(ctx, exeContext, typ, exeContext.rootValue, fields)
	}
	if !ok {
		return graphql.Null
	}
	return result
}

// Implements the "Executing selection sets" section of the GraphQL specification
// for fields that must be executed serially.
//
// The returned bool is false when a non-null violation must propagate to the
// parent of this selection set.
func executeFieldsSerially(ctx context.Context, exeContext *executionContext, parentType *ast.Definition, sourceValue interface{}, fields []graphql.CollectedField) (graphql.Marshaler, bool) {
	out := graphql.NewFieldSet(fields)
	invalid := false
	for i, field := range fields {
		data, ok := executeField(ctx, exeContext, parentType, sourceValue, field)
		out.Values[i] = data
		if !ok {
			invalid = true
		}
	}

	if invalid {
		return graphql.Null, false
	}
	return out, true
}

// Implements the "Executing selection sets" section of the GraphQL specification
// for fields that may be executed in parallel.
func executeFields(ctx context.Context, exeContext *executionContext, parentType *ast.Definition, sourceValue interface{}, fields []graphql.CollectedField) (graphql.Marshaler, bool) {
	out := graphql.NewFieldSet(fields)
	var invalids uint32
	var eg errgroup.Group
	for i, field := range fields {
		eg.Go(func() error {
			data, ok := executeField(ctx, exeContext, parentType, sourceValue, field)
			out.Values[i] = data
			if !ok {
				atomic.AddUint32(&invalids, 1)
			}
			return nil
		})
	}
	_ = eg.Wait()

	if invalids > 0 {
		return graphql.Null, false
	}
	return out, true
}

// Implements the "Executing field" section of the GraphQL specification
// In particular, this function figures out the value that the field returns by
// calling its resolve function, then calls completeValue to
// serialize scalars, or execute the sub-selection-set for objects.
func executeField(ctx context.Context, exeContext *executionContext, parentType *ast.Definition, source interface{}, field graphql.CollectedField) (data graphql.Marshaler, ok bool) {
	fieldDef := field.Definition
	if fieldDef == nil && field.Name == "__typename" {
		return graphql.MarshalString(parentType.Name), true
	}
	if fieldDef == nil {
		graphql.AddError(ctx, gqlerror.ErrorPosf(field.Position, "unknown field %s.%s", parentType.Name, field.Name))
		return graphql.Null, true
	}
	returnType := fieldDef.Type

	fc := &graphql.FieldContext{
		Object:     parentType.Name,
		Field:      field,
		Args:       field.ArgumentMap(exeContext.variables),
		IsResolver: true,
	}
	ctx = graphql.WithFieldContext(ctx, fc)

	defer func() {
		if r := recover(); r != nil {
			err := graphql.GetOperationContext(ctx).Recover(ctx, r)
			graphql.AddError(ctx, err)
			data, ok = nullValue(returnType)
		}
	}()

	result, err := resolveField(ctx, exeContext, parentType, source, field, fc.Args)
	if err != nil {
		graphql.AddError(ctx, err)
		return nullValue(returnType)
	}
	fc.Result = result

	return completeValue(ctx, exeContext, returnType, field, result)
}

func resolveField(ctx context.Context, exeContext *executionContext, parentType *ast.Definition, source interface{}, field graphql.CollectedField, args map[string]interface{}) (interface{}, error) {
	switch field.Name {
	case "__typename":
		return parentType.Name, nil
	case "__schema", "__type":
		if parentType != exeContext.schema.Query {
			break
		}
		if !exeContext.introspection {
			return nil, gqlerror.Errorf("introspection is disabled")
		}
		if field.Name == "__schema" {
			return &introspectionSchema{schema: exeContext.schema}, nil
		}
		name, _ := args["name"].(string)
		def := exeContext.schema.Types[name]
		if def == nil {
			return nil, nil
		}
		return &introspectionType{schema: exeContext.schema, def: def}, nil
	}

	if resolveFn := exeContext.resolvers.lookup(parentType.Name, field.Name); resolveFn != nil {
		return resolveFn(ctx, source, args)
	}
	if resolveFn := introspectionResolvers.lookup(parentType.Name, field.Name); resolveFn != nil {
		return resolveFn(ctx, source, args)
	}
	return defaultFieldResolver(ctx, source, args)
}

// nullValue is the result of a position that raised a field error.
func nullValue(returnType *ast.Type) (graphql.Marshaler, bool) {
	return graphql.Null, !returnType.NonNull
}

// Implements the instructions for completeValue as defined in the
// "Field entries" section of the GraphQL specification.
//
// If the field type is Non-Null and the value is null, a field error is
// raised and the returned bool is false so the nearest nullable parent
// becomes null.
//
// If the field type is a List, then this recursively completes the value
// for the inner type on each item in the list.
//
// If the field type is a Scalar or Enum, the Go value is serialized.
//
// If the field is an abstract type, determine the runtime type of the value
// and then complete based on that type
//
// Otherwise, the field type expects a sub-selection set, and will complete the
// value by executing all sub-selections.
func completeValue(ctx context.Context, exeContext *executionContext, returnType *ast.Type, field graphql.CollectedField, result interface{}) (graphql.Marshaler, bool) {
	// If result is an Error, throw a located error.
	if err, ok := result.(error); ok && err != nil {
		graphql.AddError(ctx, err)
		return nullValue(returnType)
	}

	if utils.IsNil(result) {
		if returnType.NonNull {
			graphql.AddError(ctx, gqlerror.ErrorPathf(graphql.GetPath(ctx), "cannot return null for non-nullable field %s", fieldCoordinate(field)))
			return graphql.Null, false
		}
		return graphql.Null, true
	}

	// If field type is List, complete each item in the list with the inner type
	if returnType.Elem != nil {
		return completeListValue(ctx, exeContext, returnType, field, result)
	}

	def := exeContext.schema.Types[returnType.NamedType]

	// If field type is a leaf type, Scalar or Enum, serialize to a valid value,
	// returning null if serialization is not possible.
	if utils.IsLeafType(def) {
		return completeLeafValue(ctx, returnType, def, result)
	}

	// If field type is an abstract type, Interface or Union, determine the
	// runtime Object type and complete for that type.
	if utils.IsAbstractType(def) {
		return completeAbstractValue(ctx, exeContext, returnType, def, field, result)
	}

	// If field type is Object, execute and complete all sub-selections.
	if utils.IsObjectType(def) {
		return completeObjectValue(ctx, exeContext, returnType, def, field, result)
	}

	graphql.AddError(ctx, gqlerror.ErrorPathf(graphql.GetPath(ctx), "cannot complete value of unexpected output type: %s", returnType.String()))
	return nullValue(returnType)
}

// Complete a list value by completing each item in the list with the
// inner type
func completeListValue(ctx context.Context, exeContext *executionContext, returnType *ast.Type, field graphql.CollectedField, result interface{}) (graphql.Marshaler, bool) {
	resultRV := reflect.ValueOf(result)
	if resultRV.Kind() != reflect.Slice && resultRV.Kind() != reflect.Array {
		graphql.AddError(ctx, gqlerror.ErrorPathf(graphql.GetPath(ctx), `expected slice, but did not find one for field "%s"`, fieldCoordinate(field)))
		return nullValue(returnType)
	}

	itemType := returnType.Elem
	ret := make(graphql.Array, resultRV.Len())
	var invalids uint32

	completeItem := func(index int) {
		item := resultRV.Index(index).Interface()
		fc := &graphql.FieldContext{
			Index:  &index,
			Result: item,
		}
		ctx := graphql.WithFieldContext(ctx, fc)

		completedItem, ok := completeValue(ctx, exeContext, itemType, field, item)
		ret[index] = completedItem
		if !ok {
			atomic.AddUint32(&invalids, 1)
		}
	}

	// leaf items never reach a resolver, so they are not worth a goroutine.
	if utils.IsLeafType(exeContext.schema.Types[itemType.Name()]) {
		for index := 0; index < resultRV.Len(); index++ {
			completeItem(index)
		}
	} else {
		var eg errgroup.Group
		for index := 0; index < resultRV.Len(); index++ {
			eg.Go(func() error {
				completeItem(index)
				return nil
			})
		}
		_ = eg.Wait()
	}

	if invalids > 0 {
		return nullValue(returnType)
	}
	return ret, true
}

// Complete a Scalar or Enum by serializing to a valid value, returning
// null if serialization is not possible.
func completeLeafValue(ctx context.Context, returnType *ast.Type, def *ast.Definition, result interface{}) (graphql.Marshaler, bool) {
	rv := reflect.ValueOf(result)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nullValue(returnType)
		}
		rv = rv.Elem()
	}
	result = rv.Interface()

	if m, ok := result.(graphql.Marshaler); ok {
		return m, true
	}

	// decoded JSON numbers
	if f, ok := result.(float64); ok && def.Name == "Int" && f == math.Trunc(f) {
		return graphql.MarshalInt(int(f)), true
	}

	if def.Name == "ID" {
		switch result := result.(type) {
		case string:
			return graphql.MarshalID(result), true
		case int, int32, int64:
			return graphql.MarshalID(fmt.Sprint(result)), true
		}
	}

	switch result := result.(type) {
	case bool:
		return graphql.MarshalBoolean(result), true
	case float64:
		return graphql.MarshalFloat(result), true
	case int:
		return graphql.MarshalInt(result), true
	case int64:
		return graphql.MarshalInt64(result), true
	case int32:
		return graphql.MarshalInt32(result), true
	case string:
		return graphql.MarshalString(result), true
	case ast.DefinitionKind:
		return graphql.MarshalString(string(result)), true
	case ast.DirectiveLocation:
		return graphql.MarshalString(string(result)), true
	case time.Time:
		return graphql.MarshalTime(result), true
	}

	graphql.AddError(ctx, gqlerror.ErrorPathf(graphql.GetPath(ctx), "unsupported leaf type %T for %s", result, def.Name))
	return nullValue(returnType)
}

// Complete a value of an abstract type by determining the runtime object type
// of that value, then complete the value for that type.
func completeAbstractValue(ctx context.Context, exeContext *executionContext, returnType *ast.Type, def *ast.Definition, field graphql.CollectedField, result interface{}) (graphql.Marshaler, bool) {
	runtimeTypeName := exeContext.typeResolver(ctx, result, exeContext.schema, def)

	runtimeType, gErr := ensureValidRuntimeType(ctx, runtimeTypeName, exeContext, def, field)
	if gErr != nil {
		graphql.AddError(ctx, gErr)
		return nullValue(returnType)
	}

	return completeObjectValue(ctx, exeContext, returnType, runtimeType, field, result)
}

func ensureValidRuntimeType(ctx context.Context, runtimeTypeName string, exeContext *executionContext, abstractType *ast.Definition, field graphql.CollectedField) (*ast.Definition, *gqlerror.Error) {
	path := graphql.GetPath(ctx)

	if runtimeTypeName == "" {
		return nil, gqlerror.ErrorPathf(
			path,
			`abstract type "%s" must resolve to an Object type at runtime for field "%s"`,
			abstractType.Name,
			fieldCoordinate(field),
		)
	}

	runtimeType := exeContext.schema.Types[runtimeTypeName]
	if runtimeType == nil {
		return nil, gqlerror.ErrorPathf(
			path,
			`abstract type "%s" was resolved to a type "%s" that does not exist inside the schema`,
			abstractType.Name,
			runtimeTypeName,
		)
	}

	if runtimeType.Kind != ast.Object {
		return nil, gqlerror.ErrorPathf(
			path,
			`abstract type "%s" was resolved to a non-object type "%s"`,
			abstractType.Name,
			runtimeTypeName,
		)
	}

	if !utils.IsTypeDefSubTypeOf(exeContext.schema, runtimeType, abstractType) {
		return nil, gqlerror.ErrorPathf(
			path,
			`runtime Object type "%s" is not a possible type for "%s"`,
			runtimeType.Name,
			abstractType.Name,
		)
	}

	return runtimeType, nil
}

// Complete an Object value by executing all sub-selections.
func completeObjectValue(ctx context.Context, exeContext *executionContext, returnType *ast.Type, def *ast.Definition, field graphql.CollectedField, result interface{}) (graphql.Marshaler, bool) {
	// Collect sub-fields to execute to complete this value.
	subFields := graphql.CollectFields(graphql.GetOperationContext(ctx), field.Selections, []string{def.Name})

	completed, ok := executeFields(ctx, exeContext, def, result, subFields)
	if !ok {
		return nullValue(returnType)
	}
	return completed, true
}

// Typed is implemented by values that know their GraphQL object type.
type Typed interface {
	GraphQLTypeName() string
}

// If a resolveType function is not given, then a default resolve behavior is
// used which attempts two strategies:
//
// First, See if the provided value has a `__typename` field defined, if so, use
// that value as name of the resolved type.
//
// Otherwise, ask the value itself through the Typed interface.
func defaultTypeResolver(ctx context.Context, value interface{}, schema *ast.Schema, abstractType *ast.Definition) string {
	// First, look for `__typename`.
	if utils.IsObjectLike(value) {
		value := value.(map[string]interface{})
		typename, ok := value["__typename"].(string)
		if ok {
			return typename
		}
	}

	if typed, ok := value.(Typed); ok {
		return typed.GraphQLTypeName()
	}

	return ""
}

// If a resolve function is not given, then a default resolve behavior is used
// which takes the property of the source object of the same name as the field.
// Structs are matched by json tag first, then by case-insensitive field name.
func defaultFieldResolver(ctx context.Context, source interface{}, args map[string]interface{}) (interface{}, error) {
	fc := graphql.GetFieldContext(ctx)
	if fc == nil {
		panic("ctx doesn't have FieldContext")
	}
	name := fc.Field.Name

	// ensure source is a value for which property access is acceptable.
	if utils.IsObjectLike(source) {
		return source.(map[string]interface{})[name], nil
	}

	rv := reflect.ValueOf(source)
	for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, nil
	}

	index, ok := structFieldIndex(rv.Type(), name)
	if !ok {
		return nil, nil
	}
	return rv.FieldByIndex(index).Interface(), nil
}

type structFieldKey struct {
	typ  reflect.Type
	name string
}

var structFieldCache sync.Map

func structFieldIndex(typ reflect.Type, name string) ([]int, bool) {
	key := structFieldKey{typ: typ, name: name}
	if v, ok := structFieldCache.Load(key); ok {
		index, _ := v.([]int)
		return index, index != nil
	}

	var index []int
	for _, sf := range reflect.VisibleFields(typ) {
		if !sf.IsExported() || sf.Anonymous {
			continue
		}
		tag, _, _ := strings.Cut(sf.Tag.Get("json"), ",")
		if tag == name {
			index = sf.Index
			break
		}
		if tag == "" && index == nil && strings.EqualFold(sf.Name, name) {
			index = sf.Index
		}
	}

	structFieldCache.Store(key, index)
	return index, index != nil
}

func fieldCoordinate(field graphql.CollectedField) string {
	if field.ObjectDefinition != nil {
		return field.ObjectDefinition.Name + "." + field.Name
	}
	return field.Name
}
