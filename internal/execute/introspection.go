package execute

import (
	"context"
	"sort"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
)

// Values the executor hands to the __Schema, __Type, ... resolvers below.
// The introspection types themselves come from the gqlparser prelude.

type introspectionSchema struct {
	schema *ast.Schema
}

// introspectionType is either a named type (def) or a LIST / NON_NULL
// wrapper (typ).
type introspectionType struct {
	schema *ast.Schema
	def    *ast.Definition
	typ    *ast.Type
}

type introspectionField struct {
	schema *ast.Schema
	def    *ast.FieldDefinition
}

type introspectionInputValue struct {
	schema       *ast.Schema
	name         string
	description  string
	typ          *ast.Type
	defaultValue *ast.Value
}

type introspectionDirective struct {
	schema *ast.Schema
	def    *ast.DirectiveDefinition
}

func wrapType(schema *ast.Schema, typ *ast.Type) *introspectionType {
	if typ == nil {
		return nil
	}
	if typ.NonNull || typ.Elem != nil {
		return &introspectionType{schema: schema, typ: typ}
	}
	def := schema.Types[typ.NamedType]
	if def == nil {
		return nil
	}
	return &introspectionType{schema: schema, def: def}
}

func wrapDefinition(schema *ast.Schema, def *ast.Definition) *introspectionType {
	if def == nil {
		return nil
	}
	return &introspectionType{schema: schema, def: def}
}

func wrapDefinitions(schema *ast.Schema, defs []*ast.Definition) []*introspectionType {
	ret := make([]*introspectionType, 0, len(defs))
	for _, def := range defs {
		ret = append(ret, wrapDefinition(schema, def))
	}
	return ret
}

func wrapArguments(schema *ast.Schema, args ast.ArgumentDefinitionList) []*introspectionInputValue {
	ret := make([]*introspectionInputValue, 0, len(args))
	for _, arg := range args {
		ret = append(ret, &introspectionInputValue{
			schema:       schema,
			name:         arg.Name,
			description:  arg.Description,
			typ:          arg.Type,
			defaultValue: arg.DefaultValue,
		})
	}
	return ret
}

func optionalString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func deprecationReason(directives ast.DirectiveList) (bool, interface{}) {
	deprecated := directives.ForName("deprecated")
	if deprecated == nil {
		return false, nil
	}
	if reason := deprecated.Arguments.ForName("reason"); reason != nil && reason.Value != nil {
		return true, reason.Value.Raw
	}
	return true, "No longer supported"
}

func includeDeprecated(args map[string]interface{}) bool {
	v, _ := args["includeDeprecated"].(bool)
	return v
}

func resolverOf[T any](fn func(source T, args map[string]interface{}) interface{}) FieldResolver {
	return func(ctx context.Context, source interface{}, args map[string]interface{}) (interface{}, error) {
		s, ok := source.(T)
		if !ok {
			return nil, nil
		}
		return fn(s, args), nil
	}
}

var introspectionResolvers = ResolverMap{
	"__Schema": {
		"description": resolverOf(func(s *introspectionSchema, _ map[string]interface{}) interface{} {
			return optionalString(s.schema.Description)
		}),
		"types": resolverOf(func(s *introspectionSchema, _ map[string]interface{}) interface{} {
			names := make([]string, 0, len(s.schema.Types))
			for name := range s.schema.Types {
				names = append(names, name)
			}
			sort.Strings(names)
			types := make([]*introspectionType, 0, len(names))
			for _, name := range names {
				types = append(types, wrapDefinition(s.schema, s.schema.Types[name]))
			}
			return types
		}),
		"queryType": resolverOf(func(s *introspectionSchema, _ map[string]interface{}) interface{} {
			return wrapDefinition(s.schema, s.schema.Query)
		}),
		"mutationType": resolverOf(func(s *introspectionSchema, _ map[string]interface{}) interface{} {
			return wrapDefinition(s.schema, s.schema.Mutation)
		}),
		"subscriptionType": resolverOf(func(s *introspectionSchema, _ map[string]interface{}) interface{} {
			return wrapDefinition(s.schema, s.schema.Subscription)
		}),
		"directives": resolverOf(func(s *introspectionSchema, _ map[string]interface{}) interface{} {
			names := make([]string, 0, len(s.schema.Directives))
			for name := range s.schema.Directives {
				names = append(names, name)
			}
			sort.Strings(names)
			directives := make([]*introspectionDirective, 0, len(names))
			for _, name := range names {
				directives = append(directives, &introspectionDirective{schema: s.schema, def: s.schema.Directives[name]})
			}
			return directives
		}),
	},
	"__Type": {
		"kind": resolverOf(func(t *introspectionType, _ map[string]interface{}) interface{} {
			switch {
			case t.typ != nil && t.typ.NonNull:
				return "NON_NULL"
			case t.typ != nil:
				return "LIST"
			default:
				return string(t.def.Kind)
			}
		}),
		"name": resolverOf(func(t *introspectionType, _ map[string]interface{}) interface{} {
			if t.def == nil {
				return nil
			}
			return t.def.Name
		}),
		"description": resolverOf(func(t *introspectionType, _ map[string]interface{}) interface{} {
			if t.def == nil {
				return nil
			}
			return optionalString(t.def.Description)
		}),
		"specifiedByURL": resolverOf(func(t *introspectionType, _ map[string]interface{}) interface{} {
			if t.def == nil || t.def.Kind != ast.Scalar {
				return nil
			}
			specifiedBy := t.def.Directives.ForName("specifiedBy")
			if specifiedBy == nil {
				return nil
			}
			if url := specifiedBy.Arguments.ForName("url"); url != nil && url.Value != nil {
				return url.Value.Raw
			}
			return nil
		}),
		"fields": resolverOf(func(t *introspectionType, args map[string]interface{}) interface{} {
			if t.def == nil || (t.def.Kind != ast.Object && t.def.Kind != ast.Interface) {
				return nil
			}
			fields := make([]*introspectionField, 0, len(t.def.Fields))
			for _, field := range t.def.Fields {
				if strings.HasPrefix(field.Name, "__") {
					continue
				}
				if deprecated, _ := deprecationReason(field.Directives); deprecated && !includeDeprecated(args) {
					continue
				}
				fields = append(fields, &introspectionField{schema: t.schema, def: field})
			}
			return fields
		}),
		"interfaces": resolverOf(func(t *introspectionType, _ map[string]interface{}) interface{} {
			if t.def == nil || (t.def.Kind != ast.Object && t.def.Kind != ast.Interface) {
				return nil
			}
			interfaces := make([]*introspectionType, 0, len(t.def.Interfaces))
			for _, name := range t.def.Interfaces {
				interfaces = append(interfaces, wrapDefinition(t.schema, t.schema.Types[name]))
			}
			return interfaces
		}),
		"possibleTypes": resolverOf(func(t *introspectionType, _ map[string]interface{}) interface{} {
			if t.def == nil || (t.def.Kind != ast.Interface && t.def.Kind != ast.Union) {
				return nil
			}
			return wrapDefinitions(t.schema, t.schema.GetPossibleTypes(t.def))
		}),
		"enumValues": resolverOf(func(t *introspectionType, args map[string]interface{}) interface{} {
			if t.def == nil || t.def.Kind != ast.Enum {
				return nil
			}
			values := make([]*ast.EnumValueDefinition, 0, len(t.def.EnumValues))
			for _, value := range t.def.EnumValues {
				if deprecated, _ := deprecationReason(value.Directives); deprecated && !includeDeprecated(args) {
					continue
				}
				values = append(values, value)
			}
			return values
		}),
		"inputFields": resolverOf(func(t *introspectionType, _ map[string]interface{}) interface{} {
			if t.def == nil || t.def.Kind != ast.InputObject {
				return nil
			}
			values := make([]*introspectionInputValue, 0, len(t.def.Fields))
			for _, field := range t.def.Fields {
				values = append(values, &introspectionInputValue{
					schema:       t.schema,
					name:         field.Name,
					description:  field.Description,
					typ:          field.Type,
					defaultValue: field.DefaultValue,
				})
			}
			return values
		}),
		"ofType": resolverOf(func(t *introspectionType, _ map[string]interface{}) interface{} {
			switch {
			case t.typ == nil:
				return nil
			case t.typ.NonNull:
				inner := *t.typ
				inner.NonNull = false
				return wrapType(t.schema, &inner)
			default:
				return wrapType(t.schema, t.typ.Elem)
			}
		}),
	},
	"__Field": {
		"name": resolverOf(func(f *introspectionField, _ map[string]interface{}) interface{} {
			return f.def.Name
		}),
		"description": resolverOf(func(f *introspectionField, _ map[string]interface{}) interface{} {
			return optionalString(f.def.Description)
		}),
		"args": resolverOf(func(f *introspectionField, _ map[string]interface{}) interface{} {
			return wrapArguments(f.schema, f.def.Arguments)
		}),
		"type": resolverOf(func(f *introspectionField, _ map[string]interface{}) interface{} {
			return wrapType(f.schema, f.def.Type)
		}),
		"isDeprecated": resolverOf(func(f *introspectionField, _ map[string]interface{}) interface{} {
			deprecated, _ := deprecationReason(f.def.Directives)
			return deprecated
		}),
		"deprecationReason": resolverOf(func(f *introspectionField, _ map[string]interface{}) interface{} {
			_, reason := deprecationReason(f.def.Directives)
			return reason
		}),
	},
	"__InputValue": {
		"name": resolverOf(func(v *introspectionInputValue, _ map[string]interface{}) interface{} {
			return v.name
		}),
		"description": resolverOf(func(v *introspectionInputValue, _ map[string]interface{}) interface{} {
			return optionalString(v.description)
		}),
		"type": resolverOf(func(v *introspectionInputValue, _ map[string]interface{}) interface{} {
			return wrapType(v.schema, v.typ)
		}),
		"defaultValue": resolverOf(func(v *introspectionInputValue, _ map[string]interface{}) interface{} {
			if v.defaultValue == nil {
				return nil
			}
			return v.defaultValue.String()
		}),
	},
	"__EnumValue": {
		"name": resolverOf(func(v *ast.EnumValueDefinition, _ map[string]interface{}) interface{} {
			return v.Name
		}),
		"description": resolverOf(func(v *ast.EnumValueDefinition, _ map[string]interface{}) interface{} {
			return optionalString(v.Description)
		}),
		"isDeprecated": resolverOf(func(v *ast.EnumValueDefinition, _ map[string]interface{}) interface{} {
			deprecated, _ := deprecationReason(v.Directives)
			return deprecated
		}),
		"deprecationReason": resolverOf(func(v *ast.EnumValueDefinition, _ map[string]interface{}) interface{} {
			_, reason := deprecationReason(v.Directives)
			return reason
		}),
	},
	"__Directive": {
		"name": resolverOf(func(d *introspectionDirective, _ map[string]interface{}) interface{} {
			return d.def.Name
		}),
		"description": resolverOf(func(d *introspectionDirective, _ map[string]interface{}) interface{} {
			return optionalString(d.def.Description)
		}),
		"locations": resolverOf(func(d *introspectionDirective, _ map[string]interface{}) interface{} {
			locations := make([]string, 0, len(d.def.Locations))
			for _, location := range d.def.Locations {
				locations = append(locations, string(location))
			}
			return locations
		}),
		"args": resolverOf(func(d *introspectionDirective, _ map[string]interface{}) interface{} {
			return wrapArguments(d.schema, d.def.Arguments)
		}),
		"isRepeatable": resolverOf(func(d *introspectionDirective, _ map[string]interface{}) interface{} {
			return d.def.IsRepeatable
		}),
	},
}
