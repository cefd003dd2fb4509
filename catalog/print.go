package catalog

import (
	"io"
	"sort"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
)

// PrintSchema writes the catalog schema as SDL. Types are always in name
// order; sorted also orders fields, arguments and enum values so that the
// output is stable across schema edits.
func PrintSchema(w io.Writer, sorted bool) error {
	schema, err := Schema()
	if err != nil {
		return err
	}
	if sorted {
		sortSchema(schema)
	}
	formatter.NewFormatter(w, formatter.WithIndent("  ")).FormatSchema(schema)
	return nil
}

func sortSchema(schema *ast.Schema) {
	sortArguments := func(args ast.ArgumentDefinitionList) {
		sort.Slice(args, func(i, j int) bool { return args[i].Name < args[j].Name })
	}

	for _, def := range schema.Types {
		if def.BuiltIn {
			continue
		}
		sort.Slice(def.Fields, func(i, j int) bool { return def.Fields[i].Name < def.Fields[j].Name })
		for _, field := range def.Fields {
			sortArguments(field.Arguments)
		}
		sort.Slice(def.EnumValues, func(i, j int) bool { return def.EnumValues[i].Name < def.EnumValues[j].Name })
		sort.Strings(def.Interfaces)
		sort.Strings(def.Types)
	}
	for _, directive := range schema.Directives {
		sortArguments(directive.Arguments)
	}
}
