package handoff

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed article.schema.json
var articleSchemaJSON string

//go:embed docs.schema.json
var docsSchemaJSON string

var (
	schemaPrinter = message.NewPrinter(language.English)
	articleSchema = mustCompileSchema(articleSchemaJSON, "article.schema.json")
	docsSchema    = mustCompileSchema(docsSchemaJSON, "docs.schema.json")
)

// SchemaJSON returns the JSON schema the agent's article must satisfy.
func SchemaJSON() string {
	return articleSchemaJSON
}

// DocsSchemaJSON returns the JSON schema for documentation structures.
func DocsSchemaJSON() string {
	return docsSchemaJSON
}

func mustCompileSchema(raw string, name string) *jsonschema.Schema {
	var schemaDoc any
	if err := json.Unmarshal([]byte(raw), &schemaDoc); err != nil {
		panic(fmt.Sprintf("failed to parse embedded %s: %v", name, err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, schemaDoc); err != nil {
		panic(fmt.Sprintf("failed to add %s resource: %v", name, err))
	}
	sch, err := compiler.Compile(name)
	if err != nil {
		panic(fmt.Sprintf("failed to compile %s: %v", name, err))
	}
	return sch
}

// validateJSON returns one message per schema violation, or a single parse
// error message when data is not JSON.
func validateJSON(sch *jsonschema.Schema, data []byte) []string {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return []string{fmt.Sprintf("invalid JSON: %v", err)}
	}
	err = sch.Validate(instance)
	if err == nil {
		return nil
	}
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []string{fmt.Sprintf("schema: %v", err)}
	}
	var errs []string
	collectSchemaErrors(ve, &errs)
	return errs
}

func collectSchemaErrors(ve *jsonschema.ValidationError, errs *[]string) {
	if len(ve.Causes) == 0 {
		loc := "/"
		if len(ve.InstanceLocation) > 0 {
			loc = "/" + strings.Join(ve.InstanceLocation, "/")
		}
		*errs = append(*errs, fmt.Sprintf("%s: %s", loc, ve.ErrorKind.LocalizedString(schemaPrinter)))
		return
	}
	for _, c := range ve.Causes {
		collectSchemaErrors(c, errs)
	}
}
