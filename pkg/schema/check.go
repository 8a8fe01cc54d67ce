package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// CheckAgainstSchemaFile validates a scenario document against an external
// JSON Schema file instead of the generated one. Used by the schema_check
// CLI mode so recipe authors can pin a specific published schema revision.
func CheckAgainstSchemaFile(schemaPath, docPath string) []*ValidationError {
	doc, err := LoadFile(docPath)
	if err != nil {
		return []*ValidationError{{
			Phase:    "structural",
			Path:     "",
			Message:  err.Error(),
			Severity: "error",
		}}
	}

	schemaData, err := os.ReadFile(schemaPath)
	if err != nil {
		return semanticErr(fmt.Sprintf("read schema file: %v", err))
	}
	var schemaDoc interface{}
	if err := json.Unmarshal(schemaData, &schemaDoc); err != nil {
		return semanticErr(fmt.Sprintf("parse schema file: %v", err))
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource(schemaPath, schemaDoc); err != nil {
		return semanticErr(fmt.Sprintf("add schema resource: %v", err))
	}
	sch, err := c.Compile(schemaPath)
	if err != nil {
		return semanticErr(fmt.Sprintf("compile schema: %v", err))
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return semanticErr(fmt.Sprintf("marshal document: %v", err))
	}
	var instance interface{}
	if err := json.Unmarshal(data, &instance); err != nil {
		return semanticErr(fmt.Sprintf("unmarshal document: %v", err))
	}

	if err := sch.Validate(instance); err != nil {
		var errs []*ValidationError
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			for _, cause := range flattenValidationErrors(ve) {
				errs = append(errs, &ValidationError{
					Phase:    "semantic",
					Path:     strings.Join(cause.InstanceLocation, "/"),
					Message:  fmt.Sprintf("%v", cause.ErrorKind),
					Severity: "error",
				})
			}
			return errs
		}
		return semanticErr(err.Error())
	}
	return nil
}
