package toolregistry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// compiledCache avoids recompiling a tool's JSON Schema on every dispatch;
// keyed by the raw schema bytes rather than tool name so re-registration
// under a changed schema recompiles automatically.
var (
	compileMu    sync.Mutex
	compileCache = map[string]*jsonschema.Schema{}
)

func compile(rawSchema []byte) (*jsonschema.Schema, error) {
	key := string(rawSchema)
	compileMu.Lock()
	defer compileMu.Unlock()
	if s, ok := compileCache[key]; ok {
		return s, nil
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(rawSchema)); err != nil {
		return nil, err
	}
	s, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, err
	}
	compileCache[key] = s
	return s, nil
}

// ValidateAndRepair validates arguments against schema. On failure it
// attempts exactly one repair pass: drop unknown object keys, coerce
// JSON-string-encoded primitives, and apply schema defaults, then
// re-validates. Returns the (possibly repaired) arguments, a concise diff
// describing what failed if still invalid, and a non-nil error only when
// validation fails after repair.
func ValidateAndRepair(rawSchema, arguments []byte) ([]byte, string, error) {
	if len(rawSchema) == 0 {
		return arguments, "", nil
	}

	schema, err := compile(rawSchema)
	if err != nil {
		return arguments, "", fmt.Errorf("compile schema: %w", err)
	}

	var doc any
	if len(arguments) == 0 {
		doc = map[string]any{}
	} else if err := json.Unmarshal(arguments, &doc); err != nil {
		return arguments, "arguments are not valid JSON", err
	}

	if err := schema.Validate(doc); err == nil {
		repaired, _ := json.Marshal(doc)
		return repaired, "", nil
	} else {
		firstErr := err

		var schemaDoc map[string]any
		_ = json.Unmarshal(rawSchema, &schemaDoc)
		repaired := repair(doc, schemaDoc)

		if err := schema.Validate(repaired); err != nil {
			out, _ := json.Marshal(repaired)
			return out, summarizeValidationError(firstErr), err
		}
		out, _ := json.Marshal(repaired)
		return out, "", nil
	}
}

// repair drops unknown keys, coerces JSON-string primitives, and applies
// object-level defaults declared in the schema.
func repair(doc any, schemaDoc map[string]any) any {
	obj, ok := doc.(map[string]any)
	if !ok || schemaDoc == nil {
		return doc
	}
	props, _ := schemaDoc["properties"].(map[string]any)
	if props == nil {
		return obj
	}

	out := make(map[string]any, len(obj))
	for k, v := range obj {
		propSchema, known := props[k]
		if !known {
			continue // drop unknown keys
		}
		out[k] = coerce(v, propSchema)
	}

	for name, propSchemaAny := range props {
		if _, present := out[name]; present {
			continue
		}
		propSchema, _ := propSchemaAny.(map[string]any)
		if propSchema == nil {
			continue
		}
		if def, ok := propSchema["default"]; ok {
			out[name] = def
		}
	}

	return out
}

// coerce attempts to turn a JSON-string-encoded primitive into the type the
// schema expects (e.g. `"42"` -> 42 when the schema says "type":"number").
func coerce(value any, propSchemaAny any) any {
	str, isStr := value.(string)
	if !isStr {
		return value
	}
	propSchema, ok := propSchemaAny.(map[string]any)
	if !ok {
		return value
	}
	wantType, _ := propSchema["type"].(string)
	switch wantType {
	case "integer", "number":
		var n json.Number
		if json.Unmarshal([]byte(str), &n) == nil {
			if f, err := n.Float64(); err == nil {
				return f
			}
		}
	case "boolean":
		if str == "true" {
			return true
		}
		if str == "false" {
			return false
		}
	case "object", "array":
		var v any
		if json.Unmarshal([]byte(str), &v) == nil {
			return v
		}
	}
	return value
}

func summarizeValidationError(err error) string {
	if ve, ok := err.(*jsonschema.ValidationError); ok {
		if len(ve.Causes) > 0 {
			return ve.Causes[0].Error()
		}
		return ve.Error()
	}
	return err.Error()
}
