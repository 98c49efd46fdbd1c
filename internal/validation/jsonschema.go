package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/thehassans/WhatsappAutomated-sub000/pkg/schema"
)

// graphSchemaJSON is the JSON Schema for the graph envelope: node and
// edge shape, not the per-kind config bags. Embedded as a constant to
// avoid filesystem dependencies.
const graphSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flow.dev/schemas/graph.json",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": ["array", "null"],
      "items": { "$ref": "#/$defs/edge" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "minLength": 1 },
        "type": { "type": "string" },
        "data": { "type": "object" }
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["source", "target"],
      "properties": {
        "source": { "type": "string", "minLength": 1 },
        "target": { "type": "string", "minLength": 1 },
        "sourceHandle": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// stepSchemaJSON maps each node kind to the JSON Schema for its config
// bag. String fields stay loosely typed because tenants may put
// {{{variable}}} placeholders anywhere a literal would go.
var stepSchemaJSON = map[schema.NodeType]string{
	schema.NodeSendMessage: `{
	  "type": "object",
	  "required": ["message"],
	  "properties": {
	    "message": { "type": "string", "minLength": 1 },
	    "moveToNextNode": { "type": "boolean" }
	  }
	}`,
	schema.NodeCondition: `{
	  "type": "object",
	  "required": ["conditions"],
	  "properties": {
	    "conditions": {
	      "type": "array",
	      "minItems": 1,
	      "items": {
	        "type": "object",
	        "required": ["type", "targetNodeId"],
	        "properties": {
	          "type": { "type": "string", "enum": [
	            "text_exact", "text_contains", "text_starts", "text_ends",
	            "number_equal", "number_greater", "number_less",
	            "number_between", "expression"
	          ]},
	          "value": { "type": "string" },
	          "caseSensitive": { "type": "boolean" },
	          "targetNodeId": { "type": "string", "minLength": 1 }
	        }
	      }
	    },
	    "compare": { "type": "string" },
	    "moveToNextNode": { "type": "boolean" }
	  }
	}`,
	schema.NodeSaveData: `{
	  "type": "object",
	  "required": ["mappings"],
	  "properties": {
	    "source": { "type": "object" },
	    "mappings": {
	      "type": "array",
	      "minItems": 1,
	      "items": {
	        "type": "object",
	        "required": ["variable", "path"],
	        "properties": {
	          "variable": { "type": "string", "minLength": 1 },
	          "path": { "type": "string", "minLength": 1 }
	        }
	      }
	    },
	    "moveToNextNode": { "type": "boolean" }
	  }
	}`,
	schema.NodeDisableAutoReply: `{
	  "type": "object",
	  "properties": {
	    "hours": { "type": "integer", "minimum": 0 },
	    "minutes": { "type": "integer", "minimum": 0 }
	  }
	}`,
	schema.NodeRequest: `{
	  "type": "object",
	  "required": ["url"],
	  "properties": {
	    "method": { "type": "string" },
	    "url": { "type": "string", "minLength": 1 },
	    "headers": { "type": "object" },
	    "body": {},
	    "contentType": { "type": "string", "enum": ["json", "form", "text"] },
	    "timeoutSeconds": { "type": "integer", "minimum": 0 },
	    "mappings": { "type": "array" },
	    "moveToNextNode": { "type": "boolean" }
	  }
	}`,
	schema.NodeDelay: `{
	  "type": "object",
	  "required": ["seconds"],
	  "properties": {
	    "seconds": { "type": "integer", "minimum": 0 },
	    "moveToNextNode": { "type": "boolean" }
	  }
	}`,
	schema.NodeGoogleSheets: `{
	  "type": "object",
	  "required": ["spreadsheetId", "row"],
	  "properties": {
	    "spreadsheetId": { "type": "string", "minLength": 1 },
	    "sheetName": { "type": "string" },
	    "row": { "type": "array", "items": { "type": "string" } },
	    "moveToNextNode": { "type": "boolean" }
	  }
	}`,
	schema.NodeEmail: `{
	  "type": "object",
	  "required": ["to"],
	  "properties": {
	    "to": { "type": "string", "minLength": 1 },
	    "subject": { "type": "string" },
	    "body": { "type": "string" },
	    "moveToNextNode": { "type": "boolean" }
	  }
	}`,
	schema.NodeAssignAgent: `{
	  "type": "object",
	  "properties": {
	    "agentId": { "type": "string" },
	    "moveToNextNode": { "type": "boolean" }
	  }
	}`,
	schema.NodeAIAssistant: `{
	  "type": "object",
	  "properties": {
	    "assignedToAi": { "type": "boolean" },
	    "provider": { "type": "string" },
	    "model": { "type": "string" },
	    "apiKey": { "type": "string" },
	    "baseUrl": { "type": "string" },
	    "systemPrompt": { "type": "string" },
	    "historyWindow": { "type": "integer", "minimum": 0 },
	    "functions": {
	      "type": "array",
	      "items": {
	        "type": "object",
	        "required": ["id", "name"],
	        "properties": {
	          "id": { "type": "string", "minLength": 1 },
	          "name": { "type": "string", "minLength": 1 },
	          "description": { "type": "string" },
	          "parameters": { "type": "object" }
	        }
	      }
	    }
	  }
	}`,
	schema.NodeSQLQuery: `{
	  "type": "object",
	  "required": ["connection", "query"],
	  "properties": {
	    "connection": {
	      "type": "object",
	      "required": ["driver"],
	      "properties": {
	        "driver": { "type": "string", "enum": ["postgres", "postgresql", "pgx", "sqlite", "libsql"] },
	        "host": { "type": "string" },
	        "port": { "type": "integer" },
	        "database": { "type": "string" },
	        "user": { "type": "string" },
	        "password": { "type": "string" },
	        "url": { "type": "string" }
	      }
	    },
	    "query": { "type": "string", "minLength": 1 },
	    "params": { "type": "array" },
	    "mappings": { "type": "array" },
	    "moveToNextNode": { "type": "boolean" }
	  }
	}`,
}

// SchemaValidator checks graph structure and per-kind step config against
// JSON Schema Draft 2020-12. All schemas are compiled once at
// construction; the validator is safe for concurrent use.
type SchemaValidator struct {
	graphSchema *jsonschema.Schema
	stepSchemas map[schema.NodeType]*jsonschema.Schema
}

// NewSchemaValidator compiles the envelope and step schemas.
func NewSchemaValidator() (*SchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(graphSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal graph schema: %w", err)
	}
	if err := c.AddResource("https://flow.dev/schemas/graph.json", doc); err != nil {
		return nil, fmt.Errorf("add graph schema resource: %w", err)
	}
	graphSchema, err := c.Compile("https://flow.dev/schemas/graph.json")
	if err != nil {
		return nil, fmt.Errorf("compile graph schema: %w", err)
	}

	stepSchemas := make(map[schema.NodeType]*jsonschema.Schema, len(stepSchemaJSON))
	for kind, raw := range stepSchemaJSON {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s schema: %w", kind, err)
		}
		url := fmt.Sprintf("https://flow.dev/schemas/steps/%s.json", kind)
		sc := jsonschema.NewCompiler()
		sc.AssertFormat()
		if err := sc.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add %s schema resource: %w", kind, err)
		}
		compiled, err := sc.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", kind, err)
		}
		stepSchemas[kind] = compiled
	}

	return &SchemaValidator{graphSchema: graphSchema, stepSchemas: stepSchemas}, nil
}

// ValidateGraph checks the envelope shape and every node's config bag.
// Unknown node types produce warnings, not errors, so newer builder
// versions stay deployable.
func (v *SchemaValidator) ValidateGraph(g *schema.FlowGraph) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if g == nil {
		result.AddError("/", schema.ErrCodeValidation, "graph is nil")
		return result
	}

	doc, err := toJSONValue(g)
	if err != nil {
		result.AddError("/", schema.ErrCodeValidation, "failed to serialize graph: "+err.Error())
		return result
	}
	if err := v.graphSchema.Validate(doc); err != nil {
		addViolations(result, "/", err)
		return result
	}

	for i := range g.Nodes {
		node := &g.Nodes[i]
		if node.ID == schema.InitialNodeID {
			continue
		}
		path := fmt.Sprintf("/nodes/%s", node.ID)

		compiled, ok := v.stepSchemas[node.Type]
		if !ok {
			result.AddWarning(path, schema.ErrCodeValidation,
				fmt.Sprintf("unknown node type %q", node.Type))
			continue
		}
		doc, err := rawToJSONValue(node.Data)
		if err != nil {
			result.AddError(path, schema.ErrCodeConfig, "malformed config: "+err.Error())
			continue
		}
		if err := compiled.Validate(doc); err != nil {
			addViolations(result, path, err)
		}
	}

	return result
}

// toJSONValue round-trips a Go value through JSON encoding so numbers
// become json.Number, as the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

func rawToJSONValue(raw json.RawMessage) (any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
}

// addViolations flattens a jsonschema.ValidationError tree into
// individual result errors with instance locations.
func addViolations(result *schema.ValidationResult, path string, err error) {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		result.AddError(path, schema.ErrCodeValidation, err.Error())
		return
	}
	for _, v := range collectViolations(verr) {
		result.AddError(path, schema.ErrCodeValidation, v)
	}
}

// collectViolations walks a ValidationError tree and collects leaf
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
