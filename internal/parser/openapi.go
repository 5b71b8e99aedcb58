package parser

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/prasenjit/go-apibot/internal/models"
)

// maxSchemaDepth bounds skeleton generation for recursive schemas
const maxSchemaDepth = 6

// Parser turns OpenAPI 3 documents into endpoint templates for the wizard
type Parser struct{}

// NewParser creates a new OpenAPI parser
func NewParser() *Parser {
	return &Parser{}
}

// Document is the parsed summary of an OpenAPI document
type Document struct {
	Title     string                    `json:"title"`
	Version   string                    `json:"version"`
	Endpoints []models.EndpointTemplate `json:"endpoints"`
}

// methodOrder lists the methods a bot can call, in display order
var methodOrder = []string{
	models.MethodGet, models.MethodPost, models.MethodPut, models.MethodDelete, models.MethodPatch,
}

// Parse parses an OpenAPI 3 document (YAML or JSON)
func (p *Parser) Parse(content string) (*Document, error) {
	loader := openapi3.NewLoader()

	doc, err := loader.LoadFromData([]byte(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse OpenAPI spec: %w", err)
	}

	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("invalid OpenAPI spec: %w", err)
	}

	result := &Document{Endpoints: p.extractEndpoints(doc)}
	if doc.Info != nil {
		result.Title = doc.Info.Title
		result.Version = doc.Info.Version
	}
	return result, nil
}

// ParseEndpoints returns the endpoint templates of an OpenAPI document
func (p *Parser) ParseEndpoints(content string) ([]models.EndpointTemplate, error) {
	doc, err := p.Parse(content)
	if err != nil {
		return nil, err
	}
	return doc.Endpoints, nil
}

// extractEndpoints walks every path and supported method, sorted by path
func (p *Parser) extractEndpoints(doc *openapi3.T) []models.EndpointTemplate {
	endpoints := make([]models.EndpointTemplate, 0)
	if doc.Paths == nil {
		return endpoints
	}

	baseURL := serverURL(doc.Servers)

	paths := doc.Paths.Map()
	keys := make([]string, 0, len(paths))
	for k := range paths {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, pathPattern := range keys {
		pathItem := paths[pathPattern]
		if pathItem == nil {
			continue
		}

		for _, method := range methodOrder {
			op := pathItem.GetOperation(method)
			if op == nil {
				continue
			}

			operationID := op.OperationID
			if operationID == "" {
				operationID = fmt.Sprintf("%s_%s", strings.ToLower(method), sanitizePath(pathPattern))
			}

			base := baseURL
			if op.Servers != nil && len(*op.Servers) > 0 {
				base = serverURL(*op.Servers)
			} else if len(pathItem.Servers) > 0 {
				base = serverURL(pathItem.Servers)
			}

			tpl := models.EndpointTemplate{
				OperationID: operationID,
				Method:      method,
				URL:         base + pathPattern,
				Summary:     op.Summary,
				Headers:     headerExamples(pathItem.Parameters, op.Parameters),
			}

			if mediaType, body := requestBodyExample(op); mediaType != "" {
				if tpl.Headers == nil {
					tpl.Headers = make(map[string]string)
				}
				tpl.Headers["Content-Type"] = mediaType
				tpl.Body = body
			}

			endpoints = append(endpoints, tpl)
		}
	}

	return endpoints
}

// serverURL returns the first server URL with variables set to their defaults
func serverURL(servers openapi3.Servers) string {
	if len(servers) == 0 || servers[0] == nil {
		return ""
	}

	server := servers[0]
	u := server.URL
	for name, v := range server.Variables {
		if v != nil {
			u = strings.ReplaceAll(u, "{"+name+"}", v.Default)
		}
	}
	return strings.TrimSuffix(u, "/")
}

// headerExamples collects header parameters that carry an example or default.
// Operation-level parameters override path-level ones.
func headerExamples(groups ...openapi3.Parameters) map[string]string {
	var headers map[string]string

	for _, params := range groups {
		for _, ref := range params {
			if ref == nil || ref.Value == nil || ref.Value.In != openapi3.ParameterInHeader {
				continue
			}

			param := ref.Value
			var value interface{}
			switch {
			case param.Example != nil:
				value = param.Example
			case param.Schema != nil && param.Schema.Value != nil && param.Schema.Value.Example != nil:
				value = param.Schema.Value.Example
			case param.Schema != nil && param.Schema.Value != nil && param.Schema.Value.Default != nil:
				value = param.Schema.Value.Default
			default:
				continue
			}

			if headers == nil {
				headers = make(map[string]string)
			}
			headers[param.Name] = formatExample(value)
		}
	}

	return headers
}

// requestBodyExample returns the JSON media type and an indented example body
func requestBodyExample(op *openapi3.Operation) (string, string) {
	if op.RequestBody == nil || op.RequestBody.Value == nil {
		return "", ""
	}

	content := op.RequestBody.Value.Content
	mediaTypes := make([]string, 0, len(content))
	for mt := range content {
		mediaTypes = append(mediaTypes, mt)
	}
	sort.Strings(mediaTypes)

	for _, mt := range mediaTypes {
		if !strings.Contains(mt, "json") {
			continue
		}
		media := content[mt]
		if media == nil {
			continue
		}

		var example interface{}
		switch {
		case media.Example != nil:
			example = media.Example
		case len(media.Examples) > 0:
			names := make([]string, 0, len(media.Examples))
			for name := range media.Examples {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				if ex := media.Examples[name]; ex != nil && ex.Value != nil && ex.Value.Value != nil {
					example = ex.Value.Value
					break
				}
			}
		case media.Schema != nil && media.Schema.Value != nil:
			example = exampleFromSchema(media.Schema.Value, 0)
		}

		if example == nil {
			return mt, ""
		}
		data, err := json.MarshalIndent(example, "", "  ")
		if err != nil {
			return mt, ""
		}
		return mt, string(data)
	}

	return "", ""
}

// exampleFromSchema builds a skeleton value for a schema, preferring
// examples, defaults and the first enum value
func exampleFromSchema(schema *openapi3.Schema, depth int) interface{} {
	if schema.Example != nil {
		return schema.Example
	}
	if schema.Default != nil {
		return schema.Default
	}
	if len(schema.Enum) > 0 {
		return schema.Enum[0]
	}
	if depth >= maxSchemaDepth {
		return nil
	}

	if len(schema.AllOf) > 0 {
		merged := make(map[string]interface{})
		for _, ref := range schema.AllOf {
			if ref == nil || ref.Value == nil {
				continue
			}
			if obj, ok := exampleFromSchema(ref.Value, depth+1).(map[string]interface{}); ok {
				for k, v := range obj {
					merged[k] = v
				}
			}
		}
		return merged
	}
	for _, group := range []openapi3.SchemaRefs{schema.OneOf, schema.AnyOf} {
		if len(group) > 0 && group[0] != nil && group[0].Value != nil {
			return exampleFromSchema(group[0].Value, depth+1)
		}
	}

	switch {
	case schema.Type.Is(openapi3.TypeObject) || len(schema.Properties) > 0:
		obj := make(map[string]interface{}, len(schema.Properties))
		for name, prop := range schema.Properties {
			if prop == nil || prop.Value == nil {
				continue
			}
			obj[name] = exampleFromSchema(prop.Value, depth+1)
		}
		return obj
	case schema.Type.Is(openapi3.TypeArray):
		if schema.Items != nil && schema.Items.Value != nil {
			return []interface{}{exampleFromSchema(schema.Items.Value, depth+1)}
		}
		return []interface{}{}
	case schema.Type.Is(openapi3.TypeString):
		return "string"
	case schema.Type.Is(openapi3.TypeInteger):
		return 0
	case schema.Type.Is(openapi3.TypeNumber):
		return 0.0
	case schema.Type.Is(openapi3.TypeBoolean):
		return false
	}
	return nil
}

// formatExample converts an example value to its text form
func formatExample(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	default:
		if data, err := json.Marshal(val); err == nil {
			return string(data)
		}
		return fmt.Sprintf("%v", val)
	}
}

// sanitizePath converts a path to a valid identifier
func sanitizePath(pathPattern string) string {
	result := strings.ReplaceAll(pathPattern, "{", "")
	result = strings.ReplaceAll(result, "}", "")
	result = strings.ReplaceAll(result, "/", "_")
	result = strings.TrimPrefix(result, "_")
	result = strings.TrimSuffix(result, "_")
	return result
}
