package plugins

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/gofiber/fiber/v2"
	"gopkg.in/yaml.v3"

	"github.com/linht/sdr-manager/ad9361"
)

// OrderedMap represents a map that preserves insertion order
// It implements json.Marshaler to output keys in order
type OrderedMap struct {
	Keys   []string
	Values map[string]interface{}
}

// MarshalJSON implements json.Marshaler for OrderedMap
func (om *OrderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("{")
	for i, key := range om.Keys {
		if i > 0 {
			buf.WriteString(",")
		}
		keyBytes, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(keyBytes)
		buf.WriteString(":")
		valBytes, err := json.Marshal(om.Values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(valBytes)
	}
	buf.WriteString("}")
	return buf.Bytes(), nil
}

// yamlNodeToOrderedJSON converts a yaml.Node to an ordered JSON-compatible structure
func yamlNodeToOrderedJSON(node *yaml.Node) interface{} {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) > 0 {
			return yamlNodeToOrderedJSON(node.Content[0])
		}
		return nil

	case yaml.MappingNode:
		om := &OrderedMap{
			Keys:   make([]string, 0, len(node.Content)/2),
			Values: make(map[string]interface{}),
		}
		for i := 0; i < len(node.Content); i += 2 {
			keyNode := node.Content[i]
			valueNode := node.Content[i+1]
			key := keyNode.Value
			om.Keys = append(om.Keys, key)
			om.Values[key] = yamlNodeToOrderedJSON(valueNode)
		}
		return om

	case yaml.SequenceNode:
		result := make([]interface{}, len(node.Content))
		for i, item := range node.Content {
			result[i] = yamlNodeToOrderedJSON(item)
		}
		return result

	case yaml.ScalarNode:
		// Parse scalar values based on their tag
		switch node.Tag {
		case "!!null":
			return nil
		case "!!bool":
			return node.Value == "true"
		case "!!int":
			var v int64
			if err := node.Decode(&v); err == nil {
				return v
			}
			return node.Value
		case "!!float":
			var v float64
			if err := node.Decode(&v); err == nil {
				return v
			}
			return node.Value
		default:
			// For strings and other types
			return node.Value
		}

	case yaml.AliasNode:
		if node.Alias != nil {
			return yamlNodeToOrderedJSON(node.Alias)
		}
		return nil

	default:
		return node.Value
	}
}

// updateYAMLNodeWithValues updates a yaml.Node tree with values from a map while preserving structure
func updateYAMLNodeWithValues(node *yaml.Node, values map[string]interface{}) {
	switch node.Kind {
	case yaml.DocumentNode:
		if len(node.Content) > 0 {
			updateYAMLNodeWithValues(node.Content[0], values)
		}

	case yaml.MappingNode:
		for i := 0; i < len(node.Content); i += 2 {
			keyNode := node.Content[i]
			valueNode := node.Content[i+1]
			key := keyNode.Value

			if newValue, exists := values[key]; exists {
				switch v := newValue.(type) {
				case map[string]interface{}:
					// Recursively update nested maps
					if valueNode.Kind == yaml.MappingNode {
						updateYAMLNodeWithValues(valueNode, v)
					}
				case []interface{}:
					// Handle arrays - rebuild the sequence
					valueNode.Kind = yaml.SequenceNode
					valueNode.Content = nil
					for _, item := range v {
						valueNode.Content = append(valueNode.Content, createYAMLNode(item))
					}
				default:
					// Update scalar value
					updateScalarNode(valueNode, v)
				}
			}
		}
	}
}

// createYAMLNode creates a yaml.Node from an interface value. Mapping nodes
// get flow style and sorted keys so the table rows rebuilt from a save come
// out one per line and diff cleanly.
func createYAMLNode(value interface{}) *yaml.Node {
	switch v := value.(type) {
	case map[string]interface{}:
		node := &yaml.Node{Kind: yaml.MappingNode, Style: yaml.FlowStyle}
		keys := make([]string, 0, len(v))
		for key := range v {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			keyNode := &yaml.Node{
				Kind:  yaml.ScalarNode,
				Value: key,
				Tag:   "!!str",
			}
			node.Content = append(node.Content, keyNode, createYAMLNode(v[key]))
		}
		return node

	case []interface{}:
		node := &yaml.Node{Kind: yaml.SequenceNode}
		for _, item := range v {
			node.Content = append(node.Content, createYAMLNode(item))
		}
		return node

	case string:
		return &yaml.Node{Kind: yaml.ScalarNode, Value: v, Tag: "!!str"}

	case bool:
		return &yaml.Node{Kind: yaml.ScalarNode, Value: fmt.Sprintf("%t", v), Tag: "!!bool"}

	case float64:
		if v == float64(int64(v)) {
			return &yaml.Node{Kind: yaml.ScalarNode, Value: fmt.Sprintf("%d", int64(v)), Tag: "!!int"}
		}
		return &yaml.Node{Kind: yaml.ScalarNode, Value: fmt.Sprintf("%g", v), Tag: "!!float"}

	case int64:
		return &yaml.Node{Kind: yaml.ScalarNode, Value: fmt.Sprintf("%d", v), Tag: "!!int"}

	case int:
		return &yaml.Node{Kind: yaml.ScalarNode, Value: fmt.Sprintf("%d", v), Tag: "!!int"}

	case nil:
		return &yaml.Node{Kind: yaml.ScalarNode, Value: "null", Tag: "!!null"}

	default:
		return &yaml.Node{Kind: yaml.ScalarNode, Value: fmt.Sprintf("%v", v)}
	}
}

// updateScalarNode updates a scalar node with a new value
func updateScalarNode(node *yaml.Node, value interface{}) {
	switch v := value.(type) {
	case string:
		node.Value = v
		node.Tag = "!!str"
	case bool:
		node.Value = fmt.Sprintf("%t", v)
		node.Tag = "!!bool"
	case float64:
		if v == float64(int64(v)) {
			node.Value = fmt.Sprintf("%d", int64(v))
			node.Tag = "!!int"
		} else {
			node.Value = fmt.Sprintf("%g", v)
			node.Tag = "!!float"
		}
	case int64:
		node.Value = fmt.Sprintf("%d", v)
		node.Tag = "!!int"
	case int:
		node.Value = fmt.Sprintf("%d", v)
		node.Tag = "!!int"
	case nil:
		node.Value = "null"
		node.Tag = "!!null"
	default:
		node.Value = fmt.Sprintf("%v", v)
	}
}

// BoardConfigPlugin edits the radio's calibration tables file: FIR
// coefficient sets, the synthesizer lookup table, and the banded gain
// tables. Edits are validated with the driver's own table checks before
// anything is written, so a save can never leave a file the radio plugin
// refuses to load.
type BoardConfigPlugin struct {
	tablesPath string
}

// NewBoardConfigPlugin creates a new board config plugin instance
func NewBoardConfigPlugin(tablesPath string) (*BoardConfigPlugin, error) {
	if tablesPath == "" {
		return nil, fmt.Errorf("tables_path is required in boardconfig plugin configuration")
	}

	return &BoardConfigPlugin{
		tablesPath: tablesPath,
	}, nil
}

// Name returns the plugin identifier
func (p *BoardConfigPlugin) Name() string {
	return "boardconfig"
}

// RegisterRoutes adds the plugin's HTTP routes
func (p *BoardConfigPlugin) RegisterRoutes(app *fiber.App) {
	api := app.Group("/api/board")

	api.Get("/tables", p.loadTables)
	api.Post("/tables", p.saveTables)
}

// Shutdown performs cleanup
func (p *BoardConfigPlugin) Shutdown() error {
	return nil
}

// loadTables handles GET /api/board/tables
func (p *BoardConfigPlugin) loadTables(c *fiber.Ctx) error {
	data, err := os.ReadFile(p.tablesPath)
	if err != nil {
		return SendError(c, 500, fmt.Errorf("failed to read tables file: %w", err))
	}

	// Parse YAML into yaml.Node to preserve key order
	var rootNode yaml.Node
	if err := yaml.Unmarshal(data, &rootNode); err != nil {
		return SendError(c, 500, fmt.Errorf("failed to parse tables file: %w", err))
	}

	orderedData := yamlNodeToOrderedJSON(&rootNode)

	return SendSuccess(c, orderedData, "Tables loaded successfully")
}

// saveTables handles POST /api/board/tables
func (p *BoardConfigPlugin) saveTables(c *fiber.Ctx) error {
	var newValues map[string]interface{}
	if err := c.BodyParser(&newValues); err != nil {
		return SendErrorMessage(c, 400, "Invalid request body")
	}

	// Read the original YAML file to preserve structure and key order
	originalData, err := os.ReadFile(p.tablesPath)
	if err != nil {
		return SendError(c, 500, fmt.Errorf("failed to read original tables file: %w", err))
	}

	var rootNode yaml.Node
	if err := yaml.Unmarshal(originalData, &rootNode); err != nil {
		return SendError(c, 500, fmt.Errorf("failed to parse original tables file: %w", err))
	}

	// Update the yaml.Node tree with new values while preserving structure
	updateYAMLNodeWithValues(&rootNode, newValues)

	data, err := yaml.Marshal(&rootNode)
	if err != nil {
		return SendError(c, 500, fmt.Errorf("failed to serialize tables: %w", err))
	}

	// Reject any edit the driver would refuse to load.
	var tables ad9361.Tables
	if err := yaml.Unmarshal(data, &tables); err != nil {
		return SendError(c, 400, fmt.Errorf("edited tables do not parse: %w", err))
	}
	if err := tables.Validate(); err != nil {
		return SendError(c, 400, fmt.Errorf("edited tables rejected: %w", err))
	}

	if err := os.WriteFile(p.tablesPath, data, 0644); err != nil {
		return SendError(c, 500, fmt.Errorf("failed to write tables file: %w", err))
	}

	return SendSuccess(c, nil, "Tables saved successfully")
}

// Register the plugin
func init() {
	Register("boardconfig", func(config interface{}) (Plugin, error) {
		var tablesPath string

		if configMap, ok := config.(map[string]interface{}); ok {
			if path, ok := configMap["tables_path"].(string); ok && path != "" {
				tablesPath = path
			}
		}

		return NewBoardConfigPlugin(tablesPath)
	})
}
