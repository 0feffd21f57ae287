package prefs

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Codec converts between the serialized backing document and the tree.
type Codec interface {
	Decode(data []byte) (map[string]any, error)
	Encode(doc map[string]any) ([]byte, error)
}

// YAMLCodec stores the document as YAML. Mapping keys are written in sorted
// order and byte blobs use the !!binary tag.
type YAMLCodec struct{}

const binaryTag = "!!binary"

// Decode parses data. An empty or non-mapping document decodes as empty.
func (YAMLCodec) Decode(data []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	node := &root
	if node.Kind == yaml.DocumentNode {
		if len(node.Content) == 0 {
			return map[string]any{}, nil
		}
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return map[string]any{}, nil
	}
	value, err := decodeNode(node)
	if err != nil {
		return nil, err
	}
	return value.(map[string]any), nil
}

func decodeNode(node *yaml.Node) (any, error) {
	if node.Kind == yaml.AliasNode && node.Alias != nil {
		node = node.Alias
	}
	switch node.Kind {
	case yaml.MappingNode:
		out := make(map[string]any, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			value, err := decodeNode(node.Content[i+1])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}
			if value == nil {
				continue
			}
			out[key] = value
		}
		return out, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(node.Content))
		for _, item := range node.Content {
			value, err := decodeNode(item)
			if err != nil {
				return nil, err
			}
			if value == nil {
				continue
			}
			out = append(out, value)
		}
		return out, nil
	case yaml.ScalarNode:
		switch node.ShortTag() {
		case "!!null":
			return nil, nil
		case binaryTag:
			raw := strings.Join(strings.Fields(node.Value), "")
			data, err := base64.StdEncoding.DecodeString(raw)
			if err != nil {
				return nil, fmt.Errorf("line %d: decode binary: %w", node.Line, err)
			}
			return data, nil
		}
		var value any
		if err := node.Decode(&value); err != nil {
			return nil, fmt.Errorf("line %d: %w", node.Line, err)
		}
		if value == nil {
			return nil, nil
		}
		return normalize(value)
	default:
		return nil, fmt.Errorf("line %d: unsupported node kind %d", node.Line, node.Kind)
	}
}

// Encode renders doc as YAML.
func (YAMLCodec) Encode(doc map[string]any) ([]byte, error) {
	node, err := encodeNode(doc)
	if err != nil {
		return nil, err
	}
	root := &yaml.Node{Kind: yaml.DocumentNode, Content: []*yaml.Node{node}}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(root); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return buf.Bytes(), nil
}

func encodeNode(v any) (*yaml.Node, error) {
	switch val := v.(type) {
	case map[string]any:
		node := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			child, err := encodeNode(val[k])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			keyNode := &yaml.Node{}
			if err := keyNode.Encode(k); err != nil {
				return nil, err
			}
			node.Content = append(node.Content, keyNode, child)
		}
		return node, nil
	case []any:
		node := &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		for _, item := range val {
			child, err := encodeNode(item)
			if err != nil {
				return nil, err
			}
			node.Content = append(node.Content, child)
		}
		return node, nil
	case []byte:
		return &yaml.Node{
			Kind:  yaml.ScalarNode,
			Tag:   binaryTag,
			Value: base64.StdEncoding.EncodeToString(val),
		}, nil
	default:
		node := &yaml.Node{}
		if err := node.Encode(val); err != nil {
			return nil, fmt.Errorf("encode %T: %w", v, err)
		}
		return node, nil
	}
}
