// Package frontmatter parses and re-serializes the `---\n<yaml>\n---\n<body>`
// on-disk file format (spec §6 "On-disk layout"), carrying any unrecognized
// keys through a round-trip via an `extra` bag. Serialize writes keys in a
// fixed order; the key order of the parsed file is not kept.
package frontmatter

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const delimiter = "---"

// recognizedKeys lists the frontmatter keys with a dedicated FileMetadata
// field; anything else lands in Extra (spec §6).
var recognizedKeys = map[string]bool{
	"title":       true,
	"part_of":     true,
	"contents":    true,
	"attachments": true,
	"audience":    true,
	"description": true,
	"link_format": true,
}

// Attachment mirrors workspace.BinaryRef's on-disk YAML shape. Kept as its
// own type so this package does not import internal/workspace, avoiding a
// dependency cycle (the filesystem bridge converts between the two).
type Attachment struct {
	Path       string `yaml:"path"`
	Source     string `yaml:"source,omitempty"`
	Hash       string `yaml:"hash,omitempty"`
	MimeType   string `yaml:"mime_type,omitempty"`
	Size       int64  `yaml:"size,omitempty"`
	UploadedAt int64  `yaml:"uploaded_at,omitempty"`
	Deleted    bool   `yaml:"deleted,omitempty"`
}

// Parsed is the decoded frontmatter block plus the file body.
type Parsed struct {
	Title       string
	Description string
	PartOf      string
	Contents    []string
	Attachments []Attachment
	Audience    []string
	LinkFormat  string // "" if unspecified; caller falls back per §4.6
	Extra       map[string]any
	Body        string
}

// Parse splits raw file content into its frontmatter block and body. A
// file with no frontmatter delimiter is treated as body-only (Parsed.Extra
// is non-nil but empty, every recognized field is zero).
func Parse(raw string) (Parsed, error) {
	if !strings.HasPrefix(raw, delimiter) {
		return Parsed{Extra: map[string]any{}, Body: raw}, nil
	}

	rest := raw[len(delimiter):]
	rest = strings.TrimPrefix(rest, "\n")

	closeIdx := strings.Index(rest, "\n"+delimiter)
	if closeIdx < 0 {
		return Parsed{}, fmt.Errorf("frontmatter: missing closing %q delimiter", delimiter)
	}

	yamlBlock := rest[:closeIdx]
	after := rest[closeIdx+len("\n"+delimiter):]
	body := strings.TrimPrefix(after, "\n")

	var raw2 yaml.Node
	if err := yaml.Unmarshal([]byte(yamlBlock), &raw2); err != nil {
		return Parsed{}, fmt.Errorf("frontmatter: parsing yaml: %w", err)
	}

	p := Parsed{Extra: map[string]any{}, Body: body}
	if len(raw2.Content) == 0 {
		return p, nil
	}

	mapping := raw2.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return Parsed{}, fmt.Errorf("frontmatter: yaml block is not a mapping")
	}

	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key := mapping.Content[i].Value
		valueNode := mapping.Content[i+1]

		switch key {
		case "title":
			_ = valueNode.Decode(&p.Title)
		case "description":
			_ = valueNode.Decode(&p.Description)
		case "part_of":
			_ = valueNode.Decode(&p.PartOf)
		case "contents":
			_ = valueNode.Decode(&p.Contents)
		case "attachments":
			_ = valueNode.Decode(&p.Attachments)
		case "audience":
			_ = valueNode.Decode(&p.Audience)
		case "link_format":
			_ = valueNode.Decode(&p.LinkFormat)
		default:
			var v any
			if err := valueNode.Decode(&v); err == nil {
				p.Extra[key] = v
			}
		}
	}

	return p, nil
}

// Serialize re-renders p as `---\n<yaml>\n---\n<body>`. The recognized keys
// that are set come first in a fixed order (title, part_of, contents,
// attachments, audience, description, link_format), then every Extra key in
// sorted order, so unknown keys survive a round-trip. The key order of the
// file p was parsed from is not reproduced.
func Serialize(p Parsed) (string, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}

	addScalar := func(key, value string) {
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: key},
			&yaml.Node{Kind: yaml.ScalarNode, Value: value})
	}
	addNode := func(key string, value any) error {
		var valueNode yaml.Node
		if err := valueNode.Encode(value); err != nil {
			return fmt.Errorf("frontmatter: encoding %s: %w", key, err)
		}
		node.Content = append(node.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: key},
			&valueNode)
		return nil
	}

	if p.Title != "" {
		addScalar("title", p.Title)
	}
	if p.PartOf != "" {
		addScalar("part_of", p.PartOf)
	}
	if len(p.Contents) > 0 {
		if err := addNode("contents", p.Contents); err != nil {
			return "", err
		}
	}
	if len(p.Attachments) > 0 {
		if err := addNode("attachments", p.Attachments); err != nil {
			return "", err
		}
	}
	if len(p.Audience) > 0 {
		if err := addNode("audience", p.Audience); err != nil {
			return "", err
		}
	}
	if p.Description != "" {
		addScalar("description", p.Description)
	}
	if p.LinkFormat != "" {
		addScalar("link_format", p.LinkFormat)
	}
	for _, key := range sortedExtraKeys(p.Extra) {
		if err := addNode(key, p.Extra[key]); err != nil {
			return "", err
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if len(node.Content) > 0 {
		if err := enc.Encode(node); err != nil {
			return "", fmt.Errorf("frontmatter: encoding yaml: %w", err)
		}
	}
	if err := enc.Close(); err != nil {
		return "", fmt.Errorf("frontmatter: closing yaml encoder: %w", err)
	}

	var out strings.Builder
	out.WriteString(delimiter)
	out.WriteString("\n")
	out.WriteString(buf.String())
	out.WriteString(delimiter)
	out.WriteString("\n")
	out.WriteString(p.Body)
	return out.String(), nil
}

func sortedExtraKeys(extra map[string]any) []string {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	// Extra keys have no stable source order once round-tripped through a
	// map; sort for determinism rather than leave map iteration order.
	sort.Strings(keys)
	return keys
}
