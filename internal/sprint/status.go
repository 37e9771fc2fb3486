// Package sprint owns the sprint-status ledger: classification of its
// entries, the three-way reconciliation against epic docs and on-disk
// artifacts, and the comment-preserving writer. The reconciler is the only
// writer of sprint-status.yaml.
package sprint

import (
	"fmt"
	"regexp"
	"strconv"

	"gopkg.in/yaml.v3"

	bmaderrors "github.com/bmad-assist/bmad-assist/internal/errors"
)

// EntryType classifies one ledger key. Only EPIC_STORY entries are ever
// rewritten; everything else is preserved byte-for-byte.
type EntryType string

const (
	EntryEpicStory     EntryType = "EPIC_STORY"
	EntryEpicMeta      EntryType = "EPIC_META"
	EntryStandalone    EntryType = "STANDALONE"
	EntryModuleStory   EntryType = "MODULE_STORY"
	EntryRetrospective EntryType = "RETROSPECTIVE"
	EntryUnknown       EntryType = "UNKNOWN"
)

var (
	epicStoryKey   = regexp.MustCompile(`^([A-Za-z0-9]+)-(\d+)(?:-([A-Za-z0-9][A-Za-z0-9-]*))?$`)
	epicMetaKey    = regexp.MustCompile(`^epic-([A-Za-z0-9]+)$`)
	moduleStoryKey = regexp.MustCompile(`^module-[A-Za-z0-9]+-\d+(?:-.*)?$`)
	retroKey       = regexp.MustCompile(`(?:^|-)retro(?:spective)?(?:-|$)`)
	standaloneKey  = regexp.MustCompile(`^standalone-`)
)

// Classify determines the entry type of a ledger key.
func Classify(key string) EntryType {
	switch {
	case retroKey.MatchString(key):
		return EntryRetrospective
	case moduleStoryKey.MatchString(key):
		return EntryModuleStory
	case standaloneKey.MatchString(key):
		return EntryStandalone
	case epicMetaKey.MatchString(key):
		return EntryEpicMeta
	case epicStoryKey.MatchString(key):
		return EntryEpicStory
	default:
		return EntryUnknown
	}
}

// StoryNumber extracts the story number from an EPIC_STORY key, or 0.
func StoryNumber(key string) int {
	m := epicStoryKey.FindStringSubmatch(key)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[2])
	return n
}

// EpicOfKey extracts the epic part of an EPIC_STORY key.
func EpicOfKey(key string) string {
	m := epicStoryKey.FindStringSubmatch(key)
	if m == nil {
		return ""
	}
	return m[1]
}

const (
	statusSectionKey = "development_status"
	metaSectionKey   = "epic_meta"
)

// Document is a sprint-status file held as a yaml.v3 node tree so comments
// and ordering survive the round trip.
type Document struct {
	root *yaml.Node
}

// ParseDocument parses sprint-status YAML preserving comments.
func ParseDocument(data []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, bmaderrors.ErrStorage("parse sprint-status", err.Error()).WithCause(err)
	}
	if root.Kind == 0 || len(root.Content) == 0 {
		return NewDocument(), nil
	}
	if root.Content[0].Kind != yaml.MappingNode {
		return nil, bmaderrors.ErrStorage("parse sprint-status", "top level is not a mapping")
	}
	return &Document{root: &root}, nil
}

// NewDocument creates an empty ledger.
func NewDocument() *Document {
	mapping := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	return &Document{root: &yaml.Node{
		Kind:    yaml.DocumentNode,
		Content: []*yaml.Node{mapping},
	}}
}

// Marshal serializes the document with two-space indentation.
func (d *Document) Marshal() ([]byte, error) {
	var buf []byte
	out, err := marshalNode(d.root)
	if err != nil {
		return nil, err
	}
	buf = out
	return buf, nil
}

func marshalNode(n *yaml.Node) ([]byte, error) {
	var b yamlBuffer
	enc := yaml.NewEncoder(&b)
	enc.SetIndent(2)
	if err := enc.Encode(n); err != nil {
		return nil, fmt.Errorf("marshal sprint-status: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("marshal sprint-status: %w", err)
	}
	return b.data, nil
}

type yamlBuffer struct{ data []byte }

func (b *yamlBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}

func (d *Document) top() *yaml.Node { return d.root.Content[0] }

// section returns the mapping node for a top-level key, creating it on
// demand when create is set.
func (d *Document) section(key string, create bool) *yaml.Node {
	top := d.top()
	for i := 0; i+1 < len(top.Content); i += 2 {
		if top.Content[i].Value == key {
			return top.Content[i+1]
		}
	}
	if !create {
		return nil
	}
	keyNode := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
	valNode := &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
	top.Content = append(top.Content, keyNode, valNode)
	return valNode
}

// Entries returns the development_status section as a plain map.
func (d *Document) Entries() map[string]string {
	return mappingToMap(d.section(statusSectionKey, false))
}

// EntryKeys returns the development_status keys in file order.
func (d *Document) EntryKeys() []string {
	sec := d.section(statusSectionKey, false)
	if sec == nil {
		return nil
	}
	keys := make([]string, 0, len(sec.Content)/2)
	for i := 0; i+1 < len(sec.Content); i += 2 {
		keys = append(keys, sec.Content[i].Value)
	}
	return keys
}

// EpicMeta returns the epic_meta section as a plain map.
func (d *Document) EpicMeta() map[string]string {
	return mappingToMap(d.section(metaSectionKey, false))
}

// Set updates a development_status entry in place, or appends it. Existing
// nodes are mutated so their comments survive.
func (d *Document) Set(key, status string) {
	setMappingValue(d.section(statusSectionKey, true), key, status)
}

// SetMeta updates an epic_meta entry.
func (d *Document) SetMeta(key, status string) {
	setMappingValue(d.section(metaSectionKey, true), key, status)
}

func mappingToMap(sec *yaml.Node) map[string]string {
	out := map[string]string{}
	if sec == nil || sec.Kind != yaml.MappingNode {
		return out
	}
	for i := 0; i+1 < len(sec.Content); i += 2 {
		out[sec.Content[i].Value] = sec.Content[i+1].Value
	}
	return out
}

func setMappingValue(sec *yaml.Node, key, value string) {
	for i := 0; i+1 < len(sec.Content); i += 2 {
		if sec.Content[i].Value == key {
			sec.Content[i+1].SetString(value)
			return
		}
	}
	sec.Content = append(sec.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value},
	)
}
