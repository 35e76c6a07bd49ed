package fhir

import (
	"strconv"
	"strings"
)

// IndexEntry is one flattened search row derived from a resource body.
// Values are stored lower-cased so lookups are case-insensitive.
type IndexEntry struct {
	ResourceType string `json:"resource_type"`
	ResourceID   string `json:"resource_id"`
	Code         string `json:"search_param_code"`
	Value        string `json:"value"`
}

// RuleKind selects how a rule interprets the node(s) found at its path.
type RuleKind int

const (
	// KindToken indexes a scalar leaf (string, boolean, number) verbatim.
	KindToken RuleKind = iota

	// KindDate indexes a date/dateTime string leaf.
	KindDate

	// KindReference indexes the .reference field of a Reference node as the
	// literal relative reference string, enabling ownership lookups.
	KindReference

	// KindCoding indexes a CodeableConcept node: its .text plus every
	// .coding[].code. A bare Coding node contributes its .code.
	KindCoding

	// KindIdentifier indexes an Identifier node: its .value, plus
	// "system|value" when both are present.
	KindIdentifier

	// KindContact indexes the .value of a ContactPoint node, optionally
	// restricted to one contact system (phone, email).
	KindContact

	// KindInline indexes an inline resource node as its relative reference
	// ("{resourceType}/{id}"), restricted to one resource type via RefType.
	// Used for bundle entries carrying whole resources rather than references.
	KindInline
)

// IndexRule is one declarative extraction rule. Paths are dot-separated field
// names evaluated against the JSON document; arrays flatten at any segment.
type IndexRule struct {
	Code    string
	Path    string
	Kind    RuleKind
	System  string // KindContact: required ContactPoint system, "" for any
	RefType string // KindReference: only index references of this type
}

// baseRules apply to every resource type ahead of its own table.
var baseRules = []IndexRule{
	{Code: "_id", Path: "id", Kind: KindToken},
	{Code: "_lastUpdated", Path: "meta.lastUpdated", Kind: KindDate},
}

// Extract interprets the rule table registered for the resource's type and
// returns the complete index row set for the body. It is a pure function:
// no side effects, and fields a rule cannot interpret are skipped rather
// than failing, so a structurally valid resource always indexes.
func Extract(r Resource) []IndexEntry {
	b := entryBuilder{
		resourceType: r.Type(),
		resourceID:   r.ID(),
		seen:         make(map[string]struct{}),
	}
	for _, rule := range baseRules {
		b.apply(r, rule)
	}
	for _, rule := range rulesFor(r.Type()) {
		b.apply(r, rule)
	}
	return b.entries
}

type entryBuilder struct {
	resourceType string
	resourceID   string
	seen         map[string]struct{}
	entries      []IndexEntry
}

// add appends one row, dropping blank values, lower-casing, and collapsing
// exact (code, value) duplicates.
func (b *entryBuilder) add(code, value string) {
	if strings.TrimSpace(value) == "" {
		return
	}
	value = strings.ToLower(value)
	key := code + "\x00" + value
	if _, dup := b.seen[key]; dup {
		return
	}
	b.seen[key] = struct{}{}
	b.entries = append(b.entries, IndexEntry{
		ResourceType: b.resourceType,
		ResourceID:   b.resourceID,
		Code:         code,
		Value:        value,
	})
}

func (b *entryBuilder) apply(r Resource, rule IndexRule) {
	for _, node := range valuesAt(map[string]interface{}(r), rule.Path) {
		switch rule.Kind {
		case KindToken, KindDate:
			b.add(rule.Code, scalarString(node))
		case KindReference:
			b.addReference(rule, node)
		case KindCoding:
			b.addCoding(rule.Code, node)
		case KindIdentifier:
			b.addIdentifier(rule.Code, node)
		case KindContact:
			b.addContact(rule, node)
		case KindInline:
			b.addInline(rule, node)
		}
	}
}

func (b *entryBuilder) addReference(rule IndexRule, node interface{}) {
	m, ok := node.(map[string]interface{})
	if !ok {
		return
	}
	ref, _ := m["reference"].(string)
	if rule.RefType != "" {
		refType, _, ok := ParseReference(ref)
		if !ok || !strings.EqualFold(refType, rule.RefType) {
			return
		}
	}
	b.add(rule.Code, ref)
}

func (b *entryBuilder) addCoding(code string, node interface{}) {
	m, ok := node.(map[string]interface{})
	if !ok {
		return
	}
	if text, _ := m["text"].(string); text != "" {
		b.add(code, text)
	}
	// Bare Coding node.
	if c, _ := m["code"].(string); c != "" {
		b.add(code, c)
	}
	codings, _ := m["coding"].([]interface{})
	for _, c := range codings {
		cm, ok := c.(map[string]interface{})
		if !ok {
			continue
		}
		if cc, _ := cm["code"].(string); cc != "" {
			b.add(code, cc)
		}
	}
}

func (b *entryBuilder) addIdentifier(code string, node interface{}) {
	m, ok := node.(map[string]interface{})
	if !ok {
		return
	}
	value, _ := m["value"].(string)
	b.add(code, value)
	if system, _ := m["system"].(string); system != "" && strings.TrimSpace(value) != "" {
		b.add(code, system+"|"+value)
	}
}

func (b *entryBuilder) addContact(rule IndexRule, node interface{}) {
	m, ok := node.(map[string]interface{})
	if !ok {
		return
	}
	if rule.System != "" {
		if system, _ := m["system"].(string); !strings.EqualFold(system, rule.System) {
			return
		}
	}
	value, _ := m["value"].(string)
	b.add(rule.Code, value)
}

func (b *entryBuilder) addInline(rule IndexRule, node interface{}) {
	m, ok := node.(map[string]interface{})
	if !ok {
		return
	}
	resourceType, _ := m["resourceType"].(string)
	if !strings.EqualFold(resourceType, rule.RefType) {
		return
	}
	if id, _ := m["id"].(string); id != "" {
		b.add(rule.Code, resourceType+"/"+id)
	}
}

// valuesAt walks a dot-separated path through nested maps, flattening arrays
// at every level, and returns the nodes found at the end of the path.
func valuesAt(node interface{}, path string) []interface{} {
	nodes := []interface{}{node}
	for _, seg := range strings.Split(path, ".") {
		var next []interface{}
		for _, n := range flatten(nodes) {
			m, ok := n.(map[string]interface{})
			if !ok {
				continue
			}
			if v, ok := m[seg]; ok {
				next = append(next, v)
			}
		}
		nodes = next
		if len(nodes) == 0 {
			return nil
		}
	}
	return flatten(nodes)
}

func flatten(nodes []interface{}) []interface{} {
	var out []interface{}
	for _, n := range nodes {
		if arr, ok := n.([]interface{}); ok {
			out = append(out, arr...)
			continue
		}
		out = append(out, n)
	}
	return out
}

// scalarString renders a scalar leaf for indexing. Non-scalars yield "",
// which the builder drops.
func scalarString(node interface{}) string {
	switch v := node.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}
