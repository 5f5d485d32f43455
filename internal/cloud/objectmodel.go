package cloud

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Category distinguishes the two object model namespaces.
type Category string

// Object model categories. Identifiers are unique within a category.
const (
	CategoryProperty Category = "property"
	CategoryEvent    Category = "event"
)

// Descriptor describes one property or event identifier.
type Descriptor struct {
	// Identifier is the schema identifier, unique within its category.
	Identifier string

	// Fields holds the nested field identifiers for struct-typed entries.
	// Nil for scalar entries. The schema source format nests at most one
	// level, so fields are a flat set.
	Fields map[string]struct{}
}

// ObjectModel is the static schema of property and event identifiers the
// device may report. It is built once at startup and immutable thereafter.
type ObjectModel struct {
	properties map[string]Descriptor
	events     map[string]Descriptor
}

// schemaDocument mirrors the top level of the object model JSON.
type schemaDocument struct {
	Properties []schemaEntry `json:"properties"`
	Events     []schemaEntry `json:"events"`
}

// schemaEntry mirrors one property, event or nested field entry.
type schemaEntry struct {
	Identifier string          `json:"identifier"`
	DataType   *schemaDataType `json:"dataType"`
	OutputData []schemaEntry   `json:"outputData"`
}

// schemaDataType mirrors the dataType block of a schema entry.
type schemaDataType struct {
	Type  string        `json:"type"`
	Specs []schemaEntry `json:"specs"`
}

// LoadObjectModel reads and parses the object model document at path.
//
// Parameters:
//   - path: Filesystem path to the schema JSON
//
// Returns:
//   - *ObjectModel: Parsed, queryable model
//   - error: ErrSchema-wrapped description of the first malformation found
func LoadObjectModel(path string) (*ObjectModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading object model: %w", err)
	}
	return ParseObjectModel(data)
}

// ParseObjectModel parses an object model document.
//
// The document's top level contains "properties" and "events" arrays; each
// entry carries an "identifier" and a "dataType". Struct-typed properties
// contribute their "specs" identifiers as fields; events contribute their
// "outputData" identifiers.
//
// Returns:
//   - *ObjectModel: Parsed, queryable model
//   - error: ErrSchema-wrapped description of the first malformation found
func ParseObjectModel(data []byte) (*ObjectModel, error) {
	var doc schemaDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSchema, err)
	}

	m := &ObjectModel{
		properties: make(map[string]Descriptor),
		events:     make(map[string]Descriptor),
	}

	for i, entry := range doc.Properties {
		desc, err := parseEntry(entry, propertyFields)
		if err != nil {
			return nil, fmt.Errorf("%w: properties[%d]: %w", ErrSchema, i, err)
		}
		if _, exists := m.properties[desc.Identifier]; exists {
			return nil, fmt.Errorf("%w: duplicate property identifier %q", ErrSchema, desc.Identifier)
		}
		m.properties[desc.Identifier] = desc
	}

	for i, entry := range doc.Events {
		desc, err := parseEntry(entry, eventFields)
		if err != nil {
			return nil, fmt.Errorf("%w: events[%d]: %w", ErrSchema, i, err)
		}
		if _, exists := m.events[desc.Identifier]; exists {
			return nil, fmt.Errorf("%w: duplicate event identifier %q", ErrSchema, desc.Identifier)
		}
		m.events[desc.Identifier] = desc
	}

	return m, nil
}

// fieldSource extracts the nested field entries for one schema entry.
type fieldSource func(schemaEntry) []schemaEntry

// propertyFields returns the nested specs of struct-typed properties.
func propertyFields(entry schemaEntry) []schemaEntry {
	if entry.DataType != nil && entry.DataType.Type == "struct" {
		return entry.DataType.Specs
	}
	return nil
}

// eventFields returns an event's output data entries.
func eventFields(entry schemaEntry) []schemaEntry {
	return entry.OutputData
}

// parseEntry validates one schema entry and collects its field identifiers.
func parseEntry(entry schemaEntry, fields fieldSource) (Descriptor, error) {
	if entry.Identifier == "" {
		return Descriptor{}, fmt.Errorf("missing identifier")
	}

	desc := Descriptor{Identifier: entry.Identifier}
	for _, field := range fields(entry) {
		if field.Identifier == "" {
			return Descriptor{}, fmt.Errorf("entry %q: field missing identifier", entry.Identifier)
		}
		if desc.Fields == nil {
			desc.Fields = make(map[string]struct{})
		}
		desc.Fields[field.Identifier] = struct{}{}
	}

	return desc, nil
}

// Contains reports whether identifier is declared under category.
func (m *ObjectModel) Contains(category Category, identifier string) bool {
	_, ok := m.lookup(category)[identifier]
	return ok
}

// FieldsOf returns the sorted nested field identifiers of a struct-typed
// entry, or nil when the entry is scalar or unknown.
func (m *ObjectModel) FieldsOf(category Category, identifier string) []string {
	desc, ok := m.lookup(category)[identifier]
	if !ok || len(desc.Fields) == 0 {
		return nil
	}

	fields := make([]string, 0, len(desc.Fields))
	for field := range desc.Fields {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	return fields
}

// Properties returns the sorted property identifiers.
func (m *ObjectModel) Properties() []string {
	return sortedKeys(m.properties)
}

// Events returns the sorted event identifiers.
func (m *ObjectModel) Events() []string {
	return sortedKeys(m.events)
}

// lookup selects the descriptor map for a category.
func (m *ObjectModel) lookup(category Category) map[string]Descriptor {
	switch category {
	case CategoryProperty:
		return m.properties
	case CategoryEvent:
		return m.events
	default:
		return nil
	}
}

// sortedKeys returns the sorted identifiers of a descriptor map.
func sortedKeys(descriptors map[string]Descriptor) []string {
	keys := make([]string, 0, len(descriptors))
	for key := range descriptors {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
