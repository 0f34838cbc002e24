package provider

import (
	"encoding/json"
	"fmt"
)

// Type identifies which resource a provider document supplies.
type Type string

const (
	TypeIUT            Type = "iut"
	TypeExecutionSpace Type = "execution-space"
	TypeLogArea        Type = "log-area"
)

// sectionKeys maps each provider type to the top-level object its document
// must carry. Log area documents use "log" as their section key, not
// "log-area".
var sectionKeys = map[Type]string{
	TypeIUT:            "iut",
	TypeExecutionSpace: "execution_space",
	TypeLogArea:        "log",
}

// Types returns the known provider types in a stable order.
func Types() []Type {
	return []Type{TypeIUT, TypeExecutionSpace, TypeLogArea}
}

// ParseType converts a string into a known provider Type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if _, ok := sectionKeys[t]; !ok {
		return "", fmt.Errorf("unknown provider type %q (must be one of iut, execution-space, log-area)", s)
	}
	return t, nil
}

// SectionKey returns the top-level key a document of this type must define.
func (t Type) SectionKey() string {
	return sectionKeys[t]
}

// Document is a single provider definition. Name is derived from the id
// inside the document's type section, so the same JSON file registers under
// the same name wherever it is loaded from.
type Document struct {
	Type Type            `json:"type"`
	Name string          `json:"name"`
	Body json.RawMessage `json:"provider"`
}

// NewDocument validates body as a provider document of the given type and
// returns it with the name filled in from the section id.
func NewDocument(typ Type, body []byte) (Document, error) {
	section := typ.SectionKey()
	if section == "" {
		return Document{}, fmt.Errorf("unknown provider type %q (must be one of iut, execution-space, log-area)", typ)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil || top == nil {
		return Document{}, fmt.Errorf("%s provider document must be a JSON object", typ)
	}

	raw, ok := top[section]
	if !ok {
		return Document{}, fmt.Errorf("%s provider document is missing its %q section", typ, section)
	}

	var sec map[string]json.RawMessage
	if err := json.Unmarshal(raw, &sec); err != nil || sec == nil {
		return Document{}, fmt.Errorf("%s provider %q section must be a mapping", typ, section)
	}

	idRaw, ok := sec["id"]
	if !ok {
		return Document{}, fmt.Errorf("%s provider %q section is missing an id", typ, section)
	}

	var id string
	if err := json.Unmarshal(idRaw, &id); err != nil || id == "" {
		return Document{}, fmt.Errorf("%s provider id must be a non-empty string", typ)
	}

	return Document{Type: typ, Name: id, Body: json.RawMessage(body)}, nil
}

// Validate re-runs the structural checks on the document body. Used when a
// document comes back from storage rather than through NewDocument.
func (d Document) Validate() error {
	parsed, err := NewDocument(d.Type, d.Body)
	if err != nil {
		return err
	}
	if parsed.Name != d.Name {
		return fmt.Errorf("%s provider name %q does not match document id %q", d.Type, d.Name, parsed.Name)
	}
	return nil
}
