// Package tools models the per-request tool surface: descriptor sets
// registered by the peer, JSON Schema argument validation, and the
// server-side providers that execute remote-tagged tools.
package tools

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/nextlevelbuilder/agentwire/pkg/protocol"
)

// Descriptor is one tool as registered for the current run. Tools arrive
// as data, not compiled interfaces: a name, a JSON Schema for arguments,
// and optionally a remote binding.
type Descriptor struct {
	Name        string
	Description string
	Parameters  map[string]any
	Remote      *protocol.RemoteBinding

	schema *jsonschema.Schema
}

// IsRemote reports whether execution happens server-side against an
// external provider instead of round-tripping to the peer.
func (d *Descriptor) IsRemote() bool { return d.Remote != nil }

// ValidateArgs checks a JSON-encoded argument object against the
// descriptor's parameter schema. Descriptors without a schema accept any
// valid JSON; an empty string is treated as the empty object.
func (d *Descriptor) ValidateArgs(argsJSON string) error {
	if argsJSON == "" {
		argsJSON = "{}"
	}
	var value any
	if err := json.Unmarshal([]byte(argsJSON), &value); err != nil {
		return fmt.Errorf("tool %s arguments are not valid JSON: %w", d.Name, err)
	}
	if d.schema == nil {
		return nil
	}
	if err := d.schema.Validate(value); err != nil {
		return fmt.Errorf("tool %s arguments rejected by schema: %w", d.Name, err)
	}
	return nil
}

// Set is the ordered tool table for one run, replaced wholesale on each
// run or trigger request.
type Set struct {
	ordered []*Descriptor
	byName  map[string]*Descriptor
}

// NewSet builds a Set from wire descriptors, compiling each parameter
// schema once. A descriptor with an uncompilable schema fails the whole
// set; peers get a structured rejection instead of late surprises.
func NewSet(descriptors []protocol.ToolDescriptor) (*Set, error) {
	s := &Set{byName: make(map[string]*Descriptor, len(descriptors))}
	for _, td := range descriptors {
		if td.Name == "" {
			return nil, fmt.Errorf("tool descriptor with empty name")
		}
		if _, dup := s.byName[td.Name]; dup {
			return nil, fmt.Errorf("duplicate tool descriptor: %s", td.Name)
		}

		d := &Descriptor{
			Name:        td.Name,
			Description: td.Description,
			Parameters:  td.Parameters,
			Remote:      td.Remote,
		}
		if len(td.Parameters) > 0 {
			raw, err := json.Marshal(td.Parameters)
			if err != nil {
				return nil, fmt.Errorf("tool %s: marshal parameters: %w", td.Name, err)
			}
			schema, err := jsonschema.CompileString(td.Name+".schema.json", string(raw))
			if err != nil {
				return nil, fmt.Errorf("tool %s: invalid parameter schema: %w", td.Name, err)
			}
			d.schema = schema
		}

		s.ordered = append(s.ordered, d)
		s.byName[td.Name] = d
	}
	return s, nil
}

// Get returns a descriptor by name.
func (s *Set) Get(name string) (*Descriptor, bool) {
	if s == nil {
		return nil, false
	}
	d, ok := s.byName[name]
	return d, ok
}

// List returns descriptors in registration order.
func (s *Set) List() []*Descriptor {
	if s == nil {
		return nil
	}
	return s.ordered
}

// Len returns the number of registered tools.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.ordered)
}
