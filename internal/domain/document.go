package domain

import (
	"gopkg.in/yaml.v3"

	"github.com/mrz1836/statekit/internal/errors"
)

// ToDocument converts the typed state into a generic document tree.
// Field encryption and path-level WAL application operate on this form.
// YAML is used for the round trip so the tree matches the on-disk
// representation.
func ToDocument(s *State) (map[string]any, error) {
	raw, err := yaml.Marshal(s)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode state")
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "failed to build state document")
	}
	return doc, nil
}

// FromDocument converts a generic document tree back into typed state.
func FromDocument(doc map[string]any) (*State, error) {
	raw, err := yaml.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode state document")
	}
	var s State
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, errors.Wrap(err, "failed to decode state document")
	}
	return &s, nil
}
