// Package store holds the registry of accession-store backends.
// Backends live in subpackages and register themselves on import.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"

	"github.com/bobg/accession"
	"github.com/bobg/accession/block"
)

// Backend is storage for both accessioned records and identifier blocks,
// with string accessions.
// Every registered backend produces one.
type Backend interface {
	accession.Store[string]
	block.Store
}

// Factory creates a Backend from a configuration map.
type Factory func(context.Context, map[string]interface{}) (Backend, error)

var registry = make(map[string]Factory)

// Register makes a backend type available to Create.
func Register(key string, f Factory) {
	registry[key] = f
}

// Create produces a Backend of the registered type key.
func Create(ctx context.Context, key string, conf map[string]interface{}) (Backend, error) {
	f, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("key %s not found in registry", key)
	}
	return f(ctx, conf)
}

// Nested creates the backend described by the "nested" key of conf,
// for backends that wrap another.
func Nested(ctx context.Context, conf map[string]interface{}) (Backend, error) {
	nested, ok := conf["nested"].(map[string]interface{})
	if !ok {
		return nil, errors.New(`missing "nested" parameter`)
	}
	nestedType, ok := nested["type"].(string)
	if !ok {
		return nil, errors.New(`"nested" parameter missing "type"`)
	}
	b, err := Create(ctx, nestedType, nested)
	return b, errors.Wrap(err, "creating nested store")
}

// Int reads an integer parameter from conf.
// Config files decoded with or without json.Decoder.UseNumber both work.
func Int(conf map[string]interface{}, key string) (int, bool) {
	switch v := conf[key].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	}
	return 0, false
}
