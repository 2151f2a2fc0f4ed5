package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/fs"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"clawparadise.ai/schemas"
)

const (
	schemaJoin    = "join.schema.json"
	schemaAct     = "act.schema.json"
	schemaAdvance = "advance.schema.json"
	schemaCreate  = "create_island.schema.json"
)

// compileSchemas loads every embedded request schema.
func compileSchemas() (map[string]*jsonschema.Schema, error) {
	names, err := fs.Glob(schemas.FS, "*.schema.json")
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	for _, name := range names {
		b, err := fs.ReadFile(schemas.FS, name)
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(schemaURL(name), bytes.NewReader(b)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}
	out := make(map[string]*jsonschema.Schema, len(names))
	for _, name := range names {
		s, err := c.Compile(schemaURL(name))
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		out[name] = s
	}
	for _, want := range []string{schemaJoin, schemaAct, schemaAdvance, schemaCreate} {
		if out[want] == nil {
			return nil, fmt.Errorf("missing schema %s", want)
		}
	}
	return out, nil
}

func schemaURL(name string) string { return "mem://schemas/" + name }

// validateBody checks raw against the named schema and decodes it into v.
// An empty body is treated as `{}`.
func (s *Server) validateBody(name string, raw []byte, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = []byte("{}")
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("invalid json: %w", err)
	}
	if err := s.schemas[name].Validate(doc); err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}
