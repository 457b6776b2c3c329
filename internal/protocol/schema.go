package protocol

import (
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFiles embed.FS

var schemaFor = map[string]string{
	TypeHello: "schemas/hello.schema.json",
	TypeEvent: "schemas/event.schema.json",
}

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func compiledSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		out := make(map[string]*jsonschema.Schema, len(schemaFor))
		for typ, name := range schemaFor {
			raw, err := schemaFiles.ReadFile(name)
			if err != nil {
				schemasErr = err
				return
			}
			s, err := jsonschema.CompileString(name, string(raw))
			if err != nil {
				schemasErr = fmt.Errorf("compile %s: %w", name, err)
				return
			}
			out[typ] = s
		}
		schemas = out
	})
	return schemas, schemasErr
}

// Validate checks an inbound message against the schema for its type.
// Types without a schema pass.
func Validate(msgType string, raw []byte) error {
	all, err := compiledSchemas()
	if err != nil {
		return err
	}
	s, ok := all[msgType]
	if !ok {
		return nil
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return s.Validate(doc)
}
