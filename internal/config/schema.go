package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const schemaURL = "config.schema.json"

const configSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["settings", "database"],
  "properties": {
    "settings": {
      "type": "object",
      "required": ["lang"],
      "properties": {
        "lang": {"type": "string", "minLength": 1},
        "economy": {"type": "string"}
      }
    },
    "database": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {"enum": ["sqlite", "sqlite3", "postgres", "postgresql", "SQLite", "PostgreSQL"]},
        "file": {"type": "string"},
        "host": {"type": "string"},
        "port": {"type": "integer", "minimum": 1, "maximum": 65535},
        "name": {"type": "string"},
        "user": {"type": "string"},
        "password": {"type": "string"},
        "ssl_mode": {"enum": ["disable", "allow", "prefer", "require", "verify-ca", "verify-full"]},
        "pool_size": {"type": "integer", "minimum": 1},
        "connect_timeout_seconds": {"type": "integer", "minimum": 1},
        "max_retries": {"type": "integer", "minimum": 0}
      }
    },
    "modules": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {"enabled": {"type": "boolean"}}
      }
    },
    "telemetry": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "interval_seconds": {"type": "integer", "minimum": 1}
      }
    },
    "backup": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "keep": {"type": "integer", "minimum": 0},
        "offsite": {
          "type": "object",
          "properties": {
            "enabled": {"type": "boolean"},
            "endpoint": {"type": "string"},
            "region": {"type": "string"},
            "bucket": {"type": "string"},
            "prefix": {"type": "string"},
            "access_key_id": {"type": "string"},
            "secret_access_key": {"type": "string"},
            "timeout_seconds": {"type": "integer", "minimum": 1},
            "max_retries": {"type": "integer", "minimum": 0}
          }
        }
      }
    },
    "journal": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"}
      }
    }
  }
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = jsonschema.CompileString(schemaURL, configSchema)
	})
	return schema, schemaErr
}

// validateDocument checks the raw YAML against the config schema. The YAML
// tree is round-tripped through JSON so the validator only sees JSON types.
func validateDocument(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("document is empty")
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("document is not a plain mapping: %w", err)
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	s, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("schema: %s", strings.TrimSpace(err.Error()))
	}
	return nil
}
