package config

import (
	"fmt"

	configschema "github.com/inactu/inactu-web/core/infra/schema"
	"gopkg.in/yaml.v3"
)

func validateOverlaySchema(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	schemaBytes, err := configSchemaFS.ReadFile(overlaySchemaFile)
	if err != nil {
		return fmt.Errorf("load gateway config schema: %w", err)
	}
	var payload any
	if err := yaml.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parse gateway config: %w", err)
	}
	if payload == nil {
		return nil
	}
	if err := configschema.ValidateSchema("gateway-config", schemaBytes, payload); err != nil {
		return fmt.Errorf("validate gateway config: %w", err)
	}
	return nil
}
