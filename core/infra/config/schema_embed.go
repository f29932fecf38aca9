package config

import "embed"

const overlaySchemaFile = "schema/gateway.schema.json"

//go:embed schema/*.json
var configSchemaFS embed.FS
