// Package models defines the value types shared across the sync core:
// model descriptors, entity payloads, operations, and ingestion responses.
package models

import "fmt"

// TypeField is the entity field carrying the model name in API payloads.
const TypeField = "type"

// ModelClass identifies a model on one backend. Instances are stable for the
// life of the process and key every store and registry.
type ModelClass struct {
	ModelName       string `json:"model_name"`
	ConfigKey       string `json:"config_key"`
	PrimaryKeyField string `json:"primary_key_field"`
}

// Key returns the registry key for this model class.
func (m ModelClass) Key() string {
	return m.ConfigKey + "::" + m.ModelName
}

func (m ModelClass) String() string {
	return fmt.Sprintf("%s/%s", m.ConfigKey, m.ModelName)
}

// Valid reports whether the descriptor names a model and its primary key field.
func (m ModelClass) Valid() bool {
	return m.ModelName != "" && m.PrimaryKeyField != ""
}
