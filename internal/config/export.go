package config

import "gopkg.in/yaml.v3"

// Export serializes the configuration to canonical YAML: the same input
// always produces byte-identical output, regardless of how the in-memory
// struct was populated (file, env vars, or defaults). Used by the admin
// API's config-backup endpoint and by tests asserting round-trip fidelity.
func (c *OSSConfig) Export() ([]byte, error) {
	return yaml.Marshal(c)
}

// Import replaces c's fields with the configuration decoded from data.
// Callers should follow Import with SetDefaults/SetDevDefaults/Validate,
// the same as after LoadConfig reads a file from disk.
func (c *OSSConfig) Import(data []byte) error {
	var decoded OSSConfig
	if err := yaml.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*c = decoded
	return nil
}
