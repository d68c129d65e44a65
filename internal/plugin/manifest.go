// Package plugin manages the lifecycle of installed plugins: manifest
// validation, process or built-in startup, permission and resource-limit
// enforcement, hook registration, and capability dependency resolution.
package plugin

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/corralhq/corral/pkg/faults"
	"github.com/corralhq/corral/pkg/models"
)

// ManifestFileName is the manifest file looked for in a plugin directory.
const ManifestFileName = "manifest.yaml"

// LoadManifest reads and validates a plugin manifest from a YAML file.
func LoadManifest(path string) (*models.PluginManifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var manifest models.PluginManifest
	if err := yaml.Unmarshal(raw, &manifest); err != nil {
		return nil, faults.Wrap(faults.Validation, err, "parse manifest %s", filepath.Base(path))
	}

	if err := ValidateManifest(&manifest); err != nil {
		return nil, err
	}
	return &manifest, nil
}

// ValidateManifest checks required fields and internal consistency.
// Rejected manifests cause no state change anywhere.
func ValidateManifest(m *models.PluginManifest) error {
	if m.ID == "" {
		return faults.New(faults.Validation, "manifest missing id")
	}
	if m.Name == "" {
		return faults.New(faults.Validation, "manifest %s missing name", m.ID)
	}
	if m.Version == "" {
		return faults.New(faults.Validation, "manifest %s missing version", m.ID)
	}
	if m.Language == "" {
		return faults.New(faults.Validation, "manifest %s missing language", m.ID)
	}
	if m.Language != "builtin" && m.EntryPoint == "" {
		return faults.New(faults.Validation, "manifest %s has no entry_point", m.ID)
	}

	// Declared permissions must be a subset of the supported set.
	for _, p := range m.Permissions {
		if !p.Valid() {
			return faults.New(faults.Validation, "manifest %s declares unsupported permission %q", m.ID, p)
		}
	}

	// Every hook must reference a declared function, and each function
	// may only require declared permissions.
	declared := make(map[string]*models.FunctionDecl, len(m.Functions))
	for i := range m.Functions {
		fn := &m.Functions[i]
		if fn.Name == "" {
			return faults.New(faults.Validation, "manifest %s declares an unnamed function", m.ID)
		}
		if _, dup := declared[fn.Name]; dup {
			return faults.New(faults.Validation, "manifest %s declares function %q twice", m.ID, fn.Name)
		}
		for _, p := range fn.Requires {
			if !m.HasPermission(p) {
				return faults.New(faults.Validation, "manifest %s: function %q requires undeclared permission %q", m.ID, fn.Name, p)
			}
		}
		declared[fn.Name] = fn
	}

	for _, h := range m.Hooks {
		if h.HandlerID == "" || h.EventType == "" {
			return faults.New(faults.Validation, "manifest %s declares an incomplete hook registration", m.ID)
		}
		if _, ok := declared[h.Function]; !ok {
			return faults.New(faults.Validation, "manifest %s: hook %q references unknown function %q", m.ID, h.HandlerID, h.Function)
		}
	}

	return nil
}
