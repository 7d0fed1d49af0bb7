package modelregistry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	yaml "gopkg.in/yaml.v3"
)

type catalogFile struct {
	Models []ModelDescriptor `yaml:"models"`
}

// ParseCatalog decodes a YAML catalog document.
func ParseCatalog(data []byte) ([]ModelDescriptor, error) {
	var doc catalogFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if len(doc.Models) == 0 {
		return nil, errors.New("parse catalog: no models defined")
	}
	for i := range doc.Models {
		if doc.Models[i].Payload.Style == "" {
			doc.Models[i].Payload.Style = StyleModel
			if doc.Models[i].Version != "" {
				doc.Models[i].Payload.Style = StyleVersioned
			}
		}
		if err := Validate(doc.Models[i]); err != nil {
			return nil, err
		}
	}
	return doc.Models, nil
}

// LoadFile reads a YAML catalog from disk.
func LoadFile(path string) ([]ModelDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return ParseCatalog(data)
}

// Load returns the built-in registry extended with the catalog at path, if any.
func Load(path string) (*Registry, error) {
	reg := Default()
	if path == "" {
		return reg, nil
	}
	models, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if err := reg.Merge(models...); err != nil {
		return nil, err
	}
	return reg, nil
}

// SaveFile upserts models into the YAML catalog at path, creating it when
// missing. Existing entries keep their position.
func SaveFile(path string, models ...ModelDescriptor) error {
	var existing []ModelDescriptor
	if _, err := os.Stat(path); err == nil {
		if existing, err = LoadFile(path); err != nil {
			return err
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("stat catalog %s: %w", path, err)
	}

	index := make(map[string]int, len(existing))
	for i, m := range existing {
		index[m.ID] = i
	}
	for _, m := range models {
		if err := Validate(m); err != nil {
			return err
		}
		if i, ok := index[m.ID]; ok {
			existing[i] = m
			continue
		}
		index[m.ID] = len(existing)
		existing = append(existing, m)
	}

	data, err := yaml.Marshal(catalogFile{Models: existing})
	if err != nil {
		return fmt.Errorf("encode catalog: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create catalog dir: %w", err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write catalog: %w", err)
	}
	return os.Rename(tmp, path)
}
