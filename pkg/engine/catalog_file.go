package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadModelFile reads one network template from a YAML file. The template
// name defaults to the file name without extension.
func LoadModelFile(path string) (*ModelData, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read model %s: %w", path, err)
	}
	var m ModelData
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse model %s: %w", path, err)
	}
	if m.Name == "" {
		m.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &m, nil
}

// LoadDir adds every *.yaml and *.yml template in dir to the catalog
func (c *MemoryCatalog) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read model dir: %w", err)
	}
	added := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		m, err := LoadModelFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return added, err
		}
		c.Add(m)
		added++
	}
	return added, nil
}
