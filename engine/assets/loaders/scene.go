package loaders

import (
	"bytes"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// SceneLoader decodes a scene description file into a metadata.SceneConfig.
type SceneLoader struct{}

func (sl *SceneLoader) Load(path string, resourceType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := DecodeScene(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode scene %s: %w", path, err)
	}
	if cfg.Name == "" {
		cfg.Name = resourceName(path)
	}
	return &metadata.Resource{
		Type:     metadata.ResourceTypeScene,
		Name:     cfg.Name,
		FullPath: path,
		DataSize: uint64(len(data)),
		Data:     cfg,
	}, nil
}

func (sl *SceneLoader) Unload(res *metadata.Resource) error {
	return unload(res)
}

// DecodeScene parses a scene file and checks its references.
func DecodeScene(data []byte) (*metadata.SceneConfig, error) {
	cfg := &metadata.SceneConfig{}
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, err
	}

	names := make(map[string]struct{}, len(cfg.Materials))
	for i, m := range cfg.Materials {
		if m.Name == "" {
			return nil, fmt.Errorf("material %d has no name", i)
		}
		if _, dup := names[m.Name]; dup {
			return nil, fmt.Errorf("material %q defined twice", m.Name)
		}
		names[m.Name] = struct{}{}
	}
	for i, mesh := range cfg.Meshes {
		if mesh.Path == "" {
			return nil, fmt.Errorf("mesh %d has no path", i)
		}
		if mesh.Material == "" {
			continue
		}
		if _, ok := names[mesh.Material]; !ok {
			return nil, fmt.Errorf("mesh %s uses unknown material %q", mesh.Path, mesh.Material)
		}
	}
	if cfg.Camera.FovY < 0 || cfg.Camera.FovY >= 180 {
		return nil, fmt.Errorf("camera fov_y %.1f out of range", cfg.Camera.FovY)
	}
	return cfg, nil
}
