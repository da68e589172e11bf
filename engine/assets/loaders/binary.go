package loaders

import (
	"fmt"
	"os"

	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// BinaryLoader reads a file as is.
type BinaryLoader struct{}

func (bl *BinaryLoader) Load(path string, resourceType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return &metadata.Resource{
		Type:     resourceType,
		Name:     resourceName(path),
		FullPath: path,
		DataSize: uint64(len(data)),
		Data:     data,
	}, nil
}

func (bl *BinaryLoader) Unload(res *metadata.Resource) error {
	return unload(res)
}
