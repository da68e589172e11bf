package loaders

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// ShaderLoader reads a compiled SPIR-V module and checks its header.
type ShaderLoader struct{}

func (sl *ShaderLoader) Load(path string, resourceType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read shader %s: %w", path, err)
	}
	if err := ValidateSPIRV(data); err != nil {
		return nil, fmt.Errorf("shader %s: %w", path, err)
	}
	return &metadata.Resource{
		Type:     metadata.ResourceTypeShader,
		Name:     resourceName(path),
		FullPath: path,
		DataSize: uint64(len(data)),
		Data:     data,
	}, nil
}

func (sl *ShaderLoader) Unload(res *metadata.Resource) error {
	return unload(res)
}

// ValidateSPIRV checks the word alignment and the magic number of a module.
func ValidateSPIRV(code []byte) error {
	// Magic, version, generator, bound and schema.
	const headerSize = 20
	if len(code) < headerSize {
		return fmt.Errorf("%d bytes is shorter than a SPIR-V header", len(code))
	}
	if len(code)%4 != 0 {
		return fmt.Errorf("size %d is not a multiple of 4", len(code))
	}
	if magic := binary.LittleEndian.Uint32(code); magic != metadata.SPIRVMagic {
		return fmt.Errorf("bad SPIR-V magic 0x%08x", magic)
	}
	return nil
}
