package loaders

import (
	"path/filepath"
	"strings"

	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

/** @brief Parameters used when loading an image. */
type ImageParams struct {
	/** @brief Indicates if the image should be flipped on the y-axis when loaded. */
	FlipY bool
}

/** @brief Parameters used when loading an environment. */
type EnvironmentParams struct {
	/** @brief Texels per cube face side. */
	FaceSize uint32
	/** @brief Sky colour of the fallback cube when the image is missing. */
	Color [3]float32
}

// resourceName is the file name without directory and extension.
func resourceName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func unload(res *metadata.Resource) error {
	if res == nil {
		return nil
	}
	res.Data = nil
	res.DataSize = 0
	return nil
}
