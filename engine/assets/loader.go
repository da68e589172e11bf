package assets

import "github.com/spaghettifunk/anima-rt/engine/renderer/metadata"

type Loader interface {
	// The concrete Resource.Data type depends on the loader.
	Load(path string, resourceType metadata.ResourceType, params interface{}) (*metadata.Resource, error)
	Unload(*metadata.Resource) error
}
