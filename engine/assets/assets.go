package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/exp/slices"

	"github.com/spaghettifunk/anima-rt/engine/assets/loaders"
	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// Editors write a file in several steps; changes are reported once quiet.
const changeSettle = 150 * time.Millisecond

var ErrAssetManagerClosed = errors.New("asset manager already closed")

type AssetInfo struct {
	Path       string
	Type       metadata.ResourceType
	LastLoaded time.Time
}

/**
 * @brief Indexes the asset directories, loads resources through the loader
 * registered for their type and, when watching, reports changed files on
 * the event bus as EVENT_CODE_ASSET_CHANGED.
 */
type AssetManager struct {
	assets  map[string]AssetInfo
	loaders map[metadata.ResourceType]Loader
	events  *core.EventBus

	mutex sync.RWMutex

	done     chan struct{}
	wg       sync.WaitGroup
	fsnotify *fsnotify.Watcher
	isClosed bool
}

func NewAssetManager(events *core.EventBus) *AssetManager {
	am := &AssetManager{
		assets:  make(map[string]AssetInfo),
		loaders: make(map[metadata.ResourceType]Loader),
		events:  events,
		done:    make(chan struct{}),
	}
	// Register loaders
	am.registerLoader(metadata.ResourceTypeBinary, &loaders.BinaryLoader{})
	am.registerLoader(metadata.ResourceTypeShader, &loaders.ShaderLoader{})
	am.registerLoader(metadata.ResourceTypeImage, &loaders.ImageLoader{})
	am.registerLoader(metadata.ResourceTypeEnvironment, &loaders.EnvironmentLoader{})
	am.registerLoader(metadata.ResourceTypeMesh, &loaders.MeshLoader{})
	am.registerLoader(metadata.ResourceTypeScene, &loaders.SceneLoader{})
	return am
}

// Initialize indexes every known asset below the given directories.
func (am *AssetManager) Initialize(dirs ...string) error {
	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				am.handleFileEvent(path)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to index assets in %s: %w", dir, err)
		}
	}
	core.LogDebug("indexed %d assets", am.count())
	return nil
}

// Watch starts reporting changes below the given directories.
func (am *AssetManager) Watch(dirs ...string) error {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return ErrAssetManagerClosed
	}
	if am.fsnotify == nil {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			am.mutex.Unlock()
			return err
		}
		am.fsnotify = w
		am.wg.Add(1)
		go am.start()
	}
	am.mutex.Unlock()

	for _, dir := range dirs {
		if err := am.watchRecursive(dir); err != nil {
			return err
		}
	}
	return nil
}

// Register loaders for each asset type
func (am *AssetManager) registerLoader(resourceType metadata.ResourceType, loader Loader) {
	am.loaders[resourceType] = loader
}

// LoadAsset loads a resource with the loader registered for resourceType.
func (am *AssetManager) LoadAsset(path string, resourceType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	loader, ok := am.loaders[resourceType]
	if !ok {
		return nil, fmt.Errorf("no loader registered for asset type %s", resourceType)
	}
	res, err := loader.Load(path, resourceType, params)
	if err != nil {
		return nil, err
	}

	// The fallback environment has no file.
	if path != "" {
		path = filepath.Clean(path)
		am.mutex.Lock()
		am.assets[path] = AssetInfo{Path: path, Type: resourceType, LastLoaded: time.Now()}
		am.mutex.Unlock()
	}
	return res, nil
}

func (am *AssetManager) UnloadAsset(res *metadata.Resource) error {
	if res == nil {
		return nil
	}
	loader, ok := am.loaders[res.Type]
	if !ok {
		return fmt.Errorf("no loader registered for asset type %s", res.Type)
	}
	return loader.Unload(res)
}

// Assets lists the indexed assets of one type, sorted by path.
func (am *AssetManager) Assets(resourceType metadata.ResourceType) []AssetInfo {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	var out []AssetInfo
	for _, a := range am.assets {
		if a.Type == resourceType {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b AssetInfo) int { return strings.Compare(a.Path, b.Path) })
	return out
}

func (am *AssetManager) count() int {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	return len(am.assets)
}

func (am *AssetManager) Shutdown() error {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return nil
	}
	am.isClosed = true
	close(am.done)
	am.mutex.Unlock()
	am.wg.Wait()
	return nil
}

func (am *AssetManager) start() {
	defer am.wg.Done()

	pending := make(map[string]struct{})
	settle := time.NewTimer(changeSettle)
	settle.Stop()

	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			s, err := os.Stat(e.Name)
			if err == nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					if err := am.watchRecursive(e.Name); err != nil {
						core.LogWarn("failed to watch %s: %s", e.Name, err)
					}
				}
				continue
			}
			// Handle create or modify events
			if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 && am.handleFileEvent(e.Name) {
				pending[e.Name] = struct{}{}
				settle.Reset(changeSettle)
			}
			if e.Op&fsnotify.Remove != 0 {
				am.removeAsset(e.Name)
			}

		case <-settle.C:
			changed := make([]string, 0, len(pending))
			for path := range pending {
				changed = append(changed, path)
			}
			slices.Sort(changed)
			clear(pending)
			for _, path := range changed {
				core.LogInfo("asset changed: %s", path)
				ctx := core.EventContext{}
				ctx.Data.C[0] = path
				am.events.Fire(core.EVENT_CODE_ASSET_CHANGED, am, ctx)
			}

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", err)

		case <-am.done:
			settle.Stop()
			am.fsnotify.Close()
			return
		}
	}
}

// watchRecursive adds all directories under the given one to the watch list.
func (am *AssetManager) watchRecursive(path string) error {
	return filepath.WalkDir(path, func(walkPath string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return am.fsnotify.Add(walkPath)
		}
		am.handleFileEvent(walkPath)
		return nil
	})
}

// handleFileEvent indexes a created or modified file and reports whether it
// is an asset.
func (am *AssetManager) handleFileEvent(path string) bool {
	assetType, ok := determineAssetType(path)
	if !ok {
		return false
	}
	path = filepath.Clean(path)

	am.mutex.Lock()
	defer am.mutex.Unlock()
	info := am.assets[path]
	info.Path = path
	info.Type = assetType
	am.assets[path] = info
	return true
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(path string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	delete(am.assets, filepath.Clean(path))
}

func determineAssetType(path string) (metadata.ResourceType, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".spv":
		return metadata.ResourceTypeShader, true
	case ".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff", ".webp":
		return metadata.ResourceTypeImage, true
	case ".hdr":
		return metadata.ResourceTypeEnvironment, true
	case ".obj":
		return metadata.ResourceTypeMesh, true
	case ".toml":
		return metadata.ResourceTypeScene, true
	default:
		return 0, false
	}
}
