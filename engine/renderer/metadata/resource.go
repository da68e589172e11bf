package metadata

type ResourceType int

/** @brief Pre-defined resource types. */
const (
	/** @brief Text resource type. */
	ResourceTypeText ResourceType = iota
	/** @brief Binary resource type. */
	ResourceTypeBinary
	/** @brief Image resource type, decoded to RGBA8. */
	ResourceTypeImage
	/** @brief Environment resource type, an equirectangular image converted to a cube. */
	ResourceTypeEnvironment
	/** @brief SPIR-V shader binary. */
	ResourceTypeShader
	/** @brief Mesh resource type (a single OBJ file). */
	ResourceTypeMesh
	/** @brief Scene description resource type. */
	ResourceTypeScene
)

func (t ResourceType) String() string {
	switch t {
	case ResourceTypeText:
		return "text"
	case ResourceTypeBinary:
		return "binary"
	case ResourceTypeImage:
		return "image"
	case ResourceTypeEnvironment:
		return "environment"
	case ResourceTypeShader:
		return "shader"
	case ResourceTypeMesh:
		return "mesh"
	case ResourceTypeScene:
		return "scene"
	default:
		return "unknown"
	}
}

/** @brief The SPIR-V magic number, checked by the shader loader. */
const SPIRVMagic uint32 = 0x07230203

/**
 * @brief A generic structure for a resource. All resource loaders
 * load data into these.
 */
type Resource struct {
	/** @brief The type of the loader which handles this resource. */
	Type ResourceType
	/** @brief The name of the resource. */
	Name string
	/** @brief The full file path of the resource. */
	FullPath string
	/** @brief The size of the resource data in bytes. */
	DataSize uint64
	/** @brief The resource data. */
	Data interface{}
}

/** @brief A vector as written in scene files. */
type Float3 = [3]float32

/** @brief The camera of a scene description. */
type CameraConfig struct {
	Position Float3  `toml:"position"`
	Target   Float3  `toml:"target"`
	FovY     float32 `toml:"fov_y"`
	Orbit    bool    `toml:"orbit"`
	/** @brief Orbit speed in radians per second. */
	OrbitSpeed float32 `toml:"orbit_speed"`
}

type SunConfig struct {
	Direction Float3 `toml:"direction"`
	Color     Float3 `toml:"color"`
}

type MaterialConfig struct {
	Name                 string     `toml:"name"`
	BaseColor            [4]float32 `toml:"base_color"`
	Emissive             Float3     `toml:"emissive"`
	Metallic             float32    `toml:"metallic"`
	Roughness            float32    `toml:"roughness"`
	IOR                  float32    `toml:"ior"`
	BaseColorMap         string     `toml:"base_color_map"`
	MetallicRoughnessMap string     `toml:"metallic_roughness_map"`
	NormalMap            string     `toml:"normal_map"`
	OcclusionMap         string     `toml:"occlusion_map"`
	EmissiveMap          string     `toml:"emissive_map"`
}

type MeshConfig struct {
	Path     string  `toml:"path"`
	Material string  `toml:"material"`
	Position Float3  `toml:"position"`
	Scale    float32 `toml:"scale"`
}

type EnvironmentConfig struct {
	Path  string `toml:"path"`
	Color Float3 `toml:"color"`
}

/**
 * @brief The scene description file. Paths are relative to the file.
 */
type SceneConfig struct {
	Name        string            `toml:"name"`
	Camera      CameraConfig      `toml:"camera"`
	Sun         SunConfig         `toml:"sun"`
	Environment EnvironmentConfig `toml:"environment"`
	Materials   []MaterialConfig  `toml:"materials"`
	Meshes      []MeshConfig      `toml:"meshes"`
}

/**
 * @brief Everything the render context uploads: geometry, materials,
 * textures, the environment cube and the initial uniform.
 */
type Scene struct {
	Name        string
	Geometry    SceneGeometry
	Materials   []Material
	Textures    []TextureData
	Environment TextureData
	Uniform     SceneUniform
	Camera      CameraConfig
}
