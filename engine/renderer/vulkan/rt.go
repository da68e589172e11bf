package vulkan

/*
#cgo CFLAGS: -DVK_NO_PROTOTYPES
#cgo linux freebsd LDFLAGS: -ldl
#include <stdlib.h>
#include <string.h>
#include <dlfcn.h>
#include <vulkan/vulkan.h>

typedef struct rtProcs {
	PFN_vkGetInstanceProcAddr                     getInstanceProcAddr;
	PFN_vkGetDeviceProcAddr                       getDeviceProcAddr;
	PFN_vkGetPhysicalDeviceProperties2            getPhysicalDeviceProperties2;
	PFN_vkGetPhysicalDeviceFeatures2              getPhysicalDeviceFeatures2;
	PFN_vkGetBufferDeviceAddress                  getBufferDeviceAddress;
	PFN_vkGetAccelerationStructureBuildSizesKHR   getBuildSizes;
	PFN_vkCreateAccelerationStructureKHR          createAccel;
	PFN_vkDestroyAccelerationStructureKHR         destroyAccel;
	PFN_vkGetAccelerationStructureDeviceAddressKHR getAccelAddress;
	PFN_vkCmdBuildAccelerationStructuresKHR       cmdBuildAccel;
	PFN_vkCreateRayTracingPipelinesKHR            createPipelines;
	PFN_vkGetRayTracingShaderGroupHandlesKHR      getGroupHandles;
	PFN_vkCmdTraceRaysKHR                         cmdTraceRays;
} rtProcs;

static void* rtOpenLoader(const char* name) {
	void* lib = dlopen(name, RTLD_LAZY | RTLD_LOCAL);
	if (lib == NULL) {
		return NULL;
	}
	return dlsym(lib, "vkGetInstanceProcAddr");
}

static int rtLoadInstance(rtProcs* p, void* gipa, VkInstance instance) {
	p->getInstanceProcAddr = (PFN_vkGetInstanceProcAddr)gipa;
	p->getDeviceProcAddr = (PFN_vkGetDeviceProcAddr)p->getInstanceProcAddr(instance, "vkGetDeviceProcAddr");
	p->getPhysicalDeviceProperties2 = (PFN_vkGetPhysicalDeviceProperties2)p->getInstanceProcAddr(instance, "vkGetPhysicalDeviceProperties2");
	p->getPhysicalDeviceFeatures2 = (PFN_vkGetPhysicalDeviceFeatures2)p->getInstanceProcAddr(instance, "vkGetPhysicalDeviceFeatures2");
	return p->getDeviceProcAddr != NULL && p->getPhysicalDeviceProperties2 != NULL && p->getPhysicalDeviceFeatures2 != NULL;
}

static int rtLoadDevice(rtProcs* p, VkDevice device) {
	p->getBufferDeviceAddress = (PFN_vkGetBufferDeviceAddress)p->getDeviceProcAddr(device, "vkGetBufferDeviceAddress");
	p->getBuildSizes = (PFN_vkGetAccelerationStructureBuildSizesKHR)p->getDeviceProcAddr(device, "vkGetAccelerationStructureBuildSizesKHR");
	p->createAccel = (PFN_vkCreateAccelerationStructureKHR)p->getDeviceProcAddr(device, "vkCreateAccelerationStructureKHR");
	p->destroyAccel = (PFN_vkDestroyAccelerationStructureKHR)p->getDeviceProcAddr(device, "vkDestroyAccelerationStructureKHR");
	p->getAccelAddress = (PFN_vkGetAccelerationStructureDeviceAddressKHR)p->getDeviceProcAddr(device, "vkGetAccelerationStructureDeviceAddressKHR");
	p->cmdBuildAccel = (PFN_vkCmdBuildAccelerationStructuresKHR)p->getDeviceProcAddr(device, "vkCmdBuildAccelerationStructuresKHR");
	p->createPipelines = (PFN_vkCreateRayTracingPipelinesKHR)p->getDeviceProcAddr(device, "vkCreateRayTracingPipelinesKHR");
	p->getGroupHandles = (PFN_vkGetRayTracingShaderGroupHandlesKHR)p->getDeviceProcAddr(device, "vkGetRayTracingShaderGroupHandlesKHR");
	p->cmdTraceRays = (PFN_vkCmdTraceRaysKHR)p->getDeviceProcAddr(device, "vkCmdTraceRaysKHR");
	return p->getBufferDeviceAddress != NULL && p->getBuildSizes != NULL && p->createAccel != NULL &&
		p->destroyAccel != NULL && p->getAccelAddress != NULL && p->cmdBuildAccel != NULL &&
		p->createPipelines != NULL && p->getGroupHandles != NULL && p->cmdTraceRays != NULL;
}

typedef struct rtLimits {
	uint32_t handleSize;
	uint32_t handleAlignment;
	uint32_t baseAlignment;
	uint32_t maxRecursion;
} rtLimits;

static void rtQueryLimits(rtProcs* p, VkPhysicalDevice physical, rtLimits* out) {
	VkPhysicalDeviceRayTracingPipelinePropertiesKHR rt;
	memset(&rt, 0, sizeof(rt));
	rt.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_RAY_TRACING_PIPELINE_PROPERTIES_KHR;
	VkPhysicalDeviceProperties2 props;
	memset(&props, 0, sizeof(props));
	props.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_PROPERTIES_2;
	props.pNext = &rt;
	p->getPhysicalDeviceProperties2(physical, &props);
	out->handleSize = rt.shaderGroupHandleSize;
	out->handleAlignment = rt.shaderGroupHandleAlignment;
	out->baseAlignment = rt.shaderGroupBaseAlignment;
	out->maxRecursion = rt.maxRayRecursionDepth;
}

static int rtSupported(rtProcs* p, VkPhysicalDevice physical) {
	VkPhysicalDeviceRayTracingPipelineFeaturesKHR pipeline;
	memset(&pipeline, 0, sizeof(pipeline));
	pipeline.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_RAY_TRACING_PIPELINE_FEATURES_KHR;
	VkPhysicalDeviceAccelerationStructureFeaturesKHR accel;
	memset(&accel, 0, sizeof(accel));
	accel.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_ACCELERATION_STRUCTURE_FEATURES_KHR;
	accel.pNext = &pipeline;
	VkPhysicalDeviceVulkan12Features v12;
	memset(&v12, 0, sizeof(v12));
	v12.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_VULKAN_1_2_FEATURES;
	v12.pNext = &accel;
	VkPhysicalDeviceFeatures2 features;
	memset(&features, 0, sizeof(features));
	features.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_FEATURES_2;
	features.pNext = &v12;
	p->getPhysicalDeviceFeatures2(physical, &features);
	return v12.bufferDeviceAddress && v12.descriptorIndexing && v12.runtimeDescriptorArray &&
		accel.accelerationStructure && pipeline.rayTracingPipeline;
}

typedef struct rtFeatureChain {
	VkPhysicalDeviceVulkan12Features v12;
	VkPhysicalDeviceAccelerationStructureFeaturesKHR accel;
	VkPhysicalDeviceRayTracingPipelineFeaturesKHR pipeline;
} rtFeatureChain;

static void* rtNewFeatureChain(void) {
	rtFeatureChain* c = (rtFeatureChain*)calloc(1, sizeof(rtFeatureChain));
	c->pipeline.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_RAY_TRACING_PIPELINE_FEATURES_KHR;
	c->pipeline.rayTracingPipeline = VK_TRUE;
	c->accel.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_ACCELERATION_STRUCTURE_FEATURES_KHR;
	c->accel.accelerationStructure = VK_TRUE;
	c->accel.pNext = &c->pipeline;
	c->v12.sType = VK_STRUCTURE_TYPE_PHYSICAL_DEVICE_VULKAN_1_2_FEATURES;
	c->v12.bufferDeviceAddress = VK_TRUE;
	c->v12.descriptorIndexing = VK_TRUE;
	c->v12.runtimeDescriptorArray = VK_TRUE;
	c->v12.shaderSampledImageArrayNonUniformIndexing = VK_TRUE;
	c->v12.shaderStorageBufferArrayNonUniformIndexing = VK_TRUE;
	c->v12.descriptorBindingPartiallyBound = VK_TRUE;
	c->v12.scalarBlockLayout = VK_TRUE;
	c->v12.pNext = &c->accel;
	return c;
}

static void* rtNewAllocateFlags(void) {
	VkMemoryAllocateFlagsInfo* info = (VkMemoryAllocateFlagsInfo*)calloc(1, sizeof(VkMemoryAllocateFlagsInfo));
	info->sType = VK_STRUCTURE_TYPE_MEMORY_ALLOCATE_FLAGS_INFO;
	info->flags = VK_MEMORY_ALLOCATE_DEVICE_ADDRESS_BIT;
	return info;
}

typedef struct rtAccelWrite {
	VkWriteDescriptorSetAccelerationStructureKHR write;
	VkAccelerationStructureKHR accels[1];
} rtAccelWrite;

static void* rtNewAccelWrite(const VkAccelerationStructureKHR* accels, uint32_t count) {
	size_t size = sizeof(rtAccelWrite) + (count > 0 ? count - 1 : 0) * sizeof(VkAccelerationStructureKHR);
	rtAccelWrite* w = (rtAccelWrite*)calloc(1, size);
	if (count > 0) {
		memcpy(w->accels, accels, count * sizeof(VkAccelerationStructureKHR));
	}
	w->write.sType = VK_STRUCTURE_TYPE_WRITE_DESCRIPTOR_SET_ACCELERATION_STRUCTURE_KHR;
	w->write.accelerationStructureCount = count;
	w->write.pAccelerationStructures = w->accels;
	return w;
}

static VkDeviceAddress rtBufferAddress(rtProcs* p, VkDevice device, VkBuffer buffer) {
	VkBufferDeviceAddressInfo info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_BUFFER_DEVICE_ADDRESS_INFO;
	info.buffer = buffer;
	return p->getBufferDeviceAddress(device, &info);
}

typedef struct rtGeometry {
	int             topLevel;
	uint32_t        flags;
	uint32_t        primitiveCount;
	VkFormat        vertexFormat;
	VkDeviceAddress vertexData;
	VkDeviceSize    vertexStride;
	uint32_t        maxVertex;
	VkIndexType     indexType;
	VkDeviceAddress indexData;
	int             opaque;
	VkDeviceAddress instanceData;
} rtGeometry;

static void rtFillBuildInfo(const rtGeometry* d, VkAccelerationStructureGeometryKHR* g, VkAccelerationStructureBuildGeometryInfoKHR* info) {
	memset(g, 0, sizeof(*g));
	g->sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_KHR;
	if (d->topLevel) {
		g->geometryType = VK_GEOMETRY_TYPE_INSTANCES_KHR;
		g->geometry.instances.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_INSTANCES_DATA_KHR;
		g->geometry.instances.arrayOfPointers = VK_FALSE;
		g->geometry.instances.data.deviceAddress = d->instanceData;
	} else {
		g->geometryType = VK_GEOMETRY_TYPE_TRIANGLES_KHR;
		VkAccelerationStructureGeometryTrianglesDataKHR* t = &g->geometry.triangles;
		t->sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_GEOMETRY_TRIANGLES_DATA_KHR;
		t->vertexFormat = d->vertexFormat;
		t->vertexData.deviceAddress = d->vertexData;
		t->vertexStride = d->vertexStride;
		t->maxVertex = d->maxVertex;
		t->indexType = d->indexType;
		t->indexData.deviceAddress = d->indexData;
		if (d->opaque) {
			g->flags = VK_GEOMETRY_OPAQUE_BIT_KHR;
		}
	}
	memset(info, 0, sizeof(*info));
	info->sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_BUILD_GEOMETRY_INFO_KHR;
	info->type = d->topLevel ? VK_ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL_KHR : VK_ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL_KHR;
	info->flags = d->flags;
	info->mode = VK_BUILD_ACCELERATION_STRUCTURE_MODE_BUILD_KHR;
	info->geometryCount = 1;
	info->pGeometries = g;
}

static void rtBuildSizes(rtProcs* p, VkDevice device, const rtGeometry* d, VkDeviceSize* out) {
	VkAccelerationStructureGeometryKHR g;
	VkAccelerationStructureBuildGeometryInfoKHR info;
	rtFillBuildInfo(d, &g, &info);
	VkAccelerationStructureBuildSizesInfoKHR sizes;
	memset(&sizes, 0, sizeof(sizes));
	sizes.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_BUILD_SIZES_INFO_KHR;
	p->getBuildSizes(device, VK_ACCELERATION_STRUCTURE_BUILD_TYPE_DEVICE_KHR, &info, &d->primitiveCount, &sizes);
	out[0] = sizes.accelerationStructureSize;
	out[1] = sizes.buildScratchSize;
	out[2] = sizes.updateScratchSize;
}

static VkResult rtCreateAccel(rtProcs* p, VkDevice device, VkBuffer buffer, VkDeviceSize size, int topLevel, VkAccelerationStructureKHR* out) {
	VkAccelerationStructureCreateInfoKHR info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_CREATE_INFO_KHR;
	info.buffer = buffer;
	info.size = size;
	info.type = topLevel ? VK_ACCELERATION_STRUCTURE_TYPE_TOP_LEVEL_KHR : VK_ACCELERATION_STRUCTURE_TYPE_BOTTOM_LEVEL_KHR;
	return p->createAccel(device, &info, NULL, out);
}

static void rtDestroyAccel(rtProcs* p, VkDevice device, VkAccelerationStructureKHR accel) {
	p->destroyAccel(device, accel, NULL);
}

static VkDeviceAddress rtAccelAddress(rtProcs* p, VkDevice device, VkAccelerationStructureKHR accel) {
	VkAccelerationStructureDeviceAddressInfoKHR info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_ACCELERATION_STRUCTURE_DEVICE_ADDRESS_INFO_KHR;
	info.accelerationStructure = accel;
	return p->getAccelAddress(device, &info);
}

static void rtCmdBuildAccel(rtProcs* p, VkCommandBuffer cmd, const rtGeometry* d, VkAccelerationStructureKHR dst, VkDeviceAddress scratch) {
	VkAccelerationStructureGeometryKHR g;
	VkAccelerationStructureBuildGeometryInfoKHR info;
	rtFillBuildInfo(d, &g, &info);
	info.dstAccelerationStructure = dst;
	info.scratchData.deviceAddress = scratch;
	VkAccelerationStructureBuildRangeInfoKHR range;
	memset(&range, 0, sizeof(range));
	range.primitiveCount = d->primitiveCount;
	const VkAccelerationStructureBuildRangeInfoKHR* ranges = &range;
	p->cmdBuildAccel(cmd, 1, &info, &ranges);
}

typedef struct rtStage {
	VkShaderStageFlagBits stage;
	VkShaderModule        module;
} rtStage;

typedef struct rtGroup {
	VkRayTracingShaderGroupTypeKHR type;
	uint32_t general;
	uint32_t closestHit;
	uint32_t anyHit;
	uint32_t intersection;
} rtGroup;

static VkResult rtCreatePipeline(rtProcs* p, VkDevice device, const rtStage* stages, uint32_t stageCount,
		const rtGroup* groups, uint32_t groupCount, uint32_t maxRecursion, VkPipelineLayout layout,
		const char* entry, VkPipeline* out) {
	VkPipelineShaderStageCreateInfo* s = (VkPipelineShaderStageCreateInfo*)calloc(stageCount, sizeof(VkPipelineShaderStageCreateInfo));
	VkRayTracingShaderGroupCreateInfoKHR* g = (VkRayTracingShaderGroupCreateInfoKHR*)calloc(groupCount, sizeof(VkRayTracingShaderGroupCreateInfoKHR));
	for (uint32_t i = 0; i < stageCount; i++) {
		s[i].sType = VK_STRUCTURE_TYPE_PIPELINE_SHADER_STAGE_CREATE_INFO;
		s[i].stage = stages[i].stage;
		s[i].module = stages[i].module;
		s[i].pName = entry;
	}
	for (uint32_t i = 0; i < groupCount; i++) {
		g[i].sType = VK_STRUCTURE_TYPE_RAY_TRACING_SHADER_GROUP_CREATE_INFO_KHR;
		g[i].type = groups[i].type;
		g[i].generalShader = groups[i].general;
		g[i].closestHitShader = groups[i].closestHit;
		g[i].anyHitShader = groups[i].anyHit;
		g[i].intersectionShader = groups[i].intersection;
	}
	VkRayTracingPipelineCreateInfoKHR info;
	memset(&info, 0, sizeof(info));
	info.sType = VK_STRUCTURE_TYPE_RAY_TRACING_PIPELINE_CREATE_INFO_KHR;
	info.stageCount = stageCount;
	info.pStages = s;
	info.groupCount = groupCount;
	info.pGroups = g;
	info.maxPipelineRayRecursionDepth = maxRecursion;
	info.layout = layout;
	VkResult res = p->createPipelines(device, VK_NULL_HANDLE, VK_NULL_HANDLE, 1, &info, NULL, out);
	free(s);
	free(g);
	return res;
}

static VkResult rtGroupHandles(rtProcs* p, VkDevice device, VkPipeline pipeline, uint32_t first, uint32_t count, size_t size, void* data) {
	return p->getGroupHandles(device, pipeline, first, count, size, data);
}

static void rtCmdTraceRays(rtProcs* p, VkCommandBuffer cmd, const VkStridedDeviceAddressRegionKHR* regions, uint32_t width, uint32_t height, uint32_t depth) {
	p->cmdTraceRays(cmd, &regions[0], &regions[1], &regions[2], &regions[3], width, height, depth);
}
*/
import "C"

import (
	"fmt"
	"unsafe"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

// VkAccelerationStructureKHR, which the core bindings do not carry.
type accelHandle = C.VkAccelerationStructureKHR

// Ray tracing entry points resolved through vkGetDeviceProcAddr.
type rtProcs struct {
	procs C.rtProcs
}

func loaderNames() []string {
	return []string{"libvulkan.so.1", "libvulkan.so", "libvulkan.1.dylib", "libMoltenVK.dylib"}
}

// OpenLoader locates vkGetInstanceProcAddr in the system Vulkan loader.
func OpenLoader() (unsafe.Pointer, error) {
	for _, name := range loaderNames() {
		cname := C.CString(name)
		p := C.rtOpenLoader(cname)
		C.free(unsafe.Pointer(cname))
		if p != nil {
			return p, nil
		}
	}
	return nil, fmt.Errorf("no Vulkan loader found (tried %v)", loaderNames())
}

func (rt *rtProcs) loadInstance(gipa unsafe.Pointer, instance vk.Instance) error {
	if C.rtLoadInstance(&rt.procs, gipa, C.VkInstance(unsafe.Pointer(instance))) == 0 {
		return fmt.Errorf("instance does not expose the Vulkan 1.2 physical device queries")
	}
	return nil
}

func (rt *rtProcs) loadDevice(device vk.Device) error {
	if C.rtLoadDevice(&rt.procs, C.VkDevice(unsafe.Pointer(device))) == 0 {
		return fmt.Errorf("device does not expose the ray tracing entry points")
	}
	return nil
}

func (rt *rtProcs) supported(physical vk.PhysicalDevice) bool {
	return C.rtSupported(&rt.procs, C.VkPhysicalDevice(unsafe.Pointer(physical))) != 0
}

func (rt *rtProcs) limits(physical vk.PhysicalDevice) metadata.RayTracingLimits {
	var out C.rtLimits
	C.rtQueryLimits(&rt.procs, C.VkPhysicalDevice(unsafe.Pointer(physical)), &out)
	return metadata.RayTracingLimits{
		ShaderGroupHandleSize:      uint32(out.handleSize),
		ShaderGroupHandleAlignment: uint32(out.handleAlignment),
		ShaderGroupBaseAlignment:   uint32(out.baseAlignment),
		MaxRayRecursionDepth:       uint32(out.maxRecursion),
	}
}

// newFeatureChain returns a C allocated pNext chain enabling buffer device
// address, descriptor indexing, acceleration structures and ray tracing
// pipelines. Release it with freeChain once the device exists.
func newFeatureChain() unsafe.Pointer {
	return C.rtNewFeatureChain()
}

func newAllocateFlags() unsafe.Pointer {
	return C.rtNewAllocateFlags()
}

func newAccelWrite(accels []accelHandle) unsafe.Pointer {
	if len(accels) == 0 {
		return C.rtNewAccelWrite(nil, 0)
	}
	return C.rtNewAccelWrite(&accels[0], C.uint32_t(len(accels)))
}

func freeChain(p unsafe.Pointer) {
	C.free(p)
}

func (rt *rtProcs) bufferAddress(device vk.Device, buffer vk.Buffer) metadata.DeviceAddress {
	return metadata.DeviceAddress(C.rtBufferAddress(&rt.procs, C.VkDevice(unsafe.Pointer(device)), C.VkBuffer(unsafe.Pointer(buffer))))
}

func toGeometry(info *metadata.AccelBuildInfo) C.rtGeometry {
	g := C.rtGeometry{
		flags:          C.uint32_t(info.Flags),
		primitiveCount: C.uint32_t(info.PrimitiveCount),
	}
	if info.Kind == metadata.AccelKindTopLevel {
		g.topLevel = 1
		if info.Instances != nil {
			g.instanceData = C.VkDeviceAddress(info.Instances.Data)
		}
		return g
	}
	if t := info.Triangles; t != nil {
		g.vertexFormat = C.VkFormat(t.VertexFormat)
		g.vertexData = C.VkDeviceAddress(t.VertexData)
		g.vertexStride = C.VkDeviceSize(t.VertexStride)
		g.maxVertex = C.uint32_t(t.MaxVertex)
		g.indexType = C.VkIndexType(t.IndexType)
		g.indexData = C.VkDeviceAddress(t.IndexData)
		if t.Opaque {
			g.opaque = 1
		}
	}
	return g
}

func (rt *rtProcs) buildSizes(device vk.Device, info *metadata.AccelBuildInfo) metadata.AccelBuildSizes {
	g := toGeometry(info)
	var out [3]C.VkDeviceSize
	C.rtBuildSizes(&rt.procs, C.VkDevice(unsafe.Pointer(device)), &g, &out[0])
	return metadata.AccelBuildSizes{
		AccelerationStructureSize: uint64(out[0]),
		BuildScratchSize:          uint64(out[1]),
		UpdateScratchSize:         uint64(out[2]),
	}
}

func (rt *rtProcs) createAccel(device vk.Device, buffer vk.Buffer, size uint64, kind metadata.AccelKind) (accelHandle, vk.Result) {
	var out accelHandle
	top := C.int(0)
	if kind == metadata.AccelKindTopLevel {
		top = 1
	}
	res := C.rtCreateAccel(&rt.procs, C.VkDevice(unsafe.Pointer(device)), C.VkBuffer(unsafe.Pointer(buffer)), C.VkDeviceSize(size), top, &out)
	return out, vk.Result(res)
}

func (rt *rtProcs) destroyAccel(device vk.Device, accel accelHandle) {
	C.rtDestroyAccel(&rt.procs, C.VkDevice(unsafe.Pointer(device)), accel)
}

func (rt *rtProcs) accelAddress(device vk.Device, accel accelHandle) metadata.DeviceAddress {
	return metadata.DeviceAddress(C.rtAccelAddress(&rt.procs, C.VkDevice(unsafe.Pointer(device)), accel))
}

func (rt *rtProcs) cmdBuildAccel(cmd vk.CommandBuffer, info *metadata.AccelBuildInfo, dst accelHandle, scratch metadata.DeviceAddress) {
	g := toGeometry(info)
	C.rtCmdBuildAccel(&rt.procs, C.VkCommandBuffer(unsafe.Pointer(cmd)), &g, dst, C.VkDeviceAddress(scratch))
}

func (rt *rtProcs) createPipeline(device vk.Device, stages []vk.ShaderModule, info metadata.RayTracingPipelineInfo, layout vk.PipelineLayout) (vk.Pipeline, vk.Result) {
	cstages := make([]C.rtStage, len(info.Stages))
	for i, s := range info.Stages {
		cstages[i] = C.rtStage{
			stage:  C.VkShaderStageFlagBits(s.Stage),
			module: C.VkShaderModule(unsafe.Pointer(stages[i])),
		}
	}
	cgroups := make([]C.rtGroup, len(info.Groups))
	for i, g := range info.Groups {
		cgroups[i] = C.rtGroup{
			_type:        C.VkRayTracingShaderGroupTypeKHR(g.Type),
			general:      C.uint32_t(g.General),
			closestHit:   C.uint32_t(g.ClosestHit),
			anyHit:       C.uint32_t(g.AnyHit),
			intersection: C.uint32_t(g.Intersection),
		}
	}
	entry := C.CString(metadata.DefaultShaderEntryPoint)
	defer C.free(unsafe.Pointer(entry))

	var out C.VkPipeline
	res := C.rtCreatePipeline(&rt.procs, C.VkDevice(unsafe.Pointer(device)),
		&cstages[0], C.uint32_t(len(cstages)),
		&cgroups[0], C.uint32_t(len(cgroups)),
		C.uint32_t(info.MaxRecursionDepth), C.VkPipelineLayout(unsafe.Pointer(layout)),
		entry, &out)
	return vk.Pipeline(unsafe.Pointer(out)), vk.Result(res)
}

func (rt *rtProcs) groupHandles(device vk.Device, pipeline vk.Pipeline, first, count uint32, data []byte) vk.Result {
	return vk.Result(C.rtGroupHandles(&rt.procs, C.VkDevice(unsafe.Pointer(device)), C.VkPipeline(unsafe.Pointer(pipeline)),
		C.uint32_t(first), C.uint32_t(count), C.size_t(len(data)), unsafe.Pointer(&data[0])))
}

func (rt *rtProcs) cmdTraceRays(cmd vk.CommandBuffer, raygen, miss, hit, callable metadata.StridedRegion, width, height, depth uint32) {
	var regions [4]C.VkStridedDeviceAddressRegionKHR
	for i, r := range []metadata.StridedRegion{raygen, miss, hit, callable} {
		regions[i].deviceAddress = C.VkDeviceAddress(r.Address)
		regions[i].stride = C.VkDeviceSize(r.Stride)
		regions[i].size = C.VkDeviceSize(r.Size)
	}
	C.rtCmdTraceRays(&rt.procs, C.VkCommandBuffer(unsafe.Pointer(cmd)), &regions[0], C.uint32_t(width), C.uint32_t(height), C.uint32_t(depth))
}
