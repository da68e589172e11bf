package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

type vulkanAccel struct {
	handle accelHandle
	kind   metadata.AccelKind
}

func (d *Device) AccelBuildSizes(info *metadata.AccelBuildInfo) (metadata.AccelBuildSizes, error) {
	if info == nil {
		return metadata.AccelBuildSizes{}, fmt.Errorf("nil acceleration structure build info")
	}
	if info.Kind == metadata.AccelKindBottomLevel && info.Triangles == nil {
		return metadata.AccelBuildSizes{}, fmt.Errorf("bottom-level build without triangle geometry")
	}
	return d.context.rt.buildSizes(d.logical(), info), nil
}

func (d *Device) CreateAccel(kind metadata.AccelKind, buffer metadata.BufferHandle, size uint64) (metadata.AccelHandle, error) {
	b, ok := d.buffers.get(uint64(buffer))
	if !ok {
		return 0, fmt.Errorf("%s acceleration structure over unknown buffer %d", kind, buffer)
	}
	if size > b.size {
		return 0, fmt.Errorf("%s acceleration structure of %d bytes does not fit a %d byte buffer", kind, size, b.size)
	}
	handle, res := d.context.rt.createAccel(d.logical(), b.handle, size, kind)
	if res != vk.Success {
		return 0, resultError("vkCreateAccelerationStructureKHR", res)
	}
	return metadata.AccelHandle(d.accels.add(&vulkanAccel{handle: handle, kind: kind})), nil
}

func (d *Device) DestroyAccel(accel metadata.AccelHandle) {
	if a, ok := d.accels.take(uint64(accel)); ok {
		d.context.rt.destroyAccel(d.logical(), a.handle)
	}
}

func (d *Device) AccelDeviceAddress(accel metadata.AccelHandle) metadata.DeviceAddress {
	a, ok := d.accels.get(uint64(accel))
	if !ok {
		return 0
	}
	return d.context.rt.accelAddress(d.logical(), a.handle)
}
