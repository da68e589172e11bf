package software

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	d := New(DefaultOptions())
	t.Cleanup(d.Destroy)
	return d
}

func fakeSPIRV() []byte {
	code := make([]byte, 20)
	binary.LittleEndian.PutUint32(code, metadata.SPIRVMagic)
	return code
}

func TestMapMemoryRequiresHostVisible(t *testing.T) {
	d := newTestDevice(t)

	local, err := d.AllocateMemory(metadata.MemoryAllocateInfo{Size: 64, TypeIndex: 0})
	require.NoError(t, err)
	_, err = d.MapMemory(local, 0, metadata.WholeSize)
	assert.Error(t, err)

	host, err := d.AllocateMemory(metadata.MemoryAllocateInfo{Size: 64, TypeIndex: 1})
	require.NoError(t, err)
	data, err := d.MapMemory(host, 16, metadata.WholeSize)
	require.NoError(t, err)
	assert.Len(t, data, 48)

	_, err = d.MapMemory(host, 0, 8)
	assert.Error(t, err, "double map must fail")
	d.UnmapMemory(host)
	_, err = d.MapMemory(host, 0, 8)
	assert.NoError(t, err)
}

func TestDeviceAddressNeedsAllocateFlag(t *testing.T) {
	d := newTestDevice(t)
	usage := metadata.BufferUsageStorageBuffer | metadata.BufferUsageShaderDeviceAddress

	buf, req, err := d.CreateBuffer(metadata.BufferCreateInfo{Size: 100, Usage: usage})
	require.NoError(t, err)
	mem, err := d.AllocateMemory(metadata.MemoryAllocateInfo{Size: req.Size, TypeIndex: 0})
	require.NoError(t, err)
	assert.Error(t, d.BindBufferMemory(buf, mem))

	buf2, req, err := d.CreateBuffer(metadata.BufferCreateInfo{Size: 100, Usage: usage})
	require.NoError(t, err)
	mem2, err := d.AllocateMemory(metadata.MemoryAllocateInfo{Size: req.Size, TypeIndex: 0, DeviceAddress: true})
	require.NoError(t, err)
	require.NoError(t, d.BindBufferMemory(buf2, mem2))
	assert.NotZero(t, d.BufferDeviceAddress(buf2))
	assert.Zero(t, uint64(d.BufferDeviceAddress(buf2))%addressAlignment)
}

func TestFenceWait(t *testing.T) {
	d := newTestDevice(t)

	signaled, err := d.CreateFence(true)
	require.NoError(t, err)
	assert.NoError(t, d.WaitForFence(signaled, 0))

	require.NoError(t, d.ResetFence(signaled))
	assert.ErrorIs(t, d.WaitForFence(signaled, 1_000_000), core.ErrFenceTimeout)

	cb, err := d.AllocateCommandBuffer()
	require.NoError(t, err)
	require.NoError(t, cb.Begin(true))
	require.NoError(t, cb.End())
	require.NoError(t, d.Submit(metadata.SubmitInfo{CommandBuffer: cb, Fence: signaled}))
	assert.NoError(t, d.WaitForFence(signaled, metadata.TimeoutInfinite))

	assert.Error(t, d.Submit(metadata.SubmitInfo{CommandBuffer: cb, Fence: signaled}),
		"a single use buffer must be re-recorded before resubmission")
}

func TestFenceZeroTimeoutPolls(t *testing.T) {
	d := newTestDevice(t)

	signaled, err := d.CreateFence(true)
	require.NoError(t, err)
	for i := 0; i < 1000; i++ {
		require.NoError(t, d.WaitForFence(signaled, 0), "iteration %d", i)
	}

	require.NoError(t, d.ResetFence(signaled))
	assert.ErrorIs(t, d.WaitForFence(signaled, 0), core.ErrFenceTimeout)
}

func TestBarrierLayoutMismatchLosesDevice(t *testing.T) {
	d := newTestDevice(t)

	img, req, err := d.CreateImage(metadata.ImageCreateInfo{Width: 4, Height: 4, Format: metadata.FormatR8G8B8A8Unorm})
	require.NoError(t, err)
	mem, err := d.AllocateMemory(metadata.MemoryAllocateInfo{Size: req.Size})
	require.NoError(t, err)
	require.NoError(t, d.BindImageMemory(img, mem))

	cb, err := d.AllocateCommandBuffer()
	require.NoError(t, err)
	require.NoError(t, cb.Begin(true))
	cb.ImageBarrier(metadata.ImageBarrier{Image: img, OldLayout: metadata.ImageLayoutUndefined, NewLayout: metadata.ImageLayoutGeneral})
	cb.ImageBarrier(metadata.ImageBarrier{Image: img, OldLayout: metadata.ImageLayoutTransferSrc, NewLayout: metadata.ImageLayoutGeneral})
	require.NoError(t, cb.End())
	require.NoError(t, d.Submit(metadata.SubmitInfo{CommandBuffer: cb}))

	err = d.WaitIdle()
	assert.ErrorIs(t, err, core.ErrDeviceLost)
	assert.Contains(t, err.Error(), "transfer-src")
}

func TestSemaphoreWaitWithoutSignal(t *testing.T) {
	d := newTestDevice(t)

	sem, err := d.CreateSemaphore()
	require.NoError(t, err)
	cb, err := d.AllocateCommandBuffer()
	require.NoError(t, err)
	require.NoError(t, cb.Begin(true))
	require.NoError(t, cb.End())
	require.NoError(t, d.Submit(metadata.SubmitInfo{CommandBuffer: cb, WaitSemaphore: sem}))
	assert.ErrorIs(t, d.WaitIdle(), core.ErrDeviceLost)
}

func TestShaderModuleValidation(t *testing.T) {
	d := newTestDevice(t)

	_, err := d.CreateShaderModule([]byte("not spirv at all!!!!"))
	assert.Error(t, err)
	_, err = d.CreateShaderModule(fakeSPIRV())
	assert.NoError(t, err)
}

func TestDescriptorPoolExhaustion(t *testing.T) {
	d := newTestDevice(t)

	layout, err := d.CreateDescriptorSetLayout([]metadata.DescriptorBinding{
		{Binding: 0, Type: metadata.DescriptorTypeStorageBuffer, Count: 1, Stages: metadata.ShaderStageRaygen},
	})
	require.NoError(t, err)
	pool, err := d.CreateDescriptorPool(2, []metadata.DescriptorPoolSize{{Type: metadata.DescriptorTypeStorageBuffer, Count: 2}})
	require.NoError(t, err)

	sets, err := d.AllocateDescriptorSets(pool, layout, 2)
	require.NoError(t, err)
	assert.Len(t, sets, 2)
	_, err = d.AllocateDescriptorSets(pool, layout, 1)
	assert.Error(t, err)
}

func TestSwapchainAcquireRotates(t *testing.T) {
	d := newTestDevice(t)
	sc, err := d.CreateSwapchain(8, 8, 3)
	require.NoError(t, err)
	defer sc.Destroy()

	var got []uint32
	for i := 0; i < 4; i++ {
		sem, err := d.CreateSemaphore()
		require.NoError(t, err)
		idx, err := sc.Acquire(metadata.TimeoutInfinite, sem)
		require.NoError(t, err)
		got = append(got, idx)
	}
	assert.Equal(t, []uint32{0, 1, 2, 0}, got)

	sc.FailNextAcquires(1)
	_, err = sc.Acquire(metadata.TimeoutInfinite, 0)
	assert.ErrorIs(t, err, core.ErrSwapchainOutOfDate)

	require.NoError(t, sc.Recreate(16, 4))
	w, h := sc.Extent()
	assert.Equal(t, uint32(16), w)
	assert.Equal(t, uint32(4), h)
	assert.Len(t, sc.Views(), 3)
}
