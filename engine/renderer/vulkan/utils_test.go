package vulkan

import (
	"testing"

	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rt/engine/core"
)

func TestResultError(t *testing.T) {
	tests := []struct {
		name   string
		result vk.Result
		want   error
	}{
		{name: "out of date", result: vk.ErrorOutOfDate, want: core.ErrSwapchainOutOfDate},
		{name: "suboptimal", result: vk.Suboptimal, want: core.ErrSwapchainSuboptimal},
		{name: "timeout", result: vk.Timeout, want: core.ErrFenceTimeout},
		{name: "device lost", result: vk.ErrorDeviceLost, want: core.ErrDeviceLost},
		{name: "unknown", result: vk.ErrorUnknown, want: core.ErrUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := resultError("vkCall", tt.result)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)
			assert.Contains(t, err.Error(), "vkCall")
		})
	}

	err := resultError("vkAllocateMemory", vk.ErrorOutOfDeviceMemory)
	assert.EqualError(t, err, "vkAllocateMemory failed with VK_ERROR_OUT_OF_DEVICE_MEMORY")
}

func TestVulkanResultString(t *testing.T) {
	assert.Equal(t, "VK_SUCCESS", VulkanResultString(vk.Success))
	assert.Equal(t, "VK_ERROR_OUT_OF_DATE_KHR", VulkanResultString(vk.ErrorOutOfDate))
	assert.Equal(t, "VkResult(-424242)", VulkanResultString(vk.Result(-424242)))
}

func TestVulkanSafeStrings(t *testing.T) {
	in := []string{"VK_KHR_surface", "", "already\x00"}
	out := VulkanSafeStrings(in)

	assert.Equal(t, []string{"VK_KHR_surface\x00", "\x00", "already\x00"}, out)
	assert.Equal(t, "VK_KHR_surface", in[0], "input is left untouched")
}

func TestFindFirstZeroInByteArray(t *testing.T) {
	assert.Equal(t, 3, FindFirstZeroInByteArray([]byte{'a', 'b', 'c', 0, 'd'}))
	assert.Equal(t, 0, FindFirstZeroInByteArray([]byte{0}))
	assert.Equal(t, 2, FindFirstZeroInByteArray([]byte{'a', 'b'}))
}

func TestRegistry(t *testing.T) {
	r := newRegistry[string]()

	a := r.add("a")
	b := r.add("b")
	assert.NotZero(t, a)
	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, r.len())

	got, ok := r.get(a)
	require.True(t, ok)
	assert.Equal(t, "a", got)

	_, ok = r.get(0)
	assert.False(t, ok, "zero is never issued")

	taken, ok := r.take(a)
	require.True(t, ok)
	assert.Equal(t, "a", taken)
	_, ok = r.take(a)
	assert.False(t, ok)

	assert.ElementsMatch(t, []uint64{b}, r.keys())
	assert.ElementsMatch(t, []string{"b"}, r.drain())
	assert.Zero(t, r.len())

	c := r.add("c")
	assert.Greater(t, c, b, "handles are not reused after a drain")
}

func TestLockPoolQueueCalls(t *testing.T) {
	pool := NewVulkanLockPool()
	pool.SetQueueFamily(0)

	calls := 0
	require.NoError(t, pool.SafeQueueCall(0, func() error { calls++; return nil }))
	// Unregistered families get a mutex on first use.
	require.NoError(t, pool.SafeQueueCall(3, func() error { calls++; return nil }))
	require.NoError(t, pool.SafeAllQueuesCall(func() error {
		calls++
		return nil
	}))
	assert.ErrorIs(t, pool.SafeCall(MemoryManagement, func() error { return core.ErrUnknown }), core.ErrUnknown)
	assert.Equal(t, 3, calls)
}
