package vulkan

import (
	"sort"
	"sync"
)

type LockGroup string

const (
	CommandPoolManagement    LockGroup = "command_pool_management"
	DescriptorPoolManagement LockGroup = "descriptor_pool_management"
	MemoryManagement         LockGroup = "memory_management"
	SwapchainManagement      LockGroup = "swapchain_management"
)

// Mutex pool guarding the Vulkan objects that need external synchronization:
// command pools, descriptor pools, mapped memory and queues.
type VulkanLockPool struct {
	locks map[LockGroup]*sync.Mutex
	mu    sync.Mutex // Protects access to the maps

	queueMutexes map[uint32]*sync.Mutex // Queue family index as key
}

func NewVulkanLockPool() *VulkanLockPool {
	return &VulkanLockPool{
		locks:        make(map[LockGroup]*sync.Mutex),
		queueMutexes: make(map[uint32]*sync.Mutex),
	}
}

// Get or create a mutex for a specific group
func (vs *VulkanLockPool) lockFor(group LockGroup) *sync.Mutex {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if _, exists := vs.locks[group]; !exists {
		vs.locks[group] = &sync.Mutex{}
	}
	return vs.locks[group]
}

func (vs *VulkanLockPool) SafeCall(group LockGroup, fn func() error) error {
	l := vs.lockFor(group)
	l.Lock()
	defer l.Unlock()

	return fn()
}

func (vs *VulkanLockPool) SetQueueFamily(index uint32) {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if _, exists := vs.queueMutexes[index]; !exists {
		vs.queueMutexes[index] = &sync.Mutex{}
	}
}

func (vs *VulkanLockPool) SafeQueueCall(queueFamilyIndex uint32, fn func() error) error {
	vs.mu.Lock()
	l, ok := vs.queueMutexes[queueFamilyIndex]
	vs.mu.Unlock()
	if !ok {
		vs.SetQueueFamily(queueFamilyIndex)
		return vs.SafeQueueCall(queueFamilyIndex, fn)
	}

	l.Lock()
	defer l.Unlock()

	return fn()
}

// SafeAllQueuesCall holds every queue lock, in family order, while fn runs.
// vkDeviceWaitIdle needs this.
func (vs *VulkanLockPool) SafeAllQueuesCall(fn func() error) error {
	vs.mu.Lock()
	indices := make([]int, 0, len(vs.queueMutexes))
	for index := range vs.queueMutexes {
		indices = append(indices, int(index))
	}
	sort.Ints(indices)
	held := make([]*sync.Mutex, 0, len(indices))
	for _, index := range indices {
		held = append(held, vs.queueMutexes[uint32(index)])
	}
	vs.mu.Unlock()

	for _, l := range held {
		l.Lock()
	}
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}()

	return fn()
}
