package systems

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rt/engine/core"
	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

func TestFindMemoryIndex(t *testing.T) {
	props := metadata.MemoryProperties{Types: []metadata.MemoryType{
		{Flags: metadata.MemoryPropertyDeviceLocal},
		{Flags: metadata.MemoryPropertyHostVisible | metadata.MemoryPropertyHostCoherent},
		{Flags: metadata.MemoryPropertyDeviceLocal | metadata.MemoryPropertyHostVisible | metadata.MemoryPropertyHostCoherent},
	}}
	hostCoherent := metadata.MemoryPropertyHostVisible | metadata.MemoryPropertyHostCoherent

	tests := []struct {
		name     string
		typeBits uint32
		want     metadata.MemoryProperty
		index    uint32
		err      error
	}{
		{"device local picks the first match", 0b111, metadata.MemoryPropertyDeviceLocal, 0, nil},
		{"host visible skips device only types", 0b111, hostCoherent, 1, nil},
		{"type bits exclude earlier matches", 0b100, metadata.MemoryPropertyDeviceLocal, 2, nil},
		{"all properties at once", 0b111, hostCoherent | metadata.MemoryPropertyDeviceLocal, 2, nil},
		{"no allowed type has the flags", 0b001, hostCoherent, 0, core.ErrNoSuitableMemoryType},
		{"no allowed types", 0, metadata.MemoryPropertyDeviceLocal, 0, core.ErrNoSuitableMemoryType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			index, err := FindMemoryIndex(props, tt.typeBits, tt.want)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.index, index)
		})
	}
}

func TestAllocateWithInitialData(t *testing.T) {
	d := newTestDevice(t)
	ms := NewMemorySystem(d)

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	b, err := ms.Allocate(uint64(len(data)), metadata.BufferUsageStorageBuffer,
		metadata.MemoryPropertyHostVisible|metadata.MemoryPropertyHostCoherent, data)
	require.NoError(t, err)
	defer b.Destroy()

	got, err := b.Read(0, b.Size)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Zero(t, b.Address, "no device address usage, no address")
}

func TestAllocateDeviceAddress(t *testing.T) {
	d := newTestDevice(t)
	ms := NewMemorySystem(d)

	b, err := ms.Allocate(256, metadata.BufferUsageStorageBuffer|metadata.BufferUsageShaderDeviceAddress,
		metadata.MemoryPropertyDeviceLocal, nil)
	require.NoError(t, err)
	defer b.Destroy()
	assert.NotZero(t, b.Address)
}

func TestAllocateRejectsInitialDataForDeviceLocal(t *testing.T) {
	d := newTestDevice(t)
	ms := NewMemorySystem(d)

	_, err := ms.Allocate(4, metadata.BufferUsageStorageBuffer, metadata.MemoryPropertyDeviceLocal, []byte{1, 2, 3, 4})
	assert.Error(t, err)
	buffers, memories, _, _ := d.Live()
	assert.Zero(t, buffers)
	assert.Zero(t, memories)
}

func TestBufferWriteBounds(t *testing.T) {
	d := newTestDevice(t)
	ms := NewMemorySystem(d)

	b, err := ms.Allocate(16, metadata.BufferUsageUniformBuffer,
		metadata.MemoryPropertyHostVisible|metadata.MemoryPropertyHostCoherent, nil)
	require.NoError(t, err)
	defer b.Destroy()

	assert.NoError(t, b.Write(8, make([]byte, 8)))
	assert.Error(t, b.Write(9, make([]byte, 8)))
	_, err = b.Read(12, 8)
	assert.Error(t, err)
}

func TestBufferPersistentMapping(t *testing.T) {
	d := newTestDevice(t)
	ms := NewMemorySystem(d)

	b, err := ms.Allocate(16, metadata.BufferUsageUniformBuffer,
		metadata.MemoryPropertyHostVisible|metadata.MemoryPropertyHostCoherent, nil)
	require.NoError(t, err)
	defer b.Destroy()

	assert.Error(t, b.Flush(0, metadata.WholeSize), "flushing an unmapped buffer")

	mapped, err := b.Map()
	require.NoError(t, err)
	again, err := b.Map()
	require.NoError(t, err)
	assert.Equal(t, len(mapped), len(again))

	require.NoError(t, b.Write(0, []byte{9, 9, 9, 9}))
	assert.NoError(t, b.Flush(0, metadata.WholeSize))
	assert.Equal(t, []byte{9, 9, 9, 9}, mapped[:4])

	b.Unmap()
	got, err := b.Read(0, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9, 9, 9}, got)
}

func TestDestroyReleasesEverything(t *testing.T) {
	d := newTestDevice(t)
	ms := NewMemorySystem(d)

	b, err := ms.Allocate(64, metadata.BufferUsageStorageBuffer, metadata.MemoryPropertyDeviceLocal, nil)
	require.NoError(t, err)
	img, err := ms.AllocateImage(metadata.ImageCreateInfo{
		Width:  4,
		Height: 4,
		Format: metadata.FormatR8G8B8A8Unorm,
		Usage:  metadata.ImageUsageSampled | metadata.ImageUsageTransferDst,
	}, metadata.MemoryPropertyDeviceLocal)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), img.Info.Layers)

	b.Destroy()
	img.Destroy()
	// A second destroy is a no-op.
	b.Destroy()
	img.Destroy()

	buffers, memories, images, _ := d.Live()
	assert.Zero(t, buffers)
	assert.Zero(t, memories)
	assert.Zero(t, images)
}
