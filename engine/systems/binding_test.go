package systems

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

func TestLayoutBindings(t *testing.T) {
	bindings := LayoutBindings(3)
	require.Len(t, bindings, 11)

	for i, b := range bindings {
		assert.Equal(t, uint32(i), b.Binding, "bindings are dense and ordered")
	}
	tests := []struct {
		binding uint32
		typ     metadata.DescriptorType
		count   uint32
		stages  metadata.ShaderStage
	}{
		{metadata.BindingTLAS, metadata.DescriptorTypeAccelerationStructure, 1, metadata.ShaderStageRaygen | metadata.ShaderStageClosestHit},
		{metadata.BindingOutputImage, metadata.DescriptorTypeStorageImage, 1, metadata.ShaderStageRaygen},
		{metadata.BindingScene, metadata.DescriptorTypeUniformBuffer, 1, metadata.ShaderStageRaygen | metadata.ShaderStageClosestHit | metadata.ShaderStageMiss},
		{metadata.BindingTextures, metadata.DescriptorTypeSampledImage, 3, metadata.ShaderStageRaygen | metadata.ShaderStageClosestHit | metadata.ShaderStageAnyHit},
		{metadata.BindingEnvironment, metadata.DescriptorTypeSampledImage, 1, metadata.ShaderStageMiss},
		{metadata.BindingEnvironmentSampler, metadata.DescriptorTypeSampler, 1, metadata.ShaderStageMiss},
	}
	for _, tt := range tests {
		b := bindings[tt.binding]
		assert.Equal(t, tt.typ, b.Type, "binding %d", tt.binding)
		assert.Equal(t, tt.count, b.Count, "binding %d", tt.binding)
		assert.Equal(t, tt.stages, b.Stages, "binding %d", tt.binding)
	}
}

func TestCreateLayoutRejectsZeroTextures(t *testing.T) {
	d := newTestDevice(t)
	_, err := CreateLayout(d, 0)
	assert.Error(t, err)
}

func TestAllocateSetsOnce(t *testing.T) {
	d := newTestDevice(t)
	bg, err := CreateLayout(d, 2)
	require.NoError(t, err)
	defer bg.Destroy()

	assert.Error(t, bg.AllocateSets(0))
	require.NoError(t, bg.AllocateSets(3))
	assert.Len(t, bg.Sets, 3)
	assert.Error(t, bg.AllocateSets(3), "a generation is never reshaped")
}

func TestUpdateSetWithoutResources(t *testing.T) {
	d := newTestDevice(t)
	bg, err := CreateLayout(d, 1)
	require.NoError(t, err)
	defer bg.Destroy()
	require.NoError(t, bg.AllocateSets(1))

	assert.Error(t, bg.UpdateSet(0, 1))
	assert.Error(t, bg.UpdateSet(5, 1))
}

func TestUpdateSetWritesEveryBinding(t *testing.T) {
	d := newTestDevice(t)
	rc := newTestContext(t, d, 2, testScene(triangleGeometry()))

	out, err := rc.Memory.AllocateImage(metadata.ImageCreateInfo{
		Width:  4,
		Height: 4,
		Format: metadata.FormatR8G8B8A8Unorm,
		Usage:  metadata.ImageUsageStorage,
	}, metadata.MemoryPropertyDeviceLocal)
	require.NoError(t, err)
	defer out.Destroy()

	for slot := uint32(0); slot < 2; slot++ {
		require.NoError(t, rc.Bindings.UpdateSet(slot, out.View))

		tlas, ok := rc.Bindings.Binding(slot, metadata.BindingTLAS)
		require.True(t, ok)
		assert.Equal(t, []metadata.AccelHandle{rc.TLAS.Handle}, tlas.Accels)

		output, ok := rc.Bindings.Binding(slot, metadata.BindingOutputImage)
		require.True(t, ok)
		require.Len(t, output.Images, 1)
		assert.Equal(t, out.View, output.Images[0].View)
		assert.Equal(t, metadata.ImageLayoutGeneral, output.Images[0].Layout)

		// Each slot reads its own uniform buffer.
		scene, ok := rc.Bindings.Binding(slot, metadata.BindingScene)
		require.True(t, ok)
		require.Len(t, scene.Buffers, 1)
		assert.Equal(t, rc.Uniforms.Buffer(slot).Handle, scene.Buffers[0].Buffer)

		vertices, ok := rc.Bindings.Binding(slot, metadata.BindingVertices)
		require.True(t, ok)
		assert.Equal(t, rc.Scene.Vertices.Handle, vertices.Buffers[0].Buffer)

		textures, ok := rc.Bindings.Binding(slot, metadata.BindingTextures)
		require.True(t, ok)
		assert.Len(t, textures.Images, int(rc.Textures.Count()))

		env, ok := rc.Bindings.Binding(slot, metadata.BindingEnvironment)
		require.True(t, ok)
		assert.Equal(t, rc.Textures.Environment.View, env.Images[0].View)
	}
}

func TestAttachResourcesChecksTextureCount(t *testing.T) {
	d := newTestDevice(t)
	rc := newTestContext(t, d, 1, testScene(triangleGeometry()))

	bg, err := CreateLayout(d, rc.Textures.Count()+1)
	require.NoError(t, err)
	defer bg.Destroy()
	require.NoError(t, bg.AllocateSets(1))

	err = bg.AttachResources(&BindingResources{
		TLAS:     rc.TLAS,
		Uniforms: rc.Uniforms,
		Scene:    rc.Scene,
		Textures: rc.Textures,
	})
	assert.Error(t, err)
	assert.Error(t, bg.AttachResources(&BindingResources{}))
}
