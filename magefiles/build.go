//go:build mage

package main

import (
	"fmt"
	"path/filepath"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

const shaderDir = "assets/shaders"

// Ray tracing stages, compiled as <name>.spv next to the source.
var shaderSources = []string{
	"raygen.rgen",
	"miss.rmiss",
	"shadow.rmiss",
	"closesthit.rchit",
	"anyhit.rahit",
}

// Compiles the GLSL ray tracing stages to SPIR-V with glslc.
func (Build) Shaders() error {
	return buildShaders()
}

// Compiles the shaders and then the engine binary.
func (Build) Engine() error {
	mg.Deps(Build.Shaders)
	fmt.Println("Building engine...")
	if _, err := executeCmd("go", withArgs("build", "-o", "bin/anima-rt", "."), withStream()); err != nil {
		return err
	}
	return nil
}

func buildShaders() error {
	for _, src := range shaderSources {
		in := filepath.Join(shaderDir, src)
		out := in + ".spv"
		if _, err := executeCmd("glslc", withArgs("--target-env=vulkan1.2", in, "-o", out), withStream()); err != nil {
			return err
		}
	}
	return nil
}
