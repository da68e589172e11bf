//go:build mage

package main

import (
	"fmt"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Compiles the shaders and opens the scene in a window.
func (Run) Interactive() error {
	return run("interactive")
}

// Compiles the shaders and renders the configured frames to disk.
func (Run) Offscreen() error {
	return run("offscreen")
}

// Renders offscreen on the CPU reference backend; needs no GPU or glslc.
func (Run) Software() error {
	fmt.Println("Run engine on the software backend...")
	_, err := executeCmd("go", withArgs("run", ".", "-mode", "offscreen", "-backend", "software"), withStream())
	return err
}

func run(mode string) error {
	if err := buildShaders(); err != nil {
		return err
	}
	fmt.Printf("Run engine (%s)...\n", mode)
	if _, err := executeCmd("go", withArgs("run", ".", "-mode", mode), withStream()); err != nil {
		return err
	}
	return nil
}
