package core

import (
	"errors"
)

var (
	ErrSwapchainBooting     = errors.New("swapchain resized or recreated, booting")
	ErrSwapchainOutOfDate   = errors.New("swapchain out of date")
	ErrSwapchainSuboptimal  = errors.New("swapchain suboptimal")
	ErrNoSuitableMemoryType = errors.New("no suitable memory type")
	ErrBottomLevelNotBuilt  = errors.New("bottom level acceleration structure has no device address")
	ErrFenceTimeout         = errors.New("fence wait timed out")
	ErrDeviceLost           = errors.New("device lost")
	ErrInvalidConfig        = errors.New("invalid configuration")
	ErrUnknown              = errors.New("unknown")
)
