package systems

import (
	"fmt"

	"github.com/spaghettifunk/anima-rt/engine/renderer/metadata"
)

/**
 * @brief Records into a single-use command buffer, submits it and waits for
 * the queue to go idle before freeing it.
 */
func SubmitOnce(device metadata.Device, record func(cb metadata.CommandBuffer)) error {
	cb, err := device.AllocateCommandBuffer()
	if err != nil {
		return fmt.Errorf("failed to allocate single use command buffer: %w", err)
	}
	defer cb.Free()

	if err := cb.Begin(true); err != nil {
		return fmt.Errorf("failed to begin single use command buffer: %w", err)
	}
	record(cb)
	if err := cb.End(); err != nil {
		return fmt.Errorf("failed to end single use command buffer: %w", err)
	}
	if err := device.Submit(metadata.SubmitInfo{CommandBuffer: cb}); err != nil {
		return fmt.Errorf("failed to submit single use command buffer: %w", err)
	}
	// Wait for it to finish
	if err := device.WaitIdle(); err != nil {
		return fmt.Errorf("failed waiting for single use command buffer: %w", err)
	}
	return nil
}
