//go:build linux

package util

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// PinThread locks the calling goroutine to its OS thread and restricts that thread to
// cpus. The goroutine stays locked even if pinning fails.
func PinThread(cpus ...int) error {
	if len(cpus) == 0 {
		return fmt.Errorf("no cpu to pin to")
	}
	runtime.LockOSThread()

	set := &unix.CPUSet{}
	for _, cpu := range cpus {
		set.Set(cpu)
	}
	if err := unix.SchedSetaffinity(0, set); err != nil {
		return fmt.Errorf("pin to cpus %v: %w", cpus, err)
	}

	got := &unix.CPUSet{}
	if err := unix.SchedGetaffinity(0, got); err != nil {
		return err
	}
	if got.Count() != len(cpus) {
		return fmt.Errorf("pinned to %d cpus instead of %v", got.Count(), cpus)
	}
	for _, cpu := range cpus {
		if !got.IsSet(cpu) {
			return fmt.Errorf("cpu %d missing from the affinity mask", cpu)
		}
	}
	return nil
}
