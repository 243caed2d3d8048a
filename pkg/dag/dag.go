package dag

import (
	"github.com/arkos-project/arkimage/internal/constants"
	"github.com/arkos-project/arkimage/pkg/state"
	"github.com/spectrocloud-labs/herd"
)

// RegisterDiskImage registers the full assembly: check inputs, allocate, partition, then
// attach, format and populate the volume in one step so its cleanup stays together.
func RegisterDiskImage(s *state.State, g *herd.Graph) error {
	var err error

	if err = s.LogIfErrorAndReturn(s.PreflightDagStep(g), "preflight"); err != nil {
		return err
	}
	if err = s.LogIfErrorAndReturn(s.AllocateDagStep(g, herd.WithDeps(constants.OpPreflight)), "allocate"); err != nil {
		return err
	}
	s.LogIfError(s.PartitionDagStep(g, herd.WithDeps(constants.OpAllocate)), "partition table")

	return s.LogIfErrorAndReturn(s.AssembleVolumeDagStep(g, herd.WithDeps(constants.OpAllocate, constants.OpPartitionTable)), "assemble volume")
}

// RegisterFlatImage registers the image-only variant: the image is allocated and partitioned
// on a best effort basis, nothing is attached or mounted.
func RegisterFlatImage(s *state.State, g *herd.Graph) error {
	var err error

	if err = s.LogIfErrorAndReturn(s.PreflightDagStep(g), "preflight"); err != nil {
		return err
	}
	if err = s.LogIfErrorAndReturn(s.AllocateDagStep(g, herd.WithDeps(constants.OpPreflight)), "allocate"); err != nil {
		return err
	}
	return s.LogIfErrorAndReturn(s.PartitionDagStep(g, herd.WithDeps(constants.OpAllocate)), "partition table")
}

// RegisterInitramfs registers the zip archive packaging.
func RegisterInitramfs(s *state.State, g *herd.Graph) error {
	return s.LogIfErrorAndReturn(s.PackageInitramfsDagStep(g), "initramfs")
}
