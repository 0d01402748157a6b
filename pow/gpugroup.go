package pow

import (
	"fmt"

	"pow-node/logging"
)

// ParamsVersion selects the proof-parameter generation the compute
// workers run with; group sizing depends on it.
type ParamsVersion int

const (
	ParamsV1 ParamsVersion = 1
	ParamsV2 ParamsVersion = 2
)

// MinGroupVramGB is the minimum aggregate memory a device group needs
// to host one compute worker for the given params version.
func MinGroupVramGB(version ParamsVersion) float64 {
	if version == ParamsV1 {
		return 10.0
	}
	return 38.0
}

// DeviceInventory abstracts the execution environment's accelerator
// query surface so grouping stays testable off-GPU.
type DeviceInventory interface {
	Available() bool
	DeviceCount() int
	TotalMemoryGB(deviceId int) float64
	FreeMemoryMB(deviceId int) int64
}

// GpuGroup is a set of devices that together host one compute worker.
type GpuGroup struct {
	Devices       []int
	PrimaryDevice int

	inventory DeviceInventory
}

func NewGpuGroup(devices []int, inventory DeviceInventory) (*GpuGroup, error) {
	if len(devices) == 0 {
		return nil, fmt.Errorf("GPU group must have at least one device")
	}
	return &GpuGroup{
		Devices:       devices,
		PrimaryDevice: devices[0],
		inventory:     inventory,
	}, nil
}

func (g *GpuGroup) Size() int {
	return len(g.Devices)
}

func (g *GpuGroup) DeviceStrings() []string {
	strs := make([]string, len(g.Devices))
	for i, deviceId := range g.Devices {
		strs[i] = fmt.Sprintf("cuda:%d", deviceId)
	}
	return strs
}

func (g *GpuGroup) PrimaryDeviceString() string {
	return fmt.Sprintf("cuda:%d", g.PrimaryDevice)
}

func (g *GpuGroup) TotalVramGB() float64 {
	if g.inventory == nil || !g.inventory.Available() {
		return 0.0
	}
	total := 0.0
	for _, deviceId := range g.Devices {
		if deviceId < g.inventory.DeviceCount() {
			total += g.inventory.TotalMemoryGB(deviceId)
		}
	}
	return total
}

// FreeVramMBPerDevice is a live query; values change as workers load.
func (g *GpuGroup) FreeVramMBPerDevice() map[int]int64 {
	free := make(map[int]int64, len(g.Devices))
	for _, deviceId := range g.Devices {
		if g.inventory != nil && g.inventory.Available() && deviceId < g.inventory.DeviceCount() {
			free[deviceId] = g.inventory.FreeMemoryMB(deviceId)
		} else {
			free[deviceId] = 0
		}
	}
	return free
}

func (g *GpuGroup) FreeVramGB() float64 {
	var totalMB int64
	for _, mb := range g.FreeVramMBPerDevice() {
		totalMB += mb
	}
	return float64(totalMB) / 1024.0
}

// preferred group sizes, tried smallest first
var preferredGroupSizes = []int{1, 2, 4, 8}

// CreateGpuGroups partitions the inventory's devices into groups whose
// combined memory meets the minimum for the params version.
//
// Groups are always carved as a contiguous prefix of the remaining
// device list, trying sizes [1, 2, 4, 8] in order and taking the first
// that clears the threshold. When no size works, the front device is
// discarded and carving restarts from the next one. That can strand
// usable devices (two 12GB cards never pair with anything behind
// them), which is a deliberate simplicity tradeoff: grouping stays a
// single forward pass and never reorders devices.
func CreateGpuGroups(inventory DeviceInventory, minVramGB float64) []*GpuGroup {
	if inventory == nil || !inventory.Available() || inventory.DeviceCount() == 0 {
		// CPU fallback
		group, _ := NewGpuGroup([]int{0}, inventory)
		return []*GpuGroup{group}
	}

	type deviceVram struct {
		deviceId int
		vramGB   float64
	}

	available := make([]deviceVram, inventory.DeviceCount())
	for deviceId := range available {
		available[deviceId] = deviceVram{deviceId, inventory.TotalMemoryGB(deviceId)}
	}

	var groups []*GpuGroup
	for len(available) > 0 {
		groupFormed := false
		for _, size := range preferredGroupSizes {
			if len(available) < size {
				continue
			}
			candidate := available[:size]
			totalVram := 0.0
			for _, device := range candidate {
				totalVram += device.vramGB
			}
			if totalVram >= minVramGB {
				deviceIds := make([]int, size)
				for i, device := range candidate {
					deviceIds[i] = device.deviceId
				}
				group, _ := NewGpuGroup(deviceIds, inventory)
				groups = append(groups, group)
				available = available[size:]
				groupFormed = true
				break
			}
		}

		if !groupFormed {
			logging.Debug("Discarding device: no viable group from this offset", logging.PoC,
				"deviceId", available[0].deviceId, "vramGB", available[0].vramGB, "minVramGB", minVramGB)
			available = available[1:]
		}
	}

	return groups
}

// CreateGpuGroupsForParams sizes groups off the params version's
// memory floor.
func CreateGpuGroupsForParams(inventory DeviceInventory, version ParamsVersion) []*GpuGroup {
	return CreateGpuGroups(inventory, MinGroupVramGB(version))
}
