package pow

import (
	"os/exec"
	"strconv"
	"strings"

	"pow-node/logging"
)

// nvidiaSmiInventory reads device memory through nvidia-smi. Totals
// are cached at detection time; free memory is queried live.
type nvidiaSmiInventory struct {
	totalMemoryMB []int64
}

// DetectDeviceInventory probes the execution environment for
// accelerators. When none are found the grouping layer falls back to
// a single CPU group.
func DetectDeviceInventory() DeviceInventory {
	out, err := queryNvidiaSmi("memory.total")
	if err != nil {
		logging.Info("No GPU inventory detected, using CPU fallback", logging.PoC, "error", err)
		return &nvidiaSmiInventory{}
	}
	return &nvidiaSmiInventory{totalMemoryMB: out}
}

func (inv *nvidiaSmiInventory) Available() bool {
	return len(inv.totalMemoryMB) > 0
}

func (inv *nvidiaSmiInventory) DeviceCount() int {
	return len(inv.totalMemoryMB)
}

func (inv *nvidiaSmiInventory) TotalMemoryGB(deviceId int) float64 {
	if deviceId < 0 || deviceId >= len(inv.totalMemoryMB) {
		return 0.0
	}
	return float64(inv.totalMemoryMB[deviceId]) / 1024.0
}

func (inv *nvidiaSmiInventory) FreeMemoryMB(deviceId int) int64 {
	free, err := queryNvidiaSmi("memory.free")
	if err != nil || deviceId < 0 || deviceId >= len(free) {
		return 0
	}
	return free[deviceId]
}

func queryNvidiaSmi(field string) ([]int64, error) {
	out, err := exec.Command("nvidia-smi",
		"--query-gpu="+field, "--format=csv,noheader,nounits").Output()
	if err != nil {
		return nil, err
	}

	var values []int64
	for _, line := range strings.Split(strings.TrimSpace(string(out)), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		value, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			continue
		}
		values = append(values, value)
	}
	return values, nil
}
