package system

import "harnscabinet/pkg/runtime"

// UnitMeta identifies the switchgear unit. The ID is generated once and
// persisted, so it survives restarts and is used as the MQTT client id.
type UnitMeta struct {
	Label    string `json:"label"`
	Location string `json:"location"`
	runtime.ObjectMeta
}

type ResponseModel struct {
	Cpus  interface{} `json:"cpus,omitempty"`
	Mem   interface{} `json:"mem,omitempty"`
	Disks interface{} `json:"disk,omitempty"`
}

type CpuUsageInfo struct {
	Cores       int     `json:"cores"`
	UsedPercent float64 `json:"usedPercent"`
}

type MemUsageInfo struct {
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"usedPercent"`
}

type DiskUsageInfo struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"usedPercent"`
}

const (
	unitKey  = "unit/meta"
	unitName = "harnscabinet"
)
