package system

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	"harnscabinet/pkg/runtime"
	"harnscabinet/pkg/storage"
	"k8s.io/apimachinery/pkg/util/validation/field"
	"k8s.io/klog/v2"
)

const cpuSampleWindow = 200 * time.Millisecond

var ErrInvalidUnitMeta = errors.New("invalid unit information")

// ValidateUnitMeta checks the fields an operator may change.
func ValidateUnitMeta(u *UnitMeta) field.ErrorList {
	var allErrs field.ErrorList
	allErrs = append(allErrs, runtime.ValidateText(field.NewPath("label"), u.Label, runtime.TextLength)...)
	allErrs = append(allErrs, runtime.ValidateOptionalText(field.NewPath("location"), u.Location, runtime.TextLength)...)
	return allErrs
}

type Option func(*Manager)

// WithDiskPath selects the mount reported by DiskUsage. It defaults to
// the store root.
func WithDiskPath(path string) Option {
	return func(m *Manager) {
		m.diskPath = path
	}
}

type Manager struct {
	root     string
	diskPath string
	client   *storage.FsClient

	mu       sync.RWMutex
	unitMeta *UnitMeta
}

func NewManager(root string, opts ...Option) *Manager {
	if len(root) == 0 {
		root = storage.DefaultStorePath()
	}
	m := &Manager{
		root:     root,
		diskPath: root,
		unitMeta: &UnitMeta{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Init loads the unit identity, creating it on first start.
func (m *Manager) Init() error {
	client, err := storage.NewFsClient(m.root, storage.StoreGroupUnit)
	if err != nil {
		return err
	}
	m.client = client

	m.mu.Lock()
	defer m.mu.Unlock()
	gd, err := client.Get(unitKey)
	if err != nil {
		if !os.IsNotExist(err) {
			return errors.Wrap(err, "read unit information")
		}
		m.unitMeta = &UnitMeta{ObjectMeta: runtime.NewObjectMeta(unitName)}
		klog.V(3).InfoS("Unit information not exist, been created automatically", "unitId", m.unitMeta.ID)
		if _, err := client.Create(unitKey, m.unitMeta); err != nil {
			return errors.Wrap(err, "create unit information")
		}
		return nil
	}
	meta := &UnitMeta{}
	if err = json.NewDecoder(bytes.NewReader(gd.([]byte))).Decode(meta); err != nil {
		return errors.Wrap(err, "unmarshal unit information")
	}
	m.unitMeta = meta
	return nil
}

func (m *Manager) GetUnitMeta() *UnitMeta {
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta := *m.unitMeta
	return &meta
}

// UpdateUnitMeta replaces the mutable fields when version matches the
// stored one. The identity fields are never changed.
func (m *Manager) UpdateUnitMeta(version string, update *UnitMeta) (*UnitMeta, error) {
	if errs := ValidateUnitMeta(update); len(errs) != 0 {
		return nil, errors.Wrap(ErrInvalidUnitMeta, errs.ToAggregate().Error())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	next := *m.unitMeta
	next.Label = update.Label
	next.Location = update.Location
	next.ModTime = time.Now()
	if _, err := m.client.Update(unitKey, version, &next); err != nil {
		return nil, err
	}
	m.unitMeta = &next
	ret := next
	return &ret, nil
}

func (m *Manager) CpuUsage(ctx context.Context) (*CpuUsageInfo, error) {
	cores, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return nil, err
	}
	percents, err := cpu.PercentWithContext(ctx, cpuSampleWindow, false)
	if err != nil {
		return nil, err
	}
	info := &CpuUsageInfo{Cores: cores}
	if len(percents) > 0 {
		info.UsedPercent = percents[0]
	}
	return info, nil
}

func (m *Manager) MemUsage(ctx context.Context) (*MemUsageInfo, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return &MemUsageInfo{
		Total:       vm.Total,
		Used:        vm.Used,
		UsedPercent: vm.UsedPercent,
	}, nil
}

func (m *Manager) DiskUsage(ctx context.Context) (*DiskUsageInfo, error) {
	usage, err := disk.UsageWithContext(ctx, m.diskPath)
	if err != nil {
		return nil, err
	}
	return &DiskUsageInfo{
		Path:        usage.Path,
		Total:       usage.Total,
		Used:        usage.Used,
		UsedPercent: usage.UsedPercent,
	}, nil
}
