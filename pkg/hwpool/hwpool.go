// Package hwpool implements the hardware resource pool: a cpuset paired with
// the devices whose affinity falls inside it. It is the unit the splitting
// engine partitions and the RMI layer hands out as a scope's resources.
package hwpool

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/openhpc/quovadis-go/pkg/bitmap"
	logger "github.com/openhpc/quovadis-go/pkg/log"
	"github.com/openhpc/quovadis-go/pkg/sysfs"
	"github.com/openhpc/quovadis-go/pkg/wire"
)

var log = logger.Get("hwpool")

// supportedDeviceTypes lists the device types the pool knows how to populate
// from an oracle. Only GPU is discovered today; adding a type here is the
// only change needed to start tracking it.
var supportedDeviceTypes = []sysfs.HWObjType{sysfs.GPU}

// Pool owns one cpuset and the devices affine to it, keyed by device type —
// a multimap in spirit, modeled as a map of slices since Go has no builtin
// multimap.
type Pool struct {
	cpuset bitmap.Bitmap
	devs   map[sysfs.HWObjType][]sysfs.DeviceDescriptor
}

// Initialize builds a pool from the given cpuset, populating it with every
// device the oracle reports as affine to that cpuset. The cpuset is cloned
// so the pool owns it independent of the caller's copy.
func Initialize(oracle *sysfs.Oracle, cs bitmap.Bitmap) (*Pool, error) {
	p := &Pool{
		cpuset: cs.Clone(),
		devs:   make(map[sysfs.HWObjType][]sysfs.DeviceDescriptor),
	}
	if err := p.addDevicesWithAffinity(oracle); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pool) addDevicesWithAffinity(oracle *sysfs.Oracle) error {
	for _, devt := range supportedDeviceTypes {
		devs, err := oracle.GetDevicesInCpuset(devt, p.cpuset)
		if err != nil {
			return errors.Wrapf(err, "hwpool: failed to get %s devices in cpuset", devt)
		}
		for _, d := range devs {
			if err := p.AddDevice(d); err != nil {
				return err
			}
		}
	}
	return nil
}

// Cpuset returns a clone of the pool's cpuset; callers cannot mutate the
// pool through it.
func (p *Pool) Cpuset() bitmap.Bitmap {
	return p.cpuset.Clone()
}

// Devices returns a copy of the pool's device multimap, safe for the caller
// to range over without racing a concurrent AddDevice/ReleaseDevices.
func (p *Pool) Devices() map[sysfs.HWObjType][]sysfs.DeviceDescriptor {
	out := make(map[sysfs.HWObjType][]sysfs.DeviceDescriptor, len(p.devs))
	for t, ds := range p.devs {
		cp := make([]sysfs.DeviceDescriptor, len(ds))
		copy(cp, ds)
		out[t] = cp
	}
	return out
}

// NObjects returns the number of objects of type t in the pool: for host
// resource types, the count of topology objects contained in the pool's
// cpuset; for device types, the multimap count.
func (p *Pool) NObjects(oracle *sysfs.Oracle, t sysfs.HWObjType) (int, error) {
	if sysfs.IsHostResource(t) {
		return oracle.NObjsInCpuset(t, p.cpuset)
	}
	return len(p.devs[t]), nil
}

// AddDevice inserts dev into the pool's device multimap. dev's affinity must
// be a subset of the pool's cpuset and its type must be one this pool knows
// how to track; violating either indicates the caller built dev against a
// different cpuset than this pool's, an internal invariant failure.
func (p *Pool) AddDevice(dev sysfs.DeviceDescriptor) error {
	if !dev.Affinity.IsSubsetOf(p.cpuset) {
		return errors.Errorf(
			"hwpool: device %s affinity %s is not a subset of pool cpuset %s",
			dev.UUID, dev.Affinity, p.cpuset,
		)
	}
	if !isSupportedDeviceType(dev.Type) {
		return errors.Errorf("hwpool: device %s has unsupported type %s", dev.UUID, dev.Type)
	}
	p.devs[dev.Type] = append(p.devs[dev.Type], dev)
	return nil
}

func isSupportedDeviceType(t sysfs.HWObjType) bool {
	for _, s := range supportedDeviceTypes {
		if s == t {
			return true
		}
	}
	return false
}

// ReleaseDevices empties the device multimap, retaining only the cpuset.
// The splitting engine calls this between its mapping pass (which needs
// device affinities) and the pass that hands the child pools their final,
// re-discovered device sets.
func (p *Pool) ReleaseDevices() error {
	log.Debug("releasing devices from pool %s", p.cpuset.Short())
	p.devs = make(map[sysfs.HWObjType][]sysfs.DeviceDescriptor)
	return nil
}

// Pack serializes the pool as its cpuset string followed by a count-prefixed
// vector of devices. Neither the pool nor any device carries a byte-length
// prefix of its own: each device is written field by field, so Unpack has
// to read every field to reach the next device.
func (p *Pool) Pack(b *wire.Buffer) {
	b.WriteString(p.cpuset.String())

	types := make([]sysfs.HWObjType, 0, len(p.devs))
	for t := range p.devs {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	n := 0
	for _, t := range types {
		n += len(p.devs[t])
	}
	b.WriteVectorLen(n)
	for _, t := range types {
		for _, d := range p.devs[t] {
			packDevice(b, d)
		}
	}
}

// Unpack is Pack's inverse.
func Unpack(b *wire.Buffer) (*Pool, error) {
	csStr, err := b.ReadString()
	if err != nil {
		return nil, errors.Wrap(err, "hwpool: failed to unpack cpuset")
	}
	cs, err := bitmap.Parse(csStr)
	if err != nil {
		return nil, errors.Wrap(err, "hwpool: failed to parse cpuset")
	}

	n, err := b.ReadVectorLen()
	if err != nil {
		return nil, errors.Wrap(err, "hwpool: failed to unpack device count")
	}

	p := &Pool{cpuset: cs, devs: make(map[sysfs.HWObjType][]sysfs.DeviceDescriptor)}
	for i := 0; i < n; i++ {
		d, err := unpackDevice(b)
		if err != nil {
			return nil, errors.Wrapf(err, "hwpool: failed to unpack device %d", i)
		}
		p.devs[d.Type] = append(p.devs[d.Type], d)
	}
	return p, nil
}

func packDevice(b *wire.Buffer, d sysfs.DeviceDescriptor) {
	b.WriteInt32(int32(d.Type))
	b.WriteString(d.Hints)
	b.WriteString(d.Affinity.String())
	b.WriteInt32(int32(d.Ordinal))
	b.WriteString(d.VendorID)
	b.WriteString(d.SMI)
	b.WriteString(d.Name)
	b.WriteString(d.PCIBusID)
	b.WriteString(d.UUID)
}

func unpackDevice(b *wire.Buffer) (sysfs.DeviceDescriptor, error) {
	typ, err := b.ReadInt32()
	if err != nil {
		return sysfs.DeviceDescriptor{}, err
	}
	hints, err := b.ReadString()
	if err != nil {
		return sysfs.DeviceDescriptor{}, err
	}
	affStr, err := b.ReadString()
	if err != nil {
		return sysfs.DeviceDescriptor{}, err
	}
	aff, err := bitmap.Parse(affStr)
	if err != nil {
		return sysfs.DeviceDescriptor{}, err
	}
	ordinal, err := b.ReadInt32()
	if err != nil {
		return sysfs.DeviceDescriptor{}, err
	}
	vendor, err := b.ReadString()
	if err != nil {
		return sysfs.DeviceDescriptor{}, err
	}
	smi, err := b.ReadString()
	if err != nil {
		return sysfs.DeviceDescriptor{}, err
	}
	name, err := b.ReadString()
	if err != nil {
		return sysfs.DeviceDescriptor{}, err
	}
	pci, err := b.ReadString()
	if err != nil {
		return sysfs.DeviceDescriptor{}, err
	}
	uuid, err := b.ReadString()
	if err != nil {
		return sysfs.DeviceDescriptor{}, err
	}
	return sysfs.DeviceDescriptor{
		Type:     sysfs.HWObjType(typ),
		Hints:    hints,
		Affinity: aff,
		Ordinal:  int(ordinal),
		VendorID: vendor,
		SMI:      smi,
		Name:     name,
		PCIBusID: pci,
		UUID:     uuid,
	}, nil
}
