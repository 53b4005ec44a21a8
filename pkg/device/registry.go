package device

import (
	"fmt"
	"time"

	"github.com/juju/mgo/v3/bson"
	"golang.org/x/sync/errgroup"

	"github.com/robertobru/netcl/pkg/model"
	"github.com/robertobru/netcl/pkg/store"
	"github.com/robertobru/netcl/pkg/util"
)

// AdapterOptions carries the shared knobs the family adapters read.
type AdapterOptions struct {
	SkipTLSVerify bool
}

// adapterConstructor builds the family driver for a device. The table is
// closed: no runtime discovery.
type adapterConstructor func(d *Device, opts AdapterOptions) Driver

var adapterTable = map[model.Family]adapterConstructor{
	model.FamilyComware:  newComwareDriver,
	model.FamilySonic:    newSonicDriver,
	model.FamilyMellanox: newMellanoxDriver,
	model.FamilyRouterOS: newRouterOSDriver,
	model.FamilyPfSense:  func(d *Device, opts AdapterOptions) Driver { return newPfSenseDriver(d, opts) },
}

// Registry owns the live set of managed devices and their lifecycle.
type Registry struct {
	db   *store.DB
	opts AdapterOptions

	devices map[string]*Device
}

// NewRegistry creates an empty registry backed by the given store. A nil
// store keeps devices in memory only (used by tests).
func NewRegistry(db *store.DB, opts AdapterOptions) *Registry {
	return &Registry{
		db:      db,
		opts:    opts,
		devices: make(map[string]*Device),
	}
}

// build instantiates the Device plus its family driver.
func (r *Registry) build(data model.DeviceData) (*Device, error) {
	ctor, ok := adapterTable[data.Family]
	if !ok {
		return nil, fmt.Errorf("%w: device family %q not supported", util.ErrPreconditionFailed, data.Family)
	}
	dev := &Device{DeviceData: data, db: r.db}
	dev.driver = ctor(dev, r.opts)
	return dev, nil
}

// Get returns a live device by name.
func (r *Registry) Get(name string) *Device {
	return r.devices[name]
}

// All returns the live devices.
func (r *Registry) All() []*Device {
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out
}

// Switches returns the live devices that are not the firewall.
func (r *Registry) Switches() []*Device {
	var out []*Device
	for _, d := range r.devices {
		if !d.IsFirewall() {
			out = append(out, d)
		}
	}
	return out
}

// Firewall returns the firewall device, or nil.
func (r *Registry) Firewall() *Device {
	for _, d := range r.devices {
		if d.IsFirewall() {
			return d
		}
	}
	return nil
}

// Create onboards a new device: instantiate the adapter by family tag,
// perform the initial full read, classify failures into the lifecycle
// state, persist, and add to the live set.
func (r *Registry) Create(info model.DeviceInfo) (*Device, error) {
	if _, exists := r.devices[info.Name]; exists {
		return nil, fmt.Errorf("%w: device %q already onboarded", util.ErrAlreadyExists, info.Name)
	}

	dev, err := r.build(model.DeviceData{DeviceInfo: info, State: model.StateInit})
	if err != nil {
		return nil, err
	}

	if err := dev.RetrieveInfo(); err != nil {
		dev.ApplyError(err)
		util.WithDevice(info.Name).Errorf("initial read failed: %v", err)
	} else {
		dev.State = model.StateReady
	}
	if err := dev.Persist(); err != nil {
		return nil, err
	}

	r.devices[dev.Name] = dev
	return dev, nil
}

// FromStore reloads a device document, marks it reinit, and returns a
// refresh function to be run in the caller's task group. The device joins
// the live set immediately so the fabric model sees it while the refresh
// runs.
func (r *Registry) FromStore(name, collection string) (*Device, func() error, error) {
	var data model.DeviceData
	if err := r.db.FindOne(collection, bson.M{"name": name}, &data); err != nil {
		if store.IsNotFound(err) {
			return nil, nil, fmt.Errorf("%w: device %q not in store", util.ErrNotFound, name)
		}
		return nil, nil, err
	}

	dev, err := r.build(data)
	if err != nil {
		return nil, nil, err
	}
	dev.State = model.StateReinit
	if err := dev.Persist(); err != nil {
		return nil, nil, err
	}
	r.devices[dev.Name] = dev

	refresh := func() error {
		if err := dev.RetrieveInfo(); err != nil {
			dev.ApplyError(err)
			dev.Persist()
			util.WithDevice(dev.Name).Errorf("background refresh failed: %v", err)
			return nil
		}
		dev.State = model.StateReady
		if err := dev.Persist(); err != nil {
			return err
		}
		util.WithDevice(dev.Name).Info("device refreshed from live state")
		return nil
	}
	return dev, refresh, nil
}

// LoadAll re-hydrates every stored switch and the firewall, running one
// refresh task per device and joining them before returning.
func (r *Registry) LoadAll() error {
	var group errgroup.Group

	var switches []model.DeviceData
	if err := r.db.Find(store.ColSwitches, bson.M{}, &switches); err != nil {
		return err
	}
	for _, sw := range switches {
		_, refresh, err := r.FromStore(sw.Name, store.ColSwitches)
		if err != nil {
			return err
		}
		group.Go(refresh)
	}

	var firewalls []model.DeviceData
	if err := r.db.Find(store.ColFirewall, bson.M{}, &firewalls); err != nil {
		return err
	}
	for _, fw := range firewalls {
		_, refresh, err := r.FromStore(fw.Name, store.ColFirewall)
		if err != nil {
			return err
		}
		group.Go(refresh)
	}

	return group.Wait()
}

// AllReady reports whether every device has left the reinit/init states.
func (r *Registry) AllReady() bool {
	for _, d := range r.devices {
		if d.State == model.StateReinit || d.State == model.StateInit {
			return false
		}
	}
	return true
}

// Delete removes the device from the live set and from the store.
func (r *Registry) Delete(name string) error {
	dev, ok := r.devices[name]
	if !ok {
		return fmt.Errorf("%w: device %q not onboarded", util.ErrNotFound, name)
	}
	if r.db != nil {
		if err := r.db.Delete(dev.collection(), bson.M{"name": name}); err != nil {
			return err
		}
	}
	delete(r.devices, name)
	return nil
}

// Insert adds an externally built device to the live set; tests use it to
// inject fake drivers.
func (r *Registry) Insert(dev *Device) {
	r.devices[dev.Name] = dev
}

// NewWithDriver builds a Device around an explicit driver, bypassing the
// family table; tests use it to pair the base layer with fakes.
func NewWithDriver(data model.DeviceData, driver Driver, db *store.DB) *Device {
	return &Device{DeviceData: data, driver: driver, db: db}
}

// WaitReady polls until every device left reinit, up to the given number
// of 30-second rounds.
func (r *Registry) WaitReady(rounds int) error {
	for i := 0; i < rounds; i++ {
		if r.AllReady() {
			return nil
		}
		util.Logger.Info("devices are not yet ready, awaiting 30 seconds")
		time.Sleep(30 * time.Second)
	}
	if !r.AllReady() {
		return fmt.Errorf("devices not ready, startup timeout expired")
	}
	return nil
}
