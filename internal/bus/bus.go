// Package bus implements the bus facade (spec §4.8): it exports the engine
// as a D-Bus object under both the legacy net.hadess.PowerProfiles name and
// the current org.freedesktop.UPower.PowerProfiles name, translating
// property gets/sets and method calls into authorized engine inputs.
//
// Properties are implemented by hand against org.freedesktop.DBus.Properties
// rather than via godbus's prop helper package: authorization (spec §4.9)
// needs the caller's bus-unique name on every Set, which prop.Change does
// not carry.
package bus

import (
	"fmt"
	"log/slog"

	"github.com/godbus/dbus/v5"

	"github.com/mahendrapaipuri/power-profiles-daemon/internal/apierror"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/authz"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/engine"
	"github.com/mahendrapaipuri/power-profiles-daemon/internal/profile"
)

const (
	objectPath = dbus.ObjectPath("/net/hadess/PowerProfiles")

	legacyName    = "net.hadess.PowerProfiles"
	currentName   = "org.freedesktop.UPower.PowerProfiles"
	ifaceName     = "net.hadess.PowerProfiles"
	propsIface    = "org.freedesktop.DBus.Properties"
	propsChanged  = propsIface + ".PropertiesChanged"
)

// Engine is the subset of *engine.Engine the facade depends on, so tests
// can substitute a fake.
type Engine interface {
	Snapshot() engine.Snapshot
	UserSet(p profile.Profile) error
	HoldProfile(p profile.Profile, reason, applicationID, clientName string) (uint32, error)
	ReleaseProfile(cookie uint32, owner string) error
	ClientVanished(clientName string)
}

// Facade owns the bus connections and the exported object; one connection
// per well-known name, since a single *dbus.Conn can only own one name
// without additional bookkeeping and the teacher's own server bootstrap
// (cmd/*/main.go) likewise keeps one listener per bound address.
type Facade struct {
	logger  *slog.Logger
	eng     Engine
	authz   *authz.Client
	version string

	conns []*dbus.Conn
}

// New connects to the system bus twice (once per well-known name), exports
// the object and properties interface on each connection, and begins
// watching NameOwnerChanged for hold client cleanup (spec §4.5, §9).
func New(logger *slog.Logger, eng Engine, authzClient *authz.Client, version string) (*Facade, error) {
	f := &Facade{logger: logger, eng: eng, authz: authzClient, version: version}

	for _, name := range []string{legacyName, currentName} {
		conn, err := dbus.ConnectSystemBus()
		if err != nil {
			return nil, err
		}

		reply, err := conn.RequestName(name, dbus.NameFlagDoNotQueue)
		if err != nil {
			return nil, err
		}

		if reply != dbus.RequestNameReplyPrimaryOwner {
			return nil, apierror.New(apierror.KindInternal, "bus.request_name", fmt.Errorf("bus name already owned: %s", name))
		}

		m := &methods{f: f}

		if err := conn.Export(m, objectPath, ifaceName); err != nil {
			return nil, err
		}

		if err := conn.Export(m, objectPath, propsIface); err != nil {
			return nil, err
		}

		conn.Signal(nil)

		f.conns = append(f.conns, conn)

		go f.watchNameOwnerChanges(conn)
	}

	return f, nil
}

// methods implements both ifaceName's two methods and org.freedesktop.
// DBus.Properties, so a single Export call handles all the bus surface
// this facade needs.
type methods struct {
	f *Facade
}

func (m *methods) HoldProfile(profileName, reason, applicationID string, sender dbus.Sender) (uint32, *dbus.Error) {
	if err := m.f.authz.CheckHoldProfile(string(sender)); err != nil {
		return 0, dbus.MakeFailedError(err)
	}

	p, perr := profile.Parse(profileName)
	if perr != nil {
		return 0, dbus.MakeFailedError(perr)
	}

	cookie, err := m.f.eng.HoldProfile(p, reason, applicationID, string(sender))
	if err != nil {
		return 0, dbus.MakeFailedError(err)
	}

	m.f.emitChanges()

	return cookie, nil
}

func (m *methods) ReleaseProfile(cookie uint32, sender dbus.Sender) *dbus.Error {
	if err := m.f.eng.ReleaseProfile(cookie, string(sender)); err != nil {
		return dbus.MakeFailedError(err)
	}

	m.f.emitChanges()

	return nil
}

// Get implements org.freedesktop.DBus.Properties.Get. Reads are
// unauthenticated (spec §4.9).
func (m *methods) Get(iface, name string) (dbus.Variant, *dbus.Error) {
	if iface != ifaceName {
		return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown interface %q", iface))
	}

	v, ok := m.f.propertyValue(name, m.f.eng.Snapshot())
	if !ok {
		return dbus.Variant{}, dbus.MakeFailedError(fmt.Errorf("unknown property %q", name))
	}

	return dbus.MakeVariant(v), nil
}

// GetAll implements org.freedesktop.DBus.Properties.GetAll.
func (m *methods) GetAll(iface string) (map[string]dbus.Variant, *dbus.Error) {
	if iface != ifaceName {
		return nil, dbus.MakeFailedError(fmt.Errorf("unknown interface %q", iface))
	}

	snap := m.f.eng.Snapshot()
	out := make(map[string]dbus.Variant, len(propertyNames))

	for _, name := range propertyNames {
		v, _ := m.f.propertyValue(name, snap)
		out[name] = dbus.MakeVariant(v)
	}

	return out, nil
}

// Set implements org.freedesktop.DBus.Properties.Set. Only ActiveProfile is
// writable; every other property is rejected with a generic
// org.freedesktop.DBus.Error.Failed error via dbus.MakeFailedError.
func (m *methods) Set(iface, name string, value dbus.Variant, sender dbus.Sender) *dbus.Error {
	if iface != ifaceName || name != "ActiveProfile" {
		return dbus.MakeFailedError(fmt.Errorf("property %q.%q is not writable", iface, name))
	}

	if err := m.f.authz.CheckSwitchProfile(string(sender)); err != nil {
		return dbus.MakeFailedError(err)
	}

	s, ok := value.Value().(string)
	if !ok {
		return dbus.MakeFailedError(apierror.New(apierror.KindInvalidArgs, "active_profile.set", fmt.Errorf("ActiveProfile must be a string")))
	}

	p, perr := profile.Parse(s)
	if perr != nil {
		return dbus.MakeFailedError(apierror.New(apierror.KindInvalidArgs, "active_profile.set", perr))
	}

	if err := m.f.eng.UserSet(p); err != nil {
		return dbus.MakeFailedError(err)
	}

	m.f.emitChanges()

	return nil
}

var propertyNames = []string{
	"ActiveProfile", "Profiles", "PerformanceDegraded", "PerformanceInhibited",
	"ActiveProfileHolds", "Actions", "Version",
}

func (f *Facade) propertyValue(name string, snap engine.Snapshot) (interface{}, bool) {
	switch name {
	case "ActiveProfile":
		return string(snap.ActiveProfile), true
	case "Profiles":
		return profilesToVariant(snap.Profiles), true
	case "PerformanceDegraded":
		return snap.PerformanceDegraded, true
	case "PerformanceInhibited":
		return snap.PerformanceInhibited, true
	case "ActiveProfileHolds":
		return holdsToVariant(snap.Holds), true
	case "Actions":
		return snap.Actions, true
	case "Version":
		return f.version, true
	default:
		return nil, false
	}
}

// emitChanges publishes the full current property set as a single
// PropertiesChanged signal on every owned bus name. Each call emits; calls
// are not coalesced across a transaction.
func (f *Facade) emitChanges() {
	snap := f.eng.Snapshot()

	changed := map[string]dbus.Variant{}

	for _, name := range propertyNames {
		v, _ := f.propertyValue(name, snap)
		changed[name] = dbus.MakeVariant(v)
	}

	for _, conn := range f.conns {
		_ = conn.Emit(objectPath, propsChanged, ifaceName, changed, []string{})
	}
}

// ProfileReleased implements engine.Notifier: it sends the ProfileReleased
// signal on every owned bus name.
func (f *Facade) ProfileReleased(cookie uint32) {
	for _, conn := range f.conns {
		_ = conn.Emit(objectPath, "net.hadess.PowerProfiles.ProfileReleased", cookie)
	}
}

// PropertyChanged implements engine.Notifier: the engine calls this once
// per changed property name per transaction, and the facade re-publishes
// the full current set on every call. A successful transaction therefore
// produces one PropertiesChanged signal per notified name, plus the one the
// method or Set handler emits after it returns.
func (f *Facade) PropertyChanged(name string) {
	f.emitChanges()
}

// watchNameOwnerChanges is started per-connection at New time rather than
// lazily per spec §9's "subscribe at first hold" recommendation: a single
// long-lived match per connection is simpler than churning match rules,
// and NameOwnerChanged volume on a desktop session bus is negligible.
func (f *Facade) watchNameOwnerChanges(conn *dbus.Conn) {
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface("org.freedesktop.DBus"),
		dbus.WithMatchMember("NameOwnerChanged"),
	); err != nil {
		f.logger.Warn("failed to watch NameOwnerChanged", "err", err)

		return
	}

	ch := make(chan *dbus.Signal, 16)
	conn.Signal(ch)

	for sig := range ch {
		if len(sig.Body) != 3 {
			continue
		}

		name, _ := sig.Body[0].(string)
		newOwner, _ := sig.Body[2].(string)

		if newOwner == "" && name != "" {
			f.eng.ClientVanished(name)
		}
	}
}

func profilesToVariant(entries []engine.ProfileEntry) []map[string]dbus.Variant {
	out := make([]map[string]dbus.Variant, 0, len(entries))

	for _, e := range entries {
		m := map[string]dbus.Variant{
			"Profile": dbus.MakeVariant(string(e.Profile)),
			"Driver":  dbus.MakeVariant(e.Driver),
		}

		if e.Driver != "placeholder" {
			m["CpuDriver"] = dbus.MakeVariant(e.CpuDriver)
			m["PlatformDriver"] = dbus.MakeVariant(e.PlatformDriver)
		}

		out = append(out, m)
	}

	return out
}

func holdsToVariant(holds []engine.HoldEntry) []map[string]dbus.Variant {
	out := make([]map[string]dbus.Variant, 0, len(holds))

	for _, h := range holds {
		out = append(out, map[string]dbus.Variant{
			"Profile":       dbus.MakeVariant(string(h.Profile)),
			"Reason":        dbus.MakeVariant(h.Reason),
			"ApplicationId": dbus.MakeVariant(h.ApplicationID),
		})
	}

	return out
}

// Close releases both bus names and closes both connections.
func (f *Facade) Close() {
	for _, conn := range f.conns {
		conn.Close()
	}
}
