package main

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	busName    = "org.freedesktop.UPower.PowerProfiles"
	objectPath = dbus.ObjectPath("/net/hadess/PowerProfiles")
	ifaceName  = "net.hadess.PowerProfiles"
	propsIface = "org.freedesktop.DBus.Properties"
)

// client is a thin wrapper around the system bus object the daemon
// exports, translating property maps and method replies into the shapes
// the CLI subcommands print (spec §6).
type client struct {
	conn *dbus.Conn
	obj  dbus.BusObject
}

func newClient() (*client, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to system bus: %w", err)
	}

	return &client{conn: conn, obj: conn.Object(busName, objectPath)}, nil
}

func (c *client) Close() {
	c.conn.Close()
}

// profileEntry and holdEntry mirror the Profiles and ActiveProfileHolds
// dict-of-variant wire shapes (spec §6).
type profileEntry struct {
	Profile        string
	Driver         string
	CpuDriver      string
	PlatformDriver string
}

type holdEntry struct {
	Cookie        uint32
	Profile       string
	Reason        string
	ApplicationID string
}

type snapshotView struct {
	ActiveProfile       string
	Profiles            []profileEntry
	PerformanceDegraded string
	Holds               []holdEntry
}

// Snapshot fetches every property in one GetAll round trip.
func (c *client) Snapshot() (*snapshotView, error) {
	var props map[string]dbus.Variant

	if err := c.obj.Call(propsIface+".GetAll", 0, ifaceName).Store(&props); err != nil {
		return nil, fmt.Errorf("failed to read properties: %w", err)
	}

	snap := &snapshotView{}

	if v, ok := props["ActiveProfile"]; ok {
		snap.ActiveProfile, _ = v.Value().(string)
	}

	if v, ok := props["PerformanceDegraded"]; ok {
		snap.PerformanceDegraded, _ = v.Value().(string)
	}

	if v, ok := props["Profiles"]; ok {
		if raw, ok := v.Value().([]map[string]dbus.Variant); ok {
			for _, m := range raw {
				entry := profileEntry{}
				if p, ok := m["Profile"].Value().(string); ok {
					entry.Profile = p
				}

				if d, ok := m["Driver"].Value().(string); ok {
					entry.Driver = d
				}

				if d, ok := m["CpuDriver"]; ok {
					entry.CpuDriver, _ = d.Value().(string)
				}

				if d, ok := m["PlatformDriver"]; ok {
					entry.PlatformDriver, _ = d.Value().(string)
				}

				snap.Profiles = append(snap.Profiles, entry)
			}
		}
	}

	if v, ok := props["ActiveProfileHolds"]; ok {
		if raw, ok := v.Value().([]map[string]dbus.Variant); ok {
			for _, m := range raw {
				entry := holdEntry{}
				if p, ok := m["Profile"].Value().(string); ok {
					entry.Profile = p
				}

				if r, ok := m["Reason"].Value().(string); ok {
					entry.Reason = r
				}

				if a, ok := m["ApplicationId"].Value().(string); ok {
					entry.ApplicationID = a
				}

				snap.Holds = append(snap.Holds, entry)
			}
		}
	}

	return snap, nil
}

// SetActiveProfile writes ActiveProfile via org.freedesktop.DBus.Properties.Set.
func (c *client) SetActiveProfile(p string) error {
	call := c.obj.Call(propsIface+".Set", 0, ifaceName, "ActiveProfile", dbus.MakeVariant(p))
	if call.Err != nil {
		return fmt.Errorf("failed to set active profile: %w", call.Err)
	}

	return nil
}

// HoldProfile calls the HoldProfile method and returns the cookie.
func (c *client) HoldProfile(profileName, reason, applicationID string) (uint32, error) {
	var cookie uint32

	call := c.obj.Call(ifaceName+".HoldProfile", 0, profileName, reason, applicationID)
	if call.Err != nil {
		return 0, call.Err
	}

	if err := call.Store(&cookie); err != nil {
		return 0, err
	}

	return cookie, nil
}

// ReleaseProfile calls the ReleaseProfile method.
func (c *client) ReleaseProfile(cookie uint32) error {
	call := c.obj.Call(ifaceName+".ReleaseProfile", 0, cookie)

	return call.Err
}
