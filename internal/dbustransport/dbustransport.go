// Package dbustransport exposes a D-Bus object tree mirroring the chassis
// buttons and LEDs, claiming the well-known name org.ukvm.Control. godbus
// has no example method-table export to imitate elsewhere in this codebase,
// so the object tree below is built directly against the package's
// documented conn.Export/prop.Export/introspect.Node surface.
package dbustransport

import (
	"fmt"
	"net"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
	"github.com/rs/zerolog/log"

	"github.com/katyo/ukvm/internal/bindaddr"
	"github.com/katyo/ukvm/internal/hub"
	"github.com/katyo/ukvm/internal/ids"
	"github.com/katyo/ukvm/internal/latest"
	"github.com/katyo/ukvm/internal/shutdown"
)

const busName = "org.ukvm.Control"

// Transport owns one D-Bus connection exporting every configured button and
// LED as its own object.
type Transport struct {
	conn   *dbus.Conn
	weak   hub.Weak
	permit shutdown.Permit
	stop   chan struct{}

	wg sync.WaitGroup
}

// New connects to addr, claims the well-known name, and exports the object
// tree for every peripheral present in the Hub weak currently resolves to.
func New(addr bindaddr.DBusAddr, weak hub.Weak, permit shutdown.Permit) (*Transport, error) {
	conn, err := connect(addr)
	if err != nil {
		return nil, err
	}

	reply, err := conn.RequestName(busName, dbus.NameFlagDoNotQueue)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("dbustransport: request name %s: %w", busName, err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		_ = conn.Close()
		return nil, fmt.Errorf("dbustransport: name %s already owned on this bus", busName)
	}

	t := &Transport{conn: conn, weak: weak, permit: permit, stop: make(chan struct{})}

	h, ok := weak.Upgrade()
	if !ok {
		_ = conn.Close()
		return nil, fmt.Errorf("dbustransport: hub already closed")
	}

	if err := t.exportButtons(h); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := t.exportLeds(h); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return t, nil
}

func connect(addr bindaddr.DBusAddr) (*dbus.Conn, error) {
	switch {
	case addr.Bus != nil && *addr.Bus == bindaddr.DBusSystem:
		return dbus.ConnectSystemBus()
	case addr.Bus != nil && *addr.Bus == bindaddr.DBusSession:
		return dbus.ConnectSessionBus()
	case addr.Addr != "":
		host, port, err := net.SplitHostPort(addr.Addr)
		if err != nil {
			return nil, fmt.Errorf("dbustransport: invalid tcp address %q: %w", addr.Addr, err)
		}
		return dbus.Connect(fmt.Sprintf("tcp:host=%s,port=%s", host, port))
	default:
		return dbus.Connect(fmt.Sprintf("unix:path=%s", addr.Path))
	}
}

// Run blocks until the permit signals shutdown, then releases the bus
// connection and every notifier goroutine.
func (t *Transport) Run() {
	<-t.permit.Stop()
	close(t.stop)
	t.wg.Wait()
	_ = t.conn.Close()
	t.permit.Done()
}

// containerNode exports an Introspectable-only object listing id as a
// child, so a D-Bus client discovers the peripheral set by introspecting
// /org/ukvm/button or /org/ukvm/led.
func (t *Transport) containerNode(path dbus.ObjectPath, children []string) error {
	node := &introspect.Node{Name: string(path)}
	for _, c := range children {
		node.Children = append(node.Children, introspect.Node{Name: c})
	}
	return t.conn.Export(introspect.NewIntrospectable(node), path, "org.freedesktop.DBus.Introspectable")
}

func (t *Transport) exportButtons(h *hub.Hub) error {
	childIDs := make([]string, 0, len(h.Buttons()))
	for id := range h.Buttons() {
		childIDs = append(childIDs, id.String())
	}
	if err := t.containerNode("/org/ukvm/button", childIDs); err != nil {
		return err
	}

	for id, b := range h.Buttons() {
		path := dbus.ObjectPath(fmt.Sprintf("/org/ukvm/button/%s", id))

		props := map[string]map[string]*prop.Prop{
			"org.ukvm.Button": {
				"Id":    {Value: id.String(), Writable: false, Emit: prop.EmitFalse},
				"State": {
					Value:    b.State(),
					Writable: true,
					Emit:     prop.EmitTrue,
					Callback: t.setButtonState(id),
				},
			},
		}

		exported, err := prop.Export(t.conn, path, props)
		if err != nil {
			return fmt.Errorf("dbustransport: export button %s: %w", id, err)
		}

		if err := t.exportNode(path, "org.ukvm.Button", exported); err != nil {
			return err
		}

		t.wg.Add(1)
		go t.notify(path, "org.ukvm.Button", b.Watch(), exported)
	}

	return nil
}

func (t *Transport) exportLeds(h *hub.Hub) error {
	childIDs := make([]string, 0, len(h.Leds()))
	for id := range h.Leds() {
		childIDs = append(childIDs, id.String())
	}
	if err := t.containerNode("/org/ukvm/led", childIDs); err != nil {
		return err
	}

	for id, l := range h.Leds() {
		path := dbus.ObjectPath(fmt.Sprintf("/org/ukvm/led/%s", id))

		props := map[string]map[string]*prop.Prop{
			"org.ukvm.Led": {
				"Id":    {Value: id.String(), Writable: false, Emit: prop.EmitFalse},
				"State": {Value: l.State(), Writable: false, Emit: prop.EmitTrue},
			},
		}

		exported, err := prop.Export(t.conn, path, props)
		if err != nil {
			return fmt.Errorf("dbustransport: export led %s: %w", id, err)
		}

		if err := t.exportNode(path, "org.ukvm.Led", exported); err != nil {
			return err
		}

		t.wg.Add(1)
		go t.notify(path, "org.ukvm.Led", l.Watch(), exported)
	}

	return nil
}

func (t *Transport) exportNode(path dbus.ObjectPath, iface string, exported *prop.Properties) error {
	node := &introspect.Node{
		Name: string(path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name:       iface,
				Properties: exported.Introspection(iface),
				Signals: []introspect.Signal{{
					Name: "StateChanged",
					Args: []introspect.Arg{{Name: "state", Type: "b", Direction: "out"}},
				}},
			},
		},
	}
	return t.conn.Export(introspect.NewIntrospectable(node), path, "org.freedesktop.DBus.Introspectable")
}

// setButtonState is the Properties.Set callback for a button's State
// property. It re-resolves the Hub on every call rather than closing over a
// *button.Button, so a write arriving after shutdown fails cleanly instead
// of reaching into torn-down hardware.
func (t *Transport) setButtonState(id ids.ButtonId) func(*prop.Change) *dbus.Error {
	return func(c *prop.Change) *dbus.Error {
		state, ok := c.Value.(bool)
		if !ok {
			return dbus.MakeFailedError(fmt.Errorf("dbustransport: State must be a boolean"))
		}
		h, ok := t.weak.Upgrade()
		if !ok {
			return dbus.MakeFailedError(fmt.Errorf("dbustransport: hub is shutting down"))
		}
		b := h.Button(id)
		if b == nil {
			return dbus.MakeFailedError(fmt.Errorf("dbustransport: unknown button %s", id))
		}
		b.SetState(state)
		return nil
	}
}

// notify forwards every transition observed on sub as both a standard
// PropertiesChanged (via exported.SetMust) and an explicit StateChanged
// signal for clients that only watch signals.
func (t *Transport) notify(path dbus.ObjectPath, iface string, sub *latest.Subscription[bool], exported *prop.Properties) {
	defer t.wg.Done()
	for {
		state, ok := sub.Next(t.stop)
		if !ok {
			return
		}
		exported.SetMust(iface, "State", state)
		_ = t.conn.Emit(path, iface+".StateChanged", state)
	}
}
