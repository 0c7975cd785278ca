// Package bindaddr implements the `<proto>[+<subproto>]://<resource>` bind
// URI grammar and its TOML-table twin, shared by the CLI `--bind` flag and
// the `[[binds]]` config entries.
package bindaddr

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// DBusBus names a well-known bus to connect to.
type DBusBus int

const (
	DBusSystem DBusBus = iota
	DBusSession
)

// DBusAddr is where a DBusTransport connects.
type DBusAddr struct {
	Bus  *DBusBus // set for system/session binds
	Addr string   // set for tcp binds (host:port)
	Path string    // set for unix binds
}

func (a DBusAddr) String() string {
	switch {
	case a.Bus != nil && *a.Bus == DBusSystem:
		return "dbus://system"
	case a.Bus != nil && *a.Bus == DBusSession:
		return "dbus://session"
	case a.Addr != "":
		return "dbus+tcp://" + a.Addr
	default:
		return "dbus+unix://" + a.Path
	}
}

// TLSConfig carries the certificate material for an optionally-TLS HTTP bind.
type TLSConfig struct {
	Cert       string `toml:"cert"`
	Key        string `toml:"key"`
	ClientAuth string `toml:"client_auth,omitempty"` // path to CA bundle; empty = no client auth
}

// HTTPAddr is where a WsTransport listens.
type HTTPAddr struct {
	Addr string // host:port, set for tcp binds
	Path string // set for unix binds
	TLS  *TLSConfig
}

func (a HTTPAddr) String() string {
	if a.Path != "" {
		return "http+unix://" + a.Path
	}
	return "http://" + a.Addr
}

// Kind discriminates a Bind.
type Kind int

const (
	KindHTTP Kind = iota
	KindDBus
)

// Bind is a single transport binding: a protocol + endpoint pair.
type Bind struct {
	Kind Kind
	HTTP HTTPAddr
	DBus DBusAddr
}

func (b Bind) String() string {
	switch b.Kind {
	case KindHTTP:
		return b.HTTP.String()
	default:
		return b.DBus.String()
	}
}

const (
	defaultHTTPPort = 8080
	defaultDBusPort = 6667
)

// Parse parses a bind URI of the form `<proto>[+<subproto>]://<resource>`.
func Parse(uri string) (Bind, error) {
	proto, rest, ok := strings.Cut(uri, "://")
	if !ok {
		return Bind{}, fmt.Errorf("invalid binding URI %q: expected <protocol>://<resource>", uri)
	}

	base, sub, hasSub := strings.Cut(proto, "+")

	switch base {
	case "http":
		if hasSub {
			if sub != "unix" {
				return Bind{}, fmt.Errorf("unknown http sub-protocol: %q", sub)
			}
			return Bind{Kind: KindHTTP, HTTP: HTTPAddr{Path: rest}}, nil
		}
		addr, err := hostPort(rest, defaultHTTPPort)
		if err != nil {
			return Bind{}, err
		}
		return Bind{Kind: KindHTTP, HTTP: HTTPAddr{Addr: addr}}, nil

	case "dbus":
		if hasSub {
			switch sub {
			case "unix":
				return Bind{Kind: KindDBus, DBus: DBusAddr{Path: rest}}, nil
			case "tcp":
				addr, err := hostPort(rest, defaultDBusPort)
				if err != nil {
					return Bind{}, err
				}
				return Bind{Kind: KindDBus, DBus: DBusAddr{Addr: addr}}, nil
			default:
				return Bind{}, fmt.Errorf("unknown dbus sub-protocol: %q", sub)
			}
		}
		bus, err := parseBus(rest)
		if err != nil {
			return Bind{}, err
		}
		return Bind{Kind: KindDBus, DBus: DBusAddr{Bus: &bus}}, nil

	default:
		return Bind{}, fmt.Errorf("unknown protocol: %q", base)
	}
}

func parseBus(name string) (DBusBus, error) {
	switch name {
	case "system":
		return DBusSystem, nil
	case "session", "user":
		return DBusSession, nil
	default:
		return 0, fmt.Errorf("unknown dbus bus: %q", name)
	}
}

func hostPort(s string, defaultPort int) (string, error) {
	host, portStr, ok := strings.Cut(s, ":")
	if !ok {
		return net.JoinHostPort(s, strconv.Itoa(defaultPort)), nil
	}
	if _, err := strconv.ParseUint(portStr, 10, 16); err != nil {
		return "", fmt.Errorf("invalid port in %q: %w", s, err)
	}
	return net.JoinHostPort(host, portStr), nil
}

// UnmarshalTOML lets Bind appear directly as a `[[binds]]` table entry, e.g.
//
//	[[binds]]
//	proto = "http"
//	addr = "0.0.0.0:8080"
//
//	[[binds]]
//	proto = "dbus"
//	bus = "system"
func (b *Bind) UnmarshalTOML(data any) error {
	m, ok := data.(map[string]any)
	if !ok {
		return fmt.Errorf("bind entry must be a table")
	}
	proto, _ := m["proto"].(string)
	switch proto {
	case "http":
		b.Kind = KindHTTP
		if addr, ok := m["addr"].(string); ok {
			b.HTTP.Addr = addr
		}
		if path, ok := m["path"].(string); ok {
			b.HTTP.Path = path
		}
		if tlsTable, ok := m["tls"].(map[string]any); ok {
			tls := &TLSConfig{}
			tls.Cert, _ = tlsTable["cert"].(string)
			tls.Key, _ = tlsTable["key"].(string)
			tls.ClientAuth, _ = tlsTable["client_auth"].(string)
			b.HTTP.TLS = tls
		}
		return nil
	case "dbus":
		b.Kind = KindDBus
		if bus, ok := m["bus"].(string); ok {
			parsed, err := parseBus(bus)
			if err != nil {
				return err
			}
			b.DBus.Bus = &parsed
			return nil
		}
		if addr, ok := m["addr"].(string); ok {
			b.DBus.Addr = addr
			return nil
		}
		if path, ok := m["path"].(string); ok {
			b.DBus.Path = path
			return nil
		}
		return fmt.Errorf("dbus bind entry needs bus, addr, or path")
	default:
		return fmt.Errorf("unknown bind proto: %q", proto)
	}
}
