// Package config parses the hub's command-line surface (spec §6),
// grounded in the original's util/sysargs.py: server/daemon mode,
// communication endpoint specs, and search paths for entities/images/
// localization. Reimplemented with spf13/pflag instead of a hand-rolled
// argv scan.
package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"
)

const (
	DefaultPort          = 49001
	DefaultMulticastHost = "227.1.1.10"
	DefaultBroadcastHost = "255.255.255.255"
	DefaultBindHost      = "0.0.0.0"
)

// Endpoint is one parsed --communication entry: "mode[@host][:port]"
// (spec §6).
type Endpoint struct {
	Mode string
	Host string
	Port int
}

// Config is the fully parsed CLI surface.
type Config struct {
	Server bool

	DBPath string

	Communication []Endpoint

	EntitiesSearchPath []string
	ImagesSearchPath   []string
	LocSearchPath      []string
	Lang               string

	RadioChannel int
	RadioCEPin   int
	RadioIRQPin  int
	RadioSPIBus  string
}

// Parse builds a Config from argv (excluding the program name), using
// pflag for `--flag=value` / `--flag value` parsing.
func Parse(args []string) (Config, error) {
	fs := pflag.NewFlagSet("intellihomehubd", pflag.ContinueOnError)

	server := fs.Bool("server", false, "run in non-interactive (daemon) mode")
	db := fs.String("db", "intellihome.db", "path to the sqlite database file")
	communication := fs.String("communication", "mcast", "semicolon-separated list of mode[@host][:port] communication endpoints")
	entities := fs.String("entities", "", "semicolon-separated entity plugin search paths")
	images := fs.String("images", "", "semicolon-separated image search paths")
	loc := fs.String("loc", "", "semicolon-separated localization file search paths")
	lang := fs.String("lang", "en", "default localization language code")
	channel := fs.Int("channel", 40, "radio channel number")
	cePin := fs.Int("ce-pin", 25, "GPIO pin number (BCM) driving the radio CE line")
	irqPin := fs.Int("irq-pin", 0, "GPIO pin number (BCM) wired to the radio IRQ line (0: poll instead)")
	spiBus := fs.String("spi-bus", "/dev/spidev0.0", "SPI bus device path for the radio")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	endpoints, err := parseCommunication(*communication)
	if err != nil {
		return Config{}, fmt.Errorf("config: communication: %w", err)
	}

	return Config{
		Server:             *server,
		DBPath:             *db,
		Communication:      endpoints,
		EntitiesSearchPath: splitNonEmpty(*entities),
		ImagesSearchPath:   splitNonEmpty(*images),
		LocSearchPath:      splitNonEmpty(*loc),
		Lang:               *lang,
		RadioChannel:       *channel,
		RadioCEPin:         *cePin,
		RadioIRQPin:        *irqPin,
		RadioSPIBus:        *spiBus,
	}, nil
}

func splitNonEmpty(value string) []string {
	if value == "" {
		return nil
	}
	return strings.Split(value, ";")
}

// parseCommunication parses "mode[@host][:port];mode[@host][:port];..."
// entries (spec §6), applying per-mode defaults. Entries with an unknown
// mode or a non-numeric port are dropped here without an error or a log
// line, so the caller never sees them.
func parseCommunication(raw string) ([]Endpoint, error) {
	var out []Endpoint
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		ep, ok := parseEndpoint(entry)
		if !ok {
			continue // unknown mode or bad port: dropped silently
		}
		out = append(out, ep)
	}
	return out, nil
}

func parseEndpoint(entry string) (Endpoint, bool) {
	var mode, host, portStr string

	if at := strings.Index(entry, "@"); at >= 0 {
		mode = entry[:at]
		rest := entry[at+1:]
		if colon := strings.Index(rest, ":"); colon >= 0 {
			host, portStr = rest[:colon], rest[colon+1:]
		} else {
			host = rest
		}
	} else if colon := strings.Index(entry, ":"); colon >= 0 {
		mode, portStr = entry[:colon], entry[colon+1:]
	} else {
		mode = entry
	}

	mode = strings.ToLower(mode)
	port := DefaultPort
	if portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return Endpoint{}, false
		}
		port = p
	}

	switch mode {
	case "mcast":
		if host == "" {
			host = DefaultMulticastHost
		}
	case "bcast":
		if host == "" {
			host = DefaultBroadcastHost
		}
	case "udp", "tcp":
		if host == "" {
			host = DefaultBindHost
		}
	default:
		return Endpoint{}, false
	}

	return Endpoint{Mode: mode, Host: host, Port: port}, true
}
