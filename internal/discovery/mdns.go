// ABOUTME: mDNS advertisement and lookup of resonated stream servers
// ABOUTME: Publishes the websocket endpoint and finds other daemons on the LAN
package discovery

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/hashicorp/mdns"

	"github.com/Resonate-Protocol/resonated/internal/logging"
)

// ServiceType is the DNS-SD type advertised by the daemon.
const ServiceType = "_resonated._tcp"

// Config holds discovery configuration
type Config struct {
	ServiceName string
	Port        int
	// Path of the websocket endpoint, published as a TXT record.
	Path string
}

// Manager handles mDNS operations
type Manager struct {
	config Config
	log    *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// ServerInfo describes a discovered server
type ServerInfo struct {
	Name string
	Host string
	Port int
	Path string
}

// NewManager creates a discovery manager
func NewManager(logger *slog.Logger, config Config) *Manager {
	if config.Path == "" {
		config.Path = "/stream"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		config: config,
		log:    logging.Or(logger),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Txt returns the TXT records published with the service.
func (m *Manager) Txt() []string {
	return []string{"path=" + m.config.Path, "version=1"}
}

// Advertise publishes this daemon until Stop is called.
func (m *Manager) Advertise() error {
	ips, err := getLocalIPs()
	if err != nil {
		return fmt.Errorf("failed to get local IPs: %w", err)
	}

	service, err := mdns.NewMDNSService(m.config.ServiceName, ServiceType, "", "", m.config.Port, ips, m.Txt())
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("failed to create mdns server: %w", err)
	}

	m.log.Info("advertising mDNS service", "name", m.config.ServiceName, "port", m.config.Port, "type", ServiceType)
	go func() {
		<-m.ctx.Done()
		server.Shutdown()
	}()
	return nil
}

// Browse queries the LAN once and returns the servers that answered
// within timeout.
func (m *Manager) Browse(timeout time.Duration) ([]ServerInfo, error) {
	entries := make(chan *mdns.ServiceEntry, 16)
	var found []ServerInfo
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for e := range entries {
			info := serverInfo(e)
			m.log.Debug("discovered server", "name", info.Name, "host", info.Host, "port", info.Port)
			found = append(found, info)
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = timeout
	params.DisableIPv6 = true
	err := mdns.Query(params)
	close(entries)
	<-collected
	if err != nil {
		return nil, fmt.Errorf("mdns query: %w", err)
	}
	return found, nil
}

func serverInfo(e *mdns.ServiceEntry) ServerInfo {
	info := ServerInfo{
		Name: strings.TrimSuffix(e.Name, "."+ServiceType+".local."),
		Port: e.Port,
		Path: "/stream",
	}
	if e.AddrV4 != nil {
		info.Host = e.AddrV4.String()
	} else if e.AddrV6 != nil {
		info.Host = e.AddrV6.String()
	}
	for _, f := range e.InfoFields {
		if p, ok := strings.CutPrefix(f, "path="); ok {
			info.Path = p
		}
	}
	return info
}

// Stop withdraws the advertisement.
func (m *Manager) Stop() {
	m.cancel()
}

// getLocalIPs returns local IP addresses
func getLocalIPs() ([]net.IP, error) {
	var ips []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() {
				if ipnet.IP.To4() != nil {
					ips = append(ips, ipnet.IP)
				}
			}
		}
	}

	return ips, nil
}
