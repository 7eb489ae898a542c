package probe

import (
	"net"
	"strings"

	"github.com/jackpal/gateway"
)

// Interfaces lists every up, non-loopback interface carrying an IPv4
// address, for the operator to pick from in manual mode.
func Interfaces() []Link {
	ifaces, err := net.Interfaces()
	if err != nil {
		log.Warningf("Unable to enumerate interfaces: %v", err)
		return nil
	}
	var links []Link
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if ip := ipv4Of(iface); ip != "" {
			links = append(links, Link{Interface: iface.Name, Address: ip})
		}
	}
	return links
}

// DefaultGateway discovers the default route's gateway address, which is
// usually the device itself when the bench machine is wired straight to it.
func DefaultGateway() (string, error) {
	ip, err := gateway.DiscoverGateway()
	if err != nil {
		return "", err
	}
	return ip.String(), nil
}

// wiredLink returns the first plausible wired link with an IPv4 address.
// Wireless and virtual interfaces are filtered on name, which is heuristic
// but matches how bench machines are actually cabled to a gateway.
func wiredLink() *Link {
	for _, l := range Interfaces() {
		name := strings.ToLower(l.Interface)
		if strings.HasPrefix(name, "wl") || strings.HasPrefix(name, "ww") ||
			strings.HasPrefix(name, "docker") || strings.HasPrefix(name, "veth") ||
			strings.HasPrefix(name, "br-") || strings.HasPrefix(name, "tun") ||
			strings.HasPrefix(name, "utun") || strings.HasPrefix(name, "awdl") {
			continue
		}
		l := l
		return &l
	}
	return nil
}

func ipv4Of(iface net.Interface) string {
	addrs, err := iface.Addrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP.To4()
		if ip == nil || ip.IsLoopback() {
			continue
		}
		return ip.String()
	}
	return ""
}
