package discovery

import (
	"encoding/hex"
	"net"
	"sort"
	"strings"

	"github.com/meshguard/attestmesh/pkg/identity"
)

// NodeInstanceName constructs the DNS-SD instance name for a mesh node.
// Format: the node's 32-byte identifier as 64 uppercase hex characters.
func NodeInstanceName(nodeID identity.NodeID) string {
	return strings.ToUpper(hex.EncodeToString(nodeID[:]))
}

// ParseNodeInstanceName parses an instance name back into a node identifier.
// Returns an error if the format is not exactly 64 hex characters.
func ParseNodeInstanceName(instanceName string) (identity.NodeID, error) {
	var nodeID identity.NodeID

	if len(instanceName) != identity.NodeIDSize*2 {
		return nodeID, ErrInvalidInstanceName
	}

	decoded, err := hex.DecodeString(instanceName)
	if err != nil {
		return nodeID, ErrInvalidInstanceName
	}

	copy(nodeID[:], decoded)
	return nodeID, nil
}

// SortIPsByPreference sorts IP addresses by preference for outbound dials.
// Priority order (highest to lowest):
//  1. Global Unicast Addresses (routable on internet)
//  2. Unique Local Addresses (ULA, fc00::/7)
//  3. Link-Local Addresses (fe80::/10)
//  4. Other addresses
//
// This sorting helps ensure better connectivity for cross-network communication.
func SortIPsByPreference(ips []net.IP) []net.IP {
	if len(ips) <= 1 {
		return ips
	}

	// Make a copy to avoid modifying the original slice
	sorted := make([]net.IP, len(ips))
	copy(sorted, ips)

	sort.SliceStable(sorted, func(i, j int) bool {
		return ipPriority(sorted[i]) < ipPriority(sorted[j])
	})

	return sorted
}

// ipPriority returns the priority of an IP address (lower is better).
func ipPriority(ip net.IP) int {
	// Normalize to 16-byte representation
	ip = ip.To16()
	if ip == nil {
		return 99 // Invalid
	}

	// IPv4 addresses (less preferred; the mesh prefers IPv6-first routing)
	if ip.To4() != nil {
		return 50
	}

	// IPv6 addresses
	if isGlobalUnicast(ip) {
		return 0 // Highest priority - globally routable
	}

	if isUniqueLocal(ip) {
		return 1 // ULA - organization-local
	}

	if ip.IsLinkLocalUnicast() {
		return 2 // Link-local - same link only
	}

	if ip.IsLoopback() {
		return 80 // Loopback - only local host
	}

	if ip.IsMulticast() {
		return 90 // Multicast - not for unicast communication
	}

	return 10 // Other IPv6 addresses
}

// isGlobalUnicast returns true if the IP is a globally routable unicast address.
// This excludes private/ULA addresses.
func isGlobalUnicast(ip net.IP) bool {
	if !ip.IsGlobalUnicast() {
		return false
	}

	// Exclude ULA (fc00::/7)
	if isUniqueLocal(ip) {
		return false
	}

	// Exclude IPv4 private ranges mapped to IPv6
	if ip4 := ip.To4(); ip4 != nil {
		// 10.0.0.0/8
		if ip4[0] == 10 {
			return false
		}
		// 172.16.0.0/12
		if ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31 {
			return false
		}
		// 192.168.0.0/16
		if ip4[0] == 192 && ip4[1] == 168 {
			return false
		}
	}

	return true
}

// isUniqueLocal returns true if the IP is an IPv6 Unique Local Address (ULA).
// ULA range: fc00::/7 (fc00:: to fdff::)
func isUniqueLocal(ip net.IP) bool {
	ip = ip.To16()
	if ip == nil {
		return false
	}

	// Check if first byte is in fc00::/7 range (0xfc or 0xfd)
	return ip[0] == 0xfc || ip[0] == 0xfd
}

// FilterIPv6 returns only IPv6 addresses from the slice.
func FilterIPv6(ips []net.IP) []net.IP {
	var result []net.IP
	for _, ip := range ips {
		if ip.To4() == nil && ip.To16() != nil {
			result = append(result, ip)
		}
	}
	return result
}

// FilterIPv4 returns only IPv4 addresses from the slice.
func FilterIPv4(ips []net.IP) []net.IP {
	var result []net.IP
	for _, ip := range ips {
		if ip.To4() != nil {
			result = append(result, ip)
		}
	}
	return result
}

// GetLocalIPv6Addresses returns all non-loopback IPv6 addresses on the host.
func GetLocalIPv6Addresses() ([]net.IP, error) {
	var addresses []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		// Skip down or loopback interfaces
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}

			// Only include IPv6 addresses
			if ip != nil && ip.To4() == nil && ip.To16() != nil && !ip.IsLoopback() {
				addresses = append(addresses, ip)
			}
		}
	}

	return addresses, nil
}

// GetLocalAddresses returns all non-loopback IP addresses on the host.
func GetLocalAddresses() ([]net.IP, error) {
	var addresses []net.IP

	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	for _, iface := range ifaces {
		// Skip down or loopback interfaces
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}

			if ip != nil && !ip.IsLoopback() {
				addresses = append(addresses, ip)
			}
		}
	}

	return addresses, nil
}
