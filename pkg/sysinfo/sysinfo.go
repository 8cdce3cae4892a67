/*
 * Copyright 2025 FlowSentry Contributors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package sysinfo derives the device identity and network facts the agent
// reports to the collector.
package sysinfo

import (
	"context"
	"net"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/host"
	gopsnet "github.com/shirou/gopsutil/v3/net"
)

// Identity identifies one edge device. ID is stable for the life of the
// device; Name is the human-readable hostname.
type Identity struct {
	ID   string
	Name string
}

// DeviceIdentity derives the device identity from the host machine ID,
// falling back to a random UUID when the platform exposes none. The fallback
// is not stable across restarts, which only affects collector-side grouping.
func DeviceIdentity(ctx context.Context) Identity {
	name, err := os.Hostname()
	if err != nil || name == "" {
		name = "unknown"
	}

	id, err := host.HostIDWithContext(ctx)
	if err != nil || id == "" {
		id = uuid.New().String()
	}

	return Identity{ID: id, Name: name}
}

// LocalIP reports the preferred outbound IPv4 address. No packets are sent;
// dialing UDP only resolves the route.
func LocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "Unknown"
	}
	defer func() { _ = conn.Close() }()

	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return "Unknown"
	}

	return addr.IP.String()
}

// ListInterfaces enumerates capture-worthy network interfaces: loopback and
// virtual interfaces are skipped, and an interface must carry a non-loopback
// IPv4 address to qualify.
func ListInterfaces(ctx context.Context) ([]string, error) {
	ifaces, err := gopsnet.InterfacesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(ifaces))

	for _, iface := range ifaces {
		if skipInterface(iface.Name) {
			continue
		}

		if !hasIPv4(iface.Addrs) {
			continue
		}

		names = append(names, iface.Name)
	}

	return names, nil
}

func skipInterface(name string) bool {
	lower := strings.ToLower(name)
	return lower == "lo" || strings.HasPrefix(lower, "v")
}

func hasIPv4(addrs gopsnet.InterfaceAddrList) bool {
	for _, addr := range addrs {
		ipStr := addr.Addr
		if i := strings.Index(ipStr, "/"); i >= 0 {
			ipStr = ipStr[:i]
		}

		ip := net.ParseIP(ipStr)
		if ip == nil {
			continue
		}

		if v4 := ip.To4(); v4 != nil && !v4.IsLoopback() {
			return true
		}
	}

	return false
}
