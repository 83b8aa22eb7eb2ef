package capture

import (
	"errors"
	"fmt"
	"net"

	"github.com/google/gopacket/pcap"

	"firestige.xyz/hostmon/internal/config"
)

// ErrNoDevice is returned when libpcap reports no capture devices.
var ErrNoDevice = errors.New("no capture device found")

// Device is a capture device as reported by libpcap.
type Device struct {
	Name        string
	Description string
	Addresses   []string
}

// findAllDevs is swapped out in tests.
var findAllDevs = pcap.FindAllDevs

// interfaceByName is swapped out in tests.
var interfaceByName = net.InterfaceByName

// Devices lists the capture devices visible to libpcap.
func Devices() ([]Device, error) {
	devs, err := findAllDevs()
	if err != nil {
		return nil, fmt.Errorf("failed to list capture devices: %w", err)
	}

	out := make([]Device, 0, len(devs))
	for _, d := range devs {
		addrs := make([]string, 0, len(d.Addresses))
		for _, a := range d.Addresses {
			if a.IP != nil {
				addrs = append(addrs, a.IP.String())
			}
		}
		out = append(out, Device{Name: d.Name, Description: d.Description, Addresses: addrs})
	}
	return out, nil
}

// DefaultInterface returns the first device libpcap reports.
func DefaultInterface() (string, error) {
	devs, err := Devices()
	if err != nil {
		return "", err
	}
	if len(devs) == 0 {
		return "", ErrNoDevice
	}
	return devs[0].Name, nil
}

// InterfaceMAC returns the hardware address of the named interface.
func InterfaceMAC(name string) (net.HardwareAddr, error) {
	iface, err := interfaceByName(name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up interface %s: %w", name, err)
	}
	if len(iface.HardwareAddr) == 0 {
		return nil, fmt.Errorf("interface %s has no hardware address", name)
	}
	return iface.HardwareAddr, nil
}

// ResolveLocalMAC returns the address used for direction classification:
// capture.local_mac when set, otherwise the capture interface's own address.
func ResolveLocalMAC(cfg config.CaptureConfig) (net.HardwareAddr, error) {
	if cfg.LocalMAC != "" {
		mac, err := net.ParseMAC(cfg.LocalMAC)
		if err != nil {
			return nil, fmt.Errorf("invalid local_mac %q: %w", cfg.LocalMAC, err)
		}
		return mac, nil
	}
	if cfg.Interface == "" {
		return nil, errors.New("no interface to read a hardware address from")
	}
	return InterfaceMAC(cfg.Interface)
}
