package security

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// DeviceFingerprint represents device identification information
type DeviceFingerprint struct {
	Fingerprint string    `json:"fingerprint"`
	MachineName string    `json:"machine_name"`
	MACAddress  string    `json:"mac_address"`
	OSInfo      string    `json:"os_info"`
	GeneratedAt time.Time `json:"generated_at"`
}

// FingerprintManager derives a stable identifier for the current device
// from its machine name, primary MAC address, and OS description.
type FingerprintManager struct {
	cache         *DeviceFingerprint
	cacheMutex    sync.RWMutex
	cacheExpiry   time.Time
	cacheDuration time.Duration
}

// NewFingerprintManager creates a new fingerprint manager with caching
func NewFingerprintManager() *FingerprintManager {
	return &FingerprintManager{
		cacheDuration: 1 * time.Hour,
	}
}

// GetMACAddress retrieves the primary network interface MAC address.
// Loopback and down interfaces are skipped; any interface with a MAC
// is accepted as a last resort.
func (fm *FingerprintManager) GetMACAddress() (string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("failed to get network interfaces: %w", err)
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			return mac, nil
		}
	}

	// Fallback: use any interface with a MAC address
	for _, iface := range interfaces {
		if mac := iface.HardwareAddr.String(); mac != "" && mac != "00:00:00:00:00:00" {
			slog.Warn("using fallback MAC address",
				slog.String("interface", iface.Name),
			)
			return mac, nil
		}
	}

	return "", fmt.Errorf("no valid MAC address found")
}

// GetMachineName retrieves the normalized machine hostname
func (fm *FingerprintManager) GetMachineName() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}
	hostname = strings.ToLower(strings.TrimSpace(hostname))
	if hostname == "" {
		return "", fmt.Errorf("hostname is empty")
	}
	return hostname, nil
}

// GetOSInfo returns the OS description string used as a fingerprint factor
func (fm *FingerprintManager) GetOSInfo() string {
	return fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
}

// Generate creates the device fingerprint: SHA-256 over
// machineName|macAddress|osInfo, hex-encoded. Individual factor
// failures fall back to stable placeholders so a device without, say,
// a resolvable hostname still fingerprints deterministically.
func (fm *FingerprintManager) Generate() (*DeviceFingerprint, error) {
	fm.cacheMutex.RLock()
	if fm.cache != nil && time.Now().Before(fm.cacheExpiry) {
		cached := *fm.cache
		fm.cacheMutex.RUnlock()
		return &cached, nil
	}
	fm.cacheMutex.RUnlock()

	machineName, err := fm.GetMachineName()
	if err != nil {
		machineName = "unknown-host"
		slog.Warn("failed to get machine name, using fallback",
			slog.String("error", err.Error()),
		)
	}

	macAddr, err := fm.GetMACAddress()
	if err != nil {
		macAddr = "unknown-mac"
		slog.Warn("failed to get MAC address, using fallback",
			slog.String("error", err.Error()),
		)
	}

	osInfo := fm.GetOSInfo()

	fingerprint := HashFactors(machineName, macAddr, osInfo)

	result := &DeviceFingerprint{
		Fingerprint: fingerprint,
		MachineName: machineName,
		MACAddress:  macAddr,
		OSInfo:      osInfo,
		GeneratedAt: time.Now(),
	}

	fm.cacheMutex.Lock()
	fm.cache = result
	fm.cacheExpiry = time.Now().Add(fm.cacheDuration)
	fm.cacheMutex.Unlock()

	slog.Debug("device fingerprint generated",
		slog.String("fingerprint", fingerprint),
		slog.String("machine_name", machineName),
		slog.String("os_info", osInfo),
	)

	return result, nil
}

// HashFactors combines fingerprint factors into the canonical hash
func HashFactors(machineName, macAddr, osInfo string) string {
	combined := strings.Join([]string{machineName, macAddr, osInfo}, "|")
	sum := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(sum[:])
}

// Matches compares the current device fingerprint with a stored one
func (fm *FingerprintManager) Matches(storedFingerprint string) (bool, error) {
	current, err := fm.Generate()
	if err != nil {
		return false, fmt.Errorf("failed to generate current fingerprint: %w", err)
	}
	return current.Fingerprint == storedFingerprint, nil
}

// ClearCache clears the cached fingerprint
func (fm *FingerprintManager) ClearCache() {
	fm.cacheMutex.Lock()
	defer fm.cacheMutex.Unlock()
	fm.cache = nil
	fm.cacheExpiry = time.Time{}
}
