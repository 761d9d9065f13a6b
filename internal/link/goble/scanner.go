package goble

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

// HubInfo describes one advertising SPIKE hub seen during a scan.
type HubInfo struct {
	Name    string
	Address string
	RSSI    int
}

// ScanOptions configures hub discovery behavior.
type ScanOptions struct {
	Duration        time.Duration
	DuplicateFilter bool
	AllHubs         bool // include devices not advertising the SPIKE service
}

// DefaultScanOptions returns default scanning options.
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		DuplicateFilter: true,
	}
}

// Scanner discovers SPIKE hubs by their advertised service UUID.
type Scanner struct {
	hubs   *hashmap.Map[string, HubInfo]
	logger *logrus.Logger
}

// NewScanner creates a hub scanner.
func NewScanner(logger *logrus.Logger) *Scanner {
	if logger == nil {
		logger = logrus.New()
	}
	return &Scanner{logger: logger}
}

// Scan performs BLE discovery and returns every hub seen before the
// context or the configured duration expires.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions) ([]HubInfo, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	s.hubs = hashmap.New[string, HubInfo]()

	dev, err := DeviceFactory()
	if err != nil {
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}
	ble.SetDefaultDevice(dev)

	s.logger.WithField("duration", opts.Duration).Info("Starting hub scan...")

	scanCtx := ctx
	if opts.Duration > 0 {
		var cancel context.CancelFunc
		scanCtx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	err = dev.Scan(scanCtx, !opts.DuplicateFilter, func(adv ble.Advertisement) {
		s.handleAdvertisement(adv, opts)
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("hub_count", s.hubs.Len()).Info("Hub scan completed")

	hubs := make([]HubInfo, 0, s.hubs.Len())
	s.hubs.Range(func(key string, value HubInfo) bool {
		hubs = append(hubs, value)
		return true
	})
	return hubs, nil
}

// handleAdvertisement records new or updated hubs.
func (s *Scanner) handleAdvertisement(adv ble.Advertisement, opts *ScanOptions) {
	if !opts.AllHubs && !advertisesSpikeService(adv) {
		return
	}

	addr := adv.Addr().String()
	info := HubInfo{
		Name:    adv.LocalName(),
		Address: addr,
		RSSI:    adv.RSSI(),
	}
	if _, existed := s.hubs.Get(addr); !existed {
		s.logger.WithFields(logrus.Fields{
			"name":    info.Name,
			"address": info.Address,
			"rssi":    info.RSSI,
		}).Info("Discovered hub")
	}
	s.hubs.Set(addr, info)
}

// advertisesSpikeService reports whether the advertisement carries the
// SPIKE hub service UUID.
func advertisesSpikeService(adv ble.Advertisement) bool {
	for _, u := range adv.Services() {
		if uuidMatches(u.String(), SpikeServiceUUID) {
			return true
		}
	}
	return false
}
