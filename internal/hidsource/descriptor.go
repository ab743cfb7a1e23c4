package hidsource

import (
	"fmt"

	"github.com/sstallion/go-hid"
)

const maxDescriptorSize = 4096

// ReportDescriptor reads the raw report descriptor of the device at addr along
// with its product name.
func (s *Source) ReportDescriptor(addr Address) ([]byte, string, error) {
	if err := hid.Init(); err != nil {
		return nil, "", fmt.Errorf("failed to initialize hidapi: %w", err)
	}
	defer hid.Exit()
	info, err := s.resolve(addr)
	if err != nil {
		return nil, "", err
	}
	dev, err := hid.OpenPath(info.Path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open %s: %w", info.Path, err)
	}
	defer dev.Close()
	buf := make([]byte, maxDescriptorSize)
	n, err := dev.GetReportDescriptor(buf)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read report descriptor: %w", err)
	}
	return buf[:n], productName(info), nil
}
