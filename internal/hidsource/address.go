package hidsource

import (
	"fmt"
	"strconv"
	"strings"
)

// Address locates a HID device either by hidraw path or by vendor and product id.
type Address struct {
	Path      string
	VendorID  uint16
	ProductID uint16
}

// ParseAddress accepts "/dev/hidraw3" style paths and "046d:c077" style
// hexadecimal vendor:product pairs.
func ParseAddress(s string) (Address, error) {
	if strings.HasPrefix(s, "/") {
		return Address{Path: s}, nil
	}
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return Address{}, fmt.Errorf("invalid hid address %q: want a path or vid:pid", s)
	}
	vid, err := strconv.ParseUint(parts[0], 16, 16)
	if err != nil {
		return Address{}, fmt.Errorf("invalid vendor id %q: %w", parts[0], err)
	}
	pid, err := strconv.ParseUint(parts[1], 16, 16)
	if err != nil {
		return Address{}, fmt.Errorf("invalid product id %q: %w", parts[1], err)
	}
	return Address{VendorID: uint16(vid), ProductID: uint16(pid)}, nil
}

func (a Address) String() string {
	if a.Path != "" {
		return a.Path
	}
	return fmt.Sprintf("%04x:%04x", a.VendorID, a.ProductID)
}
