package layout

import (
	"fmt"

	"github.com/iancoleman/strcase"
	"github.com/neuroplastio/neio-signal/internal/hiddesc"
)

// Scaffold turns the input reports of a HID report descriptor into device
// entries, one per report, with ids counting up from firstID. Multi-bit fields
// decode to uint nodes. Array slots start disabled.
func Scaffold(desc hiddesc.ReportDescriptor, firstID uint16, name, hid string) []DeviceConfig {
	reports := desc.InputReports()
	devices := make([]DeviceConfig, 0, len(reports))
	name = strcase.ToSnake(name)
	for i, r := range reports {
		dc := DeviceConfig{
			ID:        firstID + uint16(i),
			Name:      name,
			StateSize: r.SizeInBytes(),
			HID:       hid,
			Fields:    make([]FieldConfig, 0, len(r.Fields)),
		}
		if len(reports) > 1 {
			dc.Name = fmt.Sprintf("%s_r%d", name, r.ID)
		}
		if r.ID != 0 {
			id := r.ID
			dc.ReportID = &id
		}
		for _, f := range r.Fields {
			fc := FieldConfig{
				Name:       f.Name,
				ByteOffset: f.BitOffset / 8,
				BitOffset:  f.BitOffset % 8,
				BitSize:    f.BitSize,
			}
			if f.BitSize > 1 {
				fc.Destination = "uint"
			}
			if f.Array {
				disabled := false
				fc.Enabled = &disabled
			}
			dc.Fields = append(dc.Fields, fc)
		}
		devices = append(devices, dc)
	}
	return devices
}
