package layout

// Layout is the user-facing description of devices, their fields and the
// tasks derived from them. It is read from layout.yml.
type Layout struct {
	// Capacity is the preallocated sample count per node.
	Capacity int            `json:"capacity,omitempty"`
	Devices  []DeviceConfig `json:"devices"`
	// Tasks are statements such as "left_pressed = rising(mouse.left, 0.5)".
	Tasks []string `json:"tasks,omitempty"`
}

type DeviceConfig struct {
	ID        uint16 `json:"id"`
	Name      string `json:"name"`
	StateSize int    `json:"stateSize"`
	// Bind wires the device's fields into the graph. Defaults to true.
	Bind *bool `json:"bind,omitempty"`
	// HID is a hidraw path or a vid:pid pair to read reports from.
	HID string `json:"hid,omitempty"`
	// ReportID is stripped from incoming reports when set.
	ReportID *uint8 `json:"reportId,omitempty"`
	// Exclusive detaches the kernel input handlers while the device is read.
	Exclusive bool          `json:"exclusive,omitempty"`
	Fields    []FieldConfig `json:"fields"`
}

func (d DeviceConfig) bound() bool {
	return d.Bind == nil || *d.Bind
}

type FieldConfig struct {
	Name        string  `json:"name"`
	ByteOffset  int     `json:"byteOffset,omitempty"`
	BitOffset   int     `json:"bitOffset,omitempty"`
	BitSize     int     `json:"bitSize"`
	Source      string  `json:"source,omitempty"`
	Destination string  `json:"destination,omitempty"`
	Initial     float32 `json:"initial,omitempty"`
	// Enabled excludes the field's bits from change detection when false.
	Enabled *bool `json:"enabled,omitempty"`
}

func (f FieldConfig) offset() int {
	return f.ByteOffset*8 + f.BitOffset
}

func (f FieldConfig) enabled() bool {
	return f.Enabled == nil || *f.Enabled
}
