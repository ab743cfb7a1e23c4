package hiddesc

import "fmt"

// Field is one decodable control of an input report.
type Field struct {
	Name      string
	UsagePage uint16
	Usage     uint16
	BitOffset int
	BitSize   int
	// Array fields hold a usage code rather than a control value.
	Array    bool
	Relative bool
}

// Report is the bit layout of one input report, excluding the report id byte.
type Report struct {
	ID     uint8
	Bits   int
	Fields []Field
}

func (r Report) SizeInBytes() int {
	return (r.Bits + 7) / 8
}

// InputReports flattens the descriptor into one Report per report id, in the
// order the ids first appear. Constant (padding) items advance the offset
// without producing fields.
func (d ReportDescriptor) InputReports() []Report {
	var order []uint8
	reports := make(map[uint8]*Report)
	var walk func(c Collection)
	walk = func(c Collection) {
		for _, item := range c.Items {
			if item.Collection != nil {
				walk(*item.Collection)
				continue
			}
			if item.Type != MainItemTypeInput || item.DataItem == nil {
				continue
			}
			data := *item.DataItem
			r, ok := reports[data.ReportID]
			if !ok {
				r = &Report{ID: data.ReportID}
				reports[data.ReportID] = r
				order = append(order, data.ReportID)
			}
			r.add(data)
		}
	}
	for _, c := range d.Collections {
		walk(c)
	}
	result := make([]Report, 0, len(order))
	for _, id := range order {
		r := reports[id]
		r.dedupe()
		result = append(result, *r)
	}
	return result
}

func (r *Report) add(data DataItem) {
	if data.Flags.IsConstant() {
		r.Bits += data.Bits()
		return
	}
	for i := 0; i < int(data.ReportCount); i++ {
		f := Field{
			UsagePage: data.UsagePage,
			BitOffset: r.Bits,
			BitSize:   int(data.ReportSize),
			Array:     !data.Flags.IsVariable(),
			Relative:  data.Flags.IsRelative(),
		}
		if f.Array {
			f.Name = fmt.Sprintf("%s_array_%d", PageName(data.UsagePage), i)
		} else {
			f.Usage = data.Usage(i)
			f.Name = UsageName(data.UsagePage, f.Usage)
		}
		r.Fields = append(r.Fields, f)
		r.Bits += f.BitSize
	}
}

// dedupe suffixes repeated names so every field of a report is addressable.
func (r *Report) dedupe() {
	seen := make(map[string]int, len(r.Fields))
	for i, f := range r.Fields {
		seen[f.Name]++
		if n := seen[f.Name]; n > 1 {
			r.Fields[i].Name = fmt.Sprintf("%s_%d", f.Name, n)
		}
	}
}

var pageNames = map[uint16]string{
	0x01: "desktop",
	0x02: "simulation",
	0x05: "game",
	0x07: "key",
	0x08: "led",
	0x09: "button",
	0x0c: "consumer",
	0x0d: "digitizer",
}

var desktopUsages = map[uint16]string{
	0x30: "x",
	0x31: "y",
	0x32: "z",
	0x33: "rx",
	0x34: "ry",
	0x35: "rz",
	0x36: "slider",
	0x37: "dial",
	0x38: "wheel",
	0x39: "hat_switch",
	0x3d: "start",
	0x3e: "select",
}

var digitizerUsages = map[uint16]string{
	0x30: "tip_pressure",
	0x32: "in_range",
	0x42: "tip_switch",
	0x44: "barrel_switch",
	0x45: "eraser",
}

func PageName(page uint16) string {
	if name, ok := pageNames[page]; ok {
		return name
	}
	return fmt.Sprintf("page_%04x", page)
}

// UsageName returns a node friendly name for a usage.
func UsageName(page, usage uint16) string {
	switch page {
	case 0x01:
		if name, ok := desktopUsages[usage]; ok {
			return name
		}
	case 0x0d:
		if name, ok := digitizerUsages[usage]; ok {
			return name
		}
	case 0x09:
		return fmt.Sprintf("button_%d", usage)
	case 0x07:
		return fmt.Sprintf("key_%02x", usage)
	}
	return fmt.Sprintf("%s_%02x", PageName(page), usage)
}
