package hiddesc

// ReportDescriptor is the decoded item tree of a HID report descriptor.
type ReportDescriptor struct {
	Collections []Collection
}

type CollectionType uint8

const (
	CollectionTypePhysical CollectionType = iota
	CollectionTypeApplication
	CollectionTypeLogical
)

type Collection struct {
	Type      CollectionType
	UsagePage uint16
	UsageID   uint16
	Items     []MainItem
}

// DataFlags are the bits of an Input, Output or Feature item. Only the ones
// that change the field layout get helpers.
type DataFlags uint32

const (
	DataFlagConstant DataFlags = 1 << iota
	DataFlagVariable
	DataFlagRelative
)

func (d DataFlags) IsConstant() bool {
	return d&DataFlagConstant != 0
}

func (d DataFlags) IsVariable() bool {
	return d&DataFlagVariable != 0
}

func (d DataFlags) IsRelative() bool {
	return d&DataFlagRelative != 0
}

type MainItemType uint8

const (
	MainItemTypeInput MainItemType = iota
	MainItemTypeOutput
	MainItemTypeFeature
	MainItemTypeCollection
)

// MainItem holds either a DataItem or a nested Collection.
type MainItem struct {
	Type       MainItemType
	DataItem   *DataItem
	Collection *Collection
}

// DataItem declares ReportCount fields of ReportSize bits sharing one format.
type DataItem struct {
	Flags        DataFlags
	ReportID     uint8
	ReportSize   uint32
	ReportCount  uint32
	UsagePage    uint16
	UsageIDs     []uint16
	UsageMinimum uint16
	UsageMaximum uint16

	LogicalMinimum int32
	LogicalMaximum int32
}

// Bits is the total size of the item in the report.
func (d DataItem) Bits() int {
	return int(d.ReportSize) * int(d.ReportCount)
}

// Usage returns the usage of the field at index i. Explicit usages are
// consumed first, then the usage range; the last usage repeats.
func (d DataItem) Usage(i int) uint16 {
	if i < len(d.UsageIDs) {
		return d.UsageIDs[i]
	}
	if d.UsageMaximum >= d.UsageMinimum && (d.UsageMinimum != 0 || d.UsageMaximum != 0) {
		i -= len(d.UsageIDs)
		if i <= int(d.UsageMaximum-d.UsageMinimum) {
			return d.UsageMinimum + uint16(i)
		}
		return d.UsageMaximum
	}
	if len(d.UsageIDs) > 0 {
		return d.UsageIDs[len(d.UsageIDs)-1]
	}
	return 0
}
