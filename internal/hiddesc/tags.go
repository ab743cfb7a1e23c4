package hiddesc

// Item prefixes with the size bits masked out.
// Main items: xxxx 00 xx, global items: xxxx 01 xx, local items: xxxx 10 xx.
const (
	TagInput         Tag = 0x80
	TagOutput        Tag = 0x90
	TagFeature       Tag = 0xB0
	TagCollection    Tag = 0xA0
	TagEndCollection Tag = 0xC0

	TagUsagePage       Tag = 0x04
	TagLogicalMinimum  Tag = 0x14
	TagLogicalMaximum  Tag = 0x24
	TagPhysicalMinimum Tag = 0x34
	TagPhysicalMaximum Tag = 0x44
	TagUnitExponent    Tag = 0x54
	TagUnit            Tag = 0x64
	TagReportSize      Tag = 0x74
	TagReportID        Tag = 0x84
	TagReportCount     Tag = 0x94
	TagPush            Tag = 0xA4
	TagPop             Tag = 0xB4

	TagUsage             Tag = 0x08
	TagUsageMinimum      Tag = 0x18
	TagUsageMaximum      Tag = 0x28
	TagDesignatorIndex   Tag = 0x38
	TagDesignatorMinimum Tag = 0x48
	TagDesignatorMaximum Tag = 0x58
	TagStringIndex       Tag = 0x78
	TagStringMinimum     Tag = 0x88
	TagStringMaximum     Tag = 0x98
	TagDelimiter         Tag = 0xA8

	// tagLong introduces a long item, which carries its size in the next byte.
	tagLong Tag = 0xFC
)

type Tag uint8

// PayloadSize returns the number of payload bytes following the tag.
func (t Tag) PayloadSize() int {
	switch t & 0x03 {
	case 0:
		return 0
	case 1:
		return 1
	case 2:
		return 2
	default:
		return 4
	}
}

func (t Tag) Prefix() Tag {
	return t & 0xFC
}
