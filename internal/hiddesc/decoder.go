package hiddesc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrInvalidDescriptor = errors.New("invalid report descriptor")

type globalState struct {
	usagePage      uint16
	logicalMinimum int32
	logicalMaximum int32
	reportID       uint8
	reportCount    uint32
	reportSize     uint32
}

type localState struct {
	usage        []uint16
	usageMinimum uint16
	usageMaximum uint16
}

type decoderState struct {
	global      globalState
	local       localState
	globalStack []globalState

	collection      *Collection
	collections     []Collection
	collectionStack []Collection
}

type commandFn func(state *decoderState, payload []byte) error

var commandMap = map[Tag]commandFn{
	TagInput:         mainItem(MainItemTypeInput),
	TagOutput:        mainItem(MainItemTypeOutput),
	TagFeature:       mainItem(MainItemTypeFeature),
	TagCollection:    cmdCollection,
	TagEndCollection: cmdEndCollection,

	TagUsagePage: func(state *decoderState, payload []byte) error {
		state.global.usagePage = uint16(toUint32(payload))
		return nil
	},
	TagLogicalMinimum: func(state *decoderState, payload []byte) error {
		state.global.logicalMinimum = toInt32(payload)
		return nil
	},
	TagLogicalMaximum: func(state *decoderState, payload []byte) error {
		state.global.logicalMaximum = toInt32(payload)
		return nil
	},
	TagReportSize: func(state *decoderState, payload []byte) error {
		state.global.reportSize = toUint32(payload)
		return nil
	},
	TagReportID: func(state *decoderState, payload []byte) error {
		id := toUint32(payload)
		if id == 0 || id > 0xff {
			return fmt.Errorf("report id %d out of range", id)
		}
		state.global.reportID = uint8(id)
		return nil
	},
	TagReportCount: func(state *decoderState, payload []byte) error {
		state.global.reportCount = toUint32(payload)
		return nil
	},
	TagPush: func(state *decoderState, payload []byte) error {
		state.globalStack = append(state.globalStack, state.global)
		return nil
	},
	TagPop: func(state *decoderState, payload []byte) error {
		if len(state.globalStack) == 0 {
			return errors.New("pop: stack is empty")
		}
		state.global = state.globalStack[len(state.globalStack)-1]
		state.globalStack = state.globalStack[:len(state.globalStack)-1]
		return nil
	},

	TagUsage: func(state *decoderState, payload []byte) error {
		state.local.usage = append(state.local.usage, uint16(toUint32(payload)))
		return nil
	},
	TagUsageMinimum: func(state *decoderState, payload []byte) error {
		state.local.usageMinimum = uint16(toUint32(payload))
		return nil
	},
	TagUsageMaximum: func(state *decoderState, payload []byte) error {
		state.local.usageMaximum = uint16(toUint32(payload))
		return nil
	},
	// units, designators, strings and delimiters do not affect the field layout
	TagPhysicalMinimum:   ignore,
	TagPhysicalMaximum:   ignore,
	TagUnitExponent:      ignore,
	TagUnit:              ignore,
	TagDesignatorIndex:   ignore,
	TagDesignatorMinimum: ignore,
	TagDesignatorMaximum: ignore,
	TagStringIndex:       ignore,
	TagStringMinimum:     ignore,
	TagStringMaximum:     ignore,
	TagDelimiter:         ignore,
}

func ignore(*decoderState, []byte) error {
	return nil
}

// Decode parses a raw report descriptor.
func Decode(data []byte) (ReportDescriptor, error) {
	state := &decoderState{}
	for pos := 0; pos < len(data); {
		tag := Tag(data[pos])
		if tag.Prefix() == tagLong {
			return ReportDescriptor{}, fmt.Errorf("%w: long items are not supported (offset %d)", ErrInvalidDescriptor, pos)
		}
		size := tag.PayloadSize()
		if pos+1+size > len(data) {
			return ReportDescriptor{}, fmt.Errorf("%w: item %#02x at offset %d is truncated", ErrInvalidDescriptor, uint8(tag), pos)
		}
		fn, ok := commandMap[tag.Prefix()]
		if !ok {
			return ReportDescriptor{}, fmt.Errorf("%w: unknown item %#02x at offset %d", ErrInvalidDescriptor, uint8(tag), pos)
		}
		if err := fn(state, data[pos+1:pos+1+size]); err != nil {
			return ReportDescriptor{}, fmt.Errorf("%w: offset %d: %w", ErrInvalidDescriptor, pos, err)
		}
		pos += 1 + size
	}
	if state.collection != nil {
		return ReportDescriptor{}, fmt.Errorf("%w: unterminated collection", ErrInvalidDescriptor)
	}
	return ReportDescriptor{Collections: state.collections}, nil
}

func toUint32(payload []byte) uint32 {
	var buf [4]byte
	copy(buf[:], payload)
	return binary.LittleEndian.Uint32(buf[:])
}

func toInt32(payload []byte) int32 {
	switch len(payload) {
	case 1:
		return int32(int8(payload[0]))
	case 2:
		return int32(int16(binary.LittleEndian.Uint16(payload)))
	default:
		return int32(toUint32(payload))
	}
}

func mainItem(typ MainItemType) commandFn {
	return func(state *decoderState, payload []byte) error {
		if state.collection == nil {
			return errors.New("data item outside of a collection")
		}
		state.collection.Items = append(state.collection.Items, MainItem{
			Type: typ,
			DataItem: &DataItem{
				Flags:          DataFlags(toUint32(payload)),
				ReportID:       state.global.reportID,
				ReportSize:     state.global.reportSize,
				ReportCount:    state.global.reportCount,
				UsagePage:      state.global.usagePage,
				UsageIDs:       state.local.usage,
				UsageMinimum:   state.local.usageMinimum,
				UsageMaximum:   state.local.usageMaximum,
				LogicalMinimum: state.global.logicalMinimum,
				LogicalMaximum: state.global.logicalMaximum,
			},
		})
		state.local = localState{}
		return nil
	}
}

func cmdCollection(state *decoderState, payload []byte) error {
	c := Collection{
		Type:      CollectionType(toUint32(payload)),
		UsagePage: state.global.usagePage,
	}
	if len(state.local.usage) > 0 {
		c.UsageID = state.local.usage[0]
	}
	if state.collection != nil {
		state.collectionStack = append(state.collectionStack, *state.collection)
	}
	state.collection = &c
	state.local = localState{}
	return nil
}

func cmdEndCollection(state *decoderState, payload []byte) error {
	if state.collection == nil {
		return errors.New("end collection: no open collection")
	}
	if len(state.collectionStack) == 0 {
		state.collections = append(state.collections, *state.collection)
		state.collection = nil
	} else {
		parent := state.collectionStack[len(state.collectionStack)-1]
		parent.Items = append(parent.Items, MainItem{
			Type:       MainItemTypeCollection,
			Collection: state.collection,
		})
		state.collectionStack = state.collectionStack[:len(state.collectionStack)-1]
		state.collection = &parent
	}
	state.local = localState{}
	return nil
}
