package transform

// OptionSlotKey, DecodeOptionSlotKey, EnumKey, and DecodeEnumKey expose the
// slot-folded Mapping encoding used for every ScopeCustomPropertyValue
// lookup in this package, so the Reconciliation Engine can reuse the same
// convention for the built-in status/type/priority mappings — which have no
// dedicated Mapping scope of their own, just like components.
func OptionSlotKey(slot, hubOptionID int) int        { return optionSlotKey(slot, hubOptionID) }
func DecodeOptionSlotKey(slot, encoded int) int       { return decodeOptionSlotKey(slot, encoded) }
func EnumKey(slot int, optionIdentifier string) string { return enumKey(slot, optionIdentifier) }
func DecodeEnumKey(externalKey string) string         { return decodeEnumKey(externalKey) }
