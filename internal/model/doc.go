// Package model defines the shelf domain shared by every layer: shelves,
// items, slots, position keys, pages, and the error taxonomy that failed
// remote calls are mapped into.
//
// Identifiers are typed so an item id cannot be passed where a slot id is
// expected. Order arrays elsewhere store ids in their decimal string form
// (ItemID.String, SlotID.String) so one scope type covers shelves, items
// and slots.
package model
