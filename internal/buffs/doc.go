// Package buffs holds the scheduling core: the booking model, time
// normalization, validation, and the cross-store service that keeps the
// two independently writable stores from double-booking a slot.
package buffs
