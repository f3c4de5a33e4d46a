// Package core defines the domain types shared by the claim aggregator, the
// domain action service and the memory store.
//
// Types in this package carry no behaviour beyond validation, cloning and
// encoding. State transitions live in the profile and action packages, and
// durability lives behind memory.Store.
package core
