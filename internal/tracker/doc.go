// Package tracker defines the domain model and the capability interfaces of
// the price-acquisition pipeline.
//
// A Product is matched against a competitor marketplace by name. A Browser
// opens an isolated Session that can locate candidate listings and extract an
// OfferRecord from one of them. The acquisition package combines these with a
// Store to append PriceObservation rows, and the worker package drives the
// whole thing from a TaskQueue.
package tracker
