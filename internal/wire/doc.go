// Package wire is the contract between the field client and the remote
// system of record: message types, a JSON codec registered with gRPC under
// the "json" content subtype, and a hand-written service descriptor for the
// RecordSync service.
//
// Every push is keyed by (RecordID, Sequence). The server must treat a
// repeated key as a replay and answer with the original outcome.
package wire
