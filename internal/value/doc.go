// Package value defines the closed set of scalar and composite value types
// that entity properties and cache entries may hold, plus the blob codec that
// round-trips them through durable storage.
//
// Blobs are canonical JSON:
//   - object keys sorted bytewise
//   - strings NFC normalized at the serialization boundary
//   - no HTML escaping (< > & stored literally)
//   - floats formatted with the shortest representation that survives a
//     parse round trip
//
// Decode(Encode(v)) == v for every Value, which is what lets the storage
// layer treat property blobs as opaque while export/import and golden tests
// still compare them byte for byte.
package value
