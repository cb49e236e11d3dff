// Package codec turns raw hub payloads into classified messages.
//
// Payloads are base64 text wrapping a deflate stream. Two framings exist in the
// wild (raw deflate and zlib-wrapped deflate); both are attempted, raw first.
// Decoding is pure: nothing here touches connection or session state.
package codec
