// Package device implements the device-authorization grant: short-lived
// pairing codes held in the cache backend, a polling state machine with
// abuse throttling, and the durable device records minted when a grant
// is redeemed.
package device
