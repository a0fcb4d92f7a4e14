// Package events persists security-relevant notifications and fans them
// out to live subscribers. A single consumer goroutine owns ordering: it
// appends each event to the store, then delivers it to every subscriber
// whose minimum level it meets. Producers never block.
package events
