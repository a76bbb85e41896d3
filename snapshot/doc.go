// Package snapshot holds the latest published order book of every asset.
//
// Books are immutable once stored. A rebuild swaps the whole book behind an
// atomic pointer, so request handlers reading concurrently with the tick
// loop see either the previous book or the next one, never a mix.
package snapshot
