// Package service runs the marketplace: the matching engine that places
// client orders and writes trades, the order-entry facade shared by every
// transport, and the market simulator with its tick scheduler.
package service
