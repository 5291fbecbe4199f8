// Package inbound bridges externally delivered lifecycle signals onto the
// sync engine.
//
// Marketplaces and admin backplanes deliver signals at-least-once, so the
// dispatcher pairs signature verification with claim/complete/fail
// idempotency: a redelivered signal short-circuits while its first delivery
// is still processing or already completed, and a failed delivery releases
// its claim so the sender's retry can run the handler again.
package inbound
