// Package connection keeps client sessions alive.
//
// Supervise reruns a session function whenever it fails, waiting between
// attempts with exponential backoff:
//
//  1. Initial delay: 1 second
//  2. Doubling: 2s, 4s, 8s, 16s, 32s
//  3. Capped at 60 seconds
//  4. Reset to 1s once a session reports it is established
//
// Each delay gets up to 25% random jitter so clients that lost the same
// server do not reconnect in lockstep:
//
//	actual_delay = base_delay + random(0, base_delay * 0.25)
//
// A session that fails before it is established (dial error, handshake
// rejected) counts towards SuperviseConfig.MaxAttempts. Errors wrapped with
// Permanent end supervision immediately.
package connection
