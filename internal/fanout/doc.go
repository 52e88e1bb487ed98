// Package fanout delivers bus envelopes to connected dashboards.
//
// Each dashboard is a Session with a bounded outbound queue drained by its
// own write pump. Broadcast never blocks on a session: a session that cannot
// accept a frame is evicted so the rest keep receiving in order.
package fanout
