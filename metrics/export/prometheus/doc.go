// Package prometheus renders sessionauth metrics in Prometheus text exposition
// format.
//
// Counter names are prefixed sessionauth_*_total; the single histogram is
// sessionauth_verify_latency_seconds. Nothing is registered globally: callers
// mount the Handler where they want it.
package prometheus
