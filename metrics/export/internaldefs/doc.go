// Package internaldefs holds the metric names and bucket bounds shared by the
// exporters, so Prometheus and OTel always agree on naming.
package internaldefs
