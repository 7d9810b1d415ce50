package prometheus

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/MrEthical07/sessionauth"
	"github.com/MrEthical07/sessionauth/metrics/export/internaldefs"
)

const contentType = "text/plain; version=0.0.4; charset=utf-8"

// PrometheusExporter renders one engine's metrics in the text exposition
// format.
type PrometheusExporter struct {
	source internaldefs.Source
}

// NewPrometheusExporter creates an exporter that reads from engine.
func NewPrometheusExporter(engine *sessionauth.Engine) *PrometheusExporter {
	return &PrometheusExporter{source: engine}
}

// NewPrometheusExporterFromSource reads from any Source.
func NewPrometheusExporterFromSource(source internaldefs.Source) *PrometheusExporter {
	return &PrometheusExporter{source: source}
}

// Handler serves Render.
func (p *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write([]byte(p.Render()))
	})
}

// Render returns the current metrics, or "" when the engine records none.
func (p *PrometheusExporter) Render() string {
	if p == nil || p.source == nil {
		return ""
	}

	snapshot := p.source.MetricsSnapshot()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && p.source.AuditDropped() == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(4096)

	for _, def := range internaldefs.CounterDefs {
		family(&b, def.Name, def.Help, "counter")
		sample(&b, def.Name, "", strconv.FormatUint(snapshot.Counters[def.ID], 10))
	}

	for _, def := range internaldefs.HistogramDefs {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[def.ID]))
		family(&b, def.Name, def.Help, "histogram")
		for i, le := range internaldefs.HistogramBounds {
			sample(&b, def.Name+"_bucket", `le="`+le+`"`, strconv.FormatUint(cumulative[i], 10))
		}
		sample(&b, def.Name+"_count", "", strconv.FormatUint(cumulative[len(cumulative)-1], 10))
		// Bucket counts only; no sum is kept.
		sample(&b, def.Name+"_sum", "", "0")
	}

	for _, def := range internaldefs.EngineDefs {
		kind := "counter"
		if def.Kind == internaldefs.KindGauge {
			kind = "gauge"
		}
		family(&b, def.Name, def.Help, kind)
		sample(&b, def.Name, "", strconv.FormatFloat(def.Read(p.source), 'g', -1, 64))
	}

	return b.String()
}

func family(b *strings.Builder, name, help, kind string) {
	b.WriteString("# HELP " + name + " " + escapeHelp(help) + "\n")
	b.WriteString("# TYPE " + name + " " + kind + "\n")
}

func sample(b *strings.Builder, name, labels, value string) {
	b.WriteString(name)
	if labels != "" {
		b.WriteString("{" + labels + "}")
	}
	b.WriteString(" " + value + "\n")
}

func escapeHelp(help string) string {
	return strings.NewReplacer(`\`, `\\`, "\n", `\n`).Replace(help)
}
