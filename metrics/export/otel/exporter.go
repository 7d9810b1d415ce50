package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/sessionauth"
	"github.com/MrEthical07/sessionauth/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type counterInstrument struct {
	id sessionauth.MetricID
	ob metric.Int64ObservableCounter
}

type histogramInstruments struct {
	id      sessionauth.MetricID
	buckets [8]metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

type engineInstrument struct {
	def internaldefs.EngineDef
	ob  metric.Float64Observable
}

// OTelExporter bridges an engine's counters into observable instruments.
// A single callback takes one snapshot per collection.
type OTelExporter struct {
	source       internaldefs.Source
	registration metric.Registration

	counters   []counterInstrument
	histograms []histogramInstruments
	engine     []engineInstrument
}

// NewOTelExporter registers instruments on meter that read from engine.
func NewOTelExporter(meter metric.Meter, engine *sessionauth.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

// NewOTelExporterFromSource registers instruments that read from source.
func NewOTelExporterFromSource(meter metric.Meter, source internaldefs.Source) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}
	var observables []metric.Observable

	for _, def := range internaldefs.CounterDefs {
		ob, err := meter.Int64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		if err != nil {
			return nil, fmt.Errorf("counter %s: %w", def.Name, err)
		}
		e.counters = append(e.counters, counterInstrument{id: def.ID, ob: ob})
		observables = append(observables, ob)
	}

	for _, def := range internaldefs.HistogramDefs {
		h := histogramInstruments{id: def.ID}
		for i, suffix := range internaldefs.HistogramBoundSuffix {
			name := def.Name + "_bucket_le_" + suffix
			ob, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative bucket count of "+def.Name+"."))
			if err != nil {
				return nil, fmt.Errorf("bucket %s: %w", name, err)
			}
			h.buckets[i] = ob
			observables = append(observables, ob)
		}
		ob, err := meter.Int64ObservableGauge(def.Name+"_count", metric.WithDescription("Sample count of "+def.Name+"."))
		if err != nil {
			return nil, fmt.Errorf("count %s: %w", def.Name, err)
		}
		h.count = ob
		observables = append(observables, ob)
		e.histograms = append(e.histograms, h)
	}

	for _, def := range internaldefs.EngineDefs {
		var (
			ob  metric.Float64Observable
			err error
		)
		switch def.Kind {
		case internaldefs.KindGauge:
			ob, err = meter.Float64ObservableGauge(def.Name, metric.WithDescription(def.Help))
		default:
			ob, err = meter.Float64ObservableCounter(def.Name, metric.WithDescription(def.Help))
		}
		if err != nil {
			return nil, fmt.Errorf("engine value %s: %w", def.Name, err)
		}
		e.engine = append(e.engine, engineInstrument{def: def, ob: ob})
		observables = append(observables, ob)
	}

	reg, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = reg
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()

	for _, c := range e.counters {
		o.ObserveInt64(c.ob, int64(snapshot.Counters[c.id]))
	}
	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
		for i := range cumulative {
			o.ObserveInt64(h.buckets[i], int64(cumulative[i]))
		}
		o.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
	}
	for _, v := range e.engine {
		o.ObserveFloat64(v.ob, v.def.Read(e.source))
	}
	return nil
}

// Close unregisters the callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
