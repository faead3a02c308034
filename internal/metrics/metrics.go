// Package metrics exposes engine counters to Prometheus, fed from the event
// bus so no core package depends on the metrics registry.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"streamvault/internal/eventbus"
	"streamvault/internal/evaluator"
	"streamvault/internal/job"
)

type Metrics struct {
	registry prometheus.Registerer

	jobsCreated     prometheus.Counter
	transitions     *prometheus.CounterVec
	jobsFinished    *prometheus.CounterVec
	autoResumes     prometheus.Counter
	activeJobs      prometheus.Gauge
	recordedSeconds *prometheus.CounterVec
	eventsDropped   prometheus.Gauge
}

func Init(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		registry: reg,
		jobsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_created_total",
				Help:      "Total number of download jobs created",
			},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "job_transitions_total",
				Help:      "Total accepted job state transitions",
			},
			[]string{"state"},
		),
		jobsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_finished_total",
				Help:      "Total jobs that reached a terminal state",
			},
			[]string{"state", "reason"},
		),
		autoResumes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auto_resumes_total",
				Help:      "Total recordings auto-resumed after a mid-window failure",
			},
		),
		activeJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "jobs_active",
				Help:      "Number of non-terminal download jobs",
			},
		),
		recordedSeconds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recorded_seconds_total",
				Help:      "Total seconds of media recorded, by terminal state",
			},
			[]string{"state"},
		),
		eventsDropped: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "bus_events_dropped_total",
				Help:      "Events lost to slow bus subscribers",
			},
		),
	}

	reg.MustRegister(
		m.jobsCreated,
		m.transitions,
		m.jobsFinished,
		m.autoResumes,
		m.activeJobs,
		m.recordedSeconds,
		m.eventsDropped,
	)

	return m
}

// Feed consumes bus events until ctx is done. Intended to run under the
// goroutine supervisor.
func (m *Metrics) Feed(ctx context.Context, bus eventbus.Bus, reg *job.Registry) {
	events, unsub := bus.Subscribe(64)
	defer unsub()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.consume(ev)
			m.activeJobs.Set(float64(reg.CountActive()))
			m.eventsDropped.Set(float64(bus.Dropped()))
		}
	}
}

func (m *Metrics) consume(ev eventbus.Event) {
	switch ev.Type {
	case job.EventJobTransition:
		te, ok := ev.Data.(job.TransitionEvent)
		if !ok {
			return
		}
		m.transitions.WithLabelValues(string(te.Job.State)).Inc()
		if te.From == job.StateCreated && te.Job.State == job.StateProbing {
			m.jobsCreated.Inc()
		}
		if te.Job.State.Terminal() {
			m.jobsFinished.WithLabelValues(string(te.Job.State), string(te.Job.StopReason)).Inc()
			if dur := recordedDuration(te.Job); dur > 0 {
				m.recordedSeconds.WithLabelValues(string(te.Job.State)).Add(dur.Seconds())
			}
		}
	case evaluator.EventAutoResume:
		m.autoResumes.Inc()
	}
}

func recordedDuration(j job.DownloadJob) time.Duration {
	if j.Elapsed > 0 {
		return j.Elapsed
	}
	if !j.StartedAt.IsZero() && !j.EndedAt.IsZero() {
		return j.EndedAt.Sub(j.StartedAt)
	}
	return 0
}
