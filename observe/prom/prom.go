// Package prom exports scope lifecycle events as Prometheus metrics.
package prom

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "async"

// Metrics implements scope.Observer on Prometheus collectors.
type Metrics struct {
	activeTasks   prometheus.Gauge
	tasksStarted  prometheus.Counter
	tasksFinished *prometheus.CounterVec
	taskDuration  prometheus.Histogram

	scopesCreated prometheus.Counter
	joinWait      prometheus.Histogram
}

// New returns a Metrics observer registered on reg. A nil reg leaves the
// collectors unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		activeTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "scope", Name: "active_tasks",
			Help: "Operations spawned and not yet completed.",
		}),
		tasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scope", Name: "tasks_started_total",
			Help: "Operations spawned.",
		}),
		tasksFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scope", Name: "tasks_finished_total",
			Help: "Operations completed, by outcome.",
		}, []string{"outcome"}),
		taskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "scope", Name: "task_duration_seconds",
			Help:    "Time from spawn to completion.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
		scopesCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "scope", Name: "created_total",
			Help: "Scopes created.",
		}),
		joinWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "scope", Name: "join_wait_seconds",
			Help:    "Time spent blocked in Join.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}),
	}
	if reg != nil {
		reg.MustRegister(m.collectors()...)
	}
	return m
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.activeTasks, m.tasksStarted, m.tasksFinished,
		m.taskDuration, m.scopesCreated, m.joinWait,
	}
}

func (m *Metrics) ScopeCreated() { m.scopesCreated.Inc() }

func (m *Metrics) TaskSpawned() {
	m.activeTasks.Inc()
	m.tasksStarted.Inc()
}

func (m *Metrics) TaskFinished(dur time.Duration, err error, panicked bool) {
	m.activeTasks.Dec()
	m.tasksFinished.WithLabelValues(outcome(err, panicked)).Inc()
	m.taskDuration.Observe(dur.Seconds())
}

func (m *Metrics) ScopeJoined(wait time.Duration) {
	m.joinWait.Observe(wait.Seconds())
}

func outcome(err error, panicked bool) string {
	switch {
	case panicked:
		return "panic"
	case err != nil:
		return "error"
	default:
		return "ok"
	}
}

// Snapshot is a point-in-time copy of the metric values.
type Snapshot struct {
	ActiveTasks   int64
	TasksStarted  int64
	TasksFinished int64
	TasksErrored  int64
	TasksPanicked int64
	TaskDurSum    time.Duration
	ScopesCreated int64
	Joins         int64
	JoinWaitSum   time.Duration
}

// GetSnapshot reads the collectors back into a Snapshot.
func (m *Metrics) GetSnapshot() Snapshot {
	ok := counterValue(m.tasksFinished.WithLabelValues("ok"))
	errored := counterValue(m.tasksFinished.WithLabelValues("error"))
	panicked := counterValue(m.tasksFinished.WithLabelValues("panic"))
	dur := histogram(m.taskDuration)
	join := histogram(m.joinWait)
	return Snapshot{
		ActiveTasks:   int64(gaugeValue(m.activeTasks)),
		TasksStarted:  int64(counterValue(m.tasksStarted)),
		TasksFinished: int64(ok + errored + panicked),
		TasksErrored:  int64(errored),
		TasksPanicked: int64(panicked),
		TaskDurSum:    seconds(dur.GetSampleSum()),
		ScopesCreated: int64(counterValue(m.scopesCreated)),
		Joins:         int64(join.GetSampleCount()),
		JoinWaitSum:   seconds(join.GetSampleSum()),
	}
}

func seconds(s float64) time.Duration { return time.Duration(s * float64(time.Second)) }

func write(c prometheus.Metric) *dto.Metric {
	var out dto.Metric
	if err := c.Write(&out); err != nil {
		return &dto.Metric{}
	}
	return &out
}

func counterValue(c prometheus.Counter) float64 { return write(c).GetCounter().GetValue() }

func gaugeValue(g prometheus.Gauge) float64 { return write(g).GetGauge().GetValue() }

func histogram(h prometheus.Histogram) *dto.Histogram { return write(h).GetHistogram() }
