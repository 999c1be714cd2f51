// Package metrics exports relay counters and queue gauges to Prometheus.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	vaaLib "github.com/wormhole-foundation/wormhole/sdk/vaa"

	"github.com/wormhole-demo/swim-relayer/internal/relayer"
	"github.com/wormhole-demo/swim-relayer/internal/store"
)

const namespace = "swim_relayer"

type Metrics struct {
	successes  *prometheus.CounterVec
	failures   *prometheus.CounterVec
	confirmed  *prometheus.CounterVec
	rollbacks  *prometheus.CounterVec
	queueDepth *prometheus.GaugeVec
	backupSize prometheus.GaugeFunc
}

var _ relayer.Metrics = (*Metrics)(nil)

// New registers the relayer metrics with reg. backupLen, when non-nil, backs
// the backup list size gauge.
func New(reg prometheus.Registerer, backupLen func() int) *Metrics {
	counter := func(name, help string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{"chain"})
	}

	m := &Metrics{
		successes: counter("relay_successes_total", "Redemptions that completed on the target chain."),
		failures:  counter("relay_failures_total", "Relay attempts that did not complete."),
		confirmed: counter("audit_confirmed_total", "Completed redemptions confirmed by the auditor."),
		rollbacks: counter("audit_rollbacks_total", "Completed entries the auditor could not confirm and requeued."),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Queued VAAs per table and source -> target route.",
		}, []string{"table", "source", "target"}),
	}
	reg.MustRegister(m.successes, m.failures, m.confirmed, m.rollbacks, m.queueDepth)

	if backupLen != nil {
		m.backupSize = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "backup_list_size",
			Help:      "Accepted VAAs waiting in memory for the queue store.",
		}, func() float64 { return float64(backupLen()) })
		reg.MustRegister(m.backupSize)
	}
	return m
}

func chainLabel(c vaaLib.ChainID) string {
	return strconv.Itoa(int(c))
}

func (m *Metrics) IncSuccesses(c vaaLib.ChainID) { m.successes.WithLabelValues(chainLabel(c)).Inc() }

func (m *Metrics) IncFailures(c vaaLib.ChainID) { m.failures.WithLabelValues(chainLabel(c)).Inc() }

func (m *Metrics) IncConfirmed(c vaaLib.ChainID) { m.confirmed.WithLabelValues(chainLabel(c)).Inc() }

func (m *Metrics) IncRollback(c vaaLib.ChainID) { m.rollbacks.WithLabelValues(chainLabel(c)).Inc() }

// SetQueueDepths replaces every gauge of the table, so routes that emptied
// disappear.
func (m *Metrics) SetQueueDepths(t store.Table, depths map[relayer.ChainPair]int) {
	m.queueDepth.DeletePartialMatch(prometheus.Labels{"table": string(t)})
	for pair, n := range depths {
		m.queueDepth.WithLabelValues(string(t), chainLabel(pair.Source), chainLabel(pair.Target)).Set(float64(n))
	}
}
