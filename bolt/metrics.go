package bolt

import (
	"github.com/prometheus/client_golang/prometheus"
	bolt "go.etcd.io/bbolt"
)

var _ prometheus.Collector = (*Adapter[string])(nil)

var (
	appliedDesc = prometheus.NewDesc(
		"dagmigrate_bolt_applied_migrations",
		"Number of migrations recorded as applied in the bucket",
		[]string{"bucket"}, nil)

	boltWritesDesc = prometheus.NewDesc(
		"boltdb_writes_total",
		"Total number of boltdb writes",
		nil, nil)

	boltReadsDesc = prometheus.NewDesc(
		"boltdb_reads_total",
		"Total number of boltdb reads",
		nil, nil)
)

// Describe returns all descriptions of the collector.
func (a *Adapter[I]) Describe(ch chan<- *prometheus.Desc) {
	ch <- appliedDesc
	ch <- boltWritesDesc
	ch <- boltReadsDesc
}

// Collect returns the current state of all metrics of the collector.
func (a *Adapter[I]) Collect(ch chan<- prometheus.Metric) {
	db := a.store.DB()
	if db == nil {
		return
	}

	stats := db.Stats()
	ch <- prometheus.MustNewConstMetric(
		boltReadsDesc,
		prometheus.CounterValue,
		float64(stats.TxN),
	)
	ch <- prometheus.MustNewConstMetric(
		boltWritesDesc,
		prometheus.CounterValue,
		float64(stats.TxStats.Write),
	)

	applied := 0
	_ = db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(a.bucket); b != nil {
			applied = b.Stats().KeyN
		}
		return nil
	})
	ch <- prometheus.MustNewConstMetric(
		appliedDesc,
		prometheus.GaugeValue,
		float64(applied),
		string(a.bucket),
	)
}
