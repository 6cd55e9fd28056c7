package ledger

import "github.com/prometheus/client_golang/prometheus"

// Collector exposes chain size and integrity as prometheus gauges. Validity
// is recomputed on every scrape.
type Collector struct {
	chain  *Chain
	blocks *prometheus.Desc
	valid  *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector builds a collector for chain under the given namespace.
func NewCollector(chain *Chain, namespace string) *Collector {
	return &Collector{
		chain: chain,
		blocks: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "ledger", "blocks"),
			"Number of blocks in the ledger, genesis included.",
			nil, nil,
		),
		valid: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "ledger", "valid"),
			"1 when every block re-hashes and links to its predecessor.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.blocks
	ch <- c.valid
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	info := c.chain.Info()
	valid := 0.0
	if info.IsValid {
		valid = 1
	}
	ch <- prometheus.MustNewConstMetric(c.blocks, prometheus.GaugeValue, float64(info.TotalBlocks))
	ch <- prometheus.MustNewConstMetric(c.valid, prometheus.GaugeValue, valid)
}
