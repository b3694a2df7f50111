package broker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/helianthus/broker/internal/txn"
)

// MetricsText renders the broker's Prometheus metrics in text
// exposition format.
func (b *Broker) MetricsText() (string, error) {
	return b.metrics.TextExport()
}

// MetricsHandler returns an http.Handler a caller-owned mux can mount
// as a scrape endpoint. The broker never listens on a port itself.
func (b *Broker) MetricsHandler() http.Handler {
	return b.metrics.Handler()
}

// MetricsGatherer exposes the underlying Prometheus gatherer directly,
// for embedders that already run their own registry and want to merge
// collectors rather than scrape the rendered text.
func (b *Broker) MetricsGatherer() prometheus.Gatherer {
	return b.metrics.Gatherer()
}

// PerformanceStats summarizes the memory-pool/zero-copy/batch fast
// path alongside transaction throughput, for a single snapshot
// covering everything §4.11 and §4.5 track numerically.
type PerformanceStats struct {
	Pool  PoolStats
	Txn   txn.Stats
	Codec map[string]CodecStats
}

// PoolStats mirrors internal/mempool.Pool's Snapshot, re-exported so
// callers never need to import internal/.
type PoolStats struct {
	TotalBlocks  int
	Hits         int64
	Misses       int64
	DirectAllocs int64
}

// CodecStats mirrors internal/codec.Pipeline's Snapshot for one named
// queue's compression/encryption pipeline.
type CodecStats struct {
	TotalSeen          int64
	CompressedMessages int64
	CompressionRatio   float64
	MeanCompressMs     float64
	MeanDecompressMs   float64
	EncryptedMessages  int64
	MeanEncryptMs      float64
	MeanDecryptMs      float64
}

// Performance returns a snapshot of the fast-path and transaction
// counters (§4.7's PerformanceStats).
func (b *Broker) Performance() PerformanceStats {
	poolSnap := b.pool.Snapshot()

	b.codecsMu.RLock()
	codecs := make(map[string]CodecStats, len(b.codecs))
	for name, pipeline := range b.codecs {
		s := pipeline.Snapshot()
		codecs[name] = CodecStats{
			TotalSeen:          s.TotalSeen,
			CompressedMessages: s.CompressedMessages,
			CompressionRatio:   s.CompressionRatio,
			MeanCompressMs:     s.MeanCompressMs,
			MeanDecompressMs:   s.MeanDecompressMs,
			EncryptedMessages:  s.EncryptedMessages,
			MeanEncryptMs:      s.MeanEncryptMs,
			MeanDecryptMs:      s.MeanDecryptMs,
		}
	}
	b.codecsMu.RUnlock()

	return PerformanceStats{
		Pool: PoolStats{
			TotalBlocks:  poolSnap.TotalBlocks,
			Hits:         poolSnap.Hits,
			Misses:       poolSnap.Misses,
			DirectAllocs: poolSnap.Direct,
		},
		Txn:   b.txns.Stats(),
		Codec: codecs,
	}
}
