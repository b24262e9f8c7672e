package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SharechainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "p2pool",
		Name:      "sharechain_height",
		Help:      "Number of shares in the sharechain.",
	})

	MinersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "p2pool",
		Name:      "miners_connected",
		Help:      "Number of active stratum miner sessions.",
	})

	PeersConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "p2pool",
		Name:      "peers_connected",
		Help:      "Number of connected P2P peers.",
	})

	ShareDifficulty = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "p2pool",
		Name:      "share_difficulty",
		Help:      "Current sharechain difficulty.",
	})

	PoolHashrate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "p2pool",
		Name:      "pool_hashrate",
		Help:      "Estimated pool hashrate in H/s.",
	})

	LocalHashrate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "p2pool",
		Name:      "local_hashrate",
		Help:      "Estimated local miner hashrate in H/s.",
	})

	BlocksFound = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "p2pool",
		Name:      "blocks_found_total",
		Help:      "Total Bitcoin blocks found by the pool.",
	})

	SharesAccepted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "p2pool",
		Name:      "stratum_shares_accepted_total",
		Help:      "Total valid stratum shares accepted.",
	})

	SharesRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "p2pool",
		Name:      "stratum_shares_rejected_total",
		Help:      "Total stratum shares rejected.",
	})

	BlockSubmissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "p2pool",
		Name:      "block_submissions_total",
		Help:      "Block submission attempts by result.",
	}, []string{"result"})

	UptimeSeconds = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "p2pool",
		Name:      "uptime_seconds",
		Help:      "Node uptime in seconds.",
	})

	AuxBlocksFound = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "p2pool",
		Name:      "auxpow_blocks_found_total",
		Help:      "Total auxiliary chain blocks found via merged mining, by chain name.",
	}, []string{"chain"})

	AuxSubmissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "p2pool",
		Name:      "auxpow_submissions_total",
		Help:      "Auxiliary chain block submission attempts by chain and result.",
	}, []string{"chain", "result"})

	MergeMiningChains = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "p2pool",
		Name:      "merge_mining_chains",
		Help:      "Number of auxiliary chains currently merge-mined.",
	})

	PeersBanned = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "p2pool",
		Name:      "peers_banned",
		Help:      "Number of peers currently over the ban-score threshold.",
	})

	PeerBanScore = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "p2pool",
		Name:      "peer_ban_score",
		Help:      "Current ban score of a peer, keyed by peer ID.",
	}, []string{"peer"})

	TemplateRawFallbackTxs = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "p2pool",
		Name:      "template_raw_fallback_txs",
		Help:      "Transactions in the current block template carried as opaque raw bytes because structured decode failed (e.g. Litecoin MWEB HogEx).",
	})
)

func init() {
	prometheus.MustRegister(
		SharechainHeight,
		MinersConnected,
		PeersConnected,
		ShareDifficulty,
		PoolHashrate,
		LocalHashrate,
		BlocksFound,
		SharesAccepted,
		SharesRejected,
		BlockSubmissions,
		UptimeSeconds,
		AuxBlocksFound,
		AuxSubmissions,
		MergeMiningChains,
		PeersBanned,
		PeerBanScore,
		TemplateRawFallbackTxs,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
