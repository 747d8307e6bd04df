package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SharechainHeight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sharechain",
		Name:      "height",
		Help:      "Height of the best verified share.",
	})

	VerifiedHeads = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sharechain",
		Name:      "verified_heads",
		Help:      "Number of verified chain tips think() is currently choosing between.",
	})

	ShareDifficulty = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sharechain",
		Name:      "share_difficulty",
		Help:      "Difficulty of the best verified share's target.",
	})

	PoolHashrate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "sharechain",
		Name:      "pool_hashrate",
		Help:      "Estimated combined pool hashrate in H/s, from recent share attempts.",
	})

	BlocksFound = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sharechain",
		Name:      "blocks_found_total",
		Help:      "Shares that also met the parent chain's block target.",
	})

	SharesVerified = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sharechain",
		Name:      "shares_verified_total",
		Help:      "Shares that passed Check and were promoted into the verified tracker.",
	})

	SharesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sharechain",
		Name:      "shares_rejected_total",
		Help:      "Shares that failed Check, by error kind.",
	}, []string{"reason"})

	Punishments = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "sharechain",
		Name:      "punishments_total",
		Help:      "Times think() marked a previously unpunished verified head as punished.",
	})

	ThinkDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sharechain",
		Name:      "think_duration_seconds",
		Help:      "Wall-clock time spent in a single think() pass.",
	})
)

func init() {
	prometheus.MustRegister(
		SharechainHeight,
		VerifiedHeads,
		ShareDifficulty,
		PoolHashrate,
		BlocksFound,
		SharesVerified,
		SharesRejected,
		Punishments,
		ThinkDuration,
	)
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
