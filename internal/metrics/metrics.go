package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rudmsa/feedagg/internal/market"
)

// Collector holds the aggregation metrics. A nil *Collector is valid and
// records nothing.
type Collector struct {
	FramesReceived *prometheus.CounterVec
	TransportErrs  *prometheus.CounterVec
	DecodeErrs     *prometheus.CounterVec
	TradesInserted *prometheus.CounterVec
	BookUpdates    *prometheus.CounterVec
	ActiveSockets  prometheus.Gauge
	DroppedReplies prometheus.Counter
	DroppedTrades  prometheus.Counter
	DialDuration   *prometheus.HistogramVec
}

var channelLabels = []string{"exchange", "kind", "market"}

// NewCollector creates the collectors and registers them on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedagg_frames_received_total",
				Help: "Frames received from exchange feeds",
			},
			channelLabels,
		),
		TransportErrs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedagg_transport_errors_total",
				Help: "Transport errors reported by connection workers",
			},
			channelLabels,
		),
		DecodeErrs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedagg_decode_errors_total",
				Help: "Frames that failed to decode or did not match the channel kind",
			},
			channelLabels,
		),
		TradesInserted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedagg_trades_total",
				Help: "Canonical trades appended to tapes",
			},
			channelLabels,
		),
		BookUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "feedagg_book_updates_total",
				Help: "Book snapshots and deltas applied",
			},
			append(channelLabels, "op"),
		),
		ActiveSockets: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "feedagg_active_sockets",
				Help: "Currently open exchange connections",
			},
		),
		DroppedReplies: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "feedagg_dropped_responses_total",
				Help: "Responses dropped because their reply slot was already filled",
			},
		),
		DroppedTrades: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "feedagg_dropped_trades_total",
				Help: "Trade events dropped because the trade feed was full",
			},
		),
		DialDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "feedagg_dial_duration_seconds",
				Help:    "Time to open a connection and send the subscription",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"exchange", "result"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			c.FramesReceived, c.TransportErrs, c.DecodeErrs, c.TradesInserted, c.BookUpdates,
			c.ActiveSockets, c.DroppedReplies, c.DroppedTrades, c.DialDuration,
		)
	}
	return c
}

func labels(ch market.Channel) prometheus.Labels {
	return prometheus.Labels{
		"exchange": ch.Exchange.String(),
		"kind":     ch.Kind.String(),
		"market":   ch.Market,
	}
}

func (c *Collector) FrameReceived(ch market.Channel) {
	if c == nil {
		return
	}
	c.FramesReceived.With(labels(ch)).Inc()
}

func (c *Collector) TransportError(ch market.Channel) {
	if c == nil {
		return
	}
	c.TransportErrs.With(labels(ch)).Inc()
}

func (c *Collector) DecodeError(ch market.Channel) {
	if c == nil {
		return
	}
	c.DecodeErrs.With(labels(ch)).Inc()
}

func (c *Collector) TradesAdded(ch market.Channel, n int) {
	if c == nil {
		return
	}
	c.TradesInserted.With(labels(ch)).Add(float64(n))
}

func (c *Collector) BookUpdated(ch market.Channel, op string) {
	if c == nil {
		return
	}
	l := labels(ch)
	l["op"] = op
	c.BookUpdates.With(l).Inc()
}

func (c *Collector) SetActiveSockets(n int) {
	if c == nil {
		return
	}
	c.ActiveSockets.Set(float64(n))
}

func (c *Collector) ReplyDropped() {
	if c == nil {
		return
	}
	c.DroppedReplies.Inc()
}

func (c *Collector) TradeDropped() {
	if c == nil {
		return
	}
	c.DroppedTrades.Inc()
}

func (c *Collector) ObserveDial(ex market.Exchange, seconds float64, err error) {
	if c == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.DialDuration.WithLabelValues(ex.String(), result).Observe(seconds)
}
