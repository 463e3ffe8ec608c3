package offerbook

import (
	"context"
	"encoding/json"
	"time"
)

// OfferStats is the sanitized view of one offer for external statistics
// consumption. It carries no owner-identifying data.
type OfferStats struct {
	ID                  string  `json:"id"`
	Direction           string  `json:"direction"`
	CurrencyCode        string  `json:"currencyCode"`
	MinAmount           int64   `json:"minAmount"`
	Amount              int64   `json:"amount"`
	Price               int64   `json:"price"`
	Date                int64   `json:"date"`
	UseMarketBasedPrice bool    `json:"useMarketBasedPrice"`
	MarketPriceMargin   float64 `json:"marketPriceMargin"`
	PaymentMethodID     string  `json:"paymentMethod"`
	FeeTxID             string  `json:"offerFeeTxId"`
}

// StatsSink consumes serialized offer snapshots.
type StatsSink interface {
	PublishOfferStats(data []byte) error
}

// StatsPublisher periodically serializes a sanitized snapshot of all
// replicated offers. It only runs once the network layer reports itself
// bootstrapped; whether it runs at all is a configuration decision made by
// the caller.
type StatsPublisher struct {
	svc      *Service
	sink     StatsSink
	interval time.Duration
}

func NewStatsPublisher(svc *Service, sink StatsSink, interval time.Duration) *StatsPublisher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &StatsPublisher{
		svc:      svc,
		sink:     sink,
		interval: interval,
	}
}

func (p *StatsPublisher) Run(ctx context.Context) {
	tk := time.NewTicker(p.interval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			if !p.svc.IsBootstrapped() {
				continue
			}
			p.publishOnce()
		}
	}
}

func (p *StatsPublisher) publishOnce() {
	offers := p.svc.ListAll()
	stats := make([]OfferStats, 0, len(offers))
	for _, o := range offers {
		price, ok := o.Price()
		if !ok {
			// one unresolvable offer must not abort the snapshot
			logger.Debugw("skipping offer in stats snapshot, no market price",
				"offer", o.ShortID())
			continue
		}
		t := o.Terms()
		stats = append(stats, OfferStats{
			ID:                  t.ID,
			Direction:           t.Direction.String(),
			CurrencyCode:        t.CurrencyCode(),
			MinAmount:           t.MinAmount,
			Amount:              t.Amount,
			Price:               price,
			Date:                t.CreatedAt,
			UseMarketBasedPrice: t.UseMarketBasedPrice,
			MarketPriceMargin:   t.MarketPriceMargin,
			PaymentMethodID:     t.PaymentMethodID,
			FeeTxID:             t.FeeTxID,
		})
	}

	data, err := json.Marshal(stats)
	if err != nil {
		logger.Errorw("failed to serialize offer stats", "err", err)
		return
	}
	if err := p.sink.PublishOfferStats(data); err != nil {
		logger.Warnw("failed to publish offer stats", "err", err)
	}
}
