package pricefeed

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/xerrors"

	logging "github.com/mercato/go-mercato/lib/log"
	"github.com/mercato/go-mercato/lib/types"
)

var logger = logging.Logger("pricefeed")

// quoteDoc is one entry of the provider's json response.
type quoteDoc struct {
	CurrencyCode string  `json:"currencyCode"`
	Bid          float64 `json:"bid"`
	Ask          float64 `json:"ask"`
}

// Service polls an external price provider and caches the latest quotes. A
// currency the provider never reported resolves to ok=false, which downstream
// consumers treat as market-price-not-available rather than an error.
type Service struct {
	url      string
	interval time.Duration
	client   *http.Client

	mu     sync.RWMutex
	quotes map[string]types.Quote
}

var _ types.PriceFeed = (*Service)(nil)

func New(url string, interval time.Duration) *Service {
	if interval <= 0 {
		interval = 90 * time.Second
	}
	return &Service{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: 30 * time.Second},
		quotes:   make(map[string]types.Quote),
	}
}

// Run polls until the context ends. The first poll happens immediately so
// offers get prices as soon as possible after startup.
func (s *Service) Run(ctx context.Context) {
	if err := s.poll(ctx); err != nil {
		logger.Warnw("initial price poll failed", "err", err)
	}

	tk := time.NewTicker(s.interval)
	defer tk.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
			if err := s.poll(ctx); err != nil {
				// keep serving the last good quotes
				logger.Warnw("price poll failed", "err", err)
			}
		}
	}
}

func (s *Service) poll(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return xerrors.Errorf("price provider returned %s", resp.Status)
	}

	var docs []quoteDoc
	if err := json.NewDecoder(resp.Body).Decode(&docs); err != nil {
		return xerrors.Errorf("decode price response: %w", err)
	}

	s.mu.Lock()
	for _, d := range docs {
		if d.CurrencyCode == "" || d.Bid <= 0 || d.Ask <= 0 {
			continue
		}
		s.quotes[d.CurrencyCode] = types.Quote{Bid: d.Bid, Ask: d.Ask}
	}
	s.mu.Unlock()

	logger.Debugw("price quotes updated", "count", len(docs))
	return nil
}

func (s *Service) MarketPrice(currencyCode string) (types.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[currencyCode]
	return q, ok
}

// Static is a fixed-quote feed for standalone operation and tests.
type Static struct {
	mu     sync.RWMutex
	quotes map[string]types.Quote
}

var _ types.PriceFeed = (*Static)(nil)

func NewStatic() *Static {
	return &Static{quotes: make(map[string]types.Quote)}
}

func (s *Static) SetQuote(currencyCode string, q types.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[currencyCode] = q
}

func (s *Static) Remove(currencyCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.quotes, currencyCode)
}

func (s *Static) MarketPrice(currencyCode string) (types.Quote, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[currencyCode]
	return q, ok
}
