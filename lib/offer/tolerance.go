package offer

import (
	"errors"
	"fmt"
	"math"

	"github.com/mercato/go-mercato/build"
)

var (
	// ErrInvalidPrice rejects non-positive taker prices before any
	// comparison happens.
	ErrInvalidPrice = errors.New("takers trade price must be positive")

	// ErrPriceUnavailable means our own offer price could not be resolved
	// because the market quote is missing.
	ErrPriceUnavailable = errors.New("market price required for calculating trade price is not available")
)

// tolerance as a ratio, kept in sync with build.PriceTolerance; the check
// runs on integers so the exact 2% boundary accepts
const (
	toleranceNum = 2
	toleranceDen = 100
)

// OutOfToleranceError carries both compared prices for diagnostics.
type OutOfToleranceError struct {
	TakerPrice int64
	OfferPrice int64
}

func (e *OutOfToleranceError) Error() string {
	return fmt.Sprintf("takers trade price %d is too far from our calculated price %d",
		e.TakerPrice, e.OfferPrice)
}

// CheckTradePriceTolerance accepts iff |1 - takerPrice/offerPrice| <= 2%.
// Maker and taker may observe slightly different market snapshots, so some
// deviation between the two independently calculated prices is expected.
func CheckTradePriceTolerance(takerPrice, offerPrice int64) error {
	if takerPrice <= 0 {
		return ErrInvalidPrice
	}
	if offerPrice <= 0 {
		return ErrPriceUnavailable
	}

	diff := takerPrice - offerPrice
	if diff < 0 {
		diff = -diff
	}

	if diff*toleranceDen > offerPrice*toleranceNum {
		return &OutOfToleranceError{TakerPrice: takerPrice, OfferPrice: offerPrice}
	}
	return nil
}

// VerifyTakersTradePrice resolves our own offer price and checks the taker's
// proposal against it. Must run fresh for every availability request.
func (o *Offer) VerifyTakersTradePrice(takerPrice int64) error {
	if takerPrice <= 0 {
		return ErrInvalidPrice
	}

	offerPrice, ok := o.Price()
	if !ok {
		return ErrPriceUnavailable
	}

	err := CheckTradePriceTolerance(takerPrice, offerPrice)
	if err != nil {
		var oot *OutOfToleranceError
		if errors.As(err, &oot) {
			deviation := math.Abs(1 - float64(takerPrice)/float64(offerPrice))
			logger.Warnw("trade price out of tolerance",
				"offer", o.ShortID(),
				"takersPrice", takerPrice,
				"makersPrice", offerPrice,
				"deviation", fmt.Sprintf("%.2f%%", deviation*100),
				"tolerance", fmt.Sprintf("%.2f%%", build.PriceTolerance*100))
		}
		return err
	}
	return nil
}
