package giftcards

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cardsIssuedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gift_cards_issued_total",
		Help: "Total number of gift cards issued",
	})

	cardsRedeemedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gift_cards_redemptions_total",
		Help: "Total number of gift card redemptions",
	})

	redeemedValueTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gift_cards_redeemed_value_total",
		Help: "Total monetary value redeemed from gift cards",
	}, []string{"currency"})

	cardsExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gift_cards_expired_total",
		Help: "Total number of gift cards expired by the sweep",
	})
)
