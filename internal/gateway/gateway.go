// Package gateway wraps the NetPay payment provider. It creates payment
// orders over a signed HTTP API, verifies inbound callbacks, and relays the
// provider's asynchronous transaction notices. It never mutates application
// state; it only reports gateway truth.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"eventmart/utils"

	pubnub "github.com/pubnub/go/v7"
	"github.com/shopspring/decimal"
)

var ErrOrderNotFound = errors.New("netpay: order not found")

// Order states the poll endpoint reports.
const (
	OrderStatePending = "PENDING"
	OrderStatePaid    = "PAID"
	OrderStateExpired = "EXPIRED"
)

type Config struct {
	BaseURL        string `json:"base_url"`
	MerchantID     string `json:"merchant_id"`
	ClientID       string `json:"client_id"`
	ClientKey      string `json:"client_key"`
	HMACKey        string `json:"hmac_key"`
	CallbackSecret string `json:"callback_secret"`

	PNSubKey    string `json:"pn_subkey"`
	PNSubSecret string `json:"pn_subsecret"`
	PNUUID      string `json:"pn_uuid"`
	PNChannel   string `json:"pn_channel"`
	PNCipherKey string `json:"pn_cipherkey"`
}

// Intent is the result of creating a payment order.
type Intent struct {
	ProviderOrderID string `json:"provider_order_id"`
	PayCode         string `json:"pay_code"`
}

// OrderStatus is the provider's view of an order, from the poll endpoint.
type OrderStatus struct {
	ProviderOrderID   string          `json:"provider_order_id"`
	ProviderPaymentID string          `json:"provider_payment_id"`
	State             string          `json:"state"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
}

// CallbackNotice carries one provider notification, whether it arrived via
// the HTTP callback or the PubNub channel. Signature covers
// "orderId|paymentId" with the callback secret.
type CallbackNotice struct {
	ProviderOrderID   string `json:"orderId"`
	ProviderPaymentID string `json:"paymentId"`
	Signature         string `json:"signature"`
	Status            string `json:"status"`
	CreatedAt         string `json:"txnDateTime"`
}

// NetPay is the gateway adapter.
type NetPay struct {
	callbackSecret string
	currencyHint   string

	client  *client
	breaker *utils.CircuitBreaker

	pnChannels []string
	sub        *subscribe
}

// New authenticates with the NetPay backend and starts the PubNub
// subscription for asynchronous transaction notices.
func New(ctx context.Context, cfg *Config) (*NetPay, error) {
	c := newClient(cfg)

	// Connect to NetPay backend. Get access token.
	token, err := c.connect(ctx)
	if err != nil {
		return nil, err
	}
	c.setAccessToken(token)

	// Notify access token expired.
	go c.notifyAccessTokenExpired(ctx)

	n := &NetPay{
		callbackSecret: cfg.CallbackSecret,
		client:         c,
		breaker:        utils.NewCircuitBreaker("netpay"),
		pnChannels:     []string{cfg.PNChannel},
	}

	if cfg.PNSubKey != "" {
		pnCfg := pubnub.NewConfigWithUserId(pubnub.UserId(cfg.PNUUID))
		pnCfg.SubscribeKey = cfg.PNSubKey
		pnCfg.SecretKey = cfg.PNSubSecret
		pnCfg.CipherKey = cfg.PNCipherKey

		sub, err := n.newSubscription(ctx, pnCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to subscribe to NetPay's PubNub channel: %w", err)
		}
		sub.pn.AddListener(sub.lis)
		sub.pn.Subscribe().Channels(n.pnChannels).Execute()
		n.sub = sub
	}

	return n, nil
}

// CreateIntent registers a payment order for the transaction. Callers skip
// this entirely when the amount is zero.
func (n *NetPay) CreateIntent(ctx context.Context, amount decimal.Decimal, currency, transactionID string) (*Intent, error) {
	var intent *Intent
	err := n.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		intent, err = n.client.createOrder(ctx, amount, currency, transactionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return intent, nil
}

// CheckOrder polls the provider for the order's current state.
func (n *NetPay) CheckOrder(ctx context.Context, providerOrderID string) (*OrderStatus, error) {
	var st *OrderStatus
	err := n.breaker.Do(ctx, func(ctx context.Context) error {
		var err error
		st, err = n.client.checkOrder(ctx, providerOrderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// VerifyCallback recomputes the callback MAC over "orderId|paymentId" and
// compares it in constant time. Missing fields are a plain failure, never
// an error.
func (n *NetPay) VerifyCallback(providerOrderID, providerPaymentID, signature string) bool {
	if providerOrderID == "" || providerPaymentID == "" || signature == "" {
		return false
	}

	payload := providerOrderID + "|" + providerPaymentID
	expected := Hmac256([]byte(payload), []byte(n.callbackSecret))
	return hmacEqual(signature, expected)
}

// SignCallback produces the MAC a well-formed callback would carry. Used by
// the development-only callback simulator.
func (n *NetPay) SignCallback(providerOrderID, providerPaymentID string) string {
	return Hmac256([]byte(providerOrderID+"|"+providerPaymentID), []byte(n.callbackSecret))
}

// SetNoticeChannel sets the channel that receives asynchronous transaction
// notices from the PubNub subscription.
func (n *NetPay) SetNoticeChannel(ch chan *CallbackNotice) {
	if n.sub != nil {
		n.sub.ch = ch
	}
}

// Close stops the PubNub subscription.
func (n *NetPay) Close(_ context.Context) error {
	if n.sub != nil {
		n.sub.pn.UnsubscribeAll()
	}
	return nil
}

type subscribe struct {
	pn  *pubnub.PubNub
	lis *pubnub.Listener
	ch  chan *CallbackNotice
}

func (n *NetPay) newSubscription(ctx context.Context, pnCfg *pubnub.Config) (*subscribe, error) {
	sub := &subscribe{
		pn:  pubnub.NewPubNub(pnCfg),
		lis: pubnub.NewListener(),
	}

	go sub.processSubscription(ctx)

	return sub, nil
}

func (s *subscribe) processSubscription(ctx context.Context) {
	listener := s.lis
	for {
		select {
		case st := <-listener.Status:
			switch st.Category {
			case pubnub.PNConnectedCategory:
				log.Println("connected to netpay pubnub")

			case pubnub.PNReconnectedCategory:
				log.Println("reconnected to netpay pubnub")

			case pubnub.PNDisconnectedCategory:
				log.Println("disconnected from netpay pubnub")

			default:
				log.Printf("netpay pubnub status category: %v", st.Category)
			}

		case message := <-listener.Message:
			raw, ok := message.Message.(string)
			if !ok {
				b, err := json.Marshal(message.Message)
				if err != nil {
					log.Printf("netpay notice: unexpected payload: %v", err)
					continue
				}
				raw = string(b)
			}

			var notice CallbackNotice
			dec := json.NewDecoder(strings.NewReader(raw))
			if err := dec.Decode(&notice); err != nil {
				log.Printf("netpay notice: decode: %v", err)
				continue
			}

			if s.ch != nil {
				s.ch <- &notice
			}

		case <-ctx.Done():
			log.Println("close netpay subscription")
			return
		}
	}
}

// ParseNoticeTime parses the provider's local-time timestamp format.
func ParseNoticeTime(v string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02 15:04:05", v, time.Local)
}
