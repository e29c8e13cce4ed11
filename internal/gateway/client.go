package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// client is the signed HTTP client for the NetPay backend. Every request
// body is signed with an HMAC-SHA256 SignedHash header; authenticated
// endpoints additionally carry the access token obtained from connect.
type client struct {
	baseURL    string
	merchantID string
	clientID   string
	clientKey  string
	hmacKey    string

	// accessToken authenticates calls to NetPay; guarded by mu.
	accessToken string
	mu          sync.Mutex

	// toggleTokenRefresher wakes the refresh loop after a 401.
	toggleTokenRefresher chan struct{}

	hc *http.Client
}

func newClient(c *Config) *client {
	return &client{
		baseURL:    c.BaseURL,
		merchantID: c.MerchantID,
		clientID:   c.ClientID,
		clientKey:  c.ClientKey,
		hmacKey:    c.HMACKey,

		// buffered so a 401 handler never blocks on the refresher.
		toggleTokenRefresher: make(chan struct{}, 1),

		hc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// notifyAccessTokenExpired renews the access token on a timer or when a
// request hits a 401, retrying with exponential backoff.
func (c *client) notifyAccessTokenExpired(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	for {
		select {
		case <-ctx.Done():
			ticker.Stop()
			return

		case <-ticker.C:

		case <-c.toggleTokenRefresher:
			log.Println("notifyAccessTokenExpired: toggleTokenRefresher => token refresh requested")
		}

		backOff := time.Second

	Retry:
		for {
			token, err := c.connect(ctx)
			switch err {
			case nil:
				c.setAccessToken(token)

				break Retry

			default:
				log.Printf("notifyAccessTokenExpired: %v", err)
				select {
				case <-ctx.Done():
					return

				case <-time.After(backOff):
					backOff *= 2
				}
			}
		}
	}
}

func (c *client) setAccessToken(accessToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = accessToken
}

func (c *client) getAccessToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accessToken
}

// connect performs authentication with the NetPay backend.
func (c *client) connect(ctx context.Context) (string, error) {
	number, err := randomNumber()
	if err != nil {
		return "", fmt.Errorf("connectNetPay: randomNumber: %w", err)
	}

	body := fmt.Sprintf(`{"requestId":%q,"merchantId":%q,"clientId":%q,"clientSecret":%q}`, number, c.merchantID, c.clientID, c.clientKey)

	var reply struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Data    struct {
			AccessToken string `json:"accessToken"`
			TokenType   string `json:"tokenType"`
		} `json:"data"`
	}
	if err := c.post(ctx, "/api/v2/merchant/authenticate", body, false, &reply); err != nil {
		return "", fmt.Errorf("connectNetPay: %w", err)
	}
	if reply.Status != "OK" {
		return "", fmt.Errorf("connectNetPay: reply.Status: %v, reply.Message: %v", reply.Status, reply.Message)
	}

	return fmt.Sprintf("%s %s", reply.Data.TokenType, reply.Data.AccessToken), nil
}

// createOrder registers a payment order with NetPay and returns the
// provider order id plus the client-side pay code.
func (c *client) createOrder(ctx context.Context, amount decimal.Decimal, currency, transactionID string) (*Intent, error) {
	number, err := randomNumber()
	if err != nil {
		return nil, fmt.Errorf("createOrder: randomNumber: %w", err)
	}

	body := fmt.Sprintf(`{"requestId":%q,"merchantId":%q,"txnAmount":%s,"txnCurrency":%q,"billNumber":%q}`,
		number, c.merchantID, amount, currency, transactionID)

	var reply struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Data    struct {
			OrderID string `json:"orderId"`
			PayCode string `json:"payCode"`
		} `json:"data"`
	}
	if err := c.post(ctx, "/api/v2/orders/create", body, true, &reply); err != nil {
		return nil, fmt.Errorf("createOrder: %w", err)
	}
	if reply.Status != "OK" {
		return nil, fmt.Errorf("createOrder: reply.Status: %v, reply.Message: %v", reply.Status, reply.Message)
	}

	return &Intent{
		ProviderOrderID: reply.Data.OrderID,
		PayCode:         reply.Data.PayCode,
	}, nil
}

// checkOrder polls the order status from the NetPay api. Used as a
// fallback when the asynchronous notice never arrives.
func (c *client) checkOrder(ctx context.Context, orderID string) (*OrderStatus, error) {
	number, err := randomNumber()
	if err != nil {
		return nil, fmt.Errorf("checkOrder: randomNumber: %w", err)
	}

	body := fmt.Sprintf(`{"requestId":%q,"orderId":%q}`, number, orderID)

	var reply struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Data    struct {
			OrderID   string          `json:"orderId"`
			PaymentID string          `json:"paymentId"`
			State     string          `json:"state"`
			Amount    decimal.Decimal `json:"txnAmount"`
			Currency  string          `json:"txnCurrency"`
		} `json:"data"`
	}
	if err := c.post(ctx, "/api/v2/orders/status", body, true, &reply); err != nil {
		return nil, fmt.Errorf("checkOrder: %w", err)
	}
	if reply.Status != "OK" {
		if reply.Status == "NOT_FOUND" {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("checkOrder: reply.Status: %v, reply.Message: %v", reply.Status, reply.Message)
	}

	return &OrderStatus{
		ProviderOrderID:   reply.Data.OrderID,
		ProviderPaymentID: reply.Data.PaymentID,
		State:             reply.Data.State,
		Amount:            reply.Data.Amount,
		Currency:          reply.Data.Currency,
	}, nil
}

func (c *client) post(ctx context.Context, path, body string, authed bool, reply any) error {
	_baseURL, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("url.Parse: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, _baseURL.String()+path, bytes.NewReader([]byte(body)))
	if err != nil {
		return fmt.Errorf("http.NewReq: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("SignedHash", Hmac256([]byte(body), []byte(c.hmacKey)))
	if authed {
		req.Header.Set("Authorization", c.getAccessToken())
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return fmt.Errorf("http.Do: %w", err)
	}
	defer resp.Body.Close()

	// toggle token refresher if unauthorized
	if resp.StatusCode == http.StatusUnauthorized {
		select {
		case c.toggleTokenRefresher <- struct{}{}:
		default:
		}
		return errors.New("resp.StatusCode: 401 => Unauthorized")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("resp.StatusCode: %d", resp.StatusCode)
	}

	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(reply); err != nil {
		return fmt.Errorf("json.Decode: %w", err)
	}
	return nil
}
