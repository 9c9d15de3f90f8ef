package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jwlim/coinpilot/config"
)

// UpbitClient talks to the Upbit REST API. All calls go through a shared
// rate limiter so a burst of position checks cannot trip the venue's
// per-second quota.
type UpbitClient struct {
	http      *resty.Client
	limiter   *rate.Limiter
	accessKey string
	secretKey string
	quote     string
	log       zerolog.Logger
}

func NewUpbit(cfg config.ExchangeConfig, accessKey, secretKey string, log zerolog.Logger) (*UpbitClient, error) {
	timeout, err := cfg.ParseTimeout()
	if err != nil {
		return nil, fmt.Errorf("exchange timeout: %w", err)
	}

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(timeout)

	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 8
	}

	return &UpbitClient{
		http:      client,
		limiter:   rate.NewLimiter(rate.Limit(rps), int(rps)),
		accessKey: accessKey,
		secretKey: secretKey,
		quote:     cfg.QuoteCurrency,
		log:       log.With().Str("component", "upbit").Logger(),
	}, nil
}

// authToken builds the JWT bearer token the venue expects: HS256 over an
// access_key/nonce payload, plus a SHA512 hash of the query when present.
func (c *UpbitClient) authToken(query url.Values) (string, error) {
	payload := map[string]string{
		"access_key": c.accessKey,
		"nonce":      uuid.NewString(),
	}
	if len(query) > 0 {
		sum := sha512.Sum512([]byte(query.Encode()))
		payload["query_hash"] = hex.EncodeToString(sum[:])
		payload["query_hash_alg"] = "SHA512"
	}

	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	claims := base64.RawURLEncoding.EncodeToString(body)

	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(header + "." + claims))
	sig := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))

	return header + "." + claims + "." + sig, nil
}

func (c *UpbitClient) request(ctx context.Context, query url.Values) (*resty.Request, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	token, err := c.authToken(query)
	if err != nil {
		return nil, err
	}
	return c.http.R().SetContext(ctx).SetHeader("Authorization", "Bearer "+token), nil
}

// decodeAPIError surfaces the venue's in-band error object for non-2xx
// responses.
func decodeAPIError(body []byte, status int) error {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		return &APIError{Name: env.Error.Name, Message: env.Error.Message}
	}
	return fmt.Errorf("%w: http %d", ErrInvalidResponseType, status)
}

func (c *UpbitClient) Balances(ctx context.Context) ([]Balance, error) {
	req, err := c.request(ctx, nil)
	if err != nil {
		return nil, err
	}
	resp, err := req.Get("/v1/accounts")
	if err != nil {
		return nil, fmt.Errorf("get balances: %w", err)
	}

	res := ParseBalances(resp.Body())
	if !res.OK {
		return nil, res.Err
	}
	return res.Rows, nil
}

type tickerRow struct {
	Market     string  `json:"market"`
	TradePrice float64 `json:"trade_price"`
}

func (c *UpbitClient) CurrentPrice(ctx context.Context, ticker string) (float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, err
	}

	market := MarketCode(c.quote, ticker)
	resp, err := c.http.R().SetContext(ctx).
		SetQueryParam("markets", market).
		Get("/v1/ticker")
	if err != nil {
		return 0, fmt.Errorf("get ticker %s: %w", market, err)
	}
	if resp.IsError() {
		return 0, decodeAPIError(resp.Body(), resp.StatusCode())
	}

	var rows []tickerRow
	if err := json.Unmarshal(resp.Body(), &rows); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidResponseType, err)
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("%w: empty ticker response for %s", ErrInvalidResponseType, market)
	}
	return rows[0].TradePrice, nil
}

type orderResponse struct {
	UUID           string `json:"uuid"`
	Market         string `json:"market"`
	Side           string `json:"side"`
	State          string `json:"state"`
	ExecutedVolume string `json:"executed_volume"`
	PaidFee        string `json:"paid_fee"`
	Trades         []struct {
		Price  string `json:"price"`
		Volume string `json:"volume"`
		Funds  string `json:"funds"`
	} `json:"trades"`
}

func (r orderResponse) toOrder() Order {
	o := Order{
		ID:             r.UUID,
		Ticker:         r.Market,
		Side:           r.Side,
		State:          OrderState(r.State),
		ExecutedVolume: parseFloat(r.ExecutedVolume),
		PaidFee:        parseFloat(r.PaidFee),
	}
	for _, t := range r.Trades {
		o.Trades = append(o.Trades, OrderTrade{
			Price:  parseFloat(t.Price),
			Volume: parseFloat(t.Volume),
			Funds:  parseFloat(t.Funds),
		})
	}
	return o
}

func (c *UpbitClient) placeOrder(ctx context.Context, query url.Values) (string, error) {
	req, err := c.request(ctx, query)
	if err != nil {
		return "", err
	}

	body := map[string]string{}
	for k := range query {
		body[k] = query.Get(k)
	}

	resp, err := req.SetBody(body).Post("/v1/orders")
	if err != nil {
		return "", fmt.Errorf("place order: %w", err)
	}
	if resp.IsError() {
		return "", decodeAPIError(resp.Body(), resp.StatusCode())
	}

	var or orderResponse
	if err := json.Unmarshal(resp.Body(), &or); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResponseType, err)
	}
	c.log.Debug().Str("order_id", or.UUID).Str("market", or.Market).
		Str("side", or.Side).Msg("order placed")
	return or.UUID, nil
}

// BuyMarket spends amount of quote currency at market ("price" order).
func (c *UpbitClient) BuyMarket(ctx context.Context, ticker string, amount float64) (string, error) {
	query := url.Values{}
	query.Set("market", MarketCode(c.quote, ticker))
	query.Set("side", "bid")
	query.Set("ord_type", "price")
	query.Set("price", strconv.FormatFloat(amount, 'f', -1, 64))
	return c.placeOrder(ctx, query)
}

// SellMarket sells quantity of base currency at market.
func (c *UpbitClient) SellMarket(ctx context.Context, ticker string, quantity float64) (string, error) {
	query := url.Values{}
	query.Set("market", MarketCode(c.quote, ticker))
	query.Set("side", "ask")
	query.Set("ord_type", "market")
	query.Set("volume", strconv.FormatFloat(quantity, 'f', -1, 64))
	return c.placeOrder(ctx, query)
}

func (c *UpbitClient) GetOrder(ctx context.Context, orderID string) (Order, error) {
	query := url.Values{}
	query.Set("uuid", orderID)

	req, err := c.request(ctx, query)
	if err != nil {
		return Order{}, err
	}
	resp, err := req.SetQueryParam("uuid", orderID).Get("/v1/order")
	if err != nil {
		return Order{}, fmt.Errorf("get order %s: %w", orderID, err)
	}
	if resp.IsError() {
		return Order{}, decodeAPIError(resp.Body(), resp.StatusCode())
	}

	var or orderResponse
	if err := json.Unmarshal(resp.Body(), &or); err != nil {
		return Order{}, fmt.Errorf("%w: %v", ErrInvalidResponseType, err)
	}
	return or.toOrder(), nil
}
