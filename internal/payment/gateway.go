package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Client struct {
	MerchantID string
	Key        string
	APIURL     string
	NotifyURL  string
	ReturnURL  string
	HTTPClient *http.Client
}

func NewClient(apiURL, merchantID, key, notifyURL, returnURL string) *Client {
	return &Client{
		MerchantID: merchantID,
		Key:        key,
		APIURL:     apiURL,
		NotifyURL:  notifyURL,
		ReturnURL:  returnURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) doRequest(ctx context.Context, method, endpoint string, query url.Values, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewBuffer(jsonBody)
	}

	u := fmt.Sprintf("%s%s", c.APIURL, endpoint)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Idempotence-Key", uuid.New().String())
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("api error: %s (status: %d)", string(respBody), resp.StatusCode)
	}
	return respBody, nil
}

// CreatePayment registers the order with the gateway and returns the URL
// the buyer is sent to.
func (c *Client) CreatePayment(ctx context.Context, orderID string, amount decimal.Decimal, subject string) (string, error) {
	params := url.Values{}
	params.Set("pid", c.MerchantID)
	params.Set("out_trade_no", orderID)
	params.Set("name", subject)
	params.Set("money", amount.StringFixed(2))
	params.Set("notify_url", c.NotifyURL)
	params.Set("return_url", c.ReturnURL)

	reqBody := CreatePaymentRequest{
		MerchantID: c.MerchantID,
		OrderID:    orderID,
		Subject:    subject,
		Amount:     amount.StringFixed(2),
		NotifyURL:  c.NotifyURL,
		ReturnURL:  c.ReturnURL,
		Sign:       Sign(params, c.Key),
		SignType:   signTypeHMAC,
	}

	respBody, err := c.doRequest(ctx, http.MethodPost, "/api/pay", nil, reqBody)
	if err != nil {
		return "", err
	}

	var resp CreatePaymentResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if resp.Code != CodeOK {
		return "", fmt.Errorf("gateway rejected order %s: %s (code: %d)", orderID, resp.Msg, resp.Code)
	}
	return resp.PaymentURL, nil
}

// QueryOrder asks the gateway for the current state of an order.
func (c *Client) QueryOrder(ctx context.Context, orderID string) (*QueryResult, error) {
	params := url.Values{}
	params.Set("pid", c.MerchantID)
	params.Set("out_trade_no", orderID)
	params.Set("sign", Sign(params, c.Key))
	params.Set("sign_type", signTypeHMAC)

	respBody, err := c.doRequest(ctx, http.MethodGet, "/api/query", params, nil)
	if err != nil {
		return nil, err
	}

	var result QueryResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}
