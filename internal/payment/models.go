package payment

// Trade statuses reported by the gateway.
const (
	TradeSuccess = "TRADE_SUCCESS"
	TradeClosed  = "TRADE_CLOSED"
	TradeWait    = "WAIT_BUYER_PAY"
)

// CodeOK is the gateway's success code on API responses.
const CodeOK = 1

type CreatePaymentRequest struct {
	MerchantID string `json:"pid"`
	OrderID    string `json:"out_trade_no"`
	Subject    string `json:"name"`
	Amount     string `json:"money"`
	NotifyURL  string `json:"notify_url,omitempty"`
	ReturnURL  string `json:"return_url,omitempty"`
	Sign       string `json:"sign"`
	SignType   string `json:"sign_type"`
}

type CreatePaymentResponse struct {
	Code       int    `json:"code"`
	Msg        string `json:"msg"`
	TradeNo    string `json:"trade_no"`
	PaymentURL string `json:"payurl"`
}

// QueryResult is the gateway's view of one order.
type QueryResult struct {
	Code        int    `json:"code"`
	Msg         string `json:"msg"`
	OrderID     string `json:"out_trade_no"`
	TradeNo     string `json:"trade_no"`
	TradeStatus string `json:"trade_status"`
	TotalAmount string `json:"total_amount"`
}

func (q *QueryResult) Succeeded() bool {
	return q.Code == CodeOK && q.TradeStatus == TradeSuccess
}

// Notification is the server-to-server callback payload.
type Notification struct {
	MerchantID  string
	OrderID     string
	TradeNo     string
	TradeStatus string
	TotalAmount string
	Sign        string
	SignType    string
}
