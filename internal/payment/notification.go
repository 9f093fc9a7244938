package payment

import (
	"fmt"
	"net/http"
	"net/url"
)

// ParseNotification reads the callback fields from the query string or a
// form body and verifies the signature before returning them.
func ParseNotification(r *http.Request, key string) (*Notification, error) {
	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("parse form: %w", err)
	}
	params := url.Values{}
	for k, v := range r.Form {
		if len(v) > 0 {
			params.Set(k, v[0])
		}
	}

	if !Verify(params, key) {
		return nil, fmt.Errorf("invalid signature")
	}

	n := &Notification{
		MerchantID:  params.Get("pid"),
		OrderID:     params.Get("out_trade_no"),
		TradeNo:     params.Get("trade_no"),
		TradeStatus: params.Get("trade_status"),
		TotalAmount: params.Get("total_amount"),
		Sign:        params.Get("sign"),
		SignType:    params.Get("sign_type"),
	}
	if n.OrderID == "" {
		return nil, fmt.Errorf("missing out_trade_no")
	}
	return n, nil
}

// Values renders n back into signed callback parameters.
func (n *Notification) Values() url.Values {
	v := url.Values{}
	v.Set("pid", n.MerchantID)
	v.Set("out_trade_no", n.OrderID)
	v.Set("trade_no", n.TradeNo)
	v.Set("trade_status", n.TradeStatus)
	v.Set("total_amount", n.TotalAmount)
	if n.Sign != "" {
		v.Set("sign", n.Sign)
	}
	if n.SignType != "" {
		v.Set("sign_type", n.SignType)
	}
	return v
}
