package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/HetviBarot21/tippy-sub003/internal/models"
)

// Daraja talks to the Safaricom mobile-money API. It holds no state beyond
// the cached OAuth token; all transaction state lives in the repository.
type Daraja struct {
	baseURL            string
	consumerKey        string
	consumerSecret     string
	shortcode          string
	passkey            string
	initiator          string
	securityCredential string
	callbackBase       string

	http *http.Client
	now  func() time.Time

	mu       sync.Mutex
	token    string
	tokenExp time.Time
}

type DarajaOpts struct {
	BaseURL            string
	ConsumerKey        string
	ConsumerSecret     string
	Shortcode          string
	Passkey            string
	Initiator          string
	SecurityCredential string
	CallbackBase       string
}

func NewDaraja(o DarajaOpts) *Daraja {
	return &Daraja{
		baseURL:            o.BaseURL,
		consumerKey:        o.ConsumerKey,
		consumerSecret:     o.ConsumerSecret,
		shortcode:          o.Shortcode,
		passkey:            o.Passkey,
		initiator:          o.Initiator,
		securityCredential: o.SecurityCredential,
		callbackBase:       o.CallbackBase,
		http:               &http.Client{Timeout: 15 * time.Second},
		now:                time.Now,
	}
}

func (d *Daraja) accessToken(ctx context.Context) (string, error) {
	d.mu.Lock()
	if d.token != "" && d.now().Before(d.tokenExp) {
		tok := d.token
		d.mu.Unlock()
		return tok, nil
	}
	d.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/oauth/v1/generate?grant_type=client_credentials", nil)
	if err != nil {
		return "", &Error{Kind: Rejected, Op: "token", Err: err}
	}
	req.SetBasicAuth(d.consumerKey, d.consumerSecret)

	resp, err := d.http.Do(req)
	if err != nil {
		return "", &Error{Kind: Unreachable, Op: "token", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &Error{Kind: Rejected, Op: "token", Msg: "status " + resp.Status}
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.AccessToken == "" {
		return "", &Error{Kind: Unknown, Op: "token", Msg: "unparseable token response", Err: err}
	}

	ttl := 3500 * time.Second
	if n, err := strconv.Atoi(body.ExpiresIn); err == nil && n > 60 {
		ttl = time.Duration(n-60) * time.Second
	}
	d.mu.Lock()
	d.token = body.AccessToken
	d.tokenExp = d.now().Add(ttl)
	d.mu.Unlock()
	return body.AccessToken, nil
}

// post sends an authenticated JSON request and returns the raw response.
// HTTP-level failures map onto the gateway error taxonomy here so callers
// only ever see Error values.
func (d *Daraja) post(ctx context.Context, op, path string, payload any) ([]byte, int, error) {
	tok, err := d.accessToken(ctx)
	if err != nil {
		return nil, 0, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, &Error{Kind: Rejected, Op: op, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return nil, 0, &Error{Kind: Rejected, Op: op, Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.http.Do(req)
	if err != nil {
		return nil, 0, &Error{Kind: Unreachable, Op: op, Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &Error{Kind: Unreachable, Op: op, Err: err}
	}
	return body, resp.StatusCode, nil
}

func (d *Daraja) stkPassword(ts string) string {
	return base64.StdEncoding.EncodeToString([]byte(d.shortcode + d.passkey + ts))
}

// Daraja amounts are whole shillings; local amounts are minor units.
// Amounts that do not divide evenly are refused here rather than silently
// truncated, so the provider is never asked to charge less than requested.
func shillings(amount int64) (int64, error) {
	if amount <= 0 || amount%100 != 0 {
		return 0, fmt.Errorf("amount %d minor units is not a whole number of shillings", amount)
	}
	return amount / 100, nil
}

type darajaFault struct {
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

func (d *Daraja) InitiatePush(ctx context.Context, amount int64, phone, accountRef string) (PushAck, error) {
	const op = "stk_push"
	sh, err := shillings(amount)
	if err != nil {
		return PushAck{}, &Error{Kind: Rejected, Op: op, Err: err}
	}
	ts := d.now().Format("20060102150405")
	payload := map[string]any{
		"BusinessShortCode": d.shortcode,
		"Password":          d.stkPassword(ts),
		"Timestamp":         ts,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            sh,
		"PartyA":            phone,
		"PartyB":            d.shortcode,
		"PhoneNumber":       phone,
		"CallBackURL":       d.callbackBase + "/callbacks/stk",
		"AccountReference":  accountRef,
		"TransactionDesc":   "Tip payment",
	}
	body, status, err := d.post(ctx, op, "/mpesa/stkpush/v1/processrequest", payload)
	if err != nil {
		return PushAck{}, err
	}
	if status >= 500 {
		return PushAck{}, &Error{Kind: Unreachable, Op: op, Msg: "status " + strconv.Itoa(status)}
	}
	if status != http.StatusOK {
		var f darajaFault
		_ = json.Unmarshal(body, &f)
		return PushAck{}, &Error{Kind: Rejected, Op: op, Msg: fmt.Sprintf("%s %s", f.ErrorCode, f.ErrorMessage)}
	}
	var resp struct {
		MerchantRequestID   string `json:"MerchantRequestID"`
		CheckoutRequestID   string `json:"CheckoutRequestID"`
		ResponseCode        string `json:"ResponseCode"`
		ResponseDescription string `json:"ResponseDescription"`
		CustomerMessage     string `json:"CustomerMessage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.CheckoutRequestID == "" {
		return PushAck{}, &Error{Kind: Unknown, Op: op, Msg: "unparseable response", Err: err}
	}
	if resp.ResponseCode != "0" {
		return PushAck{}, &Error{Kind: Rejected, Op: op, Msg: resp.ResponseDescription}
	}
	return PushAck{
		CorrelationID:     resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		AcceptanceMessage: resp.CustomerMessage,
	}, nil
}

func (d *Daraja) InitiateBulkPayout(ctx context.Context, amount int64, account, remarks string) (PayoutAck, error) {
	const op = "b2c"
	sh, err := shillings(amount)
	if err != nil {
		return PayoutAck{}, &Error{Kind: Rejected, Op: op, Err: err}
	}
	payload := map[string]any{
		"InitiatorName":      d.initiator,
		"SecurityCredential": d.securityCredential,
		"CommandID":          "BusinessPayment",
		"Amount":             sh,
		"PartyA":             d.shortcode,
		"PartyB":             account,
		"Remarks":            remarks,
		"QueueTimeOutURL":    d.callbackBase + "/callbacks/b2c/timeout",
		"ResultURL":          d.callbackBase + "/callbacks/b2c/result",
	}
	body, status, err := d.post(ctx, op, "/mpesa/b2c/v1/paymentrequest", payload)
	if err != nil {
		return PayoutAck{}, err
	}
	if status >= 500 {
		return PayoutAck{}, &Error{Kind: Unreachable, Op: op, Msg: "status " + strconv.Itoa(status)}
	}
	if status != http.StatusOK {
		var f darajaFault
		_ = json.Unmarshal(body, &f)
		return PayoutAck{}, &Error{Kind: Rejected, Op: op, Msg: fmt.Sprintf("%s %s", f.ErrorCode, f.ErrorMessage)}
	}
	var resp struct {
		ConversationID      string `json:"ConversationID"`
		ResponseCode        string `json:"ResponseCode"`
		ResponseDescription string `json:"ResponseDescription"`
	}
	if err := json.Unmarshal(body, &resp); err != nil || resp.ConversationID == "" {
		return PayoutAck{}, &Error{Kind: Unknown, Op: op, Msg: "unparseable response", Err: err}
	}
	if resp.ResponseCode != "0" {
		return PayoutAck{}, &Error{Kind: Rejected, Op: op, Msg: resp.ResponseDescription}
	}
	return PayoutAck{CorrelationID: resp.ConversationID}, nil
}

// pendingErrorCode is how Daraja signals an in-flight transaction on the
// query endpoints: an error payload rather than a result.
const pendingErrorCode = "500.001.1001"

// QueryStatus routes by transaction kind: pushes are tracked by
// CheckoutRequestID on the STK query endpoint, payouts by ConversationID
// on the transaction-status endpoint. Mixing them up gets a provider fault.
func (d *Daraja) QueryStatus(ctx context.Context, kind models.TransactionKind, correlationID string) (StatusResult, error) {
	if kind == models.KindPayout {
		return d.queryPayoutStatus(ctx, correlationID)
	}
	return d.queryPushStatus(ctx, correlationID)
}

func (d *Daraja) queryPushStatus(ctx context.Context, correlationID string) (StatusResult, error) {
	const op = "stk_status"
	ts := d.now().Format("20060102150405")
	payload := map[string]any{
		"BusinessShortCode": d.shortcode,
		"Password":          d.stkPassword(ts),
		"Timestamp":         ts,
		"CheckoutRequestID": correlationID,
	}
	body, status, err := d.post(ctx, op, "/mpesa/stkpushquery/v1/query", payload)
	if err != nil {
		return StatusResult{}, err
	}
	return parseStatusResponse(op, body, status)
}

func (d *Daraja) queryPayoutStatus(ctx context.Context, correlationID string) (StatusResult, error) {
	const op = "b2c_status"
	payload := map[string]any{
		"Initiator":                d.initiator,
		"SecurityCredential":       d.securityCredential,
		"CommandID":                "TransactionStatusQuery",
		"OriginatorConversationID": correlationID,
		"PartyA":                   d.shortcode,
		"IdentifierType":           "4",
		"Remarks":                  "Payout status check",
	}
	body, status, err := d.post(ctx, op, "/mpesa/transactionstatus/v1/query", payload)
	if err != nil {
		return StatusResult{}, err
	}
	return parseStatusResponse(op, body, status)
}

func parseStatusResponse(op string, body []byte, status int) (StatusResult, error) {
	if status != http.StatusOK {
		// the provider reports an in-flight transaction as an error payload,
		// not a result, so the fault has to be inspected before the status code
		var f darajaFault
		if uerr := json.Unmarshal(body, &f); uerr == nil && f.ErrorCode == pendingErrorCode {
			return StatusResult{Pending: true}, nil
		}
		if status >= 500 {
			return StatusResult{}, &Error{Kind: Unreachable, Op: op, Msg: "status " + strconv.Itoa(status)}
		}
		return StatusResult{}, &Error{Kind: Rejected, Op: op, Msg: "status " + strconv.Itoa(status)}
	}
	var resp struct {
		ResponseCode string `json:"ResponseCode"`
		ResultCode   string `json:"ResultCode"`
		ResultDesc   string `json:"ResultDesc"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return StatusResult{}, &Error{Kind: Unknown, Op: op, Msg: "unparseable response", Err: err}
	}
	code, err := strconv.Atoi(resp.ResultCode)
	if err != nil {
		return StatusResult{}, &Error{Kind: Unknown, Op: op, Msg: "non-numeric result code " + resp.ResultCode}
	}
	return StatusResult{ResultCode: code, ResultDesc: resp.ResultDesc}, nil
}
