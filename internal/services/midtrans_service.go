package services

import (
	"bytes"
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"

	"cirsqu_api/internal/config"
	"cirsqu_api/internal/models"
)

// Gateway is the synchronous side of the payment provider. Every method
// returns the provider's raw JSON response.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (json.RawMessage, error)
	Cancel(ctx context.Context, gatewayOrderID string) (json.RawMessage, error)
	Status(ctx context.Context, gatewayOrderID string) (json.RawMessage, error)
}

// ChargeRequest describes one checkout charge
type ChargeRequest struct {
	GatewayOrderID string
	PaymentType    models.PaymentType
	GrossAmount    int64
	ItemID         string
	ItemName       string
	CustomerName   string
	CustomerEmail  string
}

type MidtransService struct {
	CoreClient coreapi.Client
	serverKey  string
	timeout    time.Duration
}

func NewMidtransService(cfg config.Midtrans) *MidtransService {
	env := midtrans.Sandbox
	if cfg.IsProduction {
		env = midtrans.Production
	}

	// The SDK reads its HTTP client from a package variable at New time.
	midtrans.DefaultGoHttpClient = &http.Client{Timeout: cfg.Timeout}

	var c coreapi.Client
	c.New(cfg.ServerKey, env)

	midtrans.ServerKey = cfg.ServerKey
	midtrans.ClientKey = cfg.ClientKey
	midtrans.Environment = env

	return &MidtransService{
		CoreClient: c,
		serverKey:  cfg.ServerKey,
		timeout:    cfg.Timeout,
	}
}

// BuildChargeRequest maps a checkout to a Core API charge. Banks are charged
// as virtual account transfers, stores as convenience store payments.
func BuildChargeRequest(req ChargeRequest) *coreapi.ChargeReq {
	charge := &coreapi.ChargeReq{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.GatewayOrderID,
			GrossAmt: req.GrossAmount,
		},
		Items: &[]midtrans.ItemDetails{
			{
				ID:    req.ItemID,
				Name:  req.ItemName,
				Price: req.GrossAmount,
				Qty:   1,
			},
		},
		CustomerDetails: &midtrans.CustomerDetails{
			FName: req.CustomerName,
			Email: req.CustomerEmail,
		},
	}

	if req.PaymentType.IsBankTransfer() {
		charge.PaymentType = coreapi.PaymentTypeBankTransfer
		charge.BankTransfer = &coreapi.BankTransferDetails{
			Bank: midtrans.Bank(req.PaymentType),
		}
	} else {
		charge.PaymentType = coreapi.PaymentTypeConvenienceStore
		charge.ConvStore = &coreapi.ConvStoreDetails{
			Store: string(req.PaymentType),
		}
	}

	return charge
}

func (s *MidtransService) Charge(ctx context.Context, req ChargeRequest) (json.RawMessage, error) {
	body, err := json.Marshal(BuildChargeRequest(req))
	if err != nil {
		return nil, &GatewayError{Op: "charge", Message: "unencodable request", Err: err}
	}
	return s.call(ctx, "charge", http.MethodPost, "/v2/charge", body)
}

func (s *MidtransService) Cancel(ctx context.Context, gatewayOrderID string) (json.RawMessage, error) {
	return s.call(ctx, "cancel", http.MethodPost, "/v2/"+gatewayOrderID+"/cancel", nil)
}

func (s *MidtransService) Status(ctx context.Context, gatewayOrderID string) (json.RawMessage, error) {
	return s.call(ctx, "status", http.MethodGet, "/v2/"+gatewayOrderID+"/status", nil)
}

type gatewayResult struct {
	raw json.RawMessage
	err error
}

// call sends one Core API request through the SDK's HTTP client and returns
// the response body as received. The SDK takes no context, so a call that
// outlives the deadline is abandoned and reported as a timeout.
func (s *MidtransService) call(ctx context.Context, op, method, path string, body []byte) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	url := s.CoreClient.Env.BaseUrl() + path
	done := make(chan gatewayResult, 1)
	go func() {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		var raw json.RawMessage
		merr := s.CoreClient.HttpClient.Call(method, url, &s.CoreClient.ServerKey, s.CoreClient.Options, reader, &raw)
		if merr != nil {
			done <- gatewayResult{err: &GatewayError{
				Op:         op,
				StatusCode: merr.StatusCode,
				Message:    merr.Message,
				Err:        merr.RawError,
			}}
			return
		}
		done <- gatewayResult{raw: raw, err: checkStatusCode(op, raw)}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, res.err
		}
		return res.raw, nil
	case <-ctx.Done():
		return nil, &GatewayError{Op: op, Message: "request abandoned", Err: ctx.Err()}
	}
}

// transactionStateCodes are status_code values that describe the state of
// a transaction that was found, not a failed request. 407 is an expired
// transaction.
var transactionStateCodes = map[int]bool{
	http.StatusOK:                true,
	http.StatusCreated:           true,
	http.StatusAccepted:          true,
	http.StatusProxyAuthRequired: true,
}

// checkStatusCode rejects responses whose body reports a failure even though
// the transport succeeded.
func checkStatusCode(op string, raw json.RawMessage) error {
	var head struct {
		StatusCode    string `json:"status_code"`
		StatusMessage string `json:"status_message"`
	}
	if err := json.Unmarshal(raw, &head); err != nil || head.StatusCode == "" {
		return nil
	}
	code, err := strconv.Atoi(head.StatusCode)
	if err != nil || code < 400 || transactionStateCodes[code] {
		return nil
	}
	return &GatewayError{Op: op, StatusCode: code, Message: head.StatusMessage}
}

// VerifySignature checks a notification's signature_key, which is
// SHA512(order_id + status_code + gross_amount + server key) in hex.
func (s *MidtransService) VerifySignature(orderID, statusCode, grossAmount, signatureKey string) bool {
	return VerifyNotificationSignature(s.serverKey, orderID, statusCode, grossAmount, signatureKey)
}

func VerifyNotificationSignature(serverKey, orderID, statusCode, grossAmount, signatureKey string) bool {
	if serverKey == "" || signatureKey == "" {
		return false
	}
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	expected := hex.EncodeToString(sum[:])
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signatureKey)) == 1
}

func itemName(price *models.Price) string {
	return fmt.Sprintf("Cirsqu Pro %s", price.Name)
}
