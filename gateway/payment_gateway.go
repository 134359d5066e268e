package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/xendit/xendit-go/v6"
	"github.com/xendit/xendit-go/v6/invoice"

	"venue/entity"
)

// XenditPaymentGateway runs checkouts as Xendit invoices. The booking id is
// the invoice external id and the invoice id is the session reference.
type XenditPaymentGateway struct {
	client   *xendit.APIClient
	exponent int
}

func NewXenditPaymentGateway(secretKey string, currencyExponent int) XenditPaymentGateway {
	if secretKey == "" {
		panic("missing xendit secret key")
	}

	return XenditPaymentGateway{
		client:   xendit.NewClient(secretKey),
		exponent: currencyExponent,
	}
}

func (g XenditPaymentGateway) CreateSession(ctx context.Context, request entity.CheckoutSessionRequest) (entity.CheckoutSession, error) {
	body := invoice.NewCreateInvoiceRequest(request.BookingID, entity.FromMinorUnits(request.Amount, g.exponent))
	body.SetCurrency(request.Currency)
	if request.Description != "" {
		body.SetDescription(request.Description)
	}
	if request.SuccessURL != "" {
		body.SetSuccessRedirectUrl(request.SuccessURL)
	}
	if request.CancelURL != "" {
		body.SetFailureRedirectUrl(request.CancelURL)
	}

	inv, resp, xerr := g.client.InvoiceApi.CreateInvoice(ctx).CreateInvoiceRequest(*body).Execute()
	if xerr != nil {
		return entity.CheckoutSession{}, classifyGatewayError("create invoice", resp, xerr)
	}

	log.FromContext(ctx).WithField("session_ref", inv.GetId()).Info("Xendit invoice created")

	return entity.CheckoutSession{
		SessionRef:  inv.GetId(),
		RedirectURL: inv.GetInvoiceUrl(),
		ExpiresAt:   time.Now().UTC().Add(request.Duration),
	}, nil
}

func (g XenditPaymentGateway) GetSessionStatus(ctx context.Context, sessionRef string) (entity.SessionStatus, error) {
	inv, resp, xerr := g.client.InvoiceApi.GetInvoiceById(ctx, sessionRef).Execute()
	if xerr != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return entity.SessionStatus{}, fmt.Errorf("%w: unknown invoice %s", entity.ErrSessionMismatch, sessionRef)
		}
		return entity.SessionStatus{}, classifyGatewayError("get invoice", resp, xerr)
	}

	status := strings.ToUpper(string(inv.GetStatus()))
	paid := status == "PAID" || status == "SETTLED"

	result := entity.SessionStatus{
		Paid:     paid,
		Currency: string(inv.GetCurrency()),
	}
	if paid {
		result.AmountReceived = entity.ToMinorUnits(float64(inv.GetAmount()), g.exponent)
	}

	return result, nil
}

// classifyGatewayError maps timeouts, transport failures, throttling and 5xx
// responses to entity.ErrGatewayUnavailable.
func classifyGatewayError(op string, resp *http.Response, err error) error {
	var netErr net.Error
	switch {
	case resp == nil,
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr),
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s: %s", entity.ErrGatewayUnavailable, op, err.Error())
	default:
		return fmt.Errorf("xendit %s failed with status %d: %s", op, resp.StatusCode, err.Error())
	}
}
