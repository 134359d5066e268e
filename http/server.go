package http

import (
	"context"
	"errors"
	"net/http"

	echoHTTP "github.com/ThreeDotsLabs/go-event-driven/common/http"
	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"venue/booking"
	"venue/entity"
	"venue/payment"
)

type BookingService interface {
	CreateUnit(ctx context.Context, in booking.CreateUnitInput) (entity.Unit, error)
	GetUnit(ctx context.Context, unitID string) (booking.UnitView, error)

	Create(ctx context.Context, in booking.CreateInput) (booking.Created, error)
	Get(ctx context.Context, user entity.User, bookingID string) (booking.View, error)
	List(ctx context.Context, user entity.User) ([]entity.Booking, error)
	Cancel(ctx context.Context, user entity.User, bookingID string) (entity.Booking, error)
	AdminCancel(ctx context.Context, in booking.AdminCancelInput) (entity.Booking, error)
}

type PaymentCoordinator interface {
	BeginCheckout(ctx context.Context, user entity.User, bookingID string) (payment.Checkout, error)
	Confirm(ctx context.Context, in payment.ConfirmInput) (entity.ConfirmResult, error)
	Status(ctx context.Context, user entity.User, bookingID string) (payment.StatusView, error)
}

type TicketService interface {
	Issue(ctx context.Context, user entity.User, bookingID string) (entity.TicketToken, error)
	Verify(ctx context.Context, user entity.User, token string) (entity.VerifyResult, error)
}

type CommandBus interface {
	Send(ctx context.Context, cmd any) error
}

type Config struct {
	AuthSecret   string
	WebhookToken string
}

type Server struct {
	addr        string
	e           *echo.Echo
	bookings    BookingService
	payments    PaymentCoordinator
	tickets     TicketService
	commandBus  CommandBus
	webhookAuth string
}

func NewServer(
	addr string,
	cfg Config,
	bookings BookingService,
	payments PaymentCoordinator,
	tickets TicketService,
	commandBus CommandBus,
) *Server {
	if cfg.AuthSecret == "" {
		panic("missing auth secret")
	}

	e := echoHTTP.NewEcho()
	e.Use(otelecho.Middleware("venue"))

	server := &Server{
		addr:        addr,
		e:           e,
		bookings:    bookings,
		payments:    payments,
		tickets:     tickets,
		commandBus:  commandBus,
		webhookAuth: cfg.WebhookToken,
	}

	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.GET("/units/:id", server.GetUnit)
	e.POST("/payments/webhook", server.PostPaymentWebhook)

	api := e.Group("", authMiddleware([]byte(cfg.AuthSecret)))

	api.POST("/units", server.PostUnits)

	api.POST("/bookings", server.PostBookings)
	api.GET("/bookings", server.GetBookings)
	api.GET("/bookings/:id", server.GetBooking)
	api.PATCH("/bookings/:id/cancel", server.PatchBookingCancel)
	api.POST("/bookings/:id/admin-cancel", server.PostBookingAdminCancel)

	api.POST("/payments/checkout/:bookingId", server.PostPaymentCheckout)
	api.POST("/payments/confirm/:bookingId", server.PostPaymentConfirm)
	api.GET("/payments/status/:bookingId", server.GetPaymentStatus)

	api.GET("/bookings/:id/ticket-token", server.GetTicketToken)
	api.GET("/bookings/:id/ticket.png", server.GetTicketQRCode)
	api.POST("/tickets/verify", server.PostTicketsVerify)

	return server
}

func (s Server) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		err := s.e.Shutdown(context.Background())
		if err != nil {
			log.FromContext(ctx).WithError(err).Error("failed to shutdown HTTP server")
		}
	}()
	log.FromContext(ctx).WithField("addr", s.addr).Info("[HTTP] server listening")
	if err := s.e.Start(s.addr); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
