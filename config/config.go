package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr       string `long:"http-addr" env:"HTTP_ADDR" default:":8080" description:"HTTP listen address"`
	PostgresURL    string `long:"postgres-url" env:"POSTGRES_URL" description:"Postgres connection string"`
	RedisAddr      string `long:"redis-addr" env:"REDIS_ADDR" description:"Redis address"`
	GatewayAddr    string `long:"gateway-addr" env:"GATEWAY_ADDR" description:"receipts and files API gateway"`
	JaegerEndpoint string `long:"jaeger-endpoint" env:"JAEGER_ENDPOINT" description:"Jaeger collector, defaults to the gateway"`

	AuthSecret   string `long:"auth-secret" env:"AUTH_SECRET" description:"HS256 secret of user bearer tokens"`
	TicketSecret string `long:"ticket-secret" env:"TICKET_SECRET" description:"master secret of ticket tokens"`
	WebhookToken string `long:"webhook-token" env:"WEBHOOK_TOKEN" description:"payment callback token, webhooks are refused when empty"`

	XenditSecretKey   string        `long:"xendit-secret-key" env:"XENDIT_SECRET_KEY" description:"empty selects the in-memory gateway"`
	Currency          string        `long:"currency" env:"CURRENCY" default:"IDR"`
	CurrencyExponent  int           `long:"currency-exponent" env:"CURRENCY_EXPONENT" default:"0"`
	PaymentSuccessURL string        `long:"payment-success-url" env:"PAYMENT_SUCCESS_URL"`
	PaymentFailureURL string        `long:"payment-failure-url" env:"PAYMENT_FAILURE_URL"`
	GatewayTimeout    time.Duration `long:"gateway-timeout" env:"GATEWAY_TIMEOUT" default:"10s"`
	GatewayMaxRetries int           `long:"gateway-max-retries" env:"GATEWAY_MAX_RETRIES" default:"3"`
	SessionTTL        time.Duration `long:"checkout-session-ttl" env:"CHECKOUT_SESSION_TTL" default:"24h"`

	AdminCancelReleasesCapacity bool          `long:"admin-cancel-releases-capacity" env:"ADMIN_CANCEL_RELEASES_CAPACITY"`
	TicketSingleUse             bool          `long:"ticket-single-use" env:"TICKET_SINGLE_USE"`
	TicketEarlyEntry            time.Duration `long:"ticket-early-entry" env:"TICKET_EARLY_ENTRY" default:"2h"`
	TicketLateGrace             time.Duration `long:"ticket-late-grace" env:"TICKET_LATE_GRACE" default:"1h"`
	VenueTimezone               string        `long:"venue-timezone" env:"VENUE_TIMEZONE" default:"UTC"`
	MaxTicketsPerBooking        int           `long:"max-tickets-per-booking" env:"MAX_TICKETS_PER_BOOKING" default:"20"`

	ExpirySweepInterval time.Duration `long:"expiry-sweep-interval" env:"EXPIRY_SWEEP_INTERVAL" default:"1m"`
}

// Load reads .env files (when present), then flags and environment.
func Load(args []string, envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("could not load %s: %w", file, err)
		}
	}

	var cfg Config
	if _, err := flags.NewParser(&cfg, flags.Default).ParseArgs(args); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) validate() error {
	required := map[string]string{
		"POSTGRES_URL":  c.PostgresURL,
		"REDIS_ADDR":    c.RedisAddr,
		"GATEWAY_ADDR":  c.GatewayAddr,
		"AUTH_SECRET":   c.AuthSecret,
		"TICKET_SECRET": c.TicketSecret,
	}
	for key, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", key)
		}
	}

	_, err := c.Location()
	return err
}

func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.VenueTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid venue timezone %q: %w", c.VenueTimezone, err)
	}
	return loc, nil
}
