package ticket

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html/template"
	"time"

	"github.com/skip2/go-qrcode"

	"venue/entity"
)

const qrSize = 256

// QRCode renders a token as a PNG.
func QRCode(token string) ([]byte, error) {
	png, err := qrcode.Encode(token, qrcode.Medium, qrSize)
	if err != nil {
		return nil, fmt.Errorf("could not encode qr code: %w", err)
	}
	return png, nil
}

var printable = template.Must(template.New("ticket").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h1>{{.Title}}</h1>
<p>Booking {{.BookingID}}</p>
<p>{{.Valid}}</p>
<ul>{{range $category, $count := .Items}}<li>{{$category}}: {{$count}}</li>{{end}}</ul>
<p>Total {{.Total.Amount}} {{.Total.Currency}}</p>
<img alt="ticket" src="data:image/png;base64,{{.QR}}">
</body>
</html>
`))

// RenderPrintable renders the HTML ticket uploaded for printing.
func RenderPrintable(booking entity.Booking, unit entity.Unit, token string, currencyExponent int, loc *time.Location) (string, error) {
	png, err := QRCode(token)
	if err != nil {
		return "", err
	}
	if loc == nil {
		loc = time.UTC
	}

	valid := fmt.Sprintf("%s - %s",
		unit.ValidFrom.In(loc).Format("2006-01-02 15:04"),
		unit.ValidUntil.In(loc).Format("2006-01-02 15:04"),
	)
	if unit.Kind == entity.UnitKindDayPass {
		valid = "Valid on " + unit.Day
	}

	var buf bytes.Buffer
	err = printable.Execute(&buf, struct {
		Title     string
		BookingID string
		Valid     string
		Items     map[string]int
		Total     entity.Money
		QR        template.URL
	}{
		Title:     unit.Title,
		BookingID: booking.ID,
		Valid:     valid,
		Items:     booking.Items,
		Total:     entity.NewMoney(booking.Total, booking.Currency, currencyExponent),
		QR:        template.URL(base64.StdEncoding.EncodeToString(png)),
	})
	if err != nil {
		return "", fmt.Errorf("could not render ticket: %w", err)
	}

	return buf.String(), nil
}
