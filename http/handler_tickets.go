package http

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"venue/ticket"
)

type postTicketsVerifyRequest struct {
	Token string `json:"token"`
}

func (s Server) GetTicketToken(c echo.Context) error {
	token, err := s.tickets.Issue(c.Request().Context(), userFromContext(c), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, token)
}

func (s Server) GetTicketQRCode(c echo.Context) error {
	token, err := s.tickets.Issue(c.Request().Context(), userFromContext(c), c.Param("id"))
	if err != nil {
		return respondError(c, err)
	}

	png, err := ticket.QRCode(token.Token)
	if err != nil {
		return err
	}

	return c.Blob(http.StatusOK, "image/png", png)
}

func (s Server) PostTicketsVerify(c echo.Context) error {
	var request postTicketsVerifyRequest
	if err := c.Bind(&request); err != nil {
		return err
	}
	if request.Token == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "token is required")
	}

	result, err := s.tickets.Verify(c.Request().Context(), userFromContext(c), request.Token)
	if err != nil {
		return respondError(c, err)
	}

	return c.JSON(http.StatusOK, result)
}
