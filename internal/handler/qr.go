package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/skip2/go-qrcode"
)

const qrImageSize = 256

type qrResponse struct {
	InstanceID string  `json:"instanceId"`
	QR         *string `json:"qr"`
	Connected  bool    `json:"connected"`
	ExpiresIn  int     `json:"expiresIn"`
}

// GET /qr/:instanceId
func (h *Handler) QR(c echo.Context) error {
	view := h.manager.PairingChallenge(c.Param("instanceId"))

	resp := qrResponse{
		InstanceID: view.InstanceID,
		Connected:  view.Connected,
		ExpiresIn:  int(view.ExpiresIn.Seconds()),
	}
	if view.Challenge != nil {
		token := view.Challenge.Token
		resp.QR = &token
	}
	return c.JSON(http.StatusOK, resp)
}

// GET /qr/:instanceId/image
func (h *Handler) QRImage(c echo.Context) error {
	view := h.manager.PairingChallenge(c.Param("instanceId"))
	if view.Challenge == nil {
		return ErrorResponse(c, http.StatusNotFound, "No QR code available", "QR_NOT_AVAILABLE", "Call /connect first and poll /qr")
	}

	png, err := qrcode.Encode(view.Challenge.Token, qrcode.Medium, qrImageSize)
	if err != nil {
		return ErrorResponse(c, http.StatusInternalServerError, "Failed to render QR code", "QR_RENDER_FAILED", err.Error())
	}
	c.Response().Header().Set("Cache-Control", "no-store")
	return c.Blob(http.StatusOK, "image/png", png)
}
