package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/immo/internal/services"
)

func TestServiceError(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{services.ErrInvalidAmount, fiber.StatusBadRequest},
		{services.ErrFractionalAmount, fiber.StatusBadRequest},
		{services.ErrPhoneRequired, fiber.StatusBadRequest},
		{services.ErrReservationNotFound, fiber.StatusNotFound},
		{services.ErrTransactionNotFound, fiber.StatusNotFound},
		{services.ErrPropertyUnavailable, fiber.StatusConflict},
		{fmt.Errorf("reservation is cancelled: %w", services.ErrInvalidState), fiber.StatusConflict},
		{services.ErrConcurrentUpdate, fiber.StatusConflict},
		{&services.GatewayError{Op: "collect", StatusCode: 500}, fiber.StatusBadGateway},
	}
	for _, tc := range cases {
		var fiberErr *fiber.Error
		require.True(t, errors.As(serviceError(tc.err), &fiberErr), tc.err.Error())
		assert.Equal(t, tc.code, fiberErr.Code, tc.err.Error())
	}

	plain := errors.New("disk full")
	assert.Same(t, plain, serviceError(plain))
}

func TestErrorHandler(t *testing.T) {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	app.Get("/conflict", func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusConflict, "taken")
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return errors.New("secret internals")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/conflict", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"success":false,"error":"taken"}`, string(body))

	resp, err = app.Test(httptest.NewRequest("GET", "/boom", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusInternalServerError, resp.StatusCode)
	body, _ = io.ReadAll(resp.Body)
	assert.NotContains(t, string(body), "secret internals")
}
