package utils

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePagination(t *testing.T) {
	cases := []struct {
		query string
		want  Pagination
	}{
		{"", Pagination{Page: 1, Limit: 20, Offset: 0}},
		{"?page=3&limit=10", Pagination{Page: 3, Limit: 10, Offset: 20}},
		{"?page=0&limit=-4", Pagination{Page: 1, Limit: 20, Offset: 0}},
		{"?page=2&limit=1000", Pagination{Page: 2, Limit: 100, Offset: 100}},
		{"?page=abc", Pagination{Page: 1, Limit: 20, Offset: 0}},
	}

	for _, tc := range cases {
		var got Pagination
		app := fiber.New()
		app.Get("/", func(c *fiber.Ctx) error {
			got = ParsePagination(c)
			return nil
		})

		resp, err := app.Test(httptest.NewRequest("GET", "/"+tc.query, nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusOK, resp.StatusCode)
		assert.Equal(t, tc.want, got, tc.query)
	}
}

func TestParseUUIDParam(t *testing.T) {
	app := fiber.New()
	app.Get("/:id", func(c *fiber.Ctx) error {
		id, err := ParseUUIDParam(c, "id")
		if err != nil {
			return err
		}
		return c.SendString(id.String())
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/nope", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/8f14e45f-ceea-467f-a5a8-3f0e1a2b3c4d", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}
