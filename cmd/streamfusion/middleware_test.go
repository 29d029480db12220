package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/doingodswork/streamfusion/pkg/userdata"
)

func TestUserDataMiddleware(t *testing.T) {
	key := userdata.DeriveKey("test-secret")
	secret, err := userdata.Encode(userdata.UserData{UserID: "user1"}, key)
	require.NoError(t, err)

	app := fiber.New()
	app.Get("/:userData/probe", createUserDataMiddleware(key, zap.NewNop()), func(c *fiber.Ctx) error {
		return c.SendString(requestUserData(c).UserID)
	})

	res, err := app.Test(httptest.NewRequest(http.MethodGet, "/"+secret+"/probe", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
	body := make([]byte, 5)
	_, _ = res.Body.Read(body)
	require.Equal(t, "user1", string(body))

	// A broken envelope downgrades to anonymous instead of failing.
	res, err = app.Test(httptest.NewRequest(http.MethodGet, "/garbage/probe", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestRateLimitMiddleware(t *testing.T) {
	kvStore := newTestKV(t)
	app := fiber.New()
	app.Get("/limited", createRateLimitMiddleware(kvStore, "test", 2, time.Minute, zap.NewNop()), func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusOK)
	})

	for i := 0; i < 2; i++ {
		res, err := app.Test(httptest.NewRequest(http.MethodGet, "/limited", nil))
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, res.StatusCode)
	}
	res, err := app.Test(httptest.NewRequest(http.MethodGet, "/limited", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusTooManyRequests, res.StatusCode)
}

func TestRawClientIP(t *testing.T) {
	app := fiber.New()
	app.Get("/ip", func(c *fiber.Ctx) error {
		return c.SendString(rawClientIP(c))
	})

	read := func(req *http.Request) string {
		res, err := app.Test(req)
		require.NoError(t, err)
		body := make([]byte, 64)
		n, _ := res.Body.Read(body)
		return string(body[:n])
	}

	req := httptest.NewRequest(http.MethodGet, "/ip", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	require.Equal(t, "203.0.113.7", read(req))

	req = httptest.NewRequest(http.MethodGet, "/ip", nil)
	req.Header.Set("X-Real-IP", "198.51.100.9")
	require.Equal(t, "198.51.100.9", read(req))
}

func TestIsPrivateIP(t *testing.T) {
	require.True(t, isPrivateIP("192.168.1.5"))
	require.True(t, isPrivateIP("10.1.2.3"))
	require.True(t, isPrivateIP("127.0.0.1"))
	require.False(t, isPrivateIP("203.0.113.7"))
	require.False(t, isPrivateIP("not-an-ip"))
}
