package main

import (
	"net"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/doingodswork/streamfusion/pkg/kv"
	"github.com/doingodswork/streamfusion/pkg/mediaflow"
	"github.com/doingodswork/streamfusion/pkg/userdata"
)

const userDataLocal = "userData"

// createTimerMiddleware logs every request with its handling duration.
func createTimerMiddleware(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		logger.Debug("Handled request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("duration", time.Since(start)))
		return err
	}
}

// createUserDataMiddleware decrypts the secret path segment. A missing or
// broken envelope downgrades the request to the anonymous config, it never
// fails the request.
func createUserDataMiddleware(key []byte, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ud := userdata.UserData{}
		if udString := c.Params(userDataLocal, ""); udString != "" {
			decoded, err := userdata.Decode(udString, key)
			if err != nil {
				logger.Debug("Couldn't decode user data, continuing anonymously", zap.Error(err))
			} else {
				ud = decoded
			}
		}
		c.Locals(userDataLocal, ud)
		return c.Next()
	}
}

func requestUserData(c *fiber.Ctx) userdata.UserData {
	ud, _ := c.Locals(userDataLocal).(userdata.UserData)
	return ud
}

// createRateLimitMiddleware limits requests per scope and client IP with a
// fixed Redis window. Redis failures fail open so a KV outage doesn't take
// the list endpoints down with it.
func createRateLimitMiddleware(kvStore *kv.Store, scope string, limit int, window time.Duration, logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := "ratelimit:" + scope + ":" + rawClientIP(c)
		allowed, err := kvStore.Allow(c.Context(), key, limit, window)
		if err != nil {
			logger.Warn("Couldn't check rate limit", zap.Error(err), zap.String("scope", scope))
			return c.Next()
		}
		if !allowed {
			return c.SendStatus(fiber.StatusTooManyRequests)
		}
		return c.Next()
	}
}

// rawClientIP is the client address as seen on the wire: the first
// X-Forwarded-For hop, else X-Real-IP, else the remote address.
func rawClientIP(c *fiber.Ctx) string {
	if fwd := c.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP := c.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return c.IP()
}

// createClientIPresolver returns rawClientIP with private addresses replaced
// by the MediaFlow egress IP, so providers that bind downloads to the
// requesting IP see the address the proxy will fetch from.
func createClientIPresolver(mflow *mediaflow.Client, logger *zap.Logger) func(*fiber.Ctx, userdata.UserData) string {
	return func(c *fiber.Ctx, ud userdata.UserData) string {
		ip := rawClientIP(c)
		if !isPrivateIP(ip) || !ud.MediaFlow.Complete() {
			return ip
		}
		egress, err := mflow.EgressIP(c.Context(), ud.MediaFlow)
		if err != nil || egress == "" {
			logger.Debug("Couldn't determine MediaFlow egress IP", zap.Error(err))
			return ip
		}
		return egress
	}
}

func isPrivateIP(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsPrivate()
}
