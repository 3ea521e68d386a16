// Package gin serves the content API on a Gin engine. It is a thin adapter:
// every request is handed to the x402 engine and its Decision is rendered
// with gin.Context.
package gin

import (
	"errors"
	"io"
	"net/http"
	"slices"

	x402 "github.com/Rampop01/streamit"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// PaymentContextKey is the gin context key for the verified payment.
const PaymentContextKey = "x402_payment"

var routePrefixes = []string{"", "/api"}

// NewRouter returns a Gin engine serving the content API with CORS and
// panic recovery.
func NewRouter(engine *x402.Engine, allowedOrigins []string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), CORS(allowedOrigins))

	Register(r, engine)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": http.StatusText(http.StatusNotFound)})
	})
	return r
}

// Register mounts the content routes on r, bare and under /api.
func Register(r gin.IRouter, engine *x402.Engine) {
	h := &handlers{engine: engine}
	for _, prefix := range routePrefixes {
		g := r.Group(prefix)
		g.GET("/content", h.list)
		g.POST("/content", h.create)
		g.GET("/content/:id", h.get)
		g.POST("/content/:id/verify", h.verify)
	}
}

// CORS returns the cross-origin policy with the payment headers exposed.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", x402.HeaderPaymentReceipt},
		ExposeHeaders: []string{x402.HeaderPaymentRequired, x402.HeaderPaymentResponse},
	}
	if len(allowedOrigins) == 0 || slices.Contains(allowedOrigins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowedOrigins
	}
	return cors.New(cfg)
}

// NewPaymentMiddleware gates the handler chain on the content id in the
// named path parameter. Unlocked requests carry the payment under
// PaymentContextKey.
func NewPaymentMiddleware(engine *x402.Engine, param string) gin.HandlerFunc {
	return func(c *gin.Context) {
		req := x402.GateRequestFromHTTP(c.Request)
		req.Preview = false

		decision := engine.Gate(c.Request.Context(), c.Param(param), req)
		if decision.Payment == nil {
			abort(c, decision)
			return
		}
		c.Set(PaymentContextKey, decision.Payment)
		c.Next()
	}
}

// GetPayment returns the payment stored by NewPaymentMiddleware.
func GetPayment(c *gin.Context) (*x402.PaymentContext, bool) {
	v, ok := c.Get(PaymentContextKey)
	if !ok {
		return nil, false
	}
	payment, ok := v.(*x402.PaymentContext)
	return payment, ok
}

type handlers struct {
	engine *x402.Engine
}

func (h *handlers) list(c *gin.Context) {
	render(c, h.engine.ListContent(c.Request.Context()))
}

func (h *handlers) create(c *gin.Context) {
	var input x402.ContentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	render(c, h.engine.CreateContent(c.Request.Context(), input))
}

func (h *handlers) get(c *gin.Context) {
	render(c, h.engine.Gate(c.Request.Context(), c.Param("id"), x402.GateRequestFromHTTP(c.Request)))
}

func (h *handlers) verify(c *gin.Context) {
	var claim x402.PaymentClaim
	if err := c.ShouldBindJSON(&claim); err != nil && !errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	render(c, h.engine.Verify(c.Request.Context(), c.Param("id"), claim))
}

func render(c *gin.Context, d *x402.Decision) {
	for key, values := range d.Header {
		for _, v := range values {
			c.Writer.Header().Add(key, v)
		}
	}
	if d.Status >= http.StatusBadRequest {
		c.AbortWithStatusJSON(d.Status, d.Body)
		return
	}
	c.JSON(d.Status, d.Body)
}

func abort(c *gin.Context, d *x402.Decision) {
	render(c, d)
	c.Abort()
}
