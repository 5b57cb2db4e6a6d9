package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/nixxel-company-limited/thermal-receipt-server/adapter"
	"github.com/nixxel-company-limited/thermal-receipt-server/capability"
	"github.com/nixxel-company-limited/thermal-receipt-server/orders"
	"github.com/nixxel-company-limited/thermal-receipt-server/receipt"
	"github.com/nixxel-company-limited/thermal-receipt-server/session"
)

// Session is the printer connection controlled through the API
type Session interface {
	Connect(ctx context.Context, kind adapter.Kind) error
	Disconnect(ctx context.Context)
	Status() session.Status
	Capabilities(ctx context.Context) capability.Snapshot
	Subscribe(buffer int) (<-chan session.Event, func())
}

// Printer prints jobs through the session
type Printer interface {
	PrintReceipt(ctx context.Context, job receipt.PrintJob) error
	TestPrint(ctx context.Context) error
	OpenDrawer(ctx context.Context) error
}

// API serves the HTTP control surface
type API struct {
	session   Session
	printer   Printer
	store     orders.Store
	autoPrint bool
	logger    zerolog.Logger
	upgrader  websocket.Upgrader
	origins   map[string]struct{}
	now       func() time.Time
}

func NewAPI(sess Session, printer Printer, store orders.Store, autoPrint bool, logger zerolog.Logger) *API {
	a := &API{
		session:   sess,
		printer:   printer,
		store:     store,
		autoPrint: autoPrint,
		logger:    logger,
		origins:   make(map[string]struct{}),
		now:       time.Now,
	}
	a.upgrader = websocket.Upgrader{CheckOrigin: a.originAllowed}
	return a
}

// AllowOrigins lets browser pages served from other origins call the API,
// e.g. "https://pos.example.com". Requests from the API's own origin and
// requests without an Origin header are always accepted.
func (a *API) AllowOrigins(origins ...string) {
	for _, o := range origins {
		a.origins[strings.ToLower(strings.TrimSuffix(o, "/"))] = struct{}{}
	}
}

// originAllowed rejects cross-site browser requests. A loopback peer
// address says nothing about which page issued the request.
func (a *API) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	if strings.EqualFold(u.Host, r.Host) {
		return true
	}
	_, ok := a.origins[strings.ToLower(u.Scheme+"://"+u.Host)]
	return ok
}

// Router wires the REST and websocket routes under /api
func (a *API) Router(mode string) *gin.Engine {
	if mode == gin.ReleaseMode || mode == gin.TestMode || mode == gin.DebugMode {
		gin.SetMode(mode)
	}

	r := gin.New()
	if mode == gin.DebugMode {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(a.sameOriginMiddleware())
	r.Use(originMiddleware())

	api := r.Group("/api")

	printer := api.Group("/printer")
	printer.GET("/capabilities", a.capabilities)
	printer.POST("/connect", a.connect)
	printer.POST("/disconnect", a.disconnect)
	printer.GET("/status", a.status)
	printer.POST("/test", a.testPrint)
	printer.POST("/drawer", a.openDrawer)
	printer.POST("/receipt", a.printReceipt)
	printer.GET("/events", a.events)

	o := api.Group("/orders")
	o.POST("", a.createOrder)
	o.GET("", a.listOrders)
	o.GET("/search", a.searchOrders)
	o.GET("/stats", a.orderStats)
	o.GET("/:id", a.getOrder)
	o.PATCH("/:id/status", a.updateOrderStatus)
	o.POST("/:id/print", a.printOrder)

	return r
}

func (a *API) sameOriginMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !a.originAllowed(c.Request) {
			a.logger.Warn().Str("origin", c.GetHeader("Origin")).Str("path", c.Request.URL.Path).Msg("Cross-origin request refused")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "origin not allowed"})
			return
		}
		c.Next()
	}
}

// originMiddleware records where the request came from so the capability
// probe can enforce the secure-origin rule
func originMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
		if err != nil {
			host = c.Request.RemoteAddr
		}
		origin := capability.Origin{Host: host, Encrypted: c.Request.TLS != nil}
		c.Request = c.Request.WithContext(capability.WithOrigin(c.Request.Context(), origin))
		c.Next()
	}
}

func (a *API) capabilities(c *gin.Context) {
	c.JSON(http.StatusOK, a.session.Capabilities(c.Request.Context()))
}

// connectStatus maps a connect failure to an HTTP status
func connectStatus(err error) int {
	switch {
	case errors.Is(err, adapter.ErrInsecureOrigin):
		return http.StatusForbidden
	case errors.Is(err, adapter.ErrUserCancelled), errors.Is(err, session.ErrConnectInProgress):
		return http.StatusConflict
	case errors.Is(err, adapter.ErrNoCompatibleService), errors.Is(err, adapter.ErrNoBaudRateAccepted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, adapter.ErrUnsupportedTransport):
		return http.StatusNotImplemented
	}
	return http.StatusBadGateway
}

// printStatus maps a print failure to an HTTP status
func printStatus(err error) int {
	switch {
	case errors.Is(err, adapter.ErrNotConnected):
		return http.StatusConflict
	case errors.Is(err, adapter.ErrWriteFailed):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (a *API) connect(c *gin.Context) {
	var req struct {
		Kind string `json:"kind"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"connected": false, "error": "invalid body"})
		return
	}
	kind, err := adapter.ParseKind(req.Kind)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"connected": false, "error": err.Error()})
		return
	}

	if err := a.session.Connect(c.Request.Context(), kind); err != nil {
		a.logger.Warn().Err(err).Stringer("kind", kind).Msg("Connect request failed")
		c.JSON(connectStatus(err), gin.H{"connected": false, "kind": kind, "error": err.Error()})
		return
	}
	st := a.session.Status()
	c.JSON(http.StatusOK, gin.H{"connected": st.Connected, "kind": st.Kind})
}

func (a *API) disconnect(c *gin.Context) {
	a.session.Disconnect(c.Request.Context())
	c.JSON(http.StatusOK, a.session.Status())
}

func (a *API) status(c *gin.Context) {
	c.JSON(http.StatusOK, a.session.Status())
}

func (a *API) respondPrint(c *gin.Context, err error) {
	if err != nil {
		c.JSON(printStatus(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (a *API) testPrint(c *gin.Context) {
	a.respondPrint(c, a.printer.TestPrint(c.Request.Context()))
}

func (a *API) openDrawer(c *gin.Context) {
	a.respondPrint(c, a.printer.OpenDrawer(c.Request.Context()))
}

func (a *API) printReceipt(c *gin.Context) {
	var job receipt.PrintJob
	if err := c.ShouldBindJSON(&job); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid print job"})
		return
	}
	if job.Timestamp.IsZero() {
		job.Timestamp = a.now()
	}
	a.respondPrint(c, a.printer.PrintReceipt(c.Request.Context(), job))
}

func (a *API) createOrder(c *gin.Context) {
	var req orders.CreateOrder
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order"})
		return
	}

	ctx := c.Request.Context()
	order, err := a.store.Create(ctx, req)
	if err != nil {
		if errors.Is(err, orders.ErrInvalidSource) || errors.Is(err, orders.ErrNoItems) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		a.logger.Error().Err(err).Msg("Error creating order")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create order"})
		return
	}

	printed := false
	if a.autoPrint && a.session.Status().Connected {
		if err := a.printer.PrintReceipt(ctx, orders.ToPrintJob(*order)); err != nil {
			a.logger.Warn().Err(err).Str("order_number", order.OrderNumber).Msg("Auto print failed")
		} else {
			printed = true
		}
	}
	c.JSON(http.StatusCreated, gin.H{"order": order, "printed": printed})
}

func (a *API) listOrders(c *gin.Context) {
	limit := 0
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	list, err := a.store.List(c.Request.Context(), limit)
	if err != nil {
		a.logger.Error().Err(err).Msg("Error fetching orders")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch orders"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

func (a *API) searchOrders(c *gin.Context) {
	list, err := a.store.Search(c.Request.Context(), c.Query("q"))
	if err != nil {
		a.logger.Error().Err(err).Msg("Error searching orders")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to search orders"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

func (a *API) orderStats(c *gin.Context) {
	day := a.now()
	if s := c.Query("date"); s != "" {
		d, err := time.ParseInLocation(time.DateOnly, s, day.Location())
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}
		day = d
	}

	stats, err := a.store.Stats(c.Request.Context(), day)
	if err != nil {
		a.logger.Error().Err(err).Msg("Error fetching daily stats")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (a *API) lookupOrder(c *gin.Context) (*orders.Order, bool) {
	order, err := a.store.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, orders.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		} else {
			a.logger.Error().Err(err).Msg("Error fetching order")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch order"})
		}
		return nil, false
	}
	return order, true
}

func (a *API) getOrder(c *gin.Context) {
	if order, ok := a.lookupOrder(c); ok {
		c.JSON(http.StatusOK, order)
	}
}

func (a *API) updateOrderStatus(c *gin.Context) {
	var req struct {
		Status orders.Status `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || !req.Status.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
		return
	}

	ok, err := a.store.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		a.logger.Error().Err(err).Msg("Error updating order status")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update status"})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

func (a *API) printOrder(c *gin.Context) {
	order, ok := a.lookupOrder(c)
	if !ok {
		return
	}
	a.respondPrint(c, a.printer.PrintReceipt(c.Request.Context(), orders.ToPrintJob(*order)))
}
