// Package ws exposes the inbound audio feed over WebSocket and pushes
// session events back to the client.
package ws

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/facebookgo/grace/gracehttp"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"stt-consolidation-service/internal/observability/logging"
)

// Data keeps data required for service work.
type Data struct {
	Port    int
	Handler *SpeechHandler
	Ctx     context.Context
}

// StartWebServer starts the echo web service.
func StartWebServer(data *Data) (<-chan struct{}, error) {
	logger := logging.WithComponent("web")
	logger.Info().Int("port", data.Port).Msg("starting web server")
	if err := validate(data); err != nil {
		return nil, err
	}

	portStr := strconv.Itoa(data.Port)

	e := initRoutes(data)

	e.Server.Addr = ":" + portStr
	e.Server.ReadHeaderTimeout = 5 * time.Second

	gracehttp.SetLogger(log.New(logger, "", 0))

	res := make(chan struct{}, 1)
	go func() {
		defer close(res)
		if err := gracehttp.Serve(e.Server); err != nil {
			logger.Error().Err(err).Msg("can't start web server")
		}
		logger.Info().Msg("exit http routine")
	}()
	return res, nil
}

var promMdlw *prometheus.Prometheus

func init() {
	promMdlw = prometheus.NewPrometheus("stt_consolidation_http", nil)
}

func initRoutes(data *Data) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Logger())
	promMdlw.Use(e)

	e.GET("/live", live(data))
	e.GET("/client/ws/speech", subscribe(data))

	logger := logging.WithComponent("web")
	logger.Info().Msg("Routes:")
	for _, r := range e.Routes() {
		logger.Info().Msgf("  %s %s", r.Method, r.Path)
	}
	return e
}

func live(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		return c.JSONBlob(http.StatusOK, []byte(`{"service":"OK"}`))
	}
}

func validate(data *Data) error {
	if data.Handler == nil {
		return fmt.Errorf("no speech handler")
	}
	return nil
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	}}

func subscribe(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		ws, err := wsUpgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			logger := logging.WithComponent("web")
			logger.Error().Err(err).Send()
			return err
		}
		defer ws.Close()

		return data.Handler.HandleConnection(data.Ctx, ws)
	}
}
