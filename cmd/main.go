package main

import (
	"context"
	"errors"
	"os/signal"
	"querycraft"
	"querycraft/internal/api/handler/endpoints"
	"querycraft/internal/api/handler/middleware"
	"querycraft/internal/api/service"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/graceful"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	querycraft.InitConfig(".env")
	gin.SetMode(gin.ReleaseMode)
	if querycraft.GetConfig().Mode == "dev" {
		gin.SetMode(gin.DebugMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	router, err := graceful.Default(graceful.WithAddr(querycraft.GetConfig().ApiPort))
	if err != nil {
		panic(err)
	}
	defer stop()
	defer router.Close()

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(middleware.RequestLogger())

	auditService := service.NewAuditService()
	defer auditService.Close()

	initAPI(router, auditService)

	querycraft.Logger.Debug().Msgf("Starting QueryCraft API on port %s", querycraft.GetConfig().ApiPort)
	if err = router.RunWithContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		querycraft.Logger.Fatal().Msg(err.Error())
		panic(err)
	}
}

func initAPI(router *graceful.Graceful, auditService *service.AuditService) {
	generator := service.NewGeneratorFromConfig()
	schemaService := service.NewSchemaService(generator)
	pipelineService := service.NewPipelineService(schemaService, generator, auditService)

	endpoints.QueryHandler(router, pipelineService, schemaService)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}
