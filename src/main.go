package main

import (
	"context"
	"daypass/src/boot"
	"daypass/src/checkout"
	"daypass/src/config"
	"daypass/src/delivery"
	"daypass/src/lib"
	"daypass/src/middlewares"
	"daypass/src/models"
	"daypass/src/notify"
	"daypass/src/reconciler"
	"daypass/src/rooms"
	"daypass/src/utils"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/covalenthq/lumberjack"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/stripe/stripe-go/v82"
	"gorm.io/gorm"
)

const (
	apiPrefix string = "/api/v1"
)

// intentRetriever reads a PaymentIntent back from the payment provider for
// manual sync.
type intentRetriever interface {
	Retrieve(ctx context.Context, id string) (*stripe.PaymentIntent, error)
}

// server carries the dependencies shared by the route handlers.
type server struct {
	db            *gorm.DB
	reconciler    *reconciler.Reconciler
	checkout      *checkout.Service
	intents       intentRetriever
	webhookSecret string
	redis         redis.Cmdable
}

func setupRouter() *gin.Engine {
	router := gin.Default()
	router.Use(middlewares.SecureHeaders)
	router.GET("/", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, "ok")
	})
	return router
}

func maintenanceModeMiddleware(g *gin.Engine) *gin.Engine {
	g.Use(func(ctx *gin.Context) {
		if config.MaintenanceMode() {
			err := errors.New("server is under maintenance")
			log.Println(err.Error())
			ctx.AbortWithStatusJSON(http.StatusServiceUnavailable, err.Error())
			return
		}
	})
	return g
}

func apiv1Group(g *gin.Engine) *gin.RouterGroup {
	apiv1 := g.Group(apiPrefix)
	return apiv1
}

// rateLimited returns the public route group, throttled per client IP when a
// Redis connection is configured.
func (s *server) rateLimited(g *gin.Engine) *gin.RouterGroup {
	apiv1 := apiv1Group(g)
	if s.redis != nil {
		limiter := middlewares.NewRateLimiter(s.redis, config.RateLimitPerMinute(), time.Minute)
		apiv1.Use(limiter.Middleware())
	}
	return apiv1
}

func (s *server) routes(router *gin.Engine) {
	s.stripeWebhookRoute(router)
	s.roomsWebhookRoute(router)
	s.passRoutes(router)
	s.adminRoutes(router)
}

// purchaseURL is the public page an access point's QR code and the status
// endpoint's return link point at.
func purchaseURL(org *models.Organization, site *models.Site, device *models.Device) string {
	names := []string{org.Slug}
	if site != nil {
		names = append(names, site.Name)
	}
	if device != nil {
		names = append(names, device.Name)
	}
	return fmt.Sprintf("%s/%s", strings.TrimRight(config.AppHost(), "/"), utils.SlugPath(names...))
}

func statusURL(passID uuid.UUID) string {
	return fmt.Sprintf("%s/passes/%s", strings.TrimRight(config.AppHost(), "/"), passID)
}

func initLogger() {
	cwd, _ := os.Getwd()
	serverLogs := path.Join(cwd, "logs", "server.log")
	apiLogs := path.Join(cwd, "logs", "api.log")
	gin.ForceConsoleColor()

	f, _ := os.Create(apiLogs)
	gin.DefaultWriter = io.MultiWriter(f, os.Stdout)
	log.SetOutput(&lumberjack.Logger{
		Filename:   serverLogs,
		MaxSize:    500,
		MaxBackups: 3,
		MaxAge:     30,
		Compress:   true,
	})
}

func main() {
	apiEnv := config.ApiEnv()
	if apiEnv == "local" {
		cwd, _ := os.Getwd()
		if err := godotenv.Load(path.Join(cwd, ".env")); err != nil {
			panic(err)
		}
	}
	initLogger()

	db := boot.InitDb()
	gateway := rooms.NewClient(db, config.RoomsTimeout())
	dispatcher, err := notify.NewDispatcherFromEnv()
	if err != nil {
		log.Fatalf("Error initializing notifications: %s\n", err.Error())
	}
	rec := reconciler.New(db, gateway, dispatcher, config.EventStaleAfter())
	rec.StatusURL = statusURL
	intents := lib.NewStripePaymentIntents()

	srv := &server{
		db:            db,
		reconciler:    rec,
		checkout:      checkout.NewService(db, intents, gateway),
		intents:       intents,
		webhookSecret: config.StripeWebhookSecret(),
	}
	if rdb := lib.GetRedisClient(); rdb != nil {
		srv.redis = rdb
	}

	boot.InitScheduler(delivery.NewWorker(db), rec)
	defer boot.StopScheduler()

	router := setupRouter()

	appHost := config.AppHost()
	if apiEnv == "local" {
		router.Use(cors.Default())
	} else {
		cc := cors.DefaultConfig()
		cc.AllowMethods = append(cc.AllowMethods, "GET", "POST", "PATCH", "DELETE", "HEAD")
		cc.AllowHeaders = append(cc.AllowHeaders, "Origin", "Authorization")
		cc.AllowOriginFunc = func(origin string) bool {
			match, _ := regexp.MatchString(regexp.QuoteMeta(appHost), origin)
			return match
		}
		cc.AllowCredentials = true
		cc.AllowAllOrigins = false
		router.Use(cors.New(cc))
	}

	router = maintenanceModeMiddleware(router)
	srv.routes(router)

	port := os.Getenv("PORT")
	if port == "" {
		port = "9090"
	}
	httpServer := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Error starting server: %s\n", err.Error())
		}
	}()
	log.Printf("API listening on :%s\n", port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("Error shutting down server: %s\n", err.Error())
	}
	dispatcher.Wait()
}
