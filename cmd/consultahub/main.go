package main

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/consultahub/consultahub/app/controllers"
	"github.com/consultahub/consultahub/app/repository"
	"github.com/consultahub/consultahub/internal/pkg/billing"
	"github.com/consultahub/consultahub/internal/pkg/cache"
	"github.com/consultahub/consultahub/internal/pkg/database"
	"github.com/consultahub/consultahub/internal/pkg/env"
	"github.com/consultahub/consultahub/internal/pkg/lookup"
	"github.com/consultahub/consultahub/internal/pkg/notifications"
	"github.com/consultahub/consultahub/internal/pkg/router"
	"github.com/consultahub/consultahub/internal/pkg/scheduler"
	"github.com/consultahub/consultahub/internal/pkg/subscription"
	"github.com/consultahub/consultahub/internal/pkg/usage"
)

func main() {
	app := NewApplication()
	err := app.Listen(fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000")))
	log.Fatal(err)
}

func NewApplication() *fiber.App {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()

	factory := repository.NewFactory(database.GetDB())
	repository.SetGlobalFactory(factory)
	store := factory.GetStore()

	loc := loadLocation()
	notifier := notifications.NewSMTPNotifier(store.Users())
	subsSvc := subscription.NewService(store, notifier, loc)
	usageSvc := usage.NewService(store, loc)
	billingSvc := billing.NewService(store, subsSvc, notifier)
	controllers.SetupServices(subsSvc, usageSvc, billingSvc, lookup.NewClient())

	sched := scheduler.New(subsSvc)
	if err := sched.Start(); err != nil {
		log.Fatalf("scheduler start failed: %v", err)
	}

	basePath := findBasePath()

	app := fiber.New(fiber.Config{
		AppName:     "ConsultaHub",
		BodyLimit:   1 << 20, // JSON API, 1 MiB is plenty
		ReadTimeout: 30 * time.Second,
	})

	// recovery and logging
	app.Use(recover.New(), logger.New())

	// fiber metrics
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Users: map[string]string{
			env.GetEnv("METRICS_USER", "admin"): env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: "/docs/api/",
		FilePath: basePath + "public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app, usageSvc)

	return app
}

func loadLocation() *time.Location {
	name := env.GetEnv("APP_TIMEZONE", "America/Sao_Paulo")
	loc, err := time.LoadLocation(name)
	if err != nil {
		log.Printf("invalid APP_TIMEZONE %q, falling back to UTC: %v", name, err)
		return time.UTC
	}
	return loc
}

func findBasePath() string {
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/consultahub to project root
		"../../../", // Fallback
	}
	for _, path := range basePaths {
		if _, err := os.Stat(path + "public"); !os.IsNotExist(err) {
			return path
		}
	}
	panic("Could not find project root directory")
}
