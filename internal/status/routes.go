package status

import (
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

var validate = validator.New()

// NewApp returns a Fiber app serving the status of tracker.
func NewApp(logger *slog.Logger, tracker *Tracker) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "era5sync",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			if code >= fiber.StatusInternalServerError {
				logger.Error("status request failed", "path", c.Path(), "err", err)
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})
	app.Use(recover.New())
	RegisterRoutes(app, tracker)
	return app
}

// RegisterRoutes wires the status handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, tracker *Tracker) {
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "era5sync",
			"running": tracker.Running(),
		})
	})

	v1 := app.Group("/api/v1")

	v1.Get("/units", func(c *fiber.Ctx) error {
		q := unitsQuery{State: strings.ToUpper(c.Query("state"))}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		units := tracker.Units(q.State)
		return c.JSON(fiber.Map{
			"running": tracker.Running(),
			"units":   units,
		})
	})

	v1.Get("/runs/last", func(c *fiber.Ctx) error {
		run, ok := tracker.LastRun()
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no run has finished yet")
		}
		return c.JSON(run)
	})
}

// unitsQuery holds query parameters of the units endpoint.
type unitsQuery struct {
	State string `validate:"omitempty,oneof=PENDING FETCHING NORMALIZING EXPORTING RETRYING DONE FAILED"`
}
