package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"avatarcrop/internal/photo"
	"avatarcrop/internal/session"
)

type Config struct {
	Addr           string
	MaxUploadBytes int
	Session        *session.Session
	Store          session.AvatarStore

	OnBeforeShutdown func()
	OnReady          func(addr string)
	OnCommit         func(avatar string)
}

type WebApp struct {
	config       Config
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

func NewWebApp(config Config) *WebApp {
	if config.Addr == "" {
		config.Addr = "localhost:0"
	}
	return &WebApp{
		config:     config,
		shutdownCh: make(chan struct{}),
	}
}

func (a *WebApp) Shutdown() {
	a.shutdownOnce.Do(func() {
		close(a.shutdownCh)
	})
}

// statusOf maps pipeline and session errors to HTTP status codes.
func statusOf(err error) int {
	var (
		fiberErr  *fiber.Error
		decodeErr *photo.DecodeError
		dimErr    *photo.InvalidDimensionsError
	)
	switch {
	case errors.As(err, &fiberErr):
		return fiberErr.Code
	case errors.As(err, &decodeErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &dimErr),
		errors.Is(err, photo.ErrInvalidAngle),
		errors.Is(err, session.ErrZoomRange):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrInvalidState),
		errors.Is(err, session.ErrSuperseded):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// newApp builds the fiber app. ctx carries the logger handed to requests.
func (a *WebApp) newApp(ctx context.Context) *fiber.App {
	sess := a.config.Session
	webapp := fiber.New(fiber.Config{
		Immutable:             true,
		DisableStartupMessage: true,
		BodyLimit:             a.config.MaxUploadBytes,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := statusOf(err)
			level := zerolog.WarnLevel
			if code >= http.StatusInternalServerError {
				level = zerolog.ErrorLevel
			}
			log.Ctx(c.UserContext()).WithLevel(level).
				Err(err).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Int("status", code).
				Msg("Request failed")
			if code >= http.StatusInternalServerError {
				var renderErr *photo.RenderContextError
				if !errors.As(err, &renderErr) {
					return c.Status(code).JSON(fiber.Map{"error": "Internal Server Error"})
				}
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})

	logger := log.Ctx(ctx)
	webapp.Use(func(c *fiber.Ctx) error {
		c.SetUserContext(logger.WithContext(c.UserContext()))
		return c.Next()
	})

	webapp.Get("/api/session", func(c *fiber.Ctx) error {
		return c.JSON(sess.Snapshot())
	})

	webapp.Post("/api/upload", func(c *fiber.Ctx) error {
		data := bytes.Clone(c.Body())
		if len(data) == 0 {
			return fiber.NewError(http.StatusBadRequest, "empty upload")
		}
		sess.Upload(c.UserContext(), data)
		if !c.QueryBool("wait", true) {
			return c.Status(http.StatusAccepted).JSON(sess.Snapshot())
		}
		if err := sess.Wait(c.UserContext()); err != nil {
			return err
		}
		return c.JSON(sess.Snapshot())
	})

	webapp.Put("/api/crop", func(c *fiber.Ctx) error {
		var adj session.Adjustment
		if err := c.BodyParser(&adj); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if err := sess.Adjust(adj); err != nil {
			return err
		}
		return c.JSON(sess.Snapshot())
	})

	webapp.Post("/api/commit", func(c *fiber.Ctx) error {
		avatar, err := sess.Commit(c.UserContext())
		if err != nil {
			return err
		}
		if fn := a.config.OnCommit; fn != nil {
			fn(avatar)
		}
		return c.JSON(fiber.Map{"avatar": avatar})
	})

	webapp.Post("/api/cancel", func(c *fiber.Ctx) error {
		sess.Cancel(c.UserContext())
		return c.JSON(sess.Snapshot())
	})

	webapp.Get("/api/avatar", func(c *fiber.Ctx) error {
		if a.config.Store == nil {
			return fiber.NewError(http.StatusNotFound, "no profile attached")
		}
		avatar, err := a.config.Store.Avatar(c.UserContext())
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"avatar": avatar})
	})

	webapp.Post("/api/operations", func(c *fiber.Ctx) error {
		var request struct {
			Operations []Operation `json:"operations"`
		}
		if err := c.BodyParser(&request); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}

		for i, op := range request.Operations {
			if op.Upload != nil && op.Upload.Filename != "" {
				return fiber.NewError(http.StatusBadRequest,
					fmt.Sprintf("operation %d: upload image bytes in \"data\", not by filename", i))
			}
		}

		executor := OperationExecutor{Session: sess}
		results, err := executor.Exec(c.UserContext(), request.Operations)
		if err != nil {
			return c.Status(statusOf(err)).JSON(fiber.Map{"results": results, "error": err.Error()})
		}
		for _, res := range results {
			if res.Avatar != "" && a.config.OnCommit != nil {
				a.config.OnCommit(res.Avatar)
			}
		}
		return c.JSON(fiber.Map{"results": results})
	})

	webapp.Post("/api/shutdown", func(c *fiber.Ctx) error {
		a.Shutdown()
		return c.SendStatus(http.StatusNoContent)
	})

	return webapp
}

func (a *WebApp) Run(ctx context.Context) error {
	webapp := a.newApp(ctx)

	webapp.Hooks().OnListen(func(listen fiber.ListenData) error {
		if fn := a.config.OnReady; fn != nil {
			fn(fmt.Sprintf("http://%s:%s", listen.Host, listen.Port))
		}
		return nil
	})

	go func() {
		select {
		case <-ctx.Done():
		case <-a.shutdownCh:
		}
		if fn := a.config.OnBeforeShutdown; fn != nil {
			fn()
		}
		if err := webapp.ShutdownWithTimeout(5 * time.Second); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("Failed to shutdown web application")
		}
	}()

	listener, err := net.Listen("tcp", a.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	if err := webapp.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
