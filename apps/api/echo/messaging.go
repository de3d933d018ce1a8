package echoapi

import (
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/messaging"
)

type messagingApi struct {
	svc      messaging.ServiceInterface
	validate *validator.Validate
}

func registerMessagingAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc messaging.ServiceInterface, validate *validator.Validate) {
	api := messagingApi{
		svc:      svc,
		validate: validate,
	}

	mg := g.Group("/messages", jwt)
	mg.POST("", api.send)
	mg.GET("/conversations", api.queryConversations)
	mg.GET("/conversations/:id", api.queryMessages)
	mg.POST("/conversations/:id/read", api.markRead)
}

// Handlers

func (api *messagingApi) send(ctx echo.Context) error {
	var data messaging.NewMessage
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewMessage")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	msg, err := api.svc.Send(ctx.Request().Context(), claims.Subject, data)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusCreated, msg)
}

func (api *messagingApi) queryConversations(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	summaries, err := api.svc.ListConversations(ctx.Request().Context(), claims.Subject)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, summaries)
}

// queryMessages returns the newest messages of a thread, oldest-first.
// Opening a thread acknowledges it: unless mark_read=false, the caller's unread
// incoming messages are marked read after a successful list.
func (api *messagingApi) queryMessages(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	var limit int
	if raw := ctx.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return core.NewValidationError(nil, core.FieldError{Field: "limit", Error: "limit must be a positive number"})
		}
	}

	reqCtx := ctx.Request().Context()
	convID := ctx.Param("id")

	msgs, err := api.svc.ListMessages(reqCtx, convID, claims.Subject, limit)
	if err != nil {
		return err
	}

	if ctx.QueryParam("mark_read") != "false" {
		if err = api.svc.MarkConversationRead(reqCtx, convID, claims.Subject); err != nil {
			return err
		}
	}
	return ctx.JSON(http.StatusOK, msgs)
}

func (api *messagingApi) markRead(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return errors.Wrap(err, "getting context claims")
	}

	if err = api.svc.MarkConversationRead(ctx.Request().Context(), ctx.Param("id"), claims.Subject); err != nil {
		return err
	}
	return ctx.NoContent(http.StatusNoContent)
}
