package controller

import (
	"context"
	"strconv"
	"strings"

	"rejudge/internal/rejudge/model"
	"rejudge/internal/rejudge/progress"
	"rejudge/internal/rejudge/service"
	appErr "rejudge/pkg/errors"
	"rejudge/pkg/utils/logger"
	"rejudge/pkg/utils/response"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	adminRole           = "admin"
	defaultStreamBuffer = 64
)

// RejudgingController handles rejudging HTTP requests.
type RejudgingController struct {
	rejudgeService *service.RejudgeService
	upgrader       websocket.Upgrader
	streamBuffer   int
}

// NewRejudgingController creates a new RejudgingController.
func NewRejudgingController(rejudgeService *service.RejudgeService) *RejudgingController {
	return &RejudgingController{
		rejudgeService: rejudgeService,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		streamBuffer: defaultStreamBuffer,
	}
}

// Register mounts the rejudging routes on group.
func (h *RejudgingController) Register(group *gin.RouterGroup) {
	group.GET("", h.List)
	group.POST("", h.Create)
	group.POST("/table", h.CreateFromTable)
	group.GET("/stream", h.Stream)
	group.GET("/:id", h.Get)
	group.GET("/:id/report", h.Report)
	group.POST("/:id/:action", h.Finish)
}

// List handles rejudging list requests.
func (h *RejudgingController) List(c *gin.Context) {
	var contestID *int64
	if raw := strings.TrimSpace(c.Query("contest_id")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			response.BadRequest(c, "invalid contest_id")
			return
		}
		contestID = &id
	}

	items, err := h.rejudgeService.ListRejudgings(c.Request.Context(), contestID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, ListResponse{Items: items})
}

// Get handles rejudging detail requests.
func (h *RejudgingController) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	view, err := h.rejudgeService.GetRejudgingView(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

// Report handles archived report requests.
func (h *RejudgingController) Report(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	doc, err := h.rejudgeService.GetArchivedReport(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, doc)
}

// Create handles criteria-based rejudging requests and streams progress as NDJSON.
func (h *RejudgingController) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request")
		return
	}
	op, err := h.prepareCreate(c.Request.Context(), actorFrom(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.streamNDJSON(c, op)
}

// CreateFromTable handles entity-based rejudging requests and streams progress as NDJSON.
func (h *RejudgingController) CreateFromTable(c *gin.Context) {
	var req TableCreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request")
		return
	}
	op, err := h.prepareTable(c.Request.Context(), actorFrom(c), &req)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.streamNDJSON(c, op)
}

// Finish handles apply and cancel requests and streams progress as NDJSON.
func (h *RejudgingController) Finish(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	op, err := h.prepareFinish(c.Request.Context(), actorFrom(c), id, c.Param("action"))
	if err != nil {
		response.Error(c, err)
		return
	}
	h.streamNDJSON(c, op)
}

// Stream upgrades to a websocket, reads one StreamCommand and streams its progress.
func (h *RejudgingController) Stream(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	var cmd StreamCommand
	if err := conn.ReadJSON(&cmd); err != nil {
		writeWebsocketError(c, conn, appErr.New(appErr.InvalidParams).WithMessage("invalid stream command"))
		return
	}

	actor := actorFrom(c)
	var op operation
	switch cmd.Op {
	case OpCreate:
		if cmd.Create == nil {
			err = appErr.ValidationError("create", "required")
			break
		}
		op, err = h.prepareCreate(ctx, actor, cmd.Create)
	case OpFromTable:
		if cmd.Table == nil {
			err = appErr.ValidationError("table", "required")
			break
		}
		op, err = h.prepareTable(ctx, actor, cmd.Table)
	case OpFinish:
		op, err = h.prepareFinish(ctx, actor, cmd.RejudgingID, cmd.Action)
	default:
		err = appErr.ValidationError("op", "unknown")
	}
	if err != nil {
		writeWebsocketError(c, conn, err)
		return
	}
	h.streamWebsocket(ctx, conn, op)
}

// prepareCreate runs the selection up front so that usage errors are answered
// before any progress is streamed.
func (h *RejudgingController) prepareCreate(ctx context.Context, actor model.Actor, req *CreateRequest) (operation, error) {
	priority, err := model.ParsePriority(req.Priority)
	if err != nil {
		return nil, appErr.ValidationError("priority", err.Error())
	}
	sel, err := h.rejudgeService.Select(ctx, &req.Criteria, actor)
	if err != nil {
		return nil, err
	}
	opts := model.CreateOptions{
		Reason:    req.Reason,
		Priority:  priority,
		AutoApply: req.AutoApply,
		Repeat:    req.Repeat,
		Actor:     actor,
		ReturnTo:  req.ReturnTo,
	}
	return func(ctx context.Context, reporter progress.Reporter) {
		if _, err := h.rejudgeService.CreateFromSelection(ctx, sel, opts, reporter); err != nil {
			logger.Warn(ctx, "create rejudging failed", zap.Error(err))
		}
	}, nil
}

func (h *RejudgingController) prepareTable(ctx context.Context, actor model.Actor, req *TableCreateRequest) (operation, error) {
	priority, err := model.ParsePriority(req.Priority)
	if err != nil {
		return nil, appErr.ValidationError("priority", err.Error())
	}
	plan, err := h.rejudgeService.PlanFromTable(ctx, service.TableRequest{
		Table:      req.Table,
		ID:         req.ID,
		Reason:     req.Reason,
		Priority:   priority,
		AutoApply:  req.AutoApply,
		IncludeAll: req.IncludeAll,
		Repeat:     req.Repeat,
		ReturnTo:   req.ReturnTo,
		Actor:      actor,
	})
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, reporter progress.Reporter) {
		if _, err := h.rejudgeService.CreateFromTable(ctx, plan, reporter); err != nil {
			logger.Warn(ctx, "create rejudging from table failed", zap.String("table", req.Table), zap.Error(err))
		}
	}, nil
}

func (h *RejudgingController) prepareFinish(ctx context.Context, actor model.Actor, rejudgingID int64, actionName string) (operation, error) {
	if rejudgingID <= 0 {
		return nil, appErr.ValidationError("rejudging_id", "must be positive")
	}
	action, err := model.ParseAction(actionName)
	if err != nil {
		return nil, appErr.ValidationError("action", err.Error())
	}
	if actor.UserID == nil {
		return nil, appErr.New(appErr.Unauthorized).WithMessage("finishing a rejudging requires a user")
	}
	if _, err := h.rejudgeService.CheckFinishable(ctx, rejudgingID); err != nil {
		return nil, err
	}
	return func(ctx context.Context, reporter progress.Reporter) {
		if err := h.rejudgeService.FinishRejudging(ctx, rejudgingID, action, actor, reporter); err != nil {
			logger.Warn(ctx, "finish rejudging failed", zap.Int64("rejudging_id", rejudgingID), zap.Error(err))
		}
	}, nil
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "invalid rejudging id")
		return 0, false
	}
	return id, true
}

// actorFrom reads the caller identity set by the trace middleware.
func actorFrom(c *gin.Context) model.Actor {
	var actor model.Actor
	if raw := strings.TrimSpace(c.GetString("user_id")); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil && id > 0 {
			actor.UserID = &id
		}
	}
	actor.Admin = strings.EqualFold(c.GetString("user_role"), adminRole)
	return actor
}
