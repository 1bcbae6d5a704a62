package controller

import (
	"rejudge/internal/rejudge/model"
	"rejudge/internal/rejudge/service"
)

// CreateRequest rejudges the judgings matching the embedded criteria.
type CreateRequest struct {
	model.Criteria
	Reason    string `json:"reason"`
	Priority  string `json:"priority"`
	AutoApply bool   `json:"auto_apply"`
	Repeat    int    `json:"repeat"`
	ReturnTo  string `json:"return_to"`
}

// TableCreateRequest rejudges everything one entity touched.
type TableCreateRequest struct {
	Table      string `json:"table" binding:"required"`
	ID         string `json:"id" binding:"required"`
	Reason     string `json:"reason"`
	Priority   string `json:"priority"`
	IncludeAll bool   `json:"include_all"`
	AutoApply  bool   `json:"auto_apply"`
	Repeat     int    `json:"repeat"`
	ReturnTo   string `json:"return_to"`
}

// StreamCommand is the first frame a websocket client sends.
type StreamCommand struct {
	Op          string              `json:"op"`
	Create      *CreateRequest      `json:"create,omitempty"`
	Table       *TableCreateRequest `json:"table,omitempty"`
	RejudgingID int64               `json:"rejudging_id,omitempty"`
	Action      string              `json:"action,omitempty"`
}

// Websocket command names.
const (
	OpCreate    = "create"
	OpFromTable = "create_from_table"
	OpFinish    = "finish"
)

// ListResponse defines the rejudging list payload.
type ListResponse struct {
	Items []service.RejudgingSummary `json:"items"`
}
