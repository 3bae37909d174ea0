// Package dispatch routes typed command requests from any client to the
// timer service.
package dispatch

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/jomardyan/FlexiFocus/internal/errors"
	"github.com/jomardyan/FlexiFocus/internal/lifecycle"
	"github.com/jomardyan/FlexiFocus/internal/model"
	"github.com/jomardyan/FlexiFocus/internal/service"
)

// Command is one request on the command channel.
type Command struct {
	Type    string          `json:"type" binding:"required"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Timer is the service surface commands act on.
type Timer interface {
	GetState(ctx context.Context) (*service.StateView, *apperrors.APIError)
	Start(ctx context.Context, methodKey string, phase model.Phase) (*service.StateView, *apperrors.APIError)
	Pause(ctx context.Context) (*service.StateView, *apperrors.APIError)
	Resume(ctx context.Context) (*service.StateView, *apperrors.APIError)
	Reset(ctx context.Context) (*service.StateView, *apperrors.APIError)
	CompleteFlow(ctx context.Context) (*service.StateView, *apperrors.APIError)
	SetMethod(ctx context.Context, methodKey string) (*service.StateView, *apperrors.APIError)
	UpdateSettings(ctx context.Context, patch map[string]any) (*service.StateView, *apperrors.APIError)
	AddTask(ctx context.Context, title string, estimate int) (*service.StateView, *apperrors.APIError)
	UpdateTask(ctx context.Context, id string, patch lifecycle.TaskPatch) (*service.StateView, *apperrors.APIError)
	DeleteTask(ctx context.Context, id string) (*service.StateView, *apperrors.APIError)
	SetActiveTask(ctx context.Context, id string) (*service.StateView, *apperrors.APIError)
}

type handlerFunc func(ctx context.Context, payload json.RawMessage) (any, *apperrors.APIError)

type Dispatcher struct {
	handlers map[string]handlerFunc
}

var validate = validator.New(validator.WithRequiredStructEnabled())

type startPayload struct {
	MethodKey string      `json:"methodKey"`
	Phase     model.Phase `json:"phase" validate:"omitempty,oneof=work break longBreak flow"`
}

type setMethodPayload struct {
	MethodKey string `json:"methodKey" validate:"required"`
}

type settingsPayload struct {
	Settings map[string]any `json:"settings" validate:"required"`
}

type addTaskPayload struct {
	Title    string `json:"title" validate:"required"`
	Estimate int    `json:"estimate" validate:"gte=0,lte=100"`
}

type updateTaskPayload struct {
	ID    string              `json:"id" validate:"required"`
	Patch lifecycle.TaskPatch `json:"patch"`
}

type taskIDPayload struct {
	ID string `json:"id" validate:"required"`
}

type activeTaskPayload struct {
	ID *string `json:"id"`
}

func New(timer Timer) *Dispatcher {
	d := &Dispatcher{handlers: map[string]handlerFunc{}}

	d.handle("getState", func(ctx context.Context, _ json.RawMessage) (any, *apperrors.APIError) {
		return timer.GetState(ctx)
	})
	d.handle("startTimer", func(ctx context.Context, raw json.RawMessage) (any, *apperrors.APIError) {
		var p startPayload
		if apiErr := decode(raw, &p); apiErr != nil {
			return nil, apiErr
		}
		return timer.Start(ctx, p.MethodKey, p.Phase)
	})
	d.handle("pauseTimer", noPayload(timer.Pause))
	d.handle("resumeTimer", noPayload(timer.Resume))
	d.handle("resetTimer", noPayload(timer.Reset))
	d.handle("completeFlowtime", noPayload(timer.CompleteFlow))
	// Rejected with 423 lock_in_active like pauseTimer and resetTimer.
	d.handle("setMethod", func(ctx context.Context, raw json.RawMessage) (any, *apperrors.APIError) {
		var p setMethodPayload
		if apiErr := decode(raw, &p); apiErr != nil {
			return nil, apiErr
		}
		return timer.SetMethod(ctx, p.MethodKey)
	})
	d.handle("updateSettings", func(ctx context.Context, raw json.RawMessage) (any, *apperrors.APIError) {
		var p settingsPayload
		if apiErr := decode(raw, &p); apiErr != nil {
			return nil, apiErr
		}
		return timer.UpdateSettings(ctx, p.Settings)
	})
	d.handle("addTask", func(ctx context.Context, raw json.RawMessage) (any, *apperrors.APIError) {
		var p addTaskPayload
		if apiErr := decode(raw, &p); apiErr != nil {
			return nil, apiErr
		}
		return timer.AddTask(ctx, p.Title, p.Estimate)
	})
	d.handle("updateTask", func(ctx context.Context, raw json.RawMessage) (any, *apperrors.APIError) {
		var p updateTaskPayload
		if apiErr := decode(raw, &p); apiErr != nil {
			return nil, apiErr
		}
		return timer.UpdateTask(ctx, p.ID, p.Patch)
	})
	d.handle("deleteTask", func(ctx context.Context, raw json.RawMessage) (any, *apperrors.APIError) {
		var p taskIDPayload
		if apiErr := decode(raw, &p); apiErr != nil {
			return nil, apiErr
		}
		return timer.DeleteTask(ctx, p.ID)
	})
	d.handle("setActiveTask", func(ctx context.Context, raw json.RawMessage) (any, *apperrors.APIError) {
		var p activeTaskPayload
		if apiErr := decode(raw, &p); apiErr != nil {
			return nil, apiErr
		}
		id := ""
		if p.ID != nil {
			id = *p.ID
		}
		return timer.SetActiveTask(ctx, id)
	})

	return d
}

func (d *Dispatcher) handle(commandType string, fn handlerFunc) {
	d.handlers[commandType] = fn
}

// Dispatch runs one command. Unknown types fail only that request.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd Command) (any, *apperrors.APIError) {
	fn, ok := d.handlers[cmd.Type]
	if !ok {
		return nil, apperrors.BadRequest("unknown_command", "unknown command type: "+cmd.Type)
	}
	return fn(ctx, cmd.Payload)
}

// Types lists the registered command types.
func (d *Dispatcher) Types() []string {
	types := make([]string, 0, len(d.handlers))
	for t := range d.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

func noPayload(fn func(context.Context) (*service.StateView, *apperrors.APIError)) handlerFunc {
	return func(ctx context.Context, _ json.RawMessage) (any, *apperrors.APIError) {
		return fn(ctx)
	}
}

func decode(raw json.RawMessage, out any) *apperrors.APIError {
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, out); err != nil {
			return apperrors.BadRequest("invalid_request", "invalid payload: "+err.Error())
		}
	}
	if err := validate.Struct(out); err != nil {
		return apperrors.BadRequest("invalid_request", "invalid payload: "+err.Error())
	}
	return nil
}
