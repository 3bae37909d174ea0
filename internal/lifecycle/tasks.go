package lifecycle

import (
	"errors"
	"strings"

	"github.com/jomardyan/FlexiFocus/internal/model"
)

var (
	ErrInvalidTask  = errors.New("task title is required")
	ErrTaskNotFound = errors.New("task not found")
)

// TaskPatch carries the fields of an updateTask request; nil leaves a field
// unchanged.
type TaskPatch struct {
	Title             *string `json:"title"`
	Estimate          *int    `json:"estimate"`
	CompletedSessions *int    `json:"completedSessions"`
	Done              *bool   `json:"done"`
}

// AddTask prepends a new task. Estimates below one session become one.
func (m *Machine) AddTask(in Input, title string, estimate int) (Result, model.Task, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return unchanged(in), model.Task{}, ErrInvalidTask
	}
	if estimate < 1 {
		estimate = 1
	}

	task := model.Task{
		ID:        m.newID(),
		Title:     title,
		Estimate:  estimate,
		CreatedAt: in.Now,
	}
	state := in.State.Clone()
	state.Tasks = append([]model.Task{task}, state.Tasks...)
	return changed(state, in.Settings), task, nil
}

func (m *Machine) UpdateTask(in Input, id string, patch TaskPatch) (Result, error) {
	index := in.State.FindTask(id)
	if index < 0 {
		return unchanged(in), ErrTaskNotFound
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return unchanged(in), ErrInvalidTask
	}

	state := in.State.Clone()
	task := &state.Tasks[index]
	if patch.Title != nil {
		task.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Estimate != nil {
		task.Estimate = *patch.Estimate
		if task.Estimate < 1 {
			task.Estimate = 1
		}
	}
	if patch.CompletedSessions != nil {
		task.CompletedSessions = *patch.CompletedSessions
		if task.CompletedSessions < 0 {
			task.CompletedSessions = 0
		}
	}
	if patch.Done != nil {
		task.Done = *patch.Done
	} else if task.CompletedSessions >= task.Estimate {
		task.Done = true
	}
	return changed(state, in.Settings), nil
}

// DeleteTask removes a task and clears it as the active task.
func (m *Machine) DeleteTask(in Input, id string) (Result, error) {
	index := in.State.FindTask(id)
	if index < 0 {
		return unchanged(in), ErrTaskNotFound
	}

	state := in.State.Clone()
	state.Tasks = append(state.Tasks[:index], state.Tasks[index+1:]...)
	if active := state.Timer.ActiveTaskID; active != nil && *active == id {
		state.Timer.ActiveTaskID = nil
	}
	return changed(state, in.Settings), nil
}

// SetActiveTask points the timer at a task; an empty id clears it.
func (m *Machine) SetActiveTask(in Input, id string) (Result, error) {
	state := in.State.Clone()
	if id == "" {
		state.Timer.ActiveTaskID = nil
		return changed(state, in.Settings), nil
	}
	if state.FindTask(id) < 0 {
		return unchanged(in), ErrTaskNotFound
	}
	state.Timer.ActiveTaskID = &id
	return changed(state, in.Settings), nil
}

// applyTaskProgress credits one completed work session to the task.
func applyTaskProgress(state *model.AppState, taskID string) {
	index := state.FindTask(taskID)
	if index < 0 {
		return
	}
	task := &state.Tasks[index]
	task.CompletedSessions++
	if task.CompletedSessions >= task.Estimate {
		task.Done = true
	}
}
