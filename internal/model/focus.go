package model

type Phase string

const (
	PhaseWork      Phase = "work"
	PhaseBreak     Phase = "break"
	PhaseLongBreak Phase = "longBreak"
	PhaseFlow      Phase = "flow"
)

func (p Phase) Valid() bool {
	switch p {
	case PhaseWork, PhaseBreak, PhaseLongBreak, PhaseFlow:
		return true
	}
	return false
}

const (
	DefaultMethodKey             = "pomodoro"
	DefaultCyclesBeforeLongBreak = 4
	HistoryLimit                 = 200
	SchemaVersion                = 2
)

// Method is one named timing method. Durations are ignored for flexible
// methods; SuggestedBreakMinutes is only used by flexible ones.
type Method struct {
	Key                   string `json:"key" yaml:"key"`
	Label                 string `json:"label" yaml:"label"`
	Flexible              bool   `json:"flexible" yaml:"flexible"`
	WorkMinutes           int    `json:"workMinutes,omitempty" yaml:"work_minutes"`
	ShortBreakMinutes     int    `json:"shortBreakMinutes,omitempty" yaml:"short_break_minutes"`
	LongBreakMinutes      int    `json:"longBreakMinutes,omitempty" yaml:"long_break_minutes"`
	CyclesBeforeLongBreak int    `json:"cyclesBeforeLongBreak" yaml:"cycles_before_long_break"`
	SuggestedBreakMinutes int    `json:"suggestedBreakMinutes,omitempty" yaml:"suggested_break_minutes"`
}

// Timer is the single persisted timer snapshot. Timestamps are Unix
// milliseconds and zero when not applicable.
type Timer struct {
	MethodKey         string  `json:"methodKey"`
	Phase             Phase   `json:"phase"`
	IsRunning         bool    `json:"isRunning"`
	StartTime         int64   `json:"startTime"`
	EndTime           int64   `json:"endTime"`
	RemainingMs       int64   `json:"remainingMs"`
	CycleCount        int     `json:"cycleCount"`
	CompletedSessions int     `json:"completedSessions"`
	ActiveTaskID      *string `json:"activeTaskId"`
}

type Task struct {
	ID                string `json:"id"`
	Title             string `json:"title"`
	Estimate          int    `json:"estimate"`
	CompletedSessions int    `json:"completedSessions"`
	Done              bool   `json:"done"`
	CreatedAt         int64  `json:"createdAt"`
}

type HistoryEntry struct {
	ID         string  `json:"id"`
	MethodKey  string  `json:"methodKey"`
	Phase      Phase   `json:"phase"`
	DurationMs int64   `json:"durationMs"`
	StartedAt  int64   `json:"startedAt"`
	EndedAt    int64   `json:"endedAt"`
	TaskID     *string `json:"taskId"`
}

// Statistics is the rolling summary kept alongside the history log.
type Statistics struct {
	Day           string `json:"day"`
	TodaySessions int    `json:"todaySessions"`
	TodayFocusMs  int64  `json:"todayFocusMs"`
	TotalFocusMs  int64  `json:"totalFocusMs"`
	StreakDays    int    `json:"streakDays"`
	LastActiveDay string `json:"lastActiveDay"`
}

// AppState is the aggregate persisted under the "state" key.
type AppState struct {
	SchemaVersion int            `json:"schemaVersion"`
	Timer         Timer          `json:"timer"`
	Tasks         []Task         `json:"tasks"`
	History       []HistoryEntry `json:"history"`
	Statistics    Statistics     `json:"statistics"`
}

// MethodPreset overrides catalog durations for one method. Zero fields keep
// the catalog value.
type MethodPreset struct {
	WorkMinutes           int `json:"workMinutes,omitempty" validate:"gte=0,lte=600"`
	ShortBreakMinutes     int `json:"shortBreakMinutes,omitempty" validate:"gte=0,lte=600"`
	LongBreakMinutes      int `json:"longBreakMinutes,omitempty" validate:"gte=0,lte=600"`
	CyclesBeforeLongBreak int `json:"cyclesBeforeLongBreak,omitempty" validate:"gte=0,lte=24"`
	SuggestedBreakMinutes int `json:"suggestedBreakMinutes,omitempty" validate:"gte=0,lte=600"`
}

// Settings is persisted under the "settings" key.
type Settings struct {
	SelectedMethod   string                  `json:"selectedMethod" validate:"required"`
	Presets          map[string]MethodPreset `json:"presets" validate:"dive"`
	AutoStartWork    bool                    `json:"autoStartWork"`
	AutoStartBreak   bool                    `json:"autoStartBreak"`
	LockIn           bool                    `json:"lockIn"`
	Notifications    bool                    `json:"notifications"`
	Sound            bool                    `json:"sound"`
	Volume           float64                 `json:"volume" validate:"gte=0,lte=1"`
	ShowBadge        bool                    `json:"showBadge"`
	BreakEnforcement bool                    `json:"breakEnforcement"`
	Theme            string                  `json:"theme" validate:"oneof=system light dark"`
}

func DefaultTimer(methodKey string) Timer {
	if methodKey == "" {
		methodKey = DefaultMethodKey
	}
	return Timer{
		MethodKey: methodKey,
		Phase:     PhaseWork,
	}
}

func DefaultAppState() AppState {
	return AppState{
		SchemaVersion: SchemaVersion,
		Timer:         DefaultTimer(DefaultMethodKey),
		Tasks:         []Task{},
		History:       []HistoryEntry{},
	}
}

func DefaultSettings() Settings {
	return Settings{
		SelectedMethod: DefaultMethodKey,
		Presets:        map[string]MethodPreset{},
		Notifications:  true,
		Sound:          true,
		Volume:         0.7,
		ShowBadge:      true,
		Theme:          "system",
	}
}

// FindTask returns the index of the task with id, or -1.
func (s *AppState) FindTask(id string) int {
	for i := range s.Tasks {
		if s.Tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so transitions never alias the caller's slices.
func (s AppState) Clone() AppState {
	out := s
	out.Timer.ActiveTaskID = cloneString(s.Timer.ActiveTaskID)
	out.Tasks = append([]Task{}, s.Tasks...)
	out.History = make([]HistoryEntry, len(s.History))
	for i, entry := range s.History {
		entry.TaskID = cloneString(entry.TaskID)
		out.History[i] = entry
	}
	return out
}

func (s Settings) Clone() Settings {
	out := s
	out.Presets = make(map[string]MethodPreset, len(s.Presets))
	for key, preset := range s.Presets {
		out.Presets[key] = preset
	}
	return out
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
