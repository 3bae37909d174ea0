// Package methods holds the static catalog of timing methods.
package methods

import "github.com/jomardyan/FlexiFocus/internal/model"

const FlowtimeKey = "flowtime"

var builtin = []model.Method{
	{Key: "pomodoro", Label: "Pomodoro", WorkMinutes: 25, ShortBreakMinutes: 5, LongBreakMinutes: 15, CyclesBeforeLongBreak: 4},
	{Key: "fifty-two", Label: "52 / 17", WorkMinutes: 52, ShortBreakMinutes: 17, LongBreakMinutes: 17, CyclesBeforeLongBreak: 4},
	{Key: "ultradian", Label: "Ultradian Rhythm", WorkMinutes: 90, ShortBreakMinutes: 20, LongBreakMinutes: 30, CyclesBeforeLongBreak: 2},
	{Key: "desktime", Label: "DeskTime 112/26", WorkMinutes: 112, ShortBreakMinutes: 26, LongBreakMinutes: 26, CyclesBeforeLongBreak: 4},
	{Key: FlowtimeKey, Label: "Flowtime", Flexible: true, CyclesBeforeLongBreak: 1, SuggestedBreakMinutes: 10},
}

// Catalog returns the built-in methods in display order.
func Catalog() []model.Method {
	return append([]model.Method(nil), builtin...)
}

func Lookup(key string) (model.Method, bool) {
	for _, method := range builtin {
		if method.Key == key {
			return method, true
		}
	}
	return model.Method{}, false
}

// Resolve returns the method for key with user presets applied. Unknown keys
// resolve to the default method.
func Resolve(key string, presets map[string]model.MethodPreset) model.Method {
	method, ok := Lookup(key)
	if !ok {
		method, _ = Lookup(model.DefaultMethodKey)
	}
	if preset, ok := presets[method.Key]; ok {
		method = applyPreset(method, preset)
	}
	return method
}

// WithPresets returns the whole catalog with presets applied.
func WithPresets(presets map[string]model.MethodPreset) []model.Method {
	out := Catalog()
	for i := range out {
		if preset, ok := presets[out[i].Key]; ok {
			out[i] = applyPreset(out[i], preset)
		}
	}
	return out
}

func applyPreset(method model.Method, preset model.MethodPreset) model.Method {
	if preset.WorkMinutes > 0 {
		method.WorkMinutes = preset.WorkMinutes
	}
	if preset.ShortBreakMinutes > 0 {
		method.ShortBreakMinutes = preset.ShortBreakMinutes
	}
	if preset.LongBreakMinutes > 0 {
		method.LongBreakMinutes = preset.LongBreakMinutes
	}
	if preset.CyclesBeforeLongBreak > 0 {
		method.CyclesBeforeLongBreak = preset.CyclesBeforeLongBreak
	}
	if preset.SuggestedBreakMinutes > 0 {
		method.SuggestedBreakMinutes = preset.SuggestedBreakMinutes
	}
	return method
}
