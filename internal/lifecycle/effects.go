package lifecycle

// EffectKind names a side effect the caller performs after persisting.
type EffectKind string

const (
	EffectScheduleCompletion EffectKind = "scheduleCompletion"
	EffectClearCompletion    EffectKind = "clearCompletion"
	EffectStartBadge         EffectKind = "startBadge"
	EffectClearBadge         EffectKind = "clearBadge"
	EffectNotify             EffectKind = "notify"
	EffectPlaySound          EffectKind = "playSound"
	EffectOpenBreakPage      EffectKind = "openBreakPage"
)

type Effect struct {
	Kind    EffectKind
	At      int64
	Title   string
	Message string
}

func scheduleCompletion(at int64) Effect {
	return Effect{Kind: EffectScheduleCompletion, At: at}
}

func clearTimers() []Effect {
	return []Effect{{Kind: EffectClearCompletion}, {Kind: EffectClearBadge}}
}
