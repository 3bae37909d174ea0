// Package effects holds the collaborators the timer drives after a
// transition: desktop notifications, the break page, the completion tone and
// the badge.
package effects

import "context"

type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

type TabOpener interface {
	OpenTab(ctx context.Context, url string) error
}

type SoundPlayer interface {
	Play(ctx context.Context, volume float64) error
}

type Badge interface {
	SetBadge(ctx context.Context, text string) error
	ClearBadge(ctx context.Context) error
}

// Collaborators groups the implementations handed to the timer service.
type Collaborators struct {
	Notifier Notifier
	Opener   TabOpener
	Sound    SoundPlayer
	Badge    Badge
}
