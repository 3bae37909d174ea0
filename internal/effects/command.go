package effects

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// waitDelay is how long run keeps reading output after the shell exits.
// Launchers such as xdg-open leave children holding the pipe open.
const waitDelay = 500 * time.Millisecond

// Command runs a shell command template. Placeholders are replaced with
// single-quoted values, so templates must not quote them again.
type Command struct {
	Template string
	Logger   *slog.Logger
}

func (c Command) run(ctx context.Context, values map[string]string) error {
	if strings.TrimSpace(c.Template) == "" {
		return nil
	}
	cmdStr := expand(c.Template, values)
	cmd := exec.CommandContext(ctx, "sh", "-c", cmdStr)
	cmd.WaitDelay = waitDelay
	out, err := cmd.CombinedOutput()
	switch {
	case errors.Is(err, exec.ErrWaitDelay):
		// The shell exited cleanly and left a background child running.
	case ctx.Err() != nil:
		return fmt.Errorf("command did not finish: %w", ctx.Err())
	case err != nil:
		return fmt.Errorf("command failed: %w: %s", err, strings.TrimSpace(string(out)))
	}
	if c.Logger != nil {
		c.Logger.Debug("collaborator command ran", "command", cmdStr)
	}
	return nil
}

func expand(template string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for key, value := range values {
		pairs = append(pairs, "{{."+key+"}}", shellQuote(value))
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}

// CommandNotifier presents notifications, e.g. `notify-send {{.Title}} {{.Message}}`.
type CommandNotifier struct{ Command }

func (n CommandNotifier) Notify(ctx context.Context, title, message string) error {
	return n.run(ctx, map[string]string{"Title": title, "Message": message})
}

// CommandTabOpener opens the break page, e.g. `xdg-open {{.URL}}`.
type CommandTabOpener struct{ Command }

func (o CommandTabOpener) OpenTab(ctx context.Context, url string) error {
	if url == "" {
		return nil
	}
	return o.run(ctx, map[string]string{"URL": url})
}

// CommandSoundPlayer plays the completion tone, e.g.
// `paplay --volume={{.Volume}} /usr/share/sounds/bell.oga`. Volume is
// rendered as an integer on the 0-65536 PulseAudio scale.
type CommandSoundPlayer struct{ Command }

func (p CommandSoundPlayer) Play(ctx context.Context, volume float64) error {
	if volume < 0 {
		volume = 0
	}
	if volume > 1 {
		volume = 1
	}
	return p.run(ctx, map[string]string{
		"Volume": strconv.Itoa(int(volume * 65536)),
	})
}
