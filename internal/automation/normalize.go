package automation

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Actions the agent command contract understands.
const (
	ActionOpenApp       = "open_app"
	ActionCloseApp      = "close_app"
	ActionTypeText      = "type_text"
	ActionKeyPress      = "key_press"
	ActionSystemControl = "system_control"
)

// appAliases maps free-text application names to canonical app IDs.
// Matching is longest-alias-first so "notepad++" wins over "notepad"
// and "visual studio code" over "code".
var appAliases = map[string]string{
	"visual studio code": "code",
	"vs code":            "code",
	"vscode":             "code",
	"code":               "code",
	"google chrome":      "chrome",
	"chrome":             "chrome",
	"mozilla firefox":    "firefox",
	"firefox":            "firefox",
	"microsoft edge":     "edge",
	"edge":               "edge",
	"notepad++":          "notepad++",
	"notepad":            "notepad",
	"microsoft word":     "word",
	"word":               "word",
	"microsoft excel":    "excel",
	"excel":              "excel",
	"file explorer":      "explorer",
	"explorer":           "explorer",
	"command prompt":     "terminal",
	"cmd":                "terminal",
	"terminal":           "terminal",
	"spotify":            "spotify",
	"slack":              "slack",
	"discord":            "discord",
	"calculator":         "calculator",
	"calc":               "calculator",
}

// aliasesByLength is appAliases' keys sorted longest first, so the most
// specific alias always matches before a substring of it.
var aliasesByLength = func() []string {
	keys := make([]string, 0, len(appAliases))
	for k := range appAliases {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

// NormalizeApp resolves a free-text app name to its canonical ID.
// Unknown names pass through lowercased and trimmed, so the agent can
// still attempt a best-effort launch.
func NormalizeApp(name string) string {
	text := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := appAliases[text]; ok {
		return canonical
	}
	for _, alias := range aliasesByLength {
		if strings.Contains(text, alias) {
			return appAliases[alias]
		}
	}
	return text
}

// Canonical system_control actions.
const (
	ControlVolumeUp       = "volume_up"
	ControlVolumeDown     = "volume_down"
	ControlSetVolume      = "set_volume"
	ControlMute           = "mute"
	ControlUnmute         = "unmute"
	ControlToggleMute     = "toggle_mute"
	ControlBrightnessUp   = "brightness_up"
	ControlBrightnessDown = "brightness_down"
	ControlSetBrightness  = "set_brightness"
	ControlLockScreen     = "lock_screen"
)

var levelRe = regexp.MustCompile(`\d+`)

// extractLevel pulls a numeric level out of intent text, clamped to [0,100].
func extractLevel(text string) (int, bool) {
	match := levelRe.FindString(text)
	if match == "" {
		return 0, false
	}
	level, err := strconv.Atoi(match)
	if err != nil {
		return 0, false
	}
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}
	return level, true
}

// decreaseWords signal downward intent for volume and brightness.
var decreaseWords = []string{"down", "lower", "decrease", "reduce", "quieter", "dim", "darker"}

// increaseWords signal upward intent.
var increaseWords = []string{"up", "raise", "increase", "louder", "higher", "brighter"}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// DeriveSystemControl turns loosely-worded control text into a
// canonical action with optional level parameters. Ambiguous intent
// defaults to volume_up rather than erroring: a safe, reversible
// action beats rejecting the request.
func DeriveSystemControl(text string) (string, map[string]any) {
	t := strings.ToLower(strings.TrimSpace(text))

	if strings.Contains(t, "lock") {
		return ControlLockScreen, nil
	}

	if strings.Contains(t, "unmute") {
		return ControlUnmute, nil
	}
	if strings.Contains(t, "mute") {
		if strings.Contains(t, "toggle") {
			return ControlToggleMute, nil
		}
		return ControlMute, nil
	}

	if strings.Contains(t, "brightness") || strings.Contains(t, "screen") {
		if level, ok := extractLevel(t); ok {
			return ControlSetBrightness, map[string]any{"level": level}
		}
		if containsAny(t, decreaseWords) {
			return ControlBrightnessDown, nil
		}
		return ControlBrightnessUp, nil
	}

	if strings.Contains(t, "volume") || strings.Contains(t, "sound") || strings.Contains(t, "audio") {
		if level, ok := extractLevel(t); ok {
			return ControlSetVolume, map[string]any{"level": level}
		}
		if containsAny(t, decreaseWords) {
			return ControlVolumeDown, nil
		}
		return ControlVolumeUp, nil
	}

	// Ambiguous intent: default to the safe action.
	return ControlVolumeUp, nil
}

// Normalize converts a step into the canonical (command, params) pair
// the agent contract expects.
func Normalize(step Step) (string, map[string]any, error) {
	params := make(map[string]any, len(step.Params)+1)
	for k, v := range step.Params {
		params[k] = v
	}

	switch step.Action {
	case ActionOpenApp, ActionCloseApp:
		params["app"] = NormalizeApp(step.Target)
		return step.Action, params, nil

	case ActionSystemControl:
		action, derived := DeriveSystemControl(step.Target)
		params["action"] = action
		for k, v := range derived {
			params[k] = v
		}
		return ActionSystemControl, params, nil

	case ActionTypeText:
		if step.Target != "" {
			params["text"] = step.Target
		}
		return ActionTypeText, params, nil

	case ActionKeyPress:
		if step.Target != "" {
			params["keys"] = step.Target
		}
		return ActionKeyPress, params, nil

	default:
		return "", nil, fmt.Errorf("%w: %q", ErrUnknownAction, step.Action)
	}
}
