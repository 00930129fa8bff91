package tui

// Focus and quit keys.
const (
	KeyTab      = "tab"
	KeyShiftTab = "shift+tab"
	KeyQuit     = "q"
	KeyCtrlC    = "ctrl+c"
	KeyPane1    = "1"
	KeyPane2    = "2"
)

// Task list navigation. KeyNextFailed and KeyNextRunning wrap around the
// list so repeated presses cycle through every match.
const (
	KeyUp          = "up"
	KeyDown        = "down"
	KeyJ           = "j"
	KeyK           = "k"
	KeyFirst       = "g"
	KeyLast        = "G"
	KeyNextFailed  = "f"
	KeyNextRunning = "r"
)

// HelpView returns a one-line help bar with common keybindings.
func HelpView() string {
	return StyleHelp.Render("Tab: focus | j/k g/G: move | f: next failed | r: next running | q: quit (cancels a running stack)")
}
