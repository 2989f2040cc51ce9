package main

// Receiver (Onkyo) buttons
const (
	onkyoSetup         = "KEY_SETUP"
	onkyoChannelSelect = "BTN_CH_SEL"
	onkyoLevelUp       = "BTN_LEVEL_PLUS"
	onkyoLevelDown     = "BTN_LEVEL_MINUS"
	onkyoStereo        = "STEREO"
	onkyoModeLeft      = "BTN_LISTENINGMODE_LEFT"
	onkyoInputTV       = "BTN_1"
	onkyoInputDJ       = "BTN_2"
	onkyoVolumeUp      = "KEY_VOLUMEUP"
	onkyoVolumeDown    = "KEY_VOLUMEDOWN"
)

// Disco light buttons
const (
	discoColor   = "COLOR"
	discoStandby = "STAND_BY"
	discoSound   = "SOUND_OFF"
	discoFade    = "FADE_GOBO"
)

// discoBallSwitch toggles the disco ball's smart plug through Home Assistant.
const discoBallSwitch = "switch.toggle:switch.local_disco_ball"

// clearMenu backs the receiver out of any open on-screen menu.
func clearMenu() []Step {
	return []Step{Pulse{Remote: remoteOnkyo, Button: onkyoSetup, Times: 2}}
}

// kitchenSpeakers sweeps the zone B speaker levels fully up or down.
func kitchenSpeakers(enable bool) []Step {
	level := onkyoLevelDown
	if enable {
		level = onkyoLevelUp
	}

	steps := []Step{
		Pulse{Remote: remoteOnkyo, Button: onkyoChannelSelect, Times: 5},
		Hold{Remote: remoteOnkyo, Button: level, Duration: levelSweepHold},
	}
	if enable {
		steps = append(steps, Pulse{Remote: remoteOnkyo, Button: onkyoLevelDown, Times: 4})
	}
	steps = append(steps,
		Pulse{Remote: remoteOnkyo, Button: onkyoChannelSelect, Times: 1},
		Hold{Remote: remoteOnkyo, Button: level, Duration: levelSweepHold},
		Pulse{Remote: remoteOnkyo, Button: onkyoLevelDown, Times: 4},
	)
	return steps
}

func listeningMode(left int) []Step {
	return []Step{
		Pulse{Remote: remoteOnkyo, Button: onkyoStereo, Times: 1},
		Pulse{Remote: remoteOnkyo, Button: onkyoModeLeft, Times: left},
	}
}

func discoPreset(digit string) []Step {
	return []Step{
		Pulse{Remote: remoteDisco, Button: discoColor, Times: 1},
		Pulse{Remote: remoteDisco, Button: digit, Times: 1},
	}
}

func inputSelect(button string) []Step {
	return []Step{Pulse{Remote: remoteOnkyo, Button: button, Times: 1}}
}

func roku(button string) []Step {
	return []Step{Pulse{Remote: remoteRoku, Button: button, Times: 1}}
}

// DefaultActions is the built-in trigger catalog.
func DefaultActions() map[Trigger]Action {
	return map[Trigger]Action{
		"volume_up":   Momentary{Remote: remoteOnkyo, Button: onkyoVolumeUp},
		"volume_down": Momentary{Remote: remoteOnkyo, Button: onkyoVolumeDown},

		"kitchen_speakers_on": Composite{
			Name:  "kitchen_speakers_on",
			Steps: append(clearMenu(), kitchenSpeakers(true)...),
			Sets:  map[string]string{modeKitchenSpeakers: speakersOn},
		},
		"kitchen_speakers_off": Composite{
			Name:  "kitchen_speakers_off",
			Steps: append(clearMenu(), kitchenSpeakers(false)...),
			Sets:  map[string]string{modeKitchenSpeakers: speakersOff},
		},
		"kitchen_speakers_toggle": Composite{
			Name:  "kitchen_speakers_toggle",
			Steps: clearMenu(),
			Cycle: &Cycle{Mode: modeKitchenSpeakers, Options: []CycleOption{
				{Value: speakersOff, Steps: kitchenSpeakers(false)},
				{Value: speakersOn, Steps: kitchenSpeakers(true)},
			}},
		},

		"surround_toggle": Composite{
			Name:  "surround_toggle",
			Steps: clearMenu(),
			Cycle: &Cycle{Mode: modeSurround, Options: []CycleOption{
				{Value: surroundDirect, Steps: listeningMode(1)},
				{Value: surroundStereo, Steps: listeningMode(4)},
			}},
		},

		"tv_mode": Composite{
			Name:  "tv_mode",
			Steps: inputSelect(onkyoInputTV),
			Sets:  map[string]string{modeInput: inputTV},
		},
		"dj_mode": Composite{
			Name:  "dj_mode",
			Steps: inputSelect(onkyoInputDJ),
			Sets:  map[string]string{modeInput: inputDJ},
		},
		"input_toggle": Composite{
			Name:  "input_toggle",
			Steps: clearMenu(),
			Cycle: &Cycle{Mode: modeInput, Options: []CycleOption{
				{Value: inputTV, Steps: inputSelect(onkyoInputTV)},
				{Value: inputDJ, Steps: inputSelect(onkyoInputDJ)},
			}},
		},

		"disco_white": Composite{
			Name:  "disco_white",
			Steps: discoPreset("9"),
			Sets:  map[string]string{modeDiscoColor: colorWhite},
		},
		"disco_yellow": Composite{
			Name:  "disco_yellow",
			Steps: discoPreset("2"),
			Sets:  map[string]string{modeDiscoColor: colorYellow},
		},
		"disco_red": Composite{
			Name:  "disco_red",
			Steps: discoPreset("1"),
			Sets:  map[string]string{modeDiscoColor: colorRed},
		},
		"disco_red_yellow_toggle": Composite{
			Name: "disco_red_yellow_toggle",
			Cycle: &Cycle{Mode: modeDiscoColor, Options: []CycleOption{
				{Value: colorYellow, Steps: discoPreset("2")},
				{Value: colorRed, Steps: discoPreset("1")},
			}},
		},
		"disco_power_toggle": Composite{
			Name: "disco_power_toggle",
			Steps: []Step{
				Pulse{Remote: remoteHass, Button: discoBallSwitch, Times: 1},
				Pulse{Remote: remoteDisco, Button: discoStandby, Times: 1},
				Pulse{Remote: remoteDisco, Button: discoSound, Times: 1},
			},
		},
		"disco_fade_toggle": Composite{
			Name:  "disco_fade_toggle",
			Steps: []Step{Pulse{Remote: remoteDisco, Button: discoFade, Times: 1}},
		},

		"spotify_dark_mode": Composite{
			Name: "spotify_dark_mode",
			Steps: []Step{
				Pulse{Remote: remoteRoku, Button: "LEFT", Times: 1},
				Delay{Duration: rokuMenuSettle},
				Pulse{Remote: remoteRoku, Button: "DOWN", Times: 1},
				Pulse{Remote: remoteRoku, Button: "LEFT", Times: 2},
				Pulse{Remote: remoteRoku, Button: "OK", Times: 1},
				Pulse{Remote: remoteRoku, Button: "BACK", Times: 1},
			},
		},
		"tv_power": Composite{Name: "tv_power", Steps: roku("POWER")},
		"pause":    Composite{Name: "pause", Steps: roku("PLAY_PAUSE")},

		"cancel": Cancel{},
	}
}

// DefaultModes are the assumed device states before anything is known.
func DefaultModes() map[string]string {
	return map[string]string{
		modeInput:           inputTV,
		modeSurround:        surroundDirect,
		modeDiscoColor:      colorRed,
		modeKitchenSpeakers: speakersOn,
	}
}
