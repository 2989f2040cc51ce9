package main

import "time"

// Input event value constants (struct input_event.value for EV_KEY)
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Remote identifiers as registered with lircd, plus the Home Assistant pseudo-remote.
const (
	remoteOnkyo = "onkyo"
	remoteRoku  = "roku"
	remoteDisco = "ADJ-REMOTE"
	remoteHass  = "hass"
)

// Timing defaults
const (
	defaultStepDelayMS     = 200  // Settling delay after every transmitted command (ms)
	defaultRetryIntervalMS = 5000 // Session restart interval after a recoverable source failure (ms)
	defaultLircTimeoutMS   = 1000 // Per-command lircd reply timeout (ms)
	defaultHassTimeoutMS   = 2000 // Home Assistant request timeout (ms)

	defaultSendRatePerSec = 5.0 // Paced SEND_ONCE rate; 0 disables pacing
	defaultSendBurst      = 1

	// Level adjustments on the receiver need a long hold to sweep the full range.
	levelSweepHold = 3500 * time.Millisecond

	// The Roku home screen animates before the settings menu is navigable.
	rokuMenuSettle = 3 * time.Second
)

// Default locations
const (
	defaultLircSocket = "/var/run/lirc/lircd"
	defaultIPCSocket  = "/tmp/irbrainz.sock"
	defaultLogFile    = "/tmp/irbrainz.log"
	defaultStatusPort = 3002

	defaultMacropadDevice = "/dev/input/by-id/usb-MOSART_Semi._2.4G_Keyboard_Mouse-event-kbd"
	defaultNumpadDevice   = "/dev/input/by-id/usb-5131_FQ-K002_RGB-event-kbd"
)

// Device mode names and values
const (
	modeInput           = "input"
	modeSurround        = "surround"
	modeDiscoColor      = "disco_color"
	modeKitchenSpeakers = "kitchen_speakers"

	inputTV        = "tv"
	inputDJ        = "dj"
	surroundDirect = "direct"
	surroundStereo = "all_channel_stereo"
	colorRed       = "red"
	colorYellow    = "yellow"
	colorWhite     = "white"
	speakersOn     = "on"
	speakersOff    = "off"
)
