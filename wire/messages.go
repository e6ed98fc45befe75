package wire

// Common message types shared by every channel (spec §4.4).
const (
	MsgMigrateStart uint16 = 1
	MsgMigrateData  uint16 = 2
	MsgSetAck       uint16 = 3
	MsgPing         uint16 = 4
	MsgWait4Chans   uint16 = 5
	MsgDisconnect   uint16 = 6
	MsgNotify       uint16 = 7
	MsgSetAckBase   uint16 = 100 // first channel-specific type; types below are common
)

// Common client->server message types.
const (
	MsgcAck           uint16 = 1
	MsgcPong          uint16 = 2
	MsgcMigrateFlush  uint16 = 3
	MsgcMigrateData   uint16 = 4
	MsgcDisconnecting uint16 = 5
)

// Main channel message types (server->client), spec §4.5.
const (
	MsgMainInit               uint16 = 101
	MsgMainChannelsList       uint16 = 102
	MsgMainMouseMode          uint16 = 103
	MsgMainMultiMediaTime     uint16 = 104
	MsgMainAgentConnected     uint16 = 105
	MsgMainAgentDisconnected  uint16 = 106
	MsgMainAgentData          uint16 = 107
	MsgMainAgentToken         uint16 = 108
	MsgMainName               uint16 = 109
	MsgMainUUID               uint16 = 110
)

// Main channel message types (client->server).
const (
	MsgcMainClientInfo      uint16 = 101
	MsgcMainAttachChannels  uint16 = 102
	MsgcMainMouseModeReq    uint16 = 103
	MsgcMainAgentStart      uint16 = 104
	MsgcMainAgentData       uint16 = 105
	MsgcMainAgentToken      uint16 = 106
)

// Mouse mode bits (MAIN_INIT.supported_mouse_modes / MOUSE_MODE.current_mode).
const (
	MouseModeServer uint32 = 1
	MouseModeClient uint32 = 2
)

// Display channel message types (server->client), spec §4.6.
const (
	MsgDisplayMode                  uint16 = 101
	MsgDisplayMark                  uint16 = 102
	MsgDisplayReset                 uint16 = 103
	MsgDisplayCopyTiles             uint16 = 104
	MsgDisplayInvalListOfTiles      uint16 = 105
	MsgDisplayStreamCreate          uint16 = 122
	MsgDisplayStreamData            uint16 = 123
	MsgDisplayStreamClip            uint16 = 124
	MsgDisplayStreamDestroy         uint16 = 125
	MsgDisplayStreamDestroyAll      uint16 = 126
	MsgDisplayDrawFill              uint16 = 127
	MsgDisplayDrawOpaque            uint16 = 128
	MsgDisplayDrawCopy              uint16 = 129
	MsgDisplayDrawBlend             uint16 = 130
	MsgDisplayDrawBlackness         uint16 = 131
	MsgDisplayDrawWhiteness         uint16 = 132
	MsgDisplayDrawInvers            uint16 = 133
	MsgDisplayDrawRop3              uint16 = 134
	MsgDisplayDrawStroke            uint16 = 135
	MsgDisplayDrawText              uint16 = 136
	MsgDisplayDrawTransparent       uint16 = 137
	MsgDisplayDrawAlphaBlend        uint16 = 138
	MsgDisplaySurfaceCreate         uint16 = 139
	MsgDisplaySurfaceDestroy        uint16 = 140
	MsgDisplayStreamDataSized       uint16 = 141
	MsgDisplayMonitorsConfig        uint16 = 142
	MsgDisplayDrawComposite         uint16 = 143
	MsgDisplayStreamActivateReport  uint16 = 144
	MsgDisplayStreamReport          uint16 = 145
	MsgDisplayInvalAllPixmaps       uint16 = 146
	MsgDisplayInvalPalette          uint16 = 147
	MsgDisplayInvalAllPalettes      uint16 = 148
)

// Display channel message types (client->server).
const (
	MsgcDisplayInit          uint16 = 101
	MsgcDisplayStreamReport  uint16 = 102
)

// Cursor channel message types (server->client), spec §4.7.
const (
	MsgCursorInit     uint16 = 101
	MsgCursorReset    uint16 = 102
	MsgCursorSet      uint16 = 103
	MsgCursorMove     uint16 = 104
	MsgCursorHide     uint16 = 105
	MsgCursorTrail    uint16 = 106
	MsgCursorInvalOne uint16 = 107
	MsgCursorInvalAll uint16 = 108
)

// Inputs channel message types, spec §4.8.
const (
	MsgInputsInit          uint16 = 101
	MsgInputsKeyModifiers  uint16 = 102
	MsgInputsMouseMotionAck uint16 = 111
)

const (
	MsgcInputsKeyDown        uint16 = 101
	MsgcInputsKeyUp          uint16 = 102
	MsgcInputsKeyModifiers   uint16 = 103
	MsgcInputsMouseMotion    uint16 = 111
	MsgcInputsMousePosition  uint16 = 112
	MsgcInputsMousePress     uint16 = 113
	MsgcInputsMouseRelease   uint16 = 114
)

// Common capability bits (spec §3), indexed within common-caps word 0.
const (
	CapCommonAuthSelection uint = 0
	CapCommonMiniHeader    uint = 1
)

// Display channel capability bits, word 0.
const (
	CapDisplaySizedStream     uint = 0
	CapDisplayStreamReport    uint = 1
	CapDisplayMultiCodec      uint = 2
	CapDisplayCodecMJPEG      uint = 3
	CapDisplayLZ4Compression  uint = 4
	CapDisplayPrefCompression uint = 5
)

// Main channel capability bits, word 0.
const (
	CapMainAgentConnectedTokens uint = 0
	CapMainSeamlessMigrate      uint = 1
)

// CapBit returns the caps word index and bit mask for capability index i,
// following the SPICE convention of packing capability flags into
// consecutive uint32 words.
func CapBit(i uint) (word int, mask uint32) {
	return int(i / 32), 1 << (i % 32)
}

// HasCap reports whether capability bit i is set across the given
// capability words.
func HasCap(caps []uint32, i uint) bool {
	word, mask := CapBit(i)
	if word >= len(caps) {
		return false
	}
	return caps[word]&mask != 0
}

// SetCap sets capability bit i in caps, growing the slice if needed.
func SetCap(caps []uint32, i uint) []uint32 {
	word, mask := CapBit(i)
	for len(caps) <= word {
		caps = append(caps, 0)
	}
	caps[word] |= mask
	return caps
}
