package protocol

import (
	"math"
	"strconv"
	"strings"
)

// Outbound line prefixes understood by the device.
const (
	VolumePrefix  = "VOL:"
	DisplayPrefix = "LCD:"
)

// EncodeVolume renders the volume line the host sends back to the device:
// "VOL:<percent>\n", with ratio clamped to [0, 1] and the percent truncated.
func EncodeVolume(ratio float64) []byte {
	switch {
	case math.IsNaN(ratio) || ratio < 0:
		ratio = 0
	case ratio > 1:
		ratio = 1
	}

	return []byte(VolumePrefix + strconv.Itoa(int(ratio*100)) + "\n")
}

// EncodeDisplay renders a display line, "LCD:<text>\n". Line breaks inside text
// are replaced by spaces so the message stays a single line.
func EncodeDisplay(text string) []byte {
	text = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(text)

	return []byte(DisplayPrefix + text + "\n")
}
