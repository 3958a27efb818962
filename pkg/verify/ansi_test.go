package verify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStripANSI_PlainTextUnchanged(t *testing.T) {
	assert.Equal(t, "hello world", string(StripANSI([]byte("hello world"))))
}

func TestStripANSI_RemovesCSIColorCodes(t *testing.T) {
	in := "\x1b[31mred\x1b[0m text"
	assert.Equal(t, "red text", string(StripANSI([]byte(in))))
}

func TestStripANSI_RemovesCursorMovement(t *testing.T) {
	in := "line1\x1b[2K\x1b[1Gline2"
	assert.Equal(t, "line1line2", string(StripANSI([]byte(in))))
}

func TestStripANSI_RemovesOSCTerminatedByBEL(t *testing.T) {
	in := "\x1b]0;window title\x07visible"
	assert.Equal(t, "visible", string(StripANSI([]byte(in))))
}

func TestStripANSI_RemovesOSCTerminatedByST(t *testing.T) {
	in := "\x1b]0;window title\x1b\\visible"
	assert.Equal(t, "visible", string(StripANSI([]byte(in))))
}

func TestStripANSI_KeepsTabsAndNewlines(t *testing.T) {
	in := "a\tb\nc\rd"
	assert.Equal(t, "a\tb\nc\rd", string(StripANSI([]byte(in))))
}

func TestStripANSI_DropsOtherControlBytes(t *testing.T) {
	in := "a\x00b\x07c"
	assert.Equal(t, "abc", string(StripANSI([]byte(in))))
}

func TestStripANSI_UnterminatedEscapeDropped(t *testing.T) {
	in := "before\x1b[31"
	assert.Equal(t, "before", string(StripANSI([]byte(in))))
}
