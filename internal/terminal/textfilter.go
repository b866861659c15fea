package terminal

import "regexp"

var (
	// CSI sequences such as colours and cursor moves.
	csiPattern = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	// OSC sequences such as window titles, ended by BEL or ST.
	oscPattern = regexp.MustCompile(`\x1b\][^\x07\x1b]*(?:\x07|\x1b\\)`)
	// Remaining two-byte escapes like charset selection.
	escPattern         = regexp.MustCompile(`\x1b[()#][0-9A-Za-z]|\x1b[=>78DEHMNOcZ]`)
	controlCodePattern = regexp.MustCompile(`[\x00-\x08\x0B\x0C\x0E-\x1F\x7F]`)
)

// StripANSI removes escape sequences and control codes while preserving
// tabs, newlines and carriage returns.
func StripANSI(input string) string {
	if input == "" {
		return input
	}
	cleaned := oscPattern.ReplaceAllString(input, "")
	cleaned = csiPattern.ReplaceAllString(cleaned, "")
	cleaned = escPattern.ReplaceAllString(cleaned, "")
	return controlCodePattern.ReplaceAllString(cleaned, "")
}
