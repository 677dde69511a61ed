package supervisor

import "errors"

// ErrManualStart is returned when the server is unreachable and
// auto-serve is disabled.
var ErrManualStart = errors.New(
	`server is not running and auto-serve is disabled; start it manually with "opencode serve" or enable auto-serve`)

// installInstructions lists the supported ways to install the opencode
// binary, surfaced verbatim when PATH lookup fails.
const installInstructions = `  curl -fsSL https://opencode.ai/install | bash
  npm install -g opencode-ai
  brew install sst/tap/opencode`

// BinaryMissingError is returned when the opencode executable cannot be
// found on PATH.
type BinaryMissingError struct{}

func (e *BinaryMissingError) Error() string {
	return "opencode binary not found on PATH; install it with one of:\n" + installInstructions
}
