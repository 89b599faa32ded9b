package bot

import (
	"strconv"
	"strings"
)

// Callback data kinds. Payloads must stay inside the platform's 64-byte
// callback limit, so the encoding is a bare colon-joined triple.
const (
	cbSelect  = "dl"
	cbCancel  = "cancel"
	cbResolve = "adm"
)

func selectCallback(sessionID, candidateKey string) string {
	return cbSelect + ":" + sessionID + ":" + candidateKey
}

func cancelCallback(sessionID string) string {
	return cbCancel + ":" + sessionID
}

func resolveCallback(userID int64, promote bool) string {
	verdict := "deny"
	if promote {
		verdict = "approve"
	}
	return cbResolve + ":" + strconv.FormatInt(userID, 10) + ":" + verdict
}

type callbackData struct {
	kind string
	arg  string
	rest string
}

func parseCallback(data string) (callbackData, bool) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return callbackData{}, false
	}
	cd := callbackData{kind: parts[0], arg: parts[1]}
	if len(parts) == 3 {
		cd.rest = parts[2]
	}
	return cd, true
}
