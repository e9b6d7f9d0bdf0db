package discord

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/gorilla/websocket"
)

// Discord JSON error codes relevant to thread creation.
const (
	codeMissingPermissions           = 50013
	codeInvalidChannelAction         = 50024
	codeArchivedThread               = 50083
	codeThreadAlreadyCreated         = 160004
	codeThreadLocked                 = 160005
	codeMaxActiveThreads             = 160006
	codeMaxActiveAnnouncementThreads = 160007
)

// Gateway close code sent when the bot requests privileged intents it has
// not been granted.
const closeDisallowedIntents = 4014

const (
	ReasonThreadExists            = "thread_already_exists"
	ReasonMissingPermissions      = "thread_missing_permissions"
	ReasonThreadLocked            = "thread_locked"
	ReasonMaxActiveThreads        = "thread_max_active_threads"
	ReasonMaxAnnouncementThreads  = "thread_max_active_announcement_threads"
	ReasonArchivedOrInvalidAction = "thread_archived_or_invalid_action"
)

// ClassifyThreadError maps a thread creation failure to its platform code
// and a descriptive reason. Unknown codes yield "code=<n>:<message>".
func ClassifyThreadError(err error) (int, string) {
	if err == nil {
		return 0, ""
	}

	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Message == nil {
		return 0, fmt.Sprintf("code=0:%s", err.Error())
	}

	code := restErr.Message.Code
	switch code {
	case codeThreadAlreadyCreated:
		return code, ReasonThreadExists
	case codeMissingPermissions:
		return code, ReasonMissingPermissions
	case codeThreadLocked:
		return code, ReasonThreadLocked
	case codeMaxActiveThreads:
		return code, ReasonMaxActiveThreads
	case codeMaxActiveAnnouncementThreads:
		return code, ReasonMaxAnnouncementThreads
	case codeArchivedThread, codeInvalidChannelAction:
		return code, ReasonArchivedOrInvalidAction
	default:
		return code, fmt.Sprintf("code=%d:%s", code, restErr.Message.Message)
	}
}

// isDisallowedIntents reports whether a login failed because the requested
// gateway intents are not enabled for the application.
func isDisallowedIntents(err error) bool {
	if err == nil {
		return false
	}
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return closeErr.Code == closeDisallowedIntents
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "4014") || strings.Contains(msg, "disallowed intent")
}
