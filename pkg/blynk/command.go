package blynk

import (
	"fmt"
	"strconv"
	"strings"
)

// Command is the frame command code.
type Command uint8

// Command codes. Only a subset is produced by Plaato Keg firmware; the rest
// are listed so that frames from other Blynk clients log with a name.
const (
	CommandResponse      Command = 0
	CommandRegister      Command = 1
	CommandLogin         Command = 2
	CommandSaveProfile   Command = 3
	CommandLoadProfile   Command = 4
	CommandGetToken      Command = 5
	CommandPing          Command = 6
	CommandActivate      Command = 7
	CommandDeactivate    Command = 8
	CommandRefresh       Command = 9
	CommandGetGraphData  Command = 10
	CommandGraphResponse Command = 11
	CommandTweet         Command = 12
	CommandEmail         Command = 13
	CommandNotify        Command = 14
	CommandBridge        Command = 15
	CommandHardwareSync  Command = 16
	CommandInternal      Command = 17
	CommandSMS           Command = 18
	CommandProperty      Command = 19
	CommandHardware      Command = 20
	CommandCreateDash    Command = 21
	CommandSaveDash      Command = 22
	CommandDeleteDash    Command = 23
	CommandLoadProfileGz Command = 24
	CommandSync          Command = 25
	CommandSharing       Command = 26
	CommandAddPushToken  Command = 27
	CommandExportGraph   Command = 28
	CommandGetSharedDash Command = 29
	CommandDebugPrint    Command = 55
	CommandEventLog      Command = 64
)

var commandNames = map[Command]string{
	CommandResponse:      "RESPONSE",
	CommandRegister:      "REGISTER",
	CommandLogin:         "LOGIN",
	CommandSaveProfile:   "SAVE_PROFILE",
	CommandLoadProfile:   "LOAD_PROFILE",
	CommandGetToken:      "GET_TOKEN",
	CommandPing:          "PING",
	CommandActivate:      "ACTIVATE",
	CommandDeactivate:    "DEACTIVATE",
	CommandRefresh:       "REFRESH",
	CommandGetGraphData:  "GET_GRAPH_DATA",
	CommandGraphResponse: "GET_GRAPH_DATA_RESPONSE",
	CommandTweet:         "TWEET",
	CommandEmail:         "EMAIL",
	CommandNotify:        "NOTIFY",
	CommandBridge:        "BRIDGE",
	CommandHardwareSync:  "HARDWARE_SYNC",
	CommandInternal:      "INTERNAL",
	CommandSMS:           "SMS",
	CommandProperty:      "PROPERTY",
	CommandHardware:      "HARDWARE",
	CommandCreateDash:    "CREATE_DASH",
	CommandSaveDash:      "SAVE_DASH",
	CommandDeleteDash:    "DELETE_DASH",
	CommandLoadProfileGz: "LOAD_PROFILE_GZ",
	CommandSync:          "SYNC",
	CommandSharing:       "SHARING",
	CommandAddPushToken:  "ADD_PUSH_TOKEN",
	CommandExportGraph:   "EXPORT_GRAPH_DATA",
	CommandGetSharedDash: "GET_SHARED_DASH",
	CommandDebugPrint:    "DEBUG_PRINT",
	CommandEventLog:      "EVENT_LOG",
}

// Known reports whether c is a recognized command code.
func (c Command) Known() bool {
	_, ok := commandNames[c]
	return ok
}

// String returns the command name.
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(c))
}

// ParseCommand returns the command with the given name or decimal code.
// Names are matched case-insensitively.
func ParseCommand(s string) (Command, bool) {
	if n, err := strconv.ParseUint(s, 10, 8); err == nil {
		return Command(n), true
	}
	for c, name := range commandNames {
		if strings.EqualFold(name, s) {
			return c, true
		}
	}
	return 0, false
}
