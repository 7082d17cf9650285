package blynk

import "fmt"

// Status is the code carried in the header of a response frame.
type Status uint16

const (
	StatusQuotaLimit         Status = 1
	StatusIllegalCommand     Status = 2
	StatusNotRegistered      Status = 3
	StatusAlreadyRegistered  Status = 4
	StatusNotAuthenticated   Status = 5
	StatusNotAllowed         Status = 6
	StatusDeviceNotInNetwork Status = 7
	StatusNoActiveDashboard  Status = 8
	StatusInvalidToken       Status = 9
	StatusIllegalCommandBody Status = 11
	StatusGetGraphDataError  Status = 12
	StatusNotificationBody   Status = 13
	StatusNotificationAuth   Status = 14
	StatusNotificationError  Status = 15
	StatusTimeout            Status = 16
	StatusNoData             Status = 17
	StatusDeviceWentOffline  Status = 18
	StatusServerException    Status = 19
	StatusNotSupported       Status = 20
	StatusEnergyLimit        Status = 21
	StatusOK                 Status = 200
)

var statusNames = map[Status]string{
	StatusQuotaLimit:         "QUOTA_LIMIT",
	StatusIllegalCommand:     "ILLEGAL_COMMAND",
	StatusNotRegistered:      "NOT_REGISTERED",
	StatusAlreadyRegistered:  "ALREADY_REGISTERED",
	StatusNotAuthenticated:   "NOT_AUTHENTICATED",
	StatusNotAllowed:         "NOT_ALLOWED",
	StatusDeviceNotInNetwork: "DEVICE_NOT_IN_NETWORK",
	StatusNoActiveDashboard:  "NO_ACTIVE_DASHBOARD",
	StatusInvalidToken:       "INVALID_TOKEN",
	StatusIllegalCommandBody: "ILLEGAL_COMMAND_BODY",
	StatusGetGraphDataError:  "GET_GRAPH_DATA_EXCEPTION",
	StatusNotificationBody:   "NOTIFICATION_INVALID_BODY",
	StatusNotificationAuth:   "NOTIFICATION_NOT_AUTHORIZED",
	StatusNotificationError:  "NOTIFICATION_EXCEPTION",
	StatusTimeout:            "TIMEOUT",
	StatusNoData:             "NO_DATA",
	StatusDeviceWentOffline:  "DEVICE_WENT_OFFLINE",
	StatusServerException:    "SERVER_EXCEPTION",
	StatusNotSupported:       "NOT_SUPPORTED_VERSION",
	StatusEnergyLimit:        "ENERGY_LIMIT",
	StatusOK:                 "OK",
}

// Known reports whether s is a recognized status code.
func (s Status) Known() bool {
	_, ok := statusNames[s]
	return ok
}

// String returns the status name.
func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint16(s))
}
