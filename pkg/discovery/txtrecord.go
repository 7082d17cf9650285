package discovery

import (
	"fmt"
	"slices"
	"strings"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// EncodeServerTXT creates the TXT records for a server advertisement.
func EncodeServerTXT(info *ServerInfo) TXTRecordMap {
	txt := TXTRecordMap{
		TXTKeyProtocol: ProtocolBlynk,
		TXTKeyVersion:  info.Version,
	}
	if info.Store != "" {
		txt[TXTKeyStore] = info.Store
	}
	return txt
}

// DecodeServerTXT reads protocol and version from TXT records.
func DecodeServerTXT(txt TXTRecordMap) (protocol, version string, err error) {
	protocol, ok := txt[TXTKeyProtocol]
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyProtocol)
	}
	return protocol, txt[TXTKeyVersion], nil
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	slices.Sort(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, _ := strings.Cut(s, "=")
		if k != "" {
			txt[k] = v
		}
	}
	return txt
}

// ValidateInstanceName checks if an instance name is valid for mDNS.
func ValidateInstanceName(name string) error {
	if name == "" || len(name) > MaxInstanceNameLen {
		return ErrInvalidInstanceName
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return ErrInvalidInstanceName
		}
	}
	return nil
}
