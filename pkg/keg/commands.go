package keg

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidValue indicates a command value that failed validation.
var ErrInvalidValue = errors.New("invalid command value")

// CommandName is the logical name of an outbound command.
type CommandName string

// Supported commands.
const (
	CommandSetMode           CommandName = "set-mode"
	CommandSetUnit           CommandName = "set-unit"
	CommandSetMeasureUnit    CommandName = "set-measure-unit"
	CommandSetEmptyKegWeight CommandName = "set-empty-keg-weight"
	CommandSetMaxKegVolume   CommandName = "set-max-keg-volume"
)

// Normalizer validates a command value and returns its wire form.
type Normalizer func(value string) (string, error)

// CommandSpec describes where a command writes and how its value is checked.
type CommandSpec struct {
	Pin       string
	Normalize Normalizer
}

var commandSpecs = map[CommandName]CommandSpec{
	CommandSetMode:           {Pin: "88", Normalize: ValidateAndPad1And2},
	CommandSetUnit:           {Pin: "71", Normalize: ValidateAndPad1And2},
	CommandSetMeasureUnit:    {Pin: "75", Normalize: ValidateAndPad1And2},
	CommandSetEmptyKegWeight: {Pin: "62", Normalize: validateDecimal},
	CommandSetMaxKegVolume:   {Pin: "76", Normalize: validateDecimal},

	// Pins the firmware accepts but that need a calibration workflow first:
	//   "tare":                   {Pin: "61"},
	//   "calibrate-known-weight": {Pin: "60", Normalize: validateDecimal},
	//   "set-temperature-offset": {Pin: "57", Normalize: validateDecimal},
}

// LookupCommand returns the pin and validator of a named command.
func LookupCommand(name CommandName) (CommandSpec, bool) {
	spec, ok := commandSpecs[name]
	return spec, ok
}

// CommandNames returns all supported command names.
func CommandNames() []CommandName {
	names := make([]CommandName, 0, len(commandSpecs))
	for n := range commandSpecs {
		names = append(names, n)
	}
	return names
}

// NormalizeCommandValue validates value for the named command.
func NormalizeCommandValue(name CommandName, value string) (string, error) {
	spec, ok := commandSpecs[name]
	if !ok {
		return "", fmt.Errorf("unknown command %q", name)
	}
	if spec.Normalize == nil {
		if value == "" {
			return "", fmt.Errorf("%w: empty", ErrInvalidValue)
		}
		return value, nil
	}
	return spec.Normalize(value)
}

// ValidateAndPad1And2 accepts the two-choice settings used for mode and
// units. "1" and "2" (with or without a leading zero) are padded to two
// digits; anything else is rejected.
func ValidateAndPad1And2(value string) (string, error) {
	switch strings.TrimSpace(value) {
	case "1", "01":
		return "01", nil
	case "2", "02":
		return "02", nil
	case "":
		return "", fmt.Errorf("%w: empty", ErrInvalidValue)
	default:
		return "", fmt.Errorf("%w: %q is not 1 or 2", ErrInvalidValue, value)
	}
}

func validateDecimal(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidValue)
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not a number", ErrInvalidValue, value)
	}
	if f < 0 {
		return "", fmt.Errorf("%w: %q is negative", ErrInvalidValue, value)
	}
	return value, nil
}
