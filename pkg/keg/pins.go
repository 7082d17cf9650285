package keg

import (
	"fmt"

	"github.com/keglink/keglink-go/pkg/blynk"
)

// Kind and pin sentinels for hardware or property bodies that carry a single
// bare value.
const (
	BareKind = "-"
	BarePin  = "-"
)

// KindVirtualWrite is the body kind used for virtual pin writes.
const KindVirtualWrite = "vw"

// Canonical field names.
const (
	FieldID                   = "id"
	FieldInternal             = "internal"
	FieldIsPouring            = "is_pouring"
	FieldPercentOfBeerLeft    = "percent_of_beer_left"
	FieldPourVolume           = "pour_volume"
	FieldAmountLeft           = "amount_left"
	FieldKegWeight            = "keg_weight"
	FieldTemperature          = "temperature"
	FieldTemperatureOffset    = "temperature_offset"
	FieldLastPour             = "last_pour"
	FieldKnownWeightCalibrate = "known_weight_calibrate"
	FieldTare                 = "tare"
	FieldEmptyKegWeight       = "empty_keg_weight"
	FieldOriginalGravity      = "og"
	FieldFinalGravity         = "fg"
	FieldKegDate              = "keg_date"
	FieldABV                  = "abv"
	FieldTemperatureString    = "temperature_string"
	FieldLeakDetection        = "leak_detection"
	FieldUnit                 = "unit"
	FieldPourSensitivity      = "pour_sensitivity"
	FieldTemperatureUnit      = "temperature_unit"
	FieldBeerLeftUnit         = "beer_left_unit"
	FieldMeasureUnit          = "measure_unit"
	FieldMaxKegVolume         = "max_keg_volume"
	FieldVolumeCalibration    = "volume_calibration"
	FieldKegModeCO2Beer       = "keg_mode_c02_beer"
	FieldWifiSignalStrength   = "wifi_signal_strength"
	FieldFirmwareVersion      = "firmware_version"
	FieldMaxAmount            = "max_amount"
	FieldTemperatureLabel     = "temperature_label"
)

// PinKey identifies a pin write by frame command, body kind and pin.
type PinKey struct {
	Command blynk.Command
	Kind    string
	Pin     string
}

// String returns the key in "CMD/kind/pin" form.
func (k PinKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Command, k.Kind, k.Pin)
}

func vw(pin string) PinKey {
	return PinKey{Command: blynk.CommandHardware, Kind: KindVirtualWrite, Pin: pin}
}

// pinFields maps the pins written by the firmware to field names.
var pinFields = map[PinKey]string{
	// Pour state and volume.
	vw("47"): FieldIsPouring,
	vw("48"): FieldPercentOfBeerLeft,
	vw("49"): FieldPourVolume,
	vw("51"): FieldAmountLeft,
	vw("52"): FieldKegWeight,
	vw("59"): FieldLastPour,
	vw("74"): FieldBeerLeftUnit,

	// Temperature.
	vw("56"): FieldTemperature,
	vw("57"): FieldTemperatureOffset,
	vw("69"): FieldTemperatureString,
	vw("73"): FieldTemperatureUnit,

	// Calibration.
	vw("60"): FieldKnownWeightCalibrate,
	vw("61"): FieldTare,
	vw("62"): FieldEmptyKegWeight,
	vw("72"): FieldPourSensitivity,
	vw("76"): FieldMaxKegVolume,
	vw("83"): FieldVolumeCalibration,

	// Beer details.
	vw("65"): FieldOriginalGravity,
	vw("66"): FieldFinalGravity,
	vw("67"): FieldKegDate,
	vw("68"): FieldABV,

	// Mode and unit settings.
	vw("71"): FieldUnit,
	vw("75"): FieldMeasureUnit,
	vw("88"): FieldKegModeCO2Beer,

	// Device health.
	vw("70"): FieldLeakDetection,
	vw("92"): FieldWifiSignalStrength,
	vw("93"): FieldFirmwareVersion,

	// Widget properties.
	{Command: blynk.CommandProperty, Kind: "51", Pin: "max"}:   FieldMaxAmount,
	{Command: blynk.CommandProperty, Kind: "56", Pin: "label"}: FieldTemperatureLabel,
}

// FieldForPin returns the canonical field for key.
func FieldForPin(key PinKey) (string, bool) {
	f, ok := pinFields[key]
	return f, ok
}

// UnknownFieldName is the field name used for unmapped pins when the
// decoder is asked to surface them.
func UnknownFieldName(key PinKey) string {
	return fmt.Sprintf("unknown_%d_%s_%s", uint8(key.Command), key.Kind, key.Pin)
}

// KnownFields returns all canonical field names produced from pin writes.
func KnownFields() []string {
	fields := make([]string, 0, len(pinFields))
	for _, f := range pinFields {
		fields = append(fields, f)
	}
	return fields
}
