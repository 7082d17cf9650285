package keg

// Override links a device-reported field to the user preference that wins
// over it and to the command that pushes the preference to the device.
type Override struct {
	Field     string
	UserField string
	Command   CommandName
}

// User preference fields in the telemetry store.
const (
	UserFieldUnit           = "user_unit"
	UserFieldMeasureUnit    = "user_measure_unit"
	UserFieldKegModeCO2Beer = "user_keg_mode_c02_beer"
)

var overrides = map[string]Override{
	FieldUnit:           {Field: FieldUnit, UserField: UserFieldUnit, Command: CommandSetUnit},
	FieldMeasureUnit:    {Field: FieldMeasureUnit, UserField: UserFieldMeasureUnit, Command: CommandSetMeasureUnit},
	FieldKegModeCO2Beer: {Field: FieldKegModeCO2Beer, UserField: UserFieldKegModeCO2Beer, Command: CommandSetMode},
}

// IsUserOverrideable reports whether a user preference takes precedence
// over the device value of field.
func IsUserOverrideable(field string) bool {
	_, ok := overrides[field]
	return ok
}

// OverrideFor returns the override description of field.
func OverrideFor(field string) (Override, bool) {
	o, ok := overrides[field]
	return o, ok
}

// Overrides returns all overrideable fields.
func Overrides() []Override {
	out := make([]Override, 0, len(overrides))
	for _, o := range overrides {
		out = append(out, o)
	}
	return out
}

// IsUserField reports whether field is a user preference. Device data must
// never be written to these fields.
func IsUserField(field string) bool {
	for _, o := range overrides {
		if o.UserField == field {
			return true
		}
	}
	return false
}

// Diverges reports whether the stored user preference differs from the
// device-reported value for an override. Both values are normalized with
// the command validator first. An empty or invalid preference never
// diverges. The returned value is the normalized preference.
func (o Override) Diverges(userValue, deviceValue string) (string, bool) {
	want, err := NormalizeCommandValue(o.Command, userValue)
	if err != nil {
		return "", false
	}
	got, err := NormalizeCommandValue(o.Command, deviceValue)
	if err != nil {
		return want, true
	}
	return want, want != got
}
