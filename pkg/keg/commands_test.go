package keg

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateAndPad1And2(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "1", want: "01"},
		{in: "2", want: "02"},
		{in: "01", want: "01"},
		{in: "02", want: "02"},
		{in: "3", wantErr: true},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ValidateAndPad1And2(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidValue))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCommandTable(t *testing.T) {
	for _, name := range []CommandName{CommandSetMode, CommandSetUnit, CommandSetMeasureUnit, CommandSetEmptyKegWeight, CommandSetMaxKegVolume} {
		spec, ok := LookupCommand(name)
		require.True(t, ok, "command %s", name)
		assert.NotEmpty(t, spec.Pin)
	}
	_, ok := LookupCommand("tare")
	assert.False(t, ok)
	assert.Len(t, CommandNames(), 5)
}

func TestCommandPinsMatchDecodedFields(t *testing.T) {
	for _, o := range Overrides() {
		spec, ok := LookupCommand(o.Command)
		require.True(t, ok)
		field, ok := FieldForPin(vw(spec.Pin))
		require.True(t, ok)
		assert.Equal(t, o.Field, field, "command %s writes pin %s", o.Command, spec.Pin)
	}
}

func TestNormalizeDecimal(t *testing.T) {
	got, err := NormalizeCommandValue(CommandSetEmptyKegWeight, " 4.25 ")
	require.NoError(t, err)
	assert.Equal(t, "4.25", got)

	_, err = NormalizeCommandValue(CommandSetMaxKegVolume, "-1")
	assert.True(t, errors.Is(err, ErrInvalidValue))

	_, err = NormalizeCommandValue(CommandSetMaxKegVolume, "lots")
	assert.True(t, errors.Is(err, ErrInvalidValue))

	_, err = NormalizeCommandValue("nope", "1")
	assert.Error(t, err)
}

func TestOverrideDiverges(t *testing.T) {
	o, ok := OverrideFor(FieldUnit)
	require.True(t, ok)
	assert.Equal(t, UserFieldUnit, o.UserField)
	assert.Equal(t, CommandSetUnit, o.Command)

	want, diverges := o.Diverges("02", "01")
	assert.True(t, diverges)
	assert.Equal(t, "02", want)

	_, diverges = o.Diverges("2", "02")
	assert.False(t, diverges)

	_, diverges = o.Diverges("", "01")
	assert.False(t, diverges, "no preference set")

	_, diverges = o.Diverges("7", "01")
	assert.False(t, diverges, "invalid preference is ignored")

	want, diverges = o.Diverges("1", "garbage")
	assert.True(t, diverges)
	assert.Equal(t, "01", want)
}

func TestIsUserField(t *testing.T) {
	assert.True(t, IsUserField(UserFieldMeasureUnit))
	assert.False(t, IsUserField(FieldMeasureUnit))
	assert.True(t, IsUserOverrideable(FieldKegModeCO2Beer))
	assert.False(t, IsUserOverrideable(FieldTemperature))
}
