package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChannel_TableName(t *testing.T) {
	c := Channel{}
	assert.Equal(t, "channels", c.TableName())
}

func TestChannel_Validate(t *testing.T) {
	tests := []struct {
		name    string
		channel Channel
		wantErr error
	}{
		{
			name:    "valid channel",
			channel: Channel{Number: "103", Name: "Retro Toons"},
			wantErr: nil,
		},
		{
			name:    "valid subchannel number",
			channel: Channel{Number: "1984.1", Name: "Night Owl"},
			wantErr: nil,
		},
		{
			name:    "missing number",
			channel: Channel{Name: "Retro Toons"},
			wantErr: ErrChannelNumberRequired,
		},
		{
			name:    "missing name",
			channel: Channel{Number: "103"},
			wantErr: ErrNameRequired,
		},
		{
			name:    "bad streaming mode",
			channel: Channel{Number: "103", Name: "Retro Toons", StreamingMode: "hybrid"},
			wantErr: ErrInvalidStreamingMode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.channel.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestChannel_Validate_numberFormat(t *testing.T) {
	c := Channel{Number: "10x", Name: "Bad Number"}
	err := c.Validate()
	assert.Error(t, err)

	var verr ErrValidation
	assert.ErrorAs(t, err, &verr)
	assert.Equal(t, "number", verr.Field)
}

func TestChannel_Validate_defaultsStreamingMode(t *testing.T) {
	c := Channel{Number: "103", Name: "Retro Toons"}
	assert.NoError(t, c.Validate())
	assert.Equal(t, StreamingModeAuto, c.StreamingMode)
}

func TestChannel_IsEnabled(t *testing.T) {
	c := Channel{Number: "103", Name: "Retro Toons"}
	assert.True(t, c.IsEnabled(), "nil should default to enabled")

	c.Enabled = BoolPtr(false)
	assert.False(t, c.IsEnabled())
}
