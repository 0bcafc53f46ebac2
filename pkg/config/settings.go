package config

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecodeSettings maps a provider's free-form settings block onto its typed
// options struct. Unknown keys are an error so typos surface at startup
// instead of silently applying defaults.
func DecodeSettings(settings map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      out,
		ErrorUnused: true,
		TagName:     "mapstructure",
	})
	if err != nil {
		return fmt.Errorf("settings decoder: %w", err)
	}
	if err := dec.Decode(settings); err != nil {
		return fmt.Errorf("decode settings: %w", err)
	}
	return nil
}
