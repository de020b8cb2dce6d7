package tools

import (
	"context"
	"strings"
)

// WeatherTool answers weather questions with canned data. It stands in
// for a real forecast API while exercising the full tool protocol.
type WeatherTool struct{}

func NewWeatherTool() *WeatherTool { return &WeatherTool{} }

func (t *WeatherTool) Name() string { return "get_weather" }

func (t *WeatherTool) Description() string {
	return "Get the current weather for a location. Supports metric and imperial units."
}

func (t *WeatherTool) ParameterSchema() string {
	return `{
  "type": "object",
  "properties": {
    "location": { "type": "string", "description": "City or place name." },
    "units": { "type": "string", "enum": ["metric", "imperial"], "description": "Unit system (default metric)." }
  },
  "required": ["location"]
}`
}

func (t *WeatherTool) Execute(ctx context.Context, params map[string]any) Result {
	location := strings.TrimSpace(getString(params, "location"))
	if location == "" {
		location = "Unknown"
	}
	units := strings.TrimSpace(getString(params, "units"))
	if units != "imperial" {
		units = "metric"
	}

	temperature := 22
	if units == "imperial" {
		temperature = 72
	}
	return Ok(map[string]any{
		"location":    location,
		"temperature": temperature,
		"units":       units,
		"condition":   "Partly cloudy",
		"humidity":    65,
		"wind_speed":  15,
	}, map[string]any{"tool_name": t.Name()})
}
