package models

// Params are single-byte configuration values, kept as 1x1 maps.
var Params = []CalMap{
	{Name: "Rev Limiter", Offset: 0x7000, Rows: 1, Cols: 1, Scale: 50.0, Unit: "RPM", Description: "Maximum engine RPM limit"},
	{Name: "Idle Speed Target", Offset: 0x7001, Rows: 1, Cols: 1, Scale: 10.0, Unit: "RPM", Description: "Target idle speed"},
	{Name: "Fuel Cut RPM", Offset: 0x7B40, Rows: 1, Cols: 1, Scale: 50.0, Unit: "RPM", Description: "RPM for overrun fuel cutoff"},
	{Name: "Fuel Resume RPM", Offset: 0x7B41, Rows: 1, Cols: 1, Scale: 50.0, Unit: "RPM", Description: "RPM for fuel resume after cutoff"},
	{Name: "Coolant Temp Enrichment", Offset: 0x7A40, Rows: 1, Cols: 1, Scale: 0.01, Unit: "%", Description: "Coolant temperature enrichment multiplier"},
	{Name: "Air Temp Enrichment", Offset: 0x7A41, Rows: 1, Cols: 1, Scale: 0.01, Unit: "%", Description: "Air temperature enrichment multiplier"},
	{Name: "Throttle Opening Rate", Offset: 0x7980, Rows: 1, Cols: 1, Scale: 1.0, Unit: "%/s", Description: "Maximum throttle opening rate"},
	{Name: "Boost Limit", Offset: 0x7940, Rows: 1, Cols: 1, Scale: 0.01, Unit: "bar", Description: "Maximum boost pressure limit"},
}
