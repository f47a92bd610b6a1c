package globeapi

import "strings"

// Mode describes one selectable visualisation mode. Color and Scale are only
// consumed by renderers; the engine resolves modes to MetricKey.
type Mode struct {
	Name         string    `json:"name"`
	MetricKey    MetricKey `json:"metric_key"`
	DisplayLabel string    `json:"display_label"`
	DisplayUnit  string    `json:"display_unit"`
	Color        string    `json:"color"`
	Scale        float64   `json:"scale"`
	// Indicator names the upstream series the metric is fetched from: a World
	// Bank indicator code, or an OWID column for CO2.
	Indicator string `json:"indicator"`
}

const (
	ModeEnergy     = "ENERGY"
	ModeWealth     = "WEALTH"
	ModeCarbon     = "CARBON"
	ModeRenewables = "RENEWABLES"
	ModeWater      = "WATER"
	ModeInternet   = "INTERNET"
	ModeLife       = "LIFE"
	ModeInflation  = "INFLATION"
)

var catalog = []Mode{
	{Name: ModeEnergy, MetricKey: MetricEnergy, DisplayLabel: "Energy Use", DisplayUnit: "kg oe/capita", Color: "#10b981", Scale: 60000, Indicator: "EG.USE.PCAP.KG.OE"},
	{Name: ModeWealth, MetricKey: MetricGDP, DisplayLabel: "GDP per Capita", DisplayUnit: "USD", Color: "#06b6d4", Scale: 80000, Indicator: "NY.GDP.PCAP.CD"},
	{Name: ModeCarbon, MetricKey: MetricCO2, DisplayLabel: "CO2 Emissions", DisplayUnit: "t/capita", Color: "#ef4444", Scale: 50, Indicator: "co2_per_capita"},
	{Name: ModeRenewables, MetricKey: MetricRenewables, DisplayLabel: "Renewable Share", DisplayUnit: "%", Color: "#4ade80", Scale: 200, Indicator: "EG.FEC.RNEW.ZS"},
	{Name: ModeWater, MetricKey: MetricWater, DisplayLabel: "Basic Water Access", DisplayUnit: "%", Color: "#3b82f6", Scale: 200, Indicator: "SH.H2O.BASW.ZS"},
	{Name: ModeInternet, MetricKey: MetricInternet, DisplayLabel: "Internet Users", DisplayUnit: "%", Color: "#a855f7", Scale: 200, Indicator: "IT.NET.USER.ZS"},
	{Name: ModeLife, MetricKey: MetricLife, DisplayLabel: "Life Expectancy", DisplayUnit: "years", Color: "#ec4899", Scale: 180, Indicator: "SP.DYN.LE00.IN"},
	{Name: ModeInflation, MetricKey: MetricInflation, DisplayLabel: "Inflation", DisplayUnit: "%", Color: "#f97316", Scale: 40, Indicator: "FP.CPI.TOTL.ZG"},
}

// Catalog returns the ordered mode table. The slice is a copy.
func Catalog() []Mode {
	return append([]Mode(nil), catalog...)
}

// LookupMode resolves a mode name, ignoring case and surrounding whitespace.
func LookupMode(name string) (Mode, bool) {
	wanted := strings.ToUpper(strings.TrimSpace(name))
	for _, mode := range catalog {
		if mode.Name == wanted {
			return mode, true
		}
	}
	return Mode{}, false
}

// ModeForMetric returns the catalog entry that maps to key.
func ModeForMetric(key MetricKey) (Mode, bool) {
	for _, mode := range catalog {
		if mode.MetricKey == key {
			return mode, true
		}
	}
	return Mode{}, false
}
