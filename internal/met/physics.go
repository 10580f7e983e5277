package met

import "math"

const zeroCelsiusK = 273.15

// KelvinToCelsius converts an absolute temperature to degrees Celsius.
func KelvinToCelsius(k float64) float64 {
	return k - zeroCelsiusK
}

// SaturationVaporPressure returns the Magnus-form saturation vapour pressure
// in hPa for a temperature in degrees Celsius.
func SaturationVaporPressure(tc float64) float64 {
	return 6.112 * math.Pow(10, 7.5*tc/(tc+237.3))
}

// RelativeHumidity derives relative humidity in percent from air and dewpoint
// temperatures in Kelvin. The result is clamped to [0, 100].
func RelativeHumidity(tempK, dewpointK float64) float64 {
	es := SaturationVaporPressure(KelvinToCelsius(tempK))
	e := SaturationVaporPressure(KelvinToCelsius(dewpointK))
	return clamp(100*e/es, 0, 100)
}

// WindSpeed is the magnitude of the horizontal wind vector.
func WindSpeed(u, v float64) float64 {
	return math.Hypot(u, v)
}

// SplitPrecipitation separates liquid from solid precipitation. Both inputs
// are per-step amounts in metres. Rain never goes negative.
func SplitPrecipitation(precip, snow float64) (rain, snowOut float64) {
	return round(math.Max(0, precip-snow), 4), round(snow, 4)
}

func clamp(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

func round(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
