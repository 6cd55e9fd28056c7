package environment

// Parameter names a monitored environmental reading.
type Parameter string

// Monitored parameters. Names match the JSON fields of domain.EnvironmentalSample.
const (
	Temperature    Parameter = "temperature"
	Humidity       Parameter = "humidity"
	CO2Level       Parameter = "co2_level"
	LightIntensity Parameter = "light_intensity"
	PHLevel        Parameter = "ph_level"
)

var parameterOrder = []Parameter{Temperature, Humidity, CO2Level, LightIntensity, PHLevel}

// Range is the optimal [Min, Max] band for a parameter.
type Range struct {
	Min float64
	Max float64
}

// Contains reports whether v lies within [Min, Max].
func (r Range) Contains(v float64) bool { return v >= r.Min && v <= r.Max }

// Tolerates reports whether v lies within the widened band [0.9*Min, 1.1*Max].
func (r Range) Tolerates(v float64) bool { return v >= r.Min*0.9 && v <= r.Max*1.1 }

func (r Range) String() string {
	return formatValue(r.Min) + "-" + formatValue(r.Max)
}

// DefaultRanges returns the optimal ranges for indoor cultivation:
// temperature in °C, humidity in %, CO2 in ppm, light in lumens.
func DefaultRanges() map[Parameter]Range {
	return map[Parameter]Range{
		Temperature:    {Min: 20, Max: 28},
		Humidity:       {Min: 40, Max: 60},
		CO2Level:       {Min: 800, Max: 1500},
		LightIntensity: {Min: 400, Max: 700},
		PHLevel:        {Min: 6.0, Max: 7.0},
	}
}

// Status grades a reading against its range.
type Status string

// Reading and overall statuses.
const (
	StatusOptimal    Status = "optimal"
	StatusAcceptable Status = "acceptable"
	StatusCritical   Status = "critical"
)
