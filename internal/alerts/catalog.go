package alerts

// catalogEntry is the fixed message and recommendation list for one
// (type, severity) combination.
type catalogEntry struct {
	message         string
	recommendations []string
}

type catalogKey struct {
	typ Type
	sev Severity
}

var catalog = map[catalogKey]catalogEntry{
	{TypeDrowsiness, SeverityMedium}: {
		message: "Early signs of drowsiness detected.",
		recommendations: []string{
			"Open a window for fresh air",
			"Adjust your seating position",
			"Plan a break within the next 30 minutes",
		},
	},
	{TypeDrowsiness, SeverityHigh}: {
		message: "High drowsiness level detected. A break is strongly advised.",
		recommendations: []string{
			"Take a break at the next opportunity",
			"Have a caffeinated drink",
			"Switch drivers if possible",
		},
	},
	{TypeDrowsiness, SeverityCritical}: {
		message: "Critical drowsiness detected. Pull over as soon as it is safe.",
		recommendations: []string{
			"Stop at the nearest safe location",
			"Take a 20 minute nap before continuing",
			"Do not continue driving in this state",
		},
	},
	{TypeStress, SeverityMedium}: {
		message: "Elevated stress level detected.",
		recommendations: []string{
			"Take slow, deep breaths",
			"Reduce cabin distractions",
			"Lower your speed slightly",
		},
	},
	{TypeStress, SeverityHigh}: {
		message: "High stress level detected. Consider a short break.",
		recommendations: []string{
			"Pull over for a few minutes when safe",
			"Practice a short breathing exercise",
			"Avoid aggressive maneuvers",
		},
	},
	{TypeStress, SeverityCritical}: {
		message: "Critical stress level detected. Stop driving and recover.",
		recommendations: []string{
			"Stop at the nearest safe location",
			"Rest until your stress level drops",
			"Contact dispatch if you need support",
		},
	},
	{TypeSteering, SeverityMedium}: {
		message: "Irregular steering pattern detected.",
		recommendations: []string{
			"Check your grip and posture",
			"Increase following distance",
			"Consider a short break soon",
		},
	},
	{TypeSteering, SeverityHigh}: {
		message: "Erratic steering detected. This often precedes fatigue.",
		recommendations: []string{
			"Take a break at the next opportunity",
			"Slow down and keep to the right lane",
			"Re-assess whether you are fit to drive",
		},
	},
	{TypeBreak, SeverityMedium}: {
		message: "You have been driving for over 2 hours without a break.",
		recommendations: []string{
			"Plan a 15 minute break soon",
			"Stretch your legs and hydrate",
		},
	},
	{TypeBreak, SeverityHigh}: {
		message: "You have been driving for over 4 hours without a break.",
		recommendations: []string{
			"Take a break now",
			"A minimum 30 minute rest is advised",
		},
	},
}

// lookupCatalog returns the fixed copy for a (type, severity) pair. Unknown
// combinations get a generic message so the engine never emits empty alerts.
func lookupCatalog(typ Type, sev Severity) catalogEntry {
	if e, ok := catalog[catalogKey{typ, sev}]; ok {
		return e
	}
	return catalogEntry{
		message:         "Wellness threshold crossed.",
		recommendations: []string{"Assess your condition and take a break if needed"},
	}
}
