package alert

import (
	"strings"

	"guardian/internal/models"
)

// Policy maps severities to colours, sounds and repeat counts.
type Policy struct {
	Severities map[models.Severity]models.SeverityPolicy
}

var defaultPolicy = map[models.Severity]models.SeverityPolicy{
	models.SeverityLow:      {Color: "#ffff00", Sound: "detection", Repeats: 1},
	models.SeverityMedium:   {Color: "#ff8c00", Sound: "alert", Repeats: 1},
	models.SeverityHigh:     {Color: "#ff0000", Sound: "emergency", Repeats: 2},
	models.SeverityCritical: {Color: "#8b0000", Sound: "emergency", Repeats: 3},
}

func DefaultPolicy() Policy {
	return NewPolicy(nil)
}

// NewPolicy fills every severity missing from overrides with the default
// palette.
func NewPolicy(overrides map[models.Severity]models.SeverityPolicy) Policy {
	p := Policy{Severities: make(map[models.Severity]models.SeverityPolicy, len(defaultPolicy))}
	for sev, def := range defaultPolicy {
		o, ok := overrides[sev]
		if !ok {
			p.Severities[sev] = def
			continue
		}
		if o.Color == "" {
			o.Color = def.Color
		}
		if o.Sound == "" {
			o.Sound = def.Sound
		}
		if o.Repeats < 1 {
			o.Repeats = def.Repeats
		}
		p.Severities[sev] = o
	}
	return p
}

func (p Policy) lookup(sev models.Severity) models.SeverityPolicy {
	if sp, ok := p.Severities[sev]; ok {
		return sp
	}
	return p.Severities[models.SeverityLow]
}

func (p Policy) Color(sev models.Severity) string {
	return p.lookup(sev).Color
}

// Sound picks the sound and repeat count for an alert. Below medium the
// alert type can escalate the sound: "emergency" types borrow the critical
// sound and "suspicious" types the medium one. Repeats follow severity only.
func (p Policy) Sound(a models.Alert) (string, int) {
	sp := p.lookup(a.Severity)
	sound := sp.Sound
	switch a.Severity {
	case models.SeverityMedium, models.SeverityHigh, models.SeverityCritical:
	default:
		typ := strings.ToLower(a.Type)
		if strings.Contains(typ, "emergency") {
			sound = p.lookup(models.SeverityCritical).Sound
		} else if strings.Contains(typ, "suspicious") {
			sound = p.lookup(models.SeverityMedium).Sound
		}
	}
	return sound, sp.Repeats
}
