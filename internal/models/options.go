package models

import (
	"fmt"
	"strings"
)

// StrategyKind names a multi-leg strategy template.
type StrategyKind string

const (
	Vertical   StrategyKind = "vertical"
	Calendar   StrategyKind = "calendar"
	Butterfly  StrategyKind = "butterfly"
	IronCondor StrategyKind = "iron_condor"
	IronFly    StrategyKind = "iron_fly"
)

// Leg is the immutable template part of one option position.
// Quantity is signed: positive legs are bought (debit), negative legs are sold (credit).
type Leg struct {
	Label       string
	DefaultType OptionType
	Quantity    int
}

// StrategyTemplate is a fixed, ordered leg pattern.
type StrategyTemplate struct {
	Kind StrategyKind
	Name string
	Legs []Leg
}

// templates are never mutated; Template hands out copies of the leg slice.
var templates = map[StrategyKind]StrategyTemplate{
	Vertical: {
		Kind: Vertical,
		Name: "Vertical Spread",
		Legs: []Leg{
			{Label: "Buy", DefaultType: Call, Quantity: 1},
			{Label: "Sell", DefaultType: Call, Quantity: -1},
		},
	},
	Calendar: {
		Kind: Calendar,
		Name: "Calendar Spread",
		Legs: []Leg{
			{Label: "Sell (Near)", DefaultType: Call, Quantity: -1},
			{Label: "Buy (Far)", DefaultType: Call, Quantity: 1},
		},
	},
	Butterfly: {
		Kind: Butterfly,
		Name: "Butterfly",
		Legs: []Leg{
			{Label: "Buy Wing", DefaultType: Call, Quantity: 1},
			{Label: "Sell Body", DefaultType: Call, Quantity: -2},
			{Label: "Buy Wing", DefaultType: Call, Quantity: 1},
		},
	},
	IronCondor: {
		Kind: IronCondor,
		Name: "Iron Condor",
		Legs: ironLegs(),
	},
	IronFly: {
		Kind: IronFly,
		Name: "Iron Fly",
		Legs: ironLegs(),
	},
}

func ironLegs() []Leg {
	return []Leg{
		{Label: "Buy Put", DefaultType: Put, Quantity: 1},
		{Label: "Sell Put", DefaultType: Put, Quantity: -1},
		{Label: "Sell Call", DefaultType: Call, Quantity: -1},
		{Label: "Buy Call", DefaultType: Call, Quantity: 1},
	}
}

// StrategyKinds lists the supported kinds in display order.
func StrategyKinds() []StrategyKind {
	return []StrategyKind{Vertical, Butterfly, IronCondor, IronFly, Calendar}
}

// Template returns the template for kind.
func Template(kind StrategyKind) (StrategyTemplate, bool) {
	t, ok := templates[kind]
	if !ok {
		return StrategyTemplate{}, false
	}
	legs := make([]Leg, len(t.Legs))
	copy(legs, t.Legs)
	t.Legs = legs
	return t, true
}

// ParseStrategyKind accepts the kind constant or the display name ("Iron Condor", "iron-condor").
func ParseStrategyKind(s string) (StrategyKind, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "_", "-", "_").Replace(norm)
	norm = strings.TrimSuffix(norm, "_spread")
	kind := StrategyKind(norm)
	if _, ok := templates[kind]; !ok {
		return "", fmt.Errorf("unknown strategy %q", s)
	}
	return kind, nil
}

// DefaultLegs returns one override per template leg, each at strike with the leg's default type.
func (t StrategyTemplate) DefaultLegs(strike float64) []LegOverride {
	legs := make([]LegOverride, len(t.Legs))
	for i, l := range t.Legs {
		legs[i] = LegOverride{Strike: strike, Type: l.DefaultType}
	}
	return legs
}
