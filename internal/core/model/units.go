package model

import (
	"fmt"
	"strings"
)

type Units int

const (
	UnitsInches Units = iota
	UnitsFeet
	UnitsMiles
	UnitsMeters
	UnitsKilometers
	UnitsDD
	UnitsPixels
	UnitsPercentages
	UnitsNauticalMiles
)

var unitNames = map[Units]string{
	UnitsInches:        "inches",
	UnitsFeet:          "feet",
	UnitsMiles:         "miles",
	UnitsMeters:        "meters",
	UnitsKilometers:    "kilometers",
	UnitsDD:            "dd",
	UnitsPixels:        "pixels",
	UnitsPercentages:   "percentages",
	UnitsNauticalMiles: "nauticalmiles",
}

var inchesPerUnit = map[Units]float64{
	UnitsInches:        1,
	UnitsFeet:          12,
	UnitsMiles:         63360,
	UnitsMeters:        39.3701,
	UnitsKilometers:    39370.1,
	UnitsDD:            4374754,
	UnitsPixels:        1,
	UnitsPercentages:   1,
	UnitsNauticalMiles: 72913.3858,
}

// InchesPerUnit converts one unit of u to inches. Unknown units count as 1.
func InchesPerUnit(u Units) float64 {
	if v, ok := inchesPerUnit[u]; ok {
		return v
	}
	return 1
}

func (u Units) String() string {
	if s, ok := unitNames[u]; ok {
		return s
	}
	return fmt.Sprintf("units(%d)", int(u))
}

func ParseUnits(s string) (Units, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "", "meters", "m":
		return UnitsMeters, nil
	case "km":
		return UnitsKilometers, nil
	case "ft":
		return UnitsFeet, nil
	case "degrees":
		return UnitsDD, nil
	case "px":
		return UnitsPixels, nil
	}
	for u, name := range unitNames {
		if name == s {
			return u, nil
		}
	}
	return 0, fmt.Errorf("unknown units %q", s)
}

func (u *Units) UnmarshalText(b []byte) error {
	v, err := ParseUnits(string(b))
	if err != nil {
		return err
	}
	*u = v
	return nil
}
