/*
units.go - Measurement unit conversion

PURPOSE:
  Converts quantities between compatible measurement units. Every unit
  belongs to exactly one Type and carries a multiplier to that type's
  base unit. Conversions never cross types.

BASE UNITS:
  weight  g
  volume  ml
  length  m
  count   pc

ALGORITHM:
  1. Normalize both names (trim, lower-case, resolve aliases)
  2. Identical names: return the value unchanged
  3. Both must resolve to definitions of the same Type
  4. value * from.ToBase / to.ToBase

ERRORS:
  UnknownUnitError  (errors.Is ErrUnknownUnit)
  MismatchError     (errors.Is ErrUnitMismatch)

USAGE:
  c, err := units.Convert(decimal.NewFromInt(2), "kg", "g")
  // c.Value == 2000

SEE ALSO:
  - restock/engine.go: converts restock quantities into product base units
*/
package units

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// TYPES
// =============================================================================

// Type groups units that can be converted into each other.
type Type string

const (
	Weight Type = "weight"
	Volume Type = "volume"
	Length Type = "length"
	Count  Type = "count"
)

// Definition describes a single unit.
type Definition struct {
	Name   string
	Type   Type
	ToBase decimal.Decimal // multiplier to the type's base unit
}

// Conversion is the result of Convert.
type Conversion struct {
	Value decimal.Decimal `json:"value"`
	From  string          `json:"fromUnit"`
	To    string          `json:"toUnit"`
}

var (
	// ErrUnknownUnit is returned when a unit name has no definition.
	ErrUnknownUnit = errors.New("unknown unit")

	// ErrUnitMismatch is returned when two units measure different things.
	ErrUnitMismatch = errors.New("unit mismatch")
)

// UnknownUnitError names the unit that could not be resolved.
type UnknownUnitError struct {
	Unit string
}

func (e *UnknownUnitError) Error() string {
	return fmt.Sprintf("unknown unit %q", e.Unit)
}

func (e *UnknownUnitError) Unwrap() error {
	return ErrUnknownUnit
}

// MismatchError reports a conversion across unit types.
type MismatchError struct {
	From     string
	To       string
	FromType Type
	ToType   Type
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("cannot convert %s (%s) to %s (%s)", e.From, e.FromType, e.To, e.ToType)
}

func (e *MismatchError) Unwrap() error {
	return ErrUnitMismatch
}

// =============================================================================
// UNIT TABLE
// =============================================================================

func def(name string, t Type, toBase string) Definition {
	return Definition{Name: name, Type: t, ToBase: decimal.RequireFromString(toBase)}
}

var definitions = map[string]Definition{
	"mg": def("mg", Weight, "0.001"),
	"g":  def("g", Weight, "1"),
	"kg": def("kg", Weight, "1000"),
	"oz": def("oz", Weight, "28.349523125"),
	"lb": def("lb", Weight, "453.59237"),

	"ml":    def("ml", Volume, "1"),
	"l":     def("l", Volume, "1000"),
	"tsp":   def("tsp", Volume, "4.92892159375"),
	"tbsp":  def("tbsp", Volume, "14.78676478125"),
	"fl_oz": def("fl_oz", Volume, "29.5735295625"),
	"cup":   def("cup", Volume, "236.5882365"),
	"gal":   def("gal", Volume, "3785.411784"),

	"mm": def("mm", Length, "0.001"),
	"cm": def("cm", Length, "0.01"),
	"m":  def("m", Length, "1"),
	"in": def("in", Length, "0.0254"),
	"ft": def("ft", Length, "0.3048"),

	"pc":    def("pc", Count, "1"),
	"dozen": def("dozen", Count, "12"),
}

var aliases = map[string]string{
	"milligram": "mg", "milligrams": "mg",
	"gram": "g", "grams": "g", "gr": "g",
	"kilogram": "kg", "kilograms": "kg", "kgs": "kg",
	"ounce": "oz", "ounces": "oz",
	"pound": "lb", "pounds": "lb", "lbs": "lb",

	"milliliter": "ml", "milliliters": "ml", "millilitre": "ml", "millilitres": "ml",
	"liter": "l", "liters": "l", "litre": "l", "litres": "l", "lt": "l",
	"teaspoon": "tsp", "teaspoons": "tsp",
	"tablespoon": "tbsp", "tablespoons": "tbsp",
	"floz": "fl_oz", "fl oz": "fl_oz", "fluid_ounce": "fl_oz",
	"cups": "cup",
	"gallon": "gal", "gallons": "gal",

	"millimeter": "mm", "millimeters": "mm",
	"centimeter": "cm", "centimeters": "cm",
	"meter": "m", "meters": "m", "metre": "m", "metres": "m",
	"inch": "in", "inches": "in",
	"foot": "ft", "feet": "ft",

	"piece": "pc", "pieces": "pc", "pcs": "pc", "unit": "pc", "units": "pc", "each": "pc", "ea": "pc",
	"dz": "dozen",
}

// =============================================================================
// LOOKUPS
// =============================================================================

// NormalizeUnit trims and lower-cases name and resolves known aliases.
// Unknown names are returned trimmed and lower-cased.
func NormalizeUnit(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := aliases[n]; ok {
		return canonical
	}
	return n
}

// Lookup returns the definition for name after normalization.
func Lookup(name string) (Definition, bool) {
	d, ok := definitions[NormalizeUnit(name)]
	return d, ok
}

// CompatibleUnits lists the canonical unit names of type t, smallest first.
func CompatibleUnits(t Type) []string {
	var defs []Definition
	for _, d := range definitions {
		if d.Type == t {
			defs = append(defs, d)
		}
	}
	sort.Slice(defs, func(i, j int) bool {
		return defs[i].ToBase.LessThan(defs[j].ToBase)
	})
	names := make([]string, len(defs))
	for i, d := range defs {
		names[i] = d.Name
	}
	return names
}

// CanConvert reports whether Convert would succeed for the pair.
func CanConvert(from, to string) bool {
	f, t := NormalizeUnit(from), NormalizeUnit(to)
	if f == t {
		return true
	}
	fd, ok := definitions[f]
	if !ok {
		return false
	}
	td, ok := definitions[t]
	return ok && fd.Type == td.Type
}

// =============================================================================
// CONVERSION
// =============================================================================

// Convert expresses value (measured in from) in the to unit.
func Convert(value decimal.Decimal, from, to string) (Conversion, error) {
	f, t := NormalizeUnit(from), NormalizeUnit(to)
	if f == t {
		return Conversion{Value: value, From: f, To: t}, nil
	}

	fd, ok := definitions[f]
	if !ok {
		return Conversion{}, &UnknownUnitError{Unit: from}
	}
	td, ok := definitions[t]
	if !ok {
		return Conversion{}, &UnknownUnitError{Unit: to}
	}
	if fd.Type != td.Type {
		return Conversion{}, &MismatchError{From: f, To: t, FromType: fd.Type, ToType: td.Type}
	}

	base := value.Mul(fd.ToBase)
	return Conversion{Value: base.Div(td.ToBase), From: f, To: t}, nil
}
