package main

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

func (r Rng) getValueGenerators() []func() any {
	return []func() any{
		func() any { return r.Intn(100) },
		func() any { return r.BoolWithProb(99) },
		func() any { return r.BoolWithProb(50) },
		func() any { return r.BoolWithProb(1) },
		func() any { return r.Int(-100, 100) },
		func() any { return r.Float(0, 1000) },
		func() any { return r.Float(0, 1) },
		func() any { return r.GaussianInt(50, 30) },
		func() any { return r.Gaussian(10000, 1000) },
		func() any { return r.Gaussian(500, 300) },
		func() any { return r.String(2) },
		func() any { return r.String(5) },
		func() any { return r.String(10) },
		func() any { return r.String(4) + "-" + r.HexString(8) + "-" + r.String(4) },
		func() any { return r.HexString(16) },
	}
}

var (
	levelpat = regexp.MustCompile(`^([0-9]+)\.([a-zA-Z0-9_]+)$`)
	namepat  = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)
	genpat   = regexp.MustCompile(`^/([ibfs][awxrg]?)([0-9.-]+)?(,[0-9.-]+)?$`)
	// groups                         1               2          3
)

// parseFieldName splits an optional "N." level prefix off a field name; a
// level of -1 means every level.
func parseFieldName(name string) (string, int, error) {
	if m := levelpat.FindStringSubmatch(name); m != nil {
		level, err := strconv.Atoi(m[1])
		if err != nil {
			return "", 0, fmt.Errorf("invalid level in field %s: %w", name, err)
		}
		return m[2], level, nil
	}
	if !namepat.MatchString(name) {
		return "", 0, fmt.Errorf("invalid field name %s", name)
	}
	return name, -1, nil
}

// parseFieldValue returns a constant unless the value starts with a slash,
// in which case it names a generator.
func parseFieldValue(rng Rng, field, value string) (func() any, error) {
	if !strings.HasPrefix(value, "/") {
		return getConst(value), nil
	}
	matches := genpat.FindStringSubmatch(value)
	if matches == nil {
		return nil, fmt.Errorf("unparseable generator %s in field %s", value, field)
	}
	gentype, p1, p2 := matches[1], matches[2], matches[3]
	switch gentype {
	case "i", "ir", "ig":
		gen, err := getIntGen(rng, gentype, p1, p2)
		if err != nil {
			return nil, fmt.Errorf("invalid int in field %s: %w", field, err)
		}
		return gen, nil
	case "f", "fr", "fg":
		gen, err := getFloatGen(rng, gentype, p1, p2)
		if err != nil {
			return nil, fmt.Errorf("invalid float in field %s: %w", field, err)
		}
		return gen, nil
	case "b":
		n := 50
		if p1 != "" {
			f, err := strconv.ParseFloat(p1, 64)
			if err != nil || f < 0 || f > 100 {
				return nil, fmt.Errorf("invalid bool option in %s", field)
			}
			return func() any { return rng.Percent(f) }, nil
		}
		return func() any { return rng.BoolWithProb(n) }, nil
	case "s", "sw", "sx", "sa":
		n := 16
		if p1 != "" {
			var err error
			n, err = strconv.Atoi(p1)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("invalid string option in %s", field)
			}
		}
		switch gentype {
		case "sw":
			words := make([]string, n)
			for i := 0; i < n; i++ {
				words[i] = rng.WordPair()
			}
			return func() any { return rng.Choice(words) }, nil
		case "sx":
			return func() any { return rng.HexString(n) }, nil
		default:
			return func() any { return rng.String(n) }, nil
		}
	}
	return nil, fmt.Errorf("invalid generator type %s in field %s", gentype, field)
}

func getConst(value string) func() any {
	if value == "true" {
		return func() any { return true }
	}
	if value == "false" {
		return func() any { return false }
	}
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return func() any { return i }
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil {
		return func() any { return f }
	}
	return func() any { return value }
}

func gaussianDefaults(v1, v2 float64) (float64, float64) {
	if v1 == 0 && v2 == 0 {
		v1 = 100
		v2 = 10
	} else if v2 == 0 {
		v2 = v1 / 10
	}
	return v1, v2
}

func getIntGen(rng Rng, gentype, p1, p2 string) (func() any, error) {
	var v1, v2 int
	var err error
	if p1 != "" {
		v1, err = strconv.Atoi(p1)
		if err != nil {
			return nil, fmt.Errorf("%s is not an int", p1)
		}
	}
	if p2 == "" || p2 == "," {
		v2 = v1
		v1 = 0
	} else {
		v2, err = strconv.Atoi(p2[1:])
		if err != nil {
			return nil, fmt.Errorf("%s is not an int", p2[1:])
		}
	}
	if gentype == "ig" {
		g1, g2 := gaussianDefaults(float64(v1), float64(v2))
		return func() any { return rng.GaussianInt(g1, g2) }, nil
	}
	if v1 == 0 && v2 == 0 {
		v2 = 100
	}
	return func() any { return rng.Int(v1, v2) }, nil
}

func getFloatGen(rng Rng, gentype, p1, p2 string) (func() any, error) {
	var v1, v2 float64
	var err error
	if p1 != "" {
		v1, err = strconv.ParseFloat(p1, 64)
		if err != nil {
			return nil, fmt.Errorf("%s is not a float64", p1)
		}
	}
	if p2 == "" || p2 == "," {
		v2 = v1
		v1 = 0
	} else {
		v2, err = strconv.ParseFloat(p2[1:], 64)
		if err != nil {
			return nil, fmt.Errorf("%s is not a float64", p2[1:])
		}
	}
	if gentype == "fg" {
		g1, g2 := gaussianDefaults(v1, v2)
		return func() any { return rng.Gaussian(g1, g2) }, nil
	}
	if v1 == 0 && v2 == 0 {
		v2 = 100
	}
	return func() any { return rng.Float(v1, v2) }, nil
}

type field struct {
	name  string
	level int
	gen   func() any
}

// Fielder appends user-declared tags to generated spans. Fields come from
// FIELD=VALUE arguments, where VALUE is a constant or a /generator, plus
// nextras fields with random word-pair names and random value generators.
// A field named N.name only lands on spans at nesting level N.
type Fielder struct {
	fields []field
}

func NewFielder(rng Rng, userFields map[string]string, nextras int) (*Fielder, error) {
	f := &Fielder{}
	keys := make([]string, 0, len(userFields))
	for key := range userFields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		value := userFields[key]
		name, level, err := parseFieldName(key)
		if err != nil {
			return nil, err
		}
		gen, err := parseFieldValue(rng, key, value)
		if err != nil {
			return nil, err
		}
		f.fields = append(f.fields, field{name: name, level: level, gen: gen})
	}
	gens := rng.getValueGenerators()
	for i := 0; i < nextras; i++ {
		f.fields = append(f.fields, field{name: rng.WordPair(), level: -1, gen: gens[rng.Intn(len(gens))]})
	}
	sort.Slice(f.fields, func(i, j int) bool {
		if f.fields[i].name != f.fields[j].name {
			return f.fields[i].name < f.fields[j].name
		}
		return f.fields[i].level < f.fields[j].level
	})
	return f, nil
}

// Tags draws a value for every field that applies at level.
func (f *Fielder) Tags(level int) []Tag {
	if f == nil || len(f.fields) == 0 {
		return nil
	}
	tags := make([]Tag, 0, len(f.fields))
	for _, fl := range f.fields {
		if fl.level >= 0 && fl.level != level {
			continue
		}
		tags = append(tags, Tag{fl.name, formatValue(fl.gen())})
	}
	return tags
}

func formatValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}
