package main

import (
	"fmt"
	"sort"
)

const (
	serviceTag     = "service"
	allServices    = "*"
	maxSpansInType = 10000
)

var defaultTopologyTags = []TagVariation{
	{Name: "application", Values: []string{"Application_1"}},
	{Name: "cluster", Values: []string{"us-west"}},
	{Name: "shard", Values: []string{"primary"}},
}

// TopologyTraceType describes one class of trace over the service graph.
type TopologyTraceType struct {
	Name            string           `yaml:"name,omitempty" json:"name,omitempty"`
	TracePercentage float64          `yaml:"tracePercentage" json:"tracePercentage"`
	SpansCount      int              `yaml:"spansCount" json:"spansCount"`
	ErrorRate       float64          `yaml:"errorRate" json:"errorRate"`
	DebugRate       float64          `yaml:"debugRate" json:"debugRate"`
	TraceDurations  []Bucket         `yaml:"traceDurations" json:"traceDurations"`
	ErrorConditions []ErrorCondition `yaml:"errorConditions,omitempty" json:"errorConditions,omitempty"`
}

type ServiceConnection struct {
	Root     bool     `yaml:"root,omitempty" json:"root,omitempty"`
	Services []string `yaml:"services" json:"services"`
	Children []string `yaml:"children" json:"children"`
}

type ServiceTags struct {
	Services               []string       `yaml:"services" json:"services"`
	MandatoryTags          []TagVariation `yaml:"mandatoryTags,omitempty" json:"mandatoryTags,omitempty"`
	OptionalTags           []TagVariation `yaml:"optionalTags,omitempty" json:"optionalTags,omitempty"`
	OptionalTagsPercentage *float64       `yaml:"optionalTagsPercentage,omitempty" json:"optionalTagsPercentage,omitempty"`
}

type ServiceSpansNumber struct {
	Services    []string `yaml:"services" json:"services"`
	SpansNumber int      `yaml:"spansNumber" json:"spansNumber"`
}

// ServiceInfo is what the graph knows about one service once loaded.
type ServiceInfo struct {
	Name        string
	Children    []string
	Parents     map[string]bool
	Tags        []TagVariation
	SpansNumber int
}

// Topology is the document read by --topology. After Sanitize the service
// graph is available through the query methods.
type Topology struct {
	TraceTypes          []*TopologyTraceType `yaml:"traceTypes" json:"traceTypes"`
	ServiceConnections  []ServiceConnection  `yaml:"serviceConnections" json:"serviceConnections"`
	ServiceTags         []ServiceTags        `yaml:"serviceTags,omitempty" json:"serviceTags,omitempty"`
	ServiceSpansNumbers []ServiceSpansNumber `yaml:"serviceSpansNumbers,omitempty" json:"serviceSpansNumbers,omitempty"`

	services map[string]*ServiceInfo
	roots    []string
}

// LoadTopology reads and sanitizes a topology document.
func LoadTopology(log Logger, filename string) (*Topology, error) {
	var topo Topology
	if err := readDefinition(filename, &topo); err != nil {
		return nil, err
	}
	if err := topo.Sanitize(log); err != nil {
		return nil, err
	}
	log.Info("read %d trace types over %d services from %s\n", len(topo.TraceTypes), len(topo.services), filename)
	return &topo, nil
}

// Sanitize validates the document and builds the service graph. Missing
// trace types, durations, connections or root services fail the load.
func (t *Topology) Sanitize(log Logger) error {
	if len(t.TraceTypes) == 0 {
		return ErrNoTraceTypes
	}
	for i, tt := range t.TraceTypes {
		if tt == nil {
			return fmt.Errorf("trace type %d is empty", i)
		}
		if err := tt.sanitize(log, i); err != nil {
			return err
		}
	}
	if err := t.buildGraph(); err != nil {
		return err
	}
	if err := t.applySpansNumbers(log); err != nil {
		return err
	}
	t.applyTags(log)
	return nil
}

func (tt *TopologyTraceType) sanitize(log Logger, i int) error {
	owner := tt.Name
	if owner == "" {
		owner = fmt.Sprintf("traceTypes[%d]", i)
	}
	if tt.TracePercentage < 0 || tt.TracePercentage > HundredPercent {
		return fmt.Errorf("%s: tracePercentage %g is not in [0,100]", owner, tt.TracePercentage)
	}
	if tt.ErrorRate < 0 || tt.ErrorRate > HundredPercent {
		return fmt.Errorf("%s: errorRate %g is not in [0,100]", owner, tt.ErrorRate)
	}
	if tt.DebugRate < 0 || tt.DebugRate > HundredPercent {
		return fmt.Errorf("%s: debugRate %g is not in [0,100]", owner, tt.DebugRate)
	}
	if tt.SpansCount < 1 || tt.SpansCount > maxSpansInType {
		return fmt.Errorf("%s: spansCount %d is not in [1,%d]", owner, tt.SpansCount, maxSpansInType)
	}
	if len(tt.TraceDurations) == 0 {
		return fmt.Errorf("%s: %w", owner, ErrNoTraceDurations)
	}
	var err error
	if tt.TraceDurations, err = sanitizeBuckets(log, owner, "traceDurations", tt.TraceDurations); err != nil {
		return err
	}
	tt.ErrorConditions = sanitizeConditions(log, owner, tt.ErrorConditions)
	return nil
}

func (t *Topology) service(name string) *ServiceInfo {
	si, ok := t.services[name]
	if !ok {
		si = &ServiceInfo{Name: name, Parents: make(map[string]bool), SpansNumber: 1}
		t.services[name] = si
	}
	return si
}

func (t *Topology) buildGraph() error {
	if len(t.ServiceConnections) == 0 {
		return ErrNoServiceConnections
	}
	t.services = make(map[string]*ServiceInfo)
	rootSet := make(map[string]bool)
	for _, c := range t.ServiceConnections {
		for _, s := range c.Services {
			si := t.service(s)
			for _, child := range c.Children {
				if !contains(si.Children, child) {
					si.Children = append(si.Children, child)
				}
			}
			if c.Root {
				rootSet[s] = true
			}
		}
		for _, child := range c.Children {
			ci := t.service(child)
			for _, s := range c.Services {
				ci.Parents[s] = true
			}
		}
	}
	if len(rootSet) == 0 {
		return ErrNoRootService
	}
	t.roots = t.roots[:0]
	for s := range rootSet {
		t.roots = append(t.roots, s)
	}
	// sorted so that a seed repeats a run
	sort.Strings(t.roots)
	for _, si := range t.services {
		sort.Strings(si.Children)
	}
	return nil
}

// forServices applies fn to each listed service, or to all of them for "*".
func (t *Topology) forServices(log Logger, services []string, fn func(*ServiceInfo)) {
	if contains(services, allServices) {
		for _, name := range t.ServiceNames() {
			fn(t.services[name])
		}
		return
	}
	for _, s := range services {
		si, ok := t.services[s]
		if !ok {
			log.Warn("%s - service is not connected to anything and is redundant\n", s)
			continue
		}
		fn(si)
	}
}

func (t *Topology) applySpansNumbers(log Logger) error {
	for i, ssn := range t.ServiceSpansNumbers {
		if len(ssn.Services) == 0 || ssn.SpansNumber < 1 {
			return fmt.Errorf("serviceSpansNumbers[%d]: services and a positive spansNumber are required", i)
		}
		t.forServices(log, ssn.Services, func(si *ServiceInfo) {
			si.SpansNumber = ssn.SpansNumber
		})
	}
	return nil
}

func mergeTag(tags []TagVariation, tv TagVariation) []TagVariation {
	for i := range tags {
		if tags[i].Name == tv.Name {
			for _, v := range tv.Values {
				if !contains(tags[i].Values, v) {
					tags[i].Values = append(tags[i].Values, v)
				}
			}
			return tags
		}
	}
	return append(tags, tv.clone())
}

func (t *Topology) applyTags(log Logger) {
	for i, st := range t.ServiceTags {
		optional := HundredPercent
		if st.OptionalTagsPercentage != nil {
			optional = *st.OptionalTagsPercentage
		}
		hasMandatory := len(st.MandatoryTags) > 0
		hasOptional := len(st.OptionalTags) > 0 && optional > 0
		if len(st.Services) == 0 || (!hasMandatory && !hasOptional) {
			log.Warn("serviceTags[%d] is incomplete and was ignored\n", i)
			continue
		}
		if optional > HundredPercent {
			log.Warn("serviceTags[%d]: optionalTagsPercentage %g was replaced with 100\n", i, optional)
			optional = HundredPercent
		}
		mandatory := sanitizeTags(log, fmt.Sprintf("serviceTags[%d]", i), st.MandatoryTags)
		var opt []TagVariation
		if hasOptional {
			opt = sanitizeTags(log, fmt.Sprintf("serviceTags[%d]", i), st.OptionalTags)
		}
		t.forServices(log, st.Services, func(si *ServiceInfo) {
			for _, tv := range mandatory {
				tv.Percentage = HundredPercent
				si.Tags = mergeTag(si.Tags, tv)
			}
			for _, tv := range opt {
				tv.Percentage = optional
				si.Tags = mergeTag(si.Tags, tv)
			}
		})
	}
	for _, name := range t.ServiceNames() {
		si := t.services[name]
		// the service tag always names the service itself
		filtered := si.Tags[:0]
		for _, tv := range si.Tags {
			if tv.Name != serviceTag {
				filtered = append(filtered, tv)
			}
		}
		si.Tags = filtered
		for _, def := range defaultTopologyTags {
			found := false
			for _, tv := range si.Tags {
				if tv.Name == def.Name {
					found = true
					break
				}
			}
			if !found {
				log.Debug("%s: missing mandatory tag %s was added\n", name, def.Name)
				tv := def.clone()
				tv.Percentage = HundredPercent
				si.Tags = append(si.Tags, tv)
			}
		}
	}
}

// ServiceNames lists every service in the graph, sorted.
func (t *Topology) ServiceNames() []string {
	names := make([]string, 0, len(t.services))
	for name := range t.services {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *Topology) Service(name string) *ServiceInfo {
	return t.services[name]
}

func (t *Topology) RandomRoot(rng Rng) string {
	return t.roots[rng.Intn(len(t.roots))]
}

// IsParent reports whether parent may call child.
func (t *Topology) IsParent(child, parent string) bool {
	si, ok := t.services[child]
	return ok && si.Parents[parent]
}

// NextLevelService picks a child of a random service from previous. Services
// without children are skipped; "" means no service in previous has any.
func (t *Topology) NextLevelService(rng Rng, previous []string) string {
	if len(previous) == 0 {
		return ""
	}
	var callers []*ServiceInfo
	for _, s := range previous {
		if si, ok := t.services[s]; ok && len(si.Children) > 0 {
			callers = append(callers, si)
		}
	}
	if len(callers) == 0 {
		return ""
	}
	si := callers[rng.Intn(len(callers))]
	return si.Children[rng.Intn(len(si.Children))]
}

// SpanName is service_NNN with NNN drawn from the service's span number.
func (t *Topology) SpanName(rng Rng, service string) string {
	n := 1
	if si, ok := t.services[service]; ok {
		n = si.SpansNumber
	}
	return fmt.Sprintf("%s_%03d", service, rng.Intn(n)+1)
}

// ServiceTagsFor draws the tags of a span of service. The service tag comes
// first.
func (t *Topology) ServiceTagsFor(rng Rng, service string) []Tag {
	tags := []Tag{{serviceTag, service}}
	si, ok := t.services[service]
	if !ok {
		return tags
	}
	for _, tv := range si.Tags {
		if tv.Percentage >= HundredPercent || rng.Percent(tv.Percentage) {
			tags = append(tags, Tag{tv.Name, tv.Pick(rng)})
		}
	}
	return tags
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
