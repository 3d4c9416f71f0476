package telemetry

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Dataset is the canned telemetry for one service/environment pair.
type Dataset struct {
	Service     string        `yaml:"service"`
	Env         string        `yaml:"env"`
	Deployments []Deployment  `yaml:"deployments"`
	Metrics     []MetricPoint `yaml:"metrics"`
	Logs        []LogEntry    `yaml:"logs"`
}

// Fixture serves canned datasets. Unknown service/env pairs return empty
// results, never errors.
type Fixture struct {
	data map[string]Dataset
}

// NewFixture builds a Fixture from datasets.
func NewFixture(sets ...Dataset) *Fixture {
	f := &Fixture{data: make(map[string]Dataset, len(sets))}
	for _, ds := range sets {
		f.data[key(ds.Service, ds.Env)] = ds
	}
	return f
}

// DefaultFixture returns the demo dataset: a checkout-api regression in
// prod that follows a deployment.
func DefaultFixture() *Fixture {
	at := func(h, m, s int) time.Time { return time.Date(2026, 2, 14, h, m, s, 0, time.UTC) }
	return NewFixture(Dataset{
		Service: "checkout-api",
		Env:     "prod",
		Deployments: []Deployment{
			{ID: "dep-2026-02-14-01", Version: "v2026.02.14.1", Commit: "a12b34c", Timestamp: at(11, 15, 0)},
			{ID: "dep-2026-02-14-02", Version: "v2026.02.14.2", Commit: "d98e76f", Timestamp: at(11, 42, 0)},
		},
		Metrics: []MetricPoint{
			{Name: "http_5xx_rate", Value: 0.18, Endpoint: "/checkout", Timestamp: at(11, 45, 0)},
			{Name: "p95_latency_ms", Value: 1480, Endpoint: "/checkout", Timestamp: at(11, 46, 0)},
			{Name: "http_5xx_rate", Value: 0.21, Endpoint: "/checkout", Timestamp: at(11, 47, 0)},
		},
		Logs: []LogEntry{
			{Level: "ERROR", Message: "Upstream timeout when contacting payments dependency", Timestamp: at(11, 46, 30)},
			{Level: "ERROR", Message: "Retry budget exhausted for payment provider", Timestamp: at(11, 47, 10)},
		},
	})
}

type fixtureFile struct {
	Datasets []Dataset `yaml:"datasets"`
}

// LoadFixture reads datasets from a YAML file of the form
//
//	datasets:
//	  - service: checkout-api
//	    env: prod
//	    deployments: [...]
//	    metrics: [...]
//	    logs: [...]
func LoadFixture(path string) (*Fixture, error) {
	b, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	var ff fixtureFile
	if err := yaml.Unmarshal(b, &ff); err != nil {
		return nil, fmt.Errorf("parse fixture %s: %w", path, err)
	}
	for i, ds := range ff.Datasets {
		if ds.Service == "" || ds.Env == "" {
			return nil, fmt.Errorf("parse fixture %s: dataset %d needs service and env", path, i)
		}
	}
	return NewFixture(ff.Datasets...), nil
}

// RecentDeployments returns the dataset's deployments, newest first.
func (f *Fixture) RecentDeployments(_ context.Context, service, env string) ([]Deployment, error) {
	ds := f.data[key(service, env)]
	out := append([]Deployment(nil), ds.Deployments...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

// QueryMetrics returns the dataset's samples for metric, oldest first.
func (f *Fixture) QueryMetrics(_ context.Context, service, env, metric string) ([]MetricPoint, error) {
	ds := f.data[key(service, env)]
	var out []MetricPoint
	for _, p := range ds.Metrics {
		if p.Name == metric {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// QueryLogs returns the dataset's logs containing the filter, oldest first.
func (f *Fixture) QueryLogs(_ context.Context, service, env, contains string) ([]LogEntry, error) {
	ds := f.data[key(service, env)]
	needle := strings.ToLower(contains)
	var out []LogEntry
	for _, l := range ds.Logs {
		if needle == "" || strings.Contains(strings.ToLower(l.Message), needle) {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func key(service, env string) string { return service + "/" + env }
