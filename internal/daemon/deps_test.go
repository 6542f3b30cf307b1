package daemon

import (
	"slices"
	"testing"
	"time"

	"github.com/benaskins/icnswitch/internal/spec"
)

func makeSpec(name string, after, requires []string) *spec.ServiceSpec {
	s := &spec.ServiceSpec{
		Service: spec.Service{Name: name, Type: spec.TypeNative, Command: "sleep 30"},
	}
	if len(after) > 0 || len(requires) > 0 {
		s.Dependencies = &spec.Dependencies{
			After:    after,
			Requires: requires,
		}
	}
	return s
}

func TestStartOrder(t *testing.T) {
	tests := []struct {
		name  string
		specs []*spec.ServiceSpec
		want  []string
	}{
		{
			name: "independent services sort by name",
			specs: []*spec.ServiceSpec{
				makeSpec("web", nil, nil),
				makeSpec("iget", nil, nil),
				makeSpec("fwd", nil, nil),
			},
			want: []string{"fwd", "iget", "web"},
		},
		{
			name: "downloader behind web behind forwarder",
			specs: []*spec.ServiceSpec{
				makeSpec("iget", []string{"web"}, []string{"web"}),
				makeSpec("web", []string{"fwd"}, nil),
				makeSpec("fwd", nil, nil),
			},
			want: []string{"fwd", "web", "iget"},
		},
		{
			name: "diamond on the forwarder",
			specs: []*spec.ServiceSpec{
				makeSpec("fwd", nil, nil),
				makeSpec("web", []string{"fwd"}, nil),
				makeSpec("iget", []string{"fwd"}, nil),
				makeSpec("mirror", []string{"web", "iget"}, nil),
			},
			want: []string{"fwd", "iget", "web", "mirror"},
		},
		{
			name: "unknown dependency is ignored",
			specs: []*spec.ServiceSpec{
				makeSpec("web", []string{"external"}, nil),
				makeSpec("fwd", nil, nil),
			},
			want: []string{"fwd", "web"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			order, err := newDepGraph(tt.specs).startOrder()
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !slices.Equal(order, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, order)
			}
		})
	}
}

func TestStartOrderCycleDetected(t *testing.T) {
	g := newDepGraph([]*spec.ServiceSpec{
		makeSpec("fwd", []string{"iget"}, nil),
		makeSpec("iget", []string{"fwd"}, nil),
	})

	if _, err := g.startOrder(); err == nil {
		t.Fatal("expected cycle error, got nil")
	}
	if _, err := g.stopOrder(); err == nil {
		t.Fatal("expected cycle error from stopOrder, got nil")
	}
}

func TestStopOrderReverseOfStart(t *testing.T) {
	g := newDepGraph([]*spec.ServiceSpec{
		makeSpec("fwd", nil, nil),
		makeSpec("web", []string{"fwd"}, nil),
		makeSpec("iget", []string{"web"}, nil),
	})

	stop, err := g.stopOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := []string{"iget", "web", "fwd"}; !slices.Equal(stop, want) {
		t.Errorf("expected %v, got %v", want, stop)
	}
}

func TestCascadeStopTargets(t *testing.T) {
	g := newDepGraph([]*spec.ServiceSpec{
		makeSpec("fwd", nil, nil),
		makeSpec("web", []string{"fwd"}, []string{"fwd"}),
		makeSpec("iget", []string{"web"}, []string{"web"}),
		makeSpec("stats", []string{"fwd"}, nil),
	})

	// outermost first; stats is only ordered after fwd
	if got, want := g.cascadeStopTargets("fwd"), []string{"iget", "web"}; !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if got := g.cascadeStopTargets("iget"); len(got) != 0 {
		t.Errorf("expected no cascade from a leaf, got %v", got)
	}
}

func TestRequiredBy(t *testing.T) {
	g := newDepGraph([]*spec.ServiceSpec{
		makeSpec("fwd", nil, nil),
		makeSpec("web", nil, []string{"fwd"}),
		makeSpec("iget", nil, []string{"web", "missing"}),
		makeSpec("stats", nil, nil),
	})

	if got, want := g.requiredBy("iget"), []string{"fwd", "web"}; !slices.Equal(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
	if got := g.requiredBy("fwd"); len(got) != 0 {
		t.Errorf("expected nothing for fwd, got %v", got)
	}
}

func TestHealthCheckedServiceInDependencyOrder(t *testing.T) {
	web := &spec.ServiceSpec{
		Service: spec.Service{Name: "web", Kind: spec.KindHTTP, Type: spec.TypeFunc},
		Health: &spec.HealthCheck{
			Type:     "http",
			Path:     "/healthz",
			Port:     8080,
			Interval: spec.Duration{Duration: 15 * time.Second},
			Timeout:  spec.Duration{Duration: 3 * time.Second},
		},
	}
	fwd := makeSpec("forwarder", []string{"web"}, nil)

	order, err := newDepGraph([]*spec.ServiceSpec{fwd, web}).startOrder()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !slices.Equal(order, []string{"web", "forwarder"}) {
		t.Errorf("expected [web forwarder], got %v", order)
	}
}

func TestStartOrderIsStable(t *testing.T) {
	specs := []*spec.ServiceSpec{
		makeSpec("web", nil, nil),
		makeSpec("cache", nil, nil),
		makeSpec("iget", []string{"fwd"}, nil),
		makeSpec("fwd", nil, nil),
	}
	want := []string{"cache", "fwd", "iget", "web"}

	for i := 0; i < 20; i++ {
		order, err := newDepGraph(specs).startOrder()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !slices.Equal(order, want) {
			t.Fatalf("run %d: expected %v, got %v", i, want, order)
		}
	}
}
