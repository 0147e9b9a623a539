package development

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/nidhogg/nuka-memory/internal/memory"
	"go.uber.org/zap"
)

var _ memory.Modulator = (*Constraints)(nil)

func TestEnhancementWindow(t *testing.T) {
	c := New(Config{}, zap.NewNop())
	p := NewCriticalPeriod("early", Enhancement, 1000*time.Millisecond, 2000*time.Millisecond)
	p.Plasticity = 3
	err := c.DefineCriticalPeriod(p)
	if err != nil {
		t.Fatalf("define: %v", err)
	}

	c.SetSystemAge(500 * time.Millisecond)
	if got := c.PlasticityMultiplier("cortex"); got != 1.0 {
		t.Errorf("before window: got %f, want 1.0", got)
	}
	c.SetSystemAge(1500 * time.Millisecond)
	if got := c.PlasticityMultiplier("cortex"); got <= 1.0 {
		t.Errorf("inside window: got %f, want > 1.0", got)
	}
	if got := c.PlasticityMultiplier("cortex"); math.Abs(got-3) > 1e-9 {
		t.Errorf("at peak: got %f, want 3", got)
	}
	if got := c.LearningRateMultiplier("cortex"); got != 1.0 {
		t.Errorf("unset learning multiplier gave %f", got)
	}
}

func TestDefineRejectsInvalid(t *testing.T) {
	c := New(Config{}, zap.NewNop())
	cases := []struct {
		name string
		p    CriticalPeriod
	}{
		{"empty name", CriticalPeriod{Start: 0, End: time.Second}},
		{"end before start", CriticalPeriod{Name: "x", Start: time.Second, End: time.Second}},
		{"peak outside", CriticalPeriod{Name: "x", Start: time.Second, End: 2 * time.Second, Peak: 3 * time.Second}},
		{"peak before start", CriticalPeriod{Name: "x", Start: time.Second, End: 2 * time.Second}},
		{"negative multiplier", CriticalPeriod{Name: "x", End: time.Second, Plasticity: -1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := c.DefineCriticalPeriod(tc.p); !errors.Is(err, ErrInvalidPeriod) {
				t.Errorf("got %v, want ErrInvalidPeriod", err)
			}
		})
	}
	if len(c.Periods()) != 0 {
		t.Error("invalid periods were stored")
	}
}

func TestPeriodTypesShapeResponse(t *testing.T) {
	cases := []struct {
		typ  PeriodType
		m    float64
		want func(float64) bool
	}{
		{Enhancement, 2, func(f float64) bool { return f > 1 }},
		{Restriction, 2, func(f float64) bool { return math.Abs(f-0.5) < 1e-9 }},
		{Specialization, 0.5, func(f float64) bool { return math.Abs(f-0.5) < 1e-9 }},
		{Pruning, 2, func(f float64) bool { return math.Abs(f-0.5) < 1e-9 }},
		{Stabilization, 0.1, func(f float64) bool { return math.Abs(f-0.5) < 1e-9 }},
	}
	for _, tc := range cases {
		t.Run(tc.typ.String(), func(t *testing.T) {
			c := New(Config{}, zap.NewNop())
			if err := c.DefineCriticalPeriod(CriticalPeriod{
				Name: "p", Start: 0, End: 2 * time.Second, Peak: time.Second, Plasticity: tc.m, Type: tc.typ,
			}); err != nil {
				t.Fatal(err)
			}
			c.SetSystemAge(time.Second)
			if got := c.PlasticityMultiplier(""); !tc.want(got) {
				t.Errorf("multiplier %f", got)
			}
		})
	}
}

func TestZeroValuesAreLiteral(t *testing.T) {
	c := New(Config{}, zap.NewNop())
	quiet := NewCriticalPeriod("quiet", Specialization, 0, 2*time.Second)
	quiet.LearningRate = 0
	if err := c.DefineCriticalPeriod(quiet); err != nil {
		t.Fatal(err)
	}
	c.SetSystemAge(time.Second)
	if got := c.LearningRateMultiplier(""); math.Abs(got) > 1e-9 {
		t.Errorf("zero multiplier at peak gave %f, want full suppression", got)
	}
	if got := c.PlasticityMultiplier(""); math.Abs(got-1) > 1e-9 {
		t.Errorf("neutral plasticity gave %f", got)
	}

	c = New(Config{}, zap.NewNop())
	early := NewCriticalPeriod("early", Enhancement, 0, 2*time.Second)
	early.Peak = 0
	early.Plasticity = 3
	if err := c.DefineCriticalPeriod(early); err != nil {
		t.Fatal(err)
	}
	if got, _ := c.Period("early"); got.Peak != 0 {
		t.Errorf("peak moved to %s", got.Peak)
	}
	c.SetSystemAge(0)
	if got := c.PlasticityMultiplier(""); math.Abs(got-3) > 1e-9 {
		t.Errorf("peak at start gave %f, want 3", got)
	}
}

func TestPeriodJSONDefaults(t *testing.T) {
	var p CriticalPeriod
	if err := json.Unmarshal([]byte(`{"name":"music","start":0,"end":1000,"plasticity":0}`), &p); err != nil {
		t.Fatal(err)
	}
	if p.Peak != 500 || p.LearningRate != 1 || p.Consolidation != 1 || p.Shape != 1 {
		t.Errorf("omitted fields not neutral: %+v", p)
	}
	if p.Plasticity != 0 {
		t.Errorf("explicit zero plasticity became %f", p.Plasticity)
	}

	if err := json.Unmarshal([]byte(`{"name":"early","start":0,"end":1000,"peak":0}`), &p); err != nil {
		t.Fatal(err)
	}
	if p.Peak != 0 {
		t.Errorf("explicit zero peak became %s", p.Peak)
	}
}

func TestRegionFilter(t *testing.T) {
	c := New(Config{}, zap.NewNop())
	p := NewCriticalPeriod("motor", Enhancement, 0, time.Hour)
	p.Plasticity = 2
	p.Regions = []string{"motor"}
	_ = c.DefineCriticalPeriod(p)
	c.SetSystemAge(30 * time.Minute)
	if c.PlasticityMultiplier("visual") != 1 {
		t.Error("period leaked into unrelated region")
	}
	if c.PlasticityMultiplier("motor") <= 1 {
		t.Error("period not applied to its region")
	}
}

func TestAdvanceRefreshesCacheOnInterval(t *testing.T) {
	c := New(Config{UpdateInterval: time.Second}, zap.NewNop())
	p := NewCriticalPeriod("w", Enhancement, time.Second, 3*time.Second)
	p.Plasticity = 2
	_ = c.DefineCriticalPeriod(p)
	if c.PlasticityMultiplier("r") != 1 {
		t.Fatal("period active at age zero")
	}

	c.AdvanceSystemAge(500 * time.Millisecond)
	c.AdvanceSystemAge(400 * time.Millisecond)
	if c.Stats().Recomputes != 0 {
		t.Error("recomputed before interval elapsed")
	}
	c.AdvanceSystemAge(1100 * time.Millisecond)
	if got := c.PlasticityMultiplier("r"); math.Abs(got-2) > 1e-9 {
		t.Errorf("after advance got %f, want 2", got)
	}
	if s := c.Stats(); len(s.Active) != 1 || s.Active[0] != "w" {
		t.Errorf("active %v", s.Active)
	}
}

func TestAgeDecay(t *testing.T) {
	c := New(Config{EnableAgeDecay: true, AgeDecayRate: 1, MinAgeFactor: 0.3}, zap.NewNop())
	c.SetSystemAge(10 * time.Hour)
	if got := c.PlasticityMultiplier("x"); math.Abs(got-0.3) > 1e-9 {
		t.Errorf("got %f, want floor 0.3", got)
	}
	if got := c.ConsolidationMultiplier("x"); got != 1 {
		t.Errorf("consolidation affected by age: %f", got)
	}
}

func TestStandardPeriodsLoad(t *testing.T) {
	c := New(Config{}, zap.NewNop())
	if err := c.LoadStandardPeriods(); err != nil {
		t.Fatal(err)
	}
	c.SetSystemAge(2 * time.Hour)
	if c.ModalityMultiplier("visual") <= 1 {
		t.Error("sensory window should boost visual plasticity")
	}
	if c.RemoveCriticalPeriod("sensory_tuning") == false || c.RemoveCriticalPeriod("sensory_tuning") {
		t.Error("remove should succeed once")
	}
}
