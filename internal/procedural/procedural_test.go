package procedural

import (
	"math"
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestMemory(t *testing.T, cfg Config) (*Memory, *time.Time) {
	t.Helper()
	m := New(cfg, zap.NewNop())
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestPerfectPracticeAutomates(t *testing.T) {
	m, _ := newTestMemory(t, Config{})
	id := m.AddSkill("reach", []string{"extend", "grasp"}, []float64{0.2, 0.4})
	for i := 0; i < 9; i++ {
		m.PracticeSkill(id, 1.0)
	}
	s, _ := m.GetSkill(id)
	if s.Automated {
		t.Fatal("automated before the minimum repetitions")
	}
	m.PracticeSkill(id, 1.0)
	s, _ = m.GetSkill(id)
	if !s.Automated {
		t.Errorf("not automated after 10 perfect trials: %+v", s)
	}
	if math.Abs(s.Proficiency-1.0) > 1e-9 {
		t.Errorf("proficiency %f, want 1.0", s.Proficiency)
	}
}

func TestFailedPracticeNeverAutomates(t *testing.T) {
	m, _ := newTestMemory(t, Config{})
	id := m.AddSkill("juggle", nil, nil)
	for i := 0; i < 50; i++ {
		m.PracticeSkill(id, 0)
	}
	s, _ := m.GetSkill(id)
	if s.Automated || s.Proficiency != 0 {
		t.Errorf("unexpected skill state %+v", s)
	}
	if m.PracticeSkill(999, 1) || m.PracticeSkillByName("missing", 1) {
		t.Error("practicing unknown skill should report false")
	}
}

func TestAddSkillSameNameBlends(t *testing.T) {
	m, _ := newTestMemory(t, Config{LearningRate: 0.5})
	a := m.AddSkill("walk", nil, []float64{1, 1})
	b := m.AddSkill("walk", nil, []float64{0, 0})
	if a != b {
		t.Fatalf("ids differ: %d vs %d", a, b)
	}
	s, _ := m.FindSkill("walk")
	if s.MotorPattern[0] != 0.5 {
		t.Errorf("pattern %v, want blended 0.5", s.MotorPattern)
	}
}

func TestSkillEvictionSparesAutomated(t *testing.T) {
	m, _ := newTestMemory(t, Config{MaxSkills: 2, MinRepetitionsForHabit: 1, AutomationThreshold: 0.1})
	auto := m.AddSkill("auto", nil, nil)
	m.PracticeSkill(auto, 1)
	manual := m.AddSkill("manual", nil, nil)
	m.AddSkill("third", nil, nil)
	if _, ok := m.GetSkill(manual); ok {
		t.Error("non-automated skill should be evicted first")
	}
	if _, ok := m.GetSkill(auto); !ok {
		t.Error("automated skill evicted")
	}
}

func TestTriggeredHabitIsFirstMatch(t *testing.T) {
	m, _ := newTestMemory(t, Config{HabitFormationThreshold: 0.5})
	m.AddHabit("door", "knock", 0.3)
	first := m.AddHabit("door", "open", 0.6)
	m.AddHabit("door", "kick", 0.9)

	h, ok := m.GetTriggeredHabit("door")
	if !ok || h.ID != first {
		t.Errorf("got %+v, want first habit over threshold", h)
	}
	if _, ok := m.GetTriggeredHabit("window"); ok {
		t.Error("unknown context should not trigger")
	}
}

func TestReinforceHabitFormsOverTime(t *testing.T) {
	m, _ := newTestMemory(t, Config{HabitIncrement: 0.1, HabitFormationThreshold: 0.5})
	var id uint64
	for i := 0; i < 4; i++ {
		id = m.ReinforceHabit("morning", "coffee")
	}
	if _, ok := m.GetTriggeredHabit("morning"); ok {
		t.Fatal("habit triggered below threshold")
	}
	m.ReinforceHabit("morning", "coffee")
	h, ok := m.GetTriggeredHabit("morning")
	if !ok || h.ID != id || h.Repetitions != 5 {
		t.Errorf("unexpected habit %+v", h)
	}
}

func TestDecayAndConsolidate(t *testing.T) {
	m, now := newTestMemory(t, Config{DecayRate: 0.5, UnusedAfter: time.Hour, MinHabitStrength: 0.2})
	id := m.AddSkill("swim", nil, nil)
	m.PracticeSkill(id, 1)
	m.AddHabit("pool", "dive", 0.3)

	*now = now.Add(2 * time.Hour)
	if n := m.DecayUnusedSkills(*now); n != 1 {
		t.Fatalf("decayed %d, want 1", n)
	}
	s, _ := m.GetSkill(id)
	if math.Abs(s.Proficiency-0.05) > 1e-9 {
		t.Errorf("proficiency %f, want 0.05", s.Proficiency)
	}
	m.ConsolidateMotorMemories()
	if len(m.Habits("pool")) != 0 {
		t.Error("faded habit should be pruned")
	}
	if st := m.Stats(); st.PrunedHabits != 1 || st.Contexts != 0 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestConsolidationStabilizesRecentPractice(t *testing.T) {
	m, now := newTestMemory(t, Config{ConsolidationGain: 0.5})
	id := m.AddSkill("type", nil, nil)
	m.PracticeSkill(id, 1)
	m.PracticeSkill(id, 1)
	before, _ := m.GetSkill(id)

	if n := m.ConsolidateMotorMemories(); n != 1 {
		t.Fatalf("stabilized %d, want 1", n)
	}
	after, _ := m.GetSkill(id)
	if after.Proficiency <= before.Proficiency {
		t.Errorf("proficiency %f not above %f", after.Proficiency, before.Proficiency)
	}
	*now = now.Add(time.Minute)
	if n := m.ConsolidateMotorMemories(); n != 0 {
		t.Errorf("unpracticed skill stabilized again")
	}
}
