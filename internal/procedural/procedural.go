// Package procedural holds skills that improve with practice and habits
// keyed by the context that triggers them.
package procedural

import (
	"sort"
	"sync"
	"time"

	"github.com/nidhogg/nuka-memory/internal/memory"
	"go.uber.org/zap"
)

// Skill is a named action sequence with a motor pattern.
type Skill struct {
	ID            uint64    `json:"id"`
	Name          string    `json:"name"`
	Actions       []string  `json:"actions"`
	MotorPattern  []float64 `json:"motor_pattern"`
	Proficiency   float64   `json:"proficiency"`
	PracticeCount int       `json:"practice_count"`
	Automated     bool      `json:"automated"`
	CreatedAt     time.Time `json:"created_at"`
	LastPracticed time.Time `json:"last_practiced"`
}

// Habit maps a trigger context to an action.
type Habit struct {
	ID             uint64    `json:"id"`
	TriggerContext string    `json:"trigger_context"`
	Action         string    `json:"action"`
	Strength       float64   `json:"strength"`
	Repetitions    int       `json:"repetitions"`
	CreatedAt      time.Time `json:"created_at"`
	LastTriggered  time.Time `json:"last_triggered"`
}

// Config controls learning, automation and upkeep.
type Config struct {
	MaxSkills               int           `json:"max_skills"`                // default 256
	MaxHabits               int           `json:"max_habits"`                // default 512
	LearningRate            float64       `json:"learning_rate"`             // default 0.2
	AutomationThreshold     float64       `json:"automation_threshold"`      // default 0.8
	MinRepetitionsForHabit  int           `json:"min_repetitions_for_habit"` // default 10
	HabitFormationThreshold float64       `json:"habit_formation_threshold"` // default 0.5
	HabitIncrement          float64       `json:"habit_increment"`           // default 0.1
	DecayRate               float64       `json:"decay_rate"`                // default 0.02
	UnusedAfter             time.Duration `json:"unused_after"`              // default 24h
	FrequentUse             int           `json:"frequent_use"`              // default 20
	StrengthenBoost         float64       `json:"strengthen_boost"`          // default 0.05
	ConsolidationGain       float64       `json:"consolidation_gain"`        // default 0.1
	MinHabitStrength        float64       `json:"min_habit_strength"`        // default 0.05
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxSkills:               256,
		MaxHabits:               512,
		LearningRate:            0.2,
		AutomationThreshold:     0.8,
		MinRepetitionsForHabit:  10,
		HabitFormationThreshold: 0.5,
		HabitIncrement:          0.1,
		DecayRate:               0.02,
		UnusedAfter:             24 * time.Hour,
		FrequentUse:             20,
		StrengthenBoost:         0.05,
		ConsolidationGain:       0.1,
		MinHabitStrength:        0.05,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxSkills <= 0 {
		c.MaxSkills = d.MaxSkills
	}
	if c.MaxHabits <= 0 {
		c.MaxHabits = d.MaxHabits
	}
	if c.LearningRate <= 0 {
		c.LearningRate = d.LearningRate
	}
	if c.AutomationThreshold <= 0 {
		c.AutomationThreshold = d.AutomationThreshold
	}
	if c.MinRepetitionsForHabit <= 0 {
		c.MinRepetitionsForHabit = d.MinRepetitionsForHabit
	}
	if c.HabitFormationThreshold <= 0 {
		c.HabitFormationThreshold = d.HabitFormationThreshold
	}
	if c.HabitIncrement <= 0 {
		c.HabitIncrement = d.HabitIncrement
	}
	if c.DecayRate <= 0 {
		c.DecayRate = d.DecayRate
	}
	if c.UnusedAfter <= 0 {
		c.UnusedAfter = d.UnusedAfter
	}
	if c.FrequentUse <= 0 {
		c.FrequentUse = d.FrequentUse
	}
	if c.StrengthenBoost <= 0 {
		c.StrengthenBoost = d.StrengthenBoost
	}
	if c.ConsolidationGain <= 0 {
		c.ConsolidationGain = d.ConsolidationGain
	}
	if c.MinHabitStrength <= 0 {
		c.MinHabitStrength = d.MinHabitStrength
	}
	return c
}

// Stats summarizes procedural memory.
type Stats struct {
	Skills         int     `json:"skills"`
	Automated      int     `json:"automated"`
	AvgProficiency float64 `json:"avg_proficiency"`
	Habits         int     `json:"habits"`
	ActiveHabits   int     `json:"active_habits"`
	Contexts       int     `json:"contexts"`
	PrunedHabits   int     `json:"pruned_habits"`
	EvictedSkills  int     `json:"evicted_skills"`
}

// Memory stores skills and habits. All operations are thread-safe.
type Memory struct {
	cfg Config

	skills    map[uint64]*Skill
	skillName map[string]uint64
	habits    map[uint64]*Habit
	byContext map[string][]uint64

	seq               memory.Sequence
	lastConsolidation time.Time
	prunedHabits      int
	evictedSkills     int

	now    func() time.Time
	mu     sync.RWMutex
	logger *zap.Logger
}

// New creates procedural memory.
func New(cfg Config, logger *zap.Logger) *Memory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Memory{
		cfg:       cfg.withDefaults(),
		skills:    make(map[uint64]*Skill),
		skillName: make(map[string]uint64),
		habits:    make(map[uint64]*Habit),
		byContext: make(map[string][]uint64),
		now:       time.Now,
		logger:    logger,
	}
}

// Config returns the effective configuration.
func (m *Memory) Config() Config {
	return m.cfg
}

// AddSkill registers a skill. A known name keeps its id and blends the new
// motor pattern in at the learning rate.
func (m *Memory) AddSkill(name string, actions []string, motorPattern []float64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.skillName[name]; ok {
		s := m.skills[id]
		if len(motorPattern) > 0 {
			s.MotorPattern = memory.Blend(s.MotorPattern, motorPattern, m.cfg.LearningRate)
		}
		if len(actions) > 0 {
			s.Actions = append([]string(nil), actions...)
		}
		return id
	}

	for len(m.skills) >= m.cfg.MaxSkills {
		victim, ok := m.weakestSkillLocked()
		if !ok {
			break
		}
		m.logger.Debug("skill evicted", zap.String("name", m.skills[victim].Name))
		delete(m.skillName, m.skills[victim].Name)
		delete(m.skills, victim)
		m.evictedSkills++
	}

	now := m.now()
	s := &Skill{
		ID:           m.seq.Next(),
		Name:         name,
		Actions:      append([]string(nil), actions...),
		MotorPattern: memory.Clone(motorPattern),
		CreatedAt:    now,
	}
	m.skills[s.ID] = s
	m.skillName[name] = s.ID
	m.logger.Debug("skill added", zap.Uint64("id", s.ID), zap.String("name", name))
	return s.ID
}

// weakestSkillLocked prefers non-automated skills; only when every skill is
// automated does an automated one go.
func (m *Memory) weakestSkillLocked() (uint64, bool) {
	manual := make(map[uint64]*Skill, len(m.skills))
	for id, s := range m.skills {
		if !s.Automated {
			manual[id] = s
		}
	}
	prof := func(s *Skill) float64 { return s.Proficiency }
	if id, ok := memory.Lowest(manual, prof); ok {
		return id, true
	}
	return memory.Lowest(m.skills, prof)
}

// FindSkill looks a skill up by name.
func (m *Memory) FindSkill(name string) (Skill, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.skillName[name]
	if !ok {
		return Skill{}, false
	}
	return m.skills[id].clone(), true
}

// GetSkill returns a skill by id.
func (m *Memory) GetSkill(id uint64) (Skill, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.skills[id]
	if !ok {
		return Skill{}, false
	}
	return s.clone(), true
}

// PracticeSkill applies one practice trial scored in [0,1]. Scores above
// 0.5 raise proficiency, scores below lower it.
func (m *Memory) PracticeSkill(id uint64, score float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.skills[id]
	if !ok {
		return false
	}
	m.practiceLocked(s, score)
	return true
}

// PracticeSkillByName is PracticeSkill through the name index.
func (m *Memory) PracticeSkillByName(name string, score float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.skillName[name]
	if !ok {
		return false
	}
	m.practiceLocked(m.skills[id], score)
	return true
}

func (m *Memory) practiceLocked(s *Skill, score float64) {
	score = memory.Clamp01(score)
	s.Proficiency = memory.Clamp01(s.Proficiency + (score-0.5)*m.cfg.LearningRate)
	s.PracticeCount++
	s.LastPracticed = m.now()
	was := s.Automated
	m.evaluateLocked(s)
	if s.Automated && !was {
		m.logger.Info("skill automated",
			zap.String("name", s.Name),
			zap.Float64("proficiency", s.Proficiency),
			zap.Int("practice", s.PracticeCount))
	}
}

func (m *Memory) evaluateLocked(s *Skill) {
	s.Automated = s.Proficiency >= m.cfg.AutomationThreshold &&
		s.PracticeCount >= m.cfg.MinRepetitionsForHabit
}

// AddHabit registers a context/action pair with an initial strength. An
// existing pair keeps the larger strength.
func (m *Memory) AddHabit(context, action string, strength float64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h := m.findHabitLocked(context, action); h != nil {
		h.Strength = max(h.Strength, memory.Clamp01(strength))
		return h.ID
	}
	return m.insertHabitLocked(context, action, memory.Clamp01(strength))
}

// ReinforceHabit strengthens a context/action pair, creating it on first use.
func (m *Memory) ReinforceHabit(context, action string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h := m.findHabitLocked(context, action); h != nil {
		h.Strength = memory.Clamp01(h.Strength + m.cfg.HabitIncrement)
		h.Repetitions++
		return h.ID
	}
	id := m.insertHabitLocked(context, action, m.cfg.HabitIncrement)
	m.habits[id].Repetitions = 1
	return id
}

// GetTriggeredHabit returns the first habit registered for context whose
// strength reaches the formation threshold. Registration order decides, not
// strength.
func (m *Memory) GetTriggeredHabit(context string) (Habit, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.byContext[context] {
		h := m.habits[id]
		if h.Strength >= m.cfg.HabitFormationThreshold {
			h.LastTriggered = m.now()
			return *h, true
		}
	}
	return Habit{}, false
}

func (m *Memory) findHabitLocked(context, action string) *Habit {
	for _, id := range m.byContext[context] {
		if h := m.habits[id]; h.Action == action {
			return h
		}
	}
	return nil
}

func (m *Memory) insertHabitLocked(context, action string, strength float64) uint64 {
	for len(m.habits) >= m.cfg.MaxHabits {
		victim, ok := memory.Lowest(m.habits, func(h *Habit) float64 { return h.Strength })
		if !ok {
			break
		}
		m.removeHabitLocked(victim)
		m.prunedHabits++
	}
	now := m.now()
	h := &Habit{
		ID:             m.seq.Next(),
		TriggerContext: context,
		Action:         action,
		Strength:       strength,
		CreatedAt:      now,
		LastTriggered:  now,
	}
	m.habits[h.ID] = h
	m.byContext[context] = append(m.byContext[context], h.ID)
	return h.ID
}

func (m *Memory) removeHabitLocked(id uint64) {
	h, ok := m.habits[id]
	if !ok {
		return
	}
	bucket := m.byContext[h.TriggerContext]
	for i, x := range bucket {
		if x == id {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(m.byContext, h.TriggerContext)
	} else {
		m.byContext[h.TriggerContext] = bucket
	}
	delete(m.habits, id)
}

// DecayUnusedSkills erodes skills not practiced within UnusedAfter of now.
// Automation is re-evaluated. Returns the number of decayed skills.
func (m *Memory) DecayUnusedSkills(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.skills {
		last := s.LastPracticed
		if last.IsZero() {
			last = s.CreatedAt
		}
		if now.Sub(last) <= m.cfg.UnusedAfter {
			continue
		}
		s.Proficiency *= 1 - m.cfg.DecayRate
		m.evaluateLocked(s)
		n++
	}
	for _, h := range m.habits {
		if now.Sub(h.LastTriggered) > m.cfg.UnusedAfter {
			h.Strength *= 1 - m.cfg.DecayRate
		}
	}
	return n
}

// StrengthenFrequentlyUsed boosts skills practiced at least FrequentUse times.
func (m *Memory) StrengthenFrequentlyUsed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.skills {
		if s.PracticeCount < m.cfg.FrequentUse {
			continue
		}
		s.Proficiency = memory.Clamp01(s.Proficiency + m.cfg.StrengthenBoost)
		m.evaluateLocked(s)
		n++
	}
	return n
}

// ConsolidateMotorMemories stabilizes skills practiced since the previous
// call, re-evaluates automation and drops habits that faded below
// MinHabitStrength. Returns the number of stabilized skills.
func (m *Memory) ConsolidateMotorMemories() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, s := range m.skills {
		if s.PracticeCount == 0 || !s.LastPracticed.After(m.lastConsolidation) {
			continue
		}
		s.Proficiency = memory.Clamp01(s.Proficiency + m.cfg.ConsolidationGain*s.Proficiency*(1-s.Proficiency))
		m.evaluateLocked(s)
		n++
	}

	var weak []uint64
	for id, h := range m.habits {
		if h.Strength < m.cfg.MinHabitStrength {
			weak = append(weak, id)
		}
	}
	for _, id := range weak {
		m.removeHabitLocked(id)
	}
	m.prunedHabits += len(weak)
	m.lastConsolidation = m.now()

	if n > 0 || len(weak) > 0 {
		m.logger.Debug("motor memories consolidated",
			zap.Int("stabilized", n),
			zap.Int("habits_pruned", len(weak)))
	}
	return n
}

// Skills returns every skill, most proficient first.
func (m *Memory) Skills() []Skill {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Skill, 0, len(m.skills))
	for _, s := range m.skills {
		out = append(out, s.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Proficiency != out[j].Proficiency {
			return out[i].Proficiency > out[j].Proficiency
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Habits returns the habits of one context in registration order, or all
// habits ordered by id when context is empty.
func (m *Memory) Habits(context string) []Habit {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Habit
	if context != "" {
		for _, id := range m.byContext[context] {
			out = append(out, *m.habits[id])
		}
		return out
	}
	for _, h := range m.habits {
		out = append(out, *h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats returns procedural statistics.
func (m *Memory) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{
		Skills:        len(m.skills),
		Habits:        len(m.habits),
		Contexts:      len(m.byContext),
		PrunedHabits:  m.prunedHabits,
		EvictedSkills: m.evictedSkills,
	}
	for _, sk := range m.skills {
		s.AvgProficiency += sk.Proficiency
		if sk.Automated {
			s.Automated++
		}
	}
	if s.Skills > 0 {
		s.AvgProficiency /= float64(s.Skills)
	}
	for _, h := range m.habits {
		if h.Strength >= m.cfg.HabitFormationThreshold {
			s.ActiveHabits++
		}
	}
	return s
}

func (s *Skill) clone() Skill {
	out := *s
	out.Actions = append([]string(nil), s.Actions...)
	out.MotorPattern = memory.Clone(s.MotorPattern)
	return out
}
