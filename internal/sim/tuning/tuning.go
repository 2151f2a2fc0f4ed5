package tuning

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Tuning holds the game rules an island is created with.
type Tuning struct {
	MaxParticipants int           `yaml:"max_participants"`
	MaxDays         int           `yaml:"max_days"`
	PhaseDuration   time.Duration `yaml:"phase_duration"`
	Cooldown        time.Duration `yaml:"cooldown"`

	JudgesPerDay      int `yaml:"judges_per_day"`
	MinAliveForJudges int `yaml:"min_alive_for_judges"`

	// Initial trust is drawn from [TrustInitMin, TrustInitMin+TrustInitSpan).
	TrustInitMin         int `yaml:"trust_init_min"`
	TrustInitSpan        int `yaml:"trust_init_span"`
	BetrayalTrustPenalty int `yaml:"betrayal_trust_penalty"`
	AllianceStrength     int `yaml:"alliance_strength"`

	Challenge ChallengeRules `yaml:"challenge"`
	Twists    TwistWeights   `yaml:"twist_weights"`

	HistoryCap   int `yaml:"history_cap"`
	RecentEvents int `yaml:"recent_events"`
}

type ChallengeRules struct {
	LuckMax              int `yaml:"luck_max"`
	StrategyBonusCap     int `yaml:"strategy_bonus_cap"`
	StrategyCharsPerPt   int `yaml:"strategy_chars_per_point"`
	JudgeScoreMultiplier int `yaml:"judge_score_multiplier"`
	DefaultJudgeScore    int `yaml:"default_judge_score"`
	ImmunityWinners      int `yaml:"immunity_winners"`
	ImmunityTwistWinners int `yaml:"immunity_twist_winners"`
}

// TwistWeights are relative weights for the daily twist draw.
type TwistWeights struct {
	None              int `yaml:"none"`
	DoubleElimination int `yaml:"double_elimination"`
	NoElimination     int `yaml:"no_elimination"`
	ImmunityChallenge int `yaml:"immunity_challenge"`
}

func (w TwistWeights) Total() int {
	return w.None + w.DoubleElimination + w.NoElimination + w.ImmunityChallenge
}

func Defaults() Tuning {
	return Tuning{
		MaxParticipants:      16,
		MaxDays:              16,
		PhaseDuration:        2 * time.Minute,
		Cooldown:             48 * time.Hour,
		JudgesPerDay:         2,
		MinAliveForJudges:    3,
		TrustInitMin:         -10,
		TrustInitSpan:        40,
		BetrayalTrustPenalty: 50,
		AllianceStrength:     50,
		Challenge: ChallengeRules{
			LuckMax:              40,
			StrategyBonusCap:     30,
			StrategyCharsPerPt:   5,
			JudgeScoreMultiplier: 5,
			DefaultJudgeScore:    5,
			ImmunityWinners:      1,
			ImmunityTwistWinners: 3,
		},
		Twists: TwistWeights{
			None:              45,
			DoubleElimination: 19,
			NoElimination:     18,
			ImmunityChallenge: 18,
		},
		HistoryCap:   50,
		RecentEvents: 20,
	}
}

// Load reads rules from a yaml file. Keys missing from the file keep their defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("rules.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("rules.yaml: %w", err)
	}
	return t, nil
}

// Normalize replaces zero values with defaults.
func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	d := Defaults()
	if t.MaxParticipants == 0 {
		t.MaxParticipants = d.MaxParticipants
	}
	if t.MaxDays == 0 {
		t.MaxDays = d.MaxDays
	}
	if t.PhaseDuration == 0 {
		t.PhaseDuration = d.PhaseDuration
	}
	if t.Cooldown == 0 {
		t.Cooldown = d.Cooldown
	}
	if t.JudgesPerDay == 0 {
		t.JudgesPerDay = d.JudgesPerDay
	}
	if t.MinAliveForJudges == 0 {
		t.MinAliveForJudges = d.MinAliveForJudges
	}
	if t.TrustInitSpan == 0 {
		t.TrustInitSpan = d.TrustInitSpan
	}
	if t.BetrayalTrustPenalty == 0 {
		t.BetrayalTrustPenalty = d.BetrayalTrustPenalty
	}
	if t.AllianceStrength == 0 {
		t.AllianceStrength = d.AllianceStrength
	}
	c := &t.Challenge
	if c.LuckMax == 0 {
		c.LuckMax = d.Challenge.LuckMax
	}
	if c.StrategyBonusCap == 0 {
		c.StrategyBonusCap = d.Challenge.StrategyBonusCap
	}
	if c.StrategyCharsPerPt == 0 {
		c.StrategyCharsPerPt = d.Challenge.StrategyCharsPerPt
	}
	if c.JudgeScoreMultiplier == 0 {
		c.JudgeScoreMultiplier = d.Challenge.JudgeScoreMultiplier
	}
	if c.DefaultJudgeScore == 0 {
		c.DefaultJudgeScore = d.Challenge.DefaultJudgeScore
	}
	if c.ImmunityWinners == 0 {
		c.ImmunityWinners = d.Challenge.ImmunityWinners
	}
	if c.ImmunityTwistWinners == 0 {
		c.ImmunityTwistWinners = d.Challenge.ImmunityTwistWinners
	}
	if t.Twists.Total() == 0 {
		t.Twists = d.Twists
	}
	if t.HistoryCap == 0 {
		t.HistoryCap = d.HistoryCap
	}
	if t.RecentEvents == 0 {
		t.RecentEvents = d.RecentEvents
	}
}

func (t Tuning) Validate() error {
	if t.MaxParticipants < 2 {
		return fmt.Errorf("max_participants must be >= 2")
	}
	if t.MaxDays < 1 {
		return fmt.Errorf("max_days must be >= 1")
	}
	if t.PhaseDuration <= 0 {
		return fmt.Errorf("phase_duration must be > 0")
	}
	if t.Cooldown < 0 {
		return fmt.Errorf("cooldown must be >= 0")
	}
	if t.JudgesPerDay < 0 {
		return fmt.Errorf("judges_per_day must be >= 0")
	}
	if t.MinAliveForJudges <= t.JudgesPerDay {
		return fmt.Errorf("min_alive_for_judges must exceed judges_per_day")
	}
	if t.TrustInitSpan <= 0 {
		return fmt.Errorf("trust_init_span must be > 0")
	}
	if t.TrustInitMin < -100 || t.TrustInitMin+t.TrustInitSpan > 101 {
		return fmt.Errorf("initial trust range must stay within [-100, 100]")
	}
	if t.Challenge.LuckMax <= 0 || t.Challenge.StrategyCharsPerPt <= 0 {
		return fmt.Errorf("challenge luck_max and strategy_chars_per_point must be > 0")
	}
	if t.Challenge.DefaultJudgeScore < 1 || t.Challenge.DefaultJudgeScore > 10 {
		return fmt.Errorf("challenge default_judge_score must be in [1, 10]")
	}
	w := t.Twists
	if w.None < 0 || w.DoubleElimination < 0 || w.NoElimination < 0 || w.ImmunityChallenge < 0 {
		return fmt.Errorf("twist_weights must be >= 0")
	}
	if w.Total() <= 0 {
		return fmt.Errorf("twist_weights must not all be zero")
	}
	if t.HistoryCap < 1 {
		return fmt.Errorf("history_cap must be >= 1")
	}
	return nil
}
