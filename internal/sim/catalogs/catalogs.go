package catalogs

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

//go:embed data/*.json
var embedded embed.FS

// RandomPersona is the persona preference meaning "assign me anyone".
const RandomPersona = "Random"

type Catalogs struct {
	Personas   PersonaCatalog
	Arenas     ArenaCatalog
	Challenges ChallengeCatalog
}

type PersonaCatalog struct {
	List   []Persona
	ByName map[string]Persona
	Digest string
}

type Persona struct {
	Name        string `json:"name"`
	Archetype   string `json:"archetype"`
	Portrait    string `json:"portrait"`
	Personality string `json:"personality"`
	Voice       string `json:"voice"`
	Playstyle   string `json:"playstyle"`
	Catchphrase string `json:"catchphrase"`
	Stats       Stats  `json:"stats"`
}

type Stats struct {
	Strength int `json:"strength"`
	Cunning  int `json:"cunning"`
	Charm    int `json:"charm"`
}

type ArenaCatalog struct {
	Types  []string
	ByType map[string]ArenaConfig
	Digest string
}

type ArenaConfig struct {
	Type                string   `json:"type"`
	Name                string   `json:"name"`
	Emoji               string   `json:"emoji"`
	Description         string   `json:"description"`
	Vibe                string   `json:"vibe"`
	MechanicName        string   `json:"mechanic_name"`
	MechanicDescription string   `json:"mechanic_description"`
	ChallengeAffinity   []string `json:"challenge_affinity"`
}

type ChallengeCatalog struct {
	List   []Challenge
	Digest string
}

type Challenge struct {
	Name   string `json:"name"`
	Prompt string `json:"prompt"`
}

// Stat names used by affinity buckets.
const (
	StatStrength = "strength"
	StatCunning  = "cunning"
	StatCharm    = "charm"
)

var affinityStat = map[string]string{
	"strength":     StatStrength,
	"endurance":    StatStrength,
	"willpower":    StatStrength,
	"puzzle":       StatCunning,
	"strategy":     StatCunning,
	"intelligence": StatCunning,
	"stealth":      StatCunning,
	"social":       StatCharm,
	"deception":    StatCharm,
	"chaos":        StatCharm,
	"speed":        StatCharm,
	"agility":      StatCharm,
}

// AffinityStat maps a challenge-affinity tag to the persona stat it rewards.
// Unknown tags map to "".
func AffinityStat(tag string) string { return affinityStat[tag] }

// Value returns the named stat, or 0 for an unknown name.
func (s Stats) Value(name string) int {
	switch name {
	case StatStrength:
		return s.Strength
	case StatCunning:
		return s.Cunning
	case StatCharm:
		return s.Charm
	}
	return 0
}

// Default returns the catalogs compiled into the binary.
func Default() (*Catalogs, error) {
	sub, err := fs.Sub(embedded, "data")
	if err != nil {
		return nil, err
	}
	return load(sub)
}

// Load reads personas.json, arenas.json and challenges.json from configDir.
// Files missing from configDir fall back to the embedded defaults.
func Load(configDir string) (*Catalogs, error) {
	sub, err := fs.Sub(embedded, "data")
	if err != nil {
		return nil, err
	}
	return load(overlayFS{dir: os.DirFS(configDir), base: sub})
}

func (c *Catalogs) AllPersonas() []Persona {
	out := make([]Persona, len(c.Personas.List))
	copy(out, c.Personas.List)
	return out
}

func (c *Catalogs) PersonaByName(name string) (Persona, bool) {
	p, ok := c.Personas.ByName[name]
	return p, ok
}

func (c *Catalogs) ArenaConfig(typ string) (ArenaConfig, bool) {
	a, ok := c.Arenas.ByType[typ]
	return a, ok
}

func (c *Catalogs) ArenaTypes() []string {
	out := make([]string, len(c.Arenas.Types))
	copy(out, c.Arenas.Types)
	return out
}

func (c *Catalogs) ChallengeList() []Challenge { return c.Challenges.List }

func load(fsys fs.FS) (*Catalogs, error) {
	var c Catalogs
	if err := loadPersonas(fsys, &c.Personas); err != nil {
		return nil, err
	}
	if err := loadArenas(fsys, &c.Arenas); err != nil {
		return nil, err
	}
	if err := loadChallenges(fsys, &c.Challenges); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadPersonas(fsys fs.FS, out *PersonaCatalog) error {
	raw, err := fs.ReadFile(fsys, "personas.json")
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []Persona
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("personas.json: %w", err)
	}
	if len(defs) == 0 {
		return fmt.Errorf("personas.json: empty pool")
	}
	out.ByName = make(map[string]Persona, len(defs))
	for _, p := range defs {
		if strings.TrimSpace(p.Name) == "" {
			return fmt.Errorf("personas.json: empty name")
		}
		if strings.EqualFold(p.Name, RandomPersona) {
			return fmt.Errorf("personas.json: %q is reserved", p.Name)
		}
		if _, dup := out.ByName[p.Name]; dup {
			return fmt.Errorf("personas.json: duplicate name %q", p.Name)
		}
		out.ByName[p.Name] = p
	}
	// Order is kept as written; random picks index into it.
	out.List = defs
	return nil
}

func loadArenas(fsys fs.FS, out *ArenaCatalog) error {
	raw, err := fs.ReadFile(fsys, "arenas.json")
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []ArenaConfig
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("arenas.json: %w", err)
	}
	if len(defs) == 0 {
		return fmt.Errorf("arenas.json: no arena types")
	}
	out.ByType = make(map[string]ArenaConfig, len(defs))
	out.Types = out.Types[:0]
	for _, a := range defs {
		if a.Type == "" {
			return fmt.Errorf("arenas.json: empty type")
		}
		if len(a.ChallengeAffinity) == 0 {
			return fmt.Errorf("arenas.json: %s: empty challenge_affinity", a.Type)
		}
		for _, tag := range a.ChallengeAffinity {
			if AffinityStat(tag) == "" {
				return fmt.Errorf("arenas.json: %s: unknown affinity %q", a.Type, tag)
			}
		}
		out.ByType[a.Type] = a
		out.Types = append(out.Types, a.Type)
	}
	return nil
}

func loadChallenges(fsys fs.FS, out *ChallengeCatalog) error {
	raw, err := fs.ReadFile(fsys, "challenges.json")
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)
	if err := json.Unmarshal(raw, &out.List); err != nil {
		return fmt.Errorf("challenges.json: %w", err)
	}
	if len(out.List) == 0 {
		return fmt.Errorf("challenges.json: empty pool")
	}
	return nil
}

// overlayFS serves files from dir, falling back to base when dir lacks them.
type overlayFS struct {
	dir  fs.FS
	base fs.FS
}

func (o overlayFS) Open(name string) (fs.File, error) {
	f, err := o.dir.Open(name)
	if err == nil {
		return f, nil
	}
	return o.base.Open(name)
}
