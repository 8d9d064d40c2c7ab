package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const DefaultNamespace = "minecraft"

var ErrUnknownSound = errors.New("unknown sound")

type Catalogs struct {
	Sounds SoundCatalog
}

type SoundCatalog struct {
	// Instruments maps a lower-case instrument name to its note sound.
	Instruments map[string]SoundID
	Names       []string

	// Allowed is optional; when empty every well-formed id is playable.
	Allowed map[SoundID]struct{}

	Digest string
}

// SoundID is a namespaced resource identifier ("minecraft:block.note_block.harp").
type SoundID struct {
	Namespace string `json:"namespace"`
	Path      string `json:"path"`
}

func (id SoundID) String() string { return id.Namespace + ":" + id.Path }

func (id SoundID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *SoundID) UnmarshalText(b []byte) error {
	v, err := ParseSoundID(string(b))
	if err != nil {
		return err
	}
	*id = v
	return nil
}

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) DistSq(o Vec3) float64 {
	dx, dy, dz := v.X-o.X, v.Y-o.Y, v.Z-o.Z
	return dx*dx + dy*dy + dz*dz
}

// ParseSoundID accepts "path" or "namespace:path".
func ParseSoundID(s string) (SoundID, error) {
	ns, path := DefaultNamespace, s
	if i := strings.IndexByte(s, ':'); i >= 0 {
		ns, path = s[:i], s[i+1:]
		if ns == "" {
			ns = DefaultNamespace
		}
	}
	if path == "" {
		return SoundID{}, fmt.Errorf("empty path in %q", s)
	}
	for _, r := range ns {
		if !validNamespaceRune(r) {
			return SoundID{}, fmt.Errorf("non [a-z0-9_.-] character in namespace of %q", s)
		}
	}
	for _, r := range path {
		if !validPathRune(r) {
			return SoundID{}, fmt.Errorf("non [a-z0-9/._-] character in path of %q", s)
		}
	}
	return SoundID{Namespace: ns, Path: path}, nil
}

func validNamespaceRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}

func validPathRune(r rune) bool {
	return validNamespaceRune(r) || r == '/'
}

// BaseInstruments are the note-block instruments, in note-block order.
var BaseInstruments = []string{
	"harp", "basedrum", "snare", "hat", "bass", "flute", "bell", "guitar",
	"chime", "xylophone", "iron_xylophone", "cow_bell", "didgeridoo", "bit",
	"banjo", "pling",
}

func noteSound(instrument string) SoundID {
	return SoundID{Namespace: DefaultNamespace, Path: "block.note_block." + instrument}
}

type soundsFile struct {
	Instruments map[string]string `json:"instruments"`
	Allowed     []string          `json:"allowed"`
}

// Defaults returns a catalog with only the built-in instruments.
func Defaults() *Catalogs {
	var c Catalogs
	if err := buildSounds(nil, &c.Sounds); err != nil {
		panic(err)
	}
	return &c
}

// Load reads <configDir>/sounds.json. A missing file yields Defaults.
func Load(configDir string) (*Catalogs, error) {
	var c Catalogs
	raw, err := os.ReadFile(filepath.Join(configDir, "sounds.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return Defaults(), nil
		}
		return nil, err
	}
	if err := buildSounds(raw, &c.Sounds); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func buildSounds(raw []byte, out *SoundCatalog) error {
	var f soundsFile
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &f); err != nil {
			return fmt.Errorf("sounds.json: %w", err)
		}
	}

	out.Instruments = make(map[string]SoundID, len(BaseInstruments)+len(f.Instruments))
	for _, name := range BaseInstruments {
		out.Instruments[name] = noteSound(name)
	}
	for name, sound := range f.Instruments {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" {
			return fmt.Errorf("sounds.json: empty instrument name")
		}
		id, err := ParseSoundID(sound)
		if err != nil {
			return fmt.Errorf("sounds.json: instrument %s: %w", name, err)
		}
		out.Instruments[key] = id
	}

	out.Allowed = nil
	if len(f.Allowed) > 0 {
		out.Allowed = make(map[SoundID]struct{}, len(f.Allowed))
		for _, s := range f.Allowed {
			id, err := ParseSoundID(s)
			if err != nil {
				return fmt.Errorf("sounds.json: allowed: %w", err)
			}
			out.Allowed[id] = struct{}{}
		}
	}

	out.Names = make([]string, 0, len(out.Instruments))
	for name := range out.Instruments {
		out.Names = append(out.Names, name)
	}
	sort.Strings(out.Names)

	// Digest covers the effective table, not the file bytes, so defaults hash too.
	effective := make([][2]string, 0, len(out.Names))
	for _, name := range out.Names {
		effective = append(effective, [2]string{name, out.Instruments[name].String()})
	}
	allowed := make([]string, 0, len(out.Allowed))
	for id := range out.Allowed {
		allowed = append(allowed, id.String())
	}
	sort.Strings(allowed)
	b, _ := json.Marshal(struct {
		Instruments [][2]string `json:"instruments"`
		Allowed     []string    `json:"allowed"`
	}{effective, allowed})
	out.Digest = sha256Hex(b)
	return nil
}

// ResolveSound parses name and checks it against the allow-list, if any.
func (c *Catalogs) ResolveSound(name string) (SoundID, error) {
	id, err := ParseSoundID(name)
	if err != nil {
		return SoundID{}, err
	}
	if len(c.Sounds.Allowed) > 0 {
		if _, ok := c.Sounds.Allowed[id]; !ok {
			return SoundID{}, fmt.Errorf("%w: %s", ErrUnknownSound, id)
		}
	}
	return id, nil
}

// ResolveInstrument looks up an instrument by name, ignoring case.
func (c *Catalogs) ResolveInstrument(name string) (SoundID, error) {
	id, ok := c.Sounds.Instruments[strings.ToLower(name)]
	if !ok {
		return SoundID{}, fmt.Errorf("%w: instrument %q", ErrUnknownSound, name)
	}
	return id, nil
}
